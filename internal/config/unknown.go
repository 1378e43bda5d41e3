package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys enumerates the valid keys per config section.
var knownKeys = map[string]map[string]bool{
	"upstream": {
		"base_url": true, "app_id": true, "app_secret": true, "app_token": true,
		"table_id": true, "record_timeout": true, "media_timeout": true, "token_cache": true,
	},
	"objectstore": {
		"endpoint": true, "access_key": true, "secret_key": true, "bucket": true,
		"use_ssl": true, "public_base_url": true,
	},
	"database": {
		"path": true,
	},
	"sync": {
		"page_size": true, "page_interval": true, "batch_size": true,
		"concurrent_images": true, "batch_interval": true,
		"incremental_fallback": true, "download_images": true,
	},
	"images": {
		"thumbnail_quality": true, "proxy_base_url": true,
	},
	"server": {
		"listen_addr": true, "cors_origins": true, "shutdown_timeout": true, "pid_file": true,
	},
	"logging": {
		"log_level": true, "log_format": true,
	},
}

// sectionNames is the sorted list of valid section names for suggestions.
var sectionNames = func() []string {
	names := make([]string, 0, len(knownKeys))
	for s := range knownKeys {
		names = append(names, s)
	}

	sort.Strings(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	undecoded := md.Undecoded()
	if len(undecoded) == 0 {
		return nil
	}

	var errs []error

	for _, key := range undecoded {
		errs = append(errs, buildKeyError(key.String()))
	}

	return errors.Join(errs...)
}

// buildKeyError creates a descriptive error for an unknown key, suggesting
// the closest known section or section key.
func buildKeyError(keyStr string) error {
	parts := strings.SplitN(keyStr, ".", 2)

	section := parts[0]

	sectionKeys, sectionKnown := knownKeys[section]
	if !sectionKnown {
		if suggestion := closestMatch(section, sectionNames); suggestion != "" {
			return fmt.Errorf("unknown config section %q — did you mean [%s]?", section, suggestion)
		}

		return fmt.Errorf("unknown config section %q", section)
	}

	if len(parts) == 1 {
		return fmt.Errorf("unexpected bare key %q — settings belong inside a section", keyStr)
	}

	leaf := parts[1]

	keyList := make([]string, 0, len(sectionKeys))
	for k := range sectionKeys {
		keyList = append(keyList, k)
	}

	sort.Strings(keyList)

	if suggestion := closestMatch(leaf, keyList); suggestion != "" {
		return fmt.Errorf("unknown config key %q in [%s] — did you mean %q?", leaf, section, suggestion)
	}

	return fmt.Errorf("unknown config key %q in [%s]", leaf, section)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		d := levenshtein(unknown, k)
		if d < bestDist {
			bestDist = d
			best = k
		}
	}

	if bestDist <= maxLevenshteinDistance {
		return best
	}

	return ""
}

// levenshtein computes the edit distance between two strings using the
// single-row optimization to avoid allocating a full matrix.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
