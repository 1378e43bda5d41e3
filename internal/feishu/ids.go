package feishu

import (
	"fmt"
	"regexp"
)

// Bitable identifiers are opaque but have stable shapes: table ids start
// with "tbl", app tokens are base62-ish strings of moderate length. The
// checks below catch swapped or truncated values before the first API call;
// they are deliberately loose so a format change upstream does not break us.
var (
	tableIDPattern  = regexp.MustCompile(`^tbl[0-9A-Za-z]{8,}$`)
	appTokenPattern = regexp.MustCompile(`^[0-9A-Za-z]{10,}$`)
)

// ValidateTableID reports whether id plausibly names a Bitable table.
func ValidateTableID(id string) error {
	if id == "" {
		return fmt.Errorf("table id is empty")
	}

	if !tableIDPattern.MatchString(id) {
		return fmt.Errorf("table id %q does not look like a Bitable table id (tbl...)", id)
	}

	return nil
}

// ValidateAppToken reports whether token plausibly names a Bitable app.
func ValidateAppToken(token string) error {
	if token == "" {
		return fmt.Errorf("app token is empty")
	}

	if !appTokenPattern.MatchString(token) {
		return fmt.Errorf("app token %q does not look like a Bitable app token", token)
	}

	return nil
}
