package main

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"prodsync/internal/config"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("nonsense"))
}

func TestEffectiveLevelPrecedence(t *testing.T) {
	restore := func() {
		resolvedCfg = nil
		flagVerbose = false
		flagQuiet = false
	}
	defer restore()

	// Config baseline.
	resolvedCfg = config.DefaultConfig()
	resolvedCfg.Logging.LogLevel = "warn"
	assert.Equal(t, slog.LevelWarn, effectiveLevel())

	// --verbose beats the config level.
	flagVerbose = true
	assert.Equal(t, slog.LevelDebug, effectiveLevel())

	// --quiet beats everything.
	flagQuiet = true
	assert.Equal(t, slog.LevelError, effectiveLevel())
}

func TestServerBaseURL(t *testing.T) {
	assert.Equal(t, "http://127.0.0.1:8080", serverBaseURL(":8080"))
	assert.Equal(t, "http://127.0.0.1:9000", serverBaseURL("0.0.0.0:9000"))
	assert.Equal(t, "http://192.168.1.5:8080", serverBaseURL("192.168.1.5:8080"))
	assert.Equal(t, "http://127.0.0.1:8080", serverBaseURL("not an address"))
}

func TestRootCmdRegistersSubcommands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{
		"serve", "sync", "status", "control", "validate",
		"repair", "auth", "fields", "cleanup", "config",
	} {
		cmd, _, err := root.Find([]string{name})
		assert.NoError(t, err, name)
		assert.NotNil(t, cmd, name)
	}
}
