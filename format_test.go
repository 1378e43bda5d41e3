package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPrintTableAlignsColumns(t *testing.T) {
	var buf bytes.Buffer

	printTable(&buf,
		[]string{"ID", "STATUS"},
		[][]string{
			{"sync-1", "completed"},
			{"sync-22", "failed"},
		},
	)

	assert.Equal(t, "ID       STATUS\nsync-1   completed\nsync-22  failed\n", buf.String())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "2m30s", formatDuration(150*time.Second))
}

func TestFormatTimeZero(t *testing.T) {
	assert.Equal(t, "-", formatTime(time.Time{}))
}
