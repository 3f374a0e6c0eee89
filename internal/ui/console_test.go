package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConsole_BufferGetsPlainOutput(t *testing.T) {
	// Given a console writing to a buffer (not a TTY)
	var buf bytes.Buffer
	c := NewConsole(&buf)

	// When styled messages are written
	c.Header("Documents")
	c.Success("indexed alpha.txt")
	c.Warning("skipped beta.txt")
	c.Error("sync failed")

	// Then the text comes through without ANSI escapes
	out := buf.String()
	assert.NotContains(t, out, "\x1b[")
	assert.Contains(t, out, "Documents")
	assert.Contains(t, out, "✓ indexed alpha.txt")
	assert.Contains(t, out, "! skipped beta.txt")
	assert.Contains(t, out, "✗ sync failed")
}

func TestKeyValue_AlignsLabels(t *testing.T) {
	var buf bytes.Buffer
	c := NewPlainConsole(&buf)

	c.KeyValue("Documents", "12")
	c.KeyValue("Chunks", "340")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	assert.Len(t, lines, 2)
	// Values start at the same column.
	assert.Equal(t, strings.Index(lines[0], "12"), strings.Index(lines[1], "340"))
}

func TestProgress_NonTTYWritesFullLines(t *testing.T) {
	var buf bytes.Buffer
	c := NewPlainConsole(&buf)

	c.Progress(1, 4, "alpha.txt")
	c.Progress(4, 4, "beta.txt")

	out := buf.String()
	assert.NotContains(t, out, "\r")
	assert.Contains(t, out, " 25% alpha.txt")
	assert.Contains(t, out, "100% beta.txt")
}

func TestProgress_ZeroTotalIsSilent(t *testing.T) {
	var buf bytes.Buffer
	c := NewPlainConsole(&buf)

	c.Progress(0, 0, "nothing")

	assert.Empty(t, buf.String())
}

func TestRenderBar_Bounds(t *testing.T) {
	assert.Equal(t, strings.Repeat("░", 10), renderBar(0, 5, 10))
	assert.Equal(t, strings.Repeat("█", 10), renderBar(5, 5, 10))
	assert.Equal(t, strings.Repeat("█", 10), renderBar(9, 5, 10))
}

func TestIsTTY_FalseForBuffer(t *testing.T) {
	assert.False(t, IsTTY(&bytes.Buffer{}))
	assert.False(t, IsTTY(nil))
}
