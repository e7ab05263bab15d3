package cmd

import (
	"encoding/json"
	"image/color"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/checkscan/internal/batch"
	"github.com/MeKo-Tech/checkscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeQR(t *testing.T, dir, name, payload string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testutil.SaveImage(t, testutil.GenerateQRImage(t, testutil.DefaultQRConfig(payload)), path)
	return path
}

func writeBlank(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	testutil.SaveImage(t, testutil.CreateTestImage(200, 200, color.White), path)
	return path
}

func TestDecodeCommand(t *testing.T) {
	t.Run("prints payload and strategy", func(t *testing.T) {
		isolate(t)
		path := writeQR(t, t.TempDir(), "ticket.png", "TICKET-1001")

		out, _, err := executeCommand(t, "decode", path)
		require.NoError(t, err)
		assert.Contains(t, out, "TICKET-1001")
		assert.Contains(t, out, "strategy: original")
	})

	t.Run("json output", func(t *testing.T) {
		isolate(t)
		dir := t.TempDir()
		good := writeQR(t, dir, "a.png", "TICKET-1")
		blank := writeBlank(t, dir, "b.png")

		out, _, err := executeCommand(t, "decode", "--format", "json", good, blank)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "1 of 2 files could not be decoded")

		var parsed struct {
			Files  []batch.Item `json:"files"`
			Failed int          `json:"failed"`
		}
		require.NoError(t, json.Unmarshal([]byte(out), &parsed))
		assert.Equal(t, 1, parsed.Failed)
		reports := parsed.Files
		require.Len(t, reports, 2)
		assert.Equal(t, "TICKET-1", reports[0].Payload)
		assert.Equal(t, "original", reports[0].Strategy)
		assert.Empty(t, reports[0].Error)

		assert.Equal(t, "no code found", reports[1].Error)
		assert.NotEmpty(t, reports[1].Hint)
		assert.Len(t, reports[1].Attempts, 6)
	})

	t.Run("restricted strategies", func(t *testing.T) {
		isolate(t)
		blank := writeBlank(t, t.TempDir(), "blank.png")

		out, _, err := executeCommand(t, "decode", "--strategy", "original,grayscale-threshold", blank)
		require.Error(t, err)
		assert.Contains(t, out, "no code found after 2 attempts")
	})

	t.Run("unknown strategy", func(t *testing.T) {
		isolate(t)
		_, _, err := executeCommand(t, "decode", "--strategy", "sepia", "x.png")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown strategy: sepia")
	})

	t.Run("missing file", func(t *testing.T) {
		isolate(t)
		_, _, err := executeCommand(t, "decode", "/non/existent/file.png")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cannot access")
	})

	t.Run("directory as csv with stats", func(t *testing.T) {
		isolate(t)
		dir := t.TempDir()
		writeQR(t, dir, "01.png", "TICKET-A")
		writeQR(t, dir, "02.png", "TICKET-B")
		writeQR(t, dir, "draft.png", "TICKET-DRAFT")

		out, stderr, err := executeCommand(t, "decode", dir, "--format", "csv", "--exclude", "draft*", "--workers", "2", "--stats")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.Contains(t, lines[1], "TICKET-A")
		assert.Contains(t, lines[2], "TICKET-B")
		assert.NotContains(t, out, "TICKET-DRAFT")
		assert.Contains(t, stderr, "Decoded: 2")
	})

	t.Run("no input", func(t *testing.T) {
		isolate(t)
		_, _, err := executeCommand(t, "decode")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no input files provided")
	})

	t.Run("bad format", func(t *testing.T) {
		isolate(t)
		_, _, err := executeCommand(t, "decode", "--format", "xml", "x.png")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported output format")
	})

	t.Run("list strategies", func(t *testing.T) {
		isolate(t)
		out, _, err := executeCommand(t, "decode", "--list-strategies")
		require.NoError(t, err)
		for _, name := range []string{"original", "resize-only", "light-sharpen", "medium-contrast", "high-contrast", "grayscale-threshold"} {
			assert.Contains(t, out, name)
		}
		assert.Contains(t, out, "image as uploaded")
	})
}

func TestParseStrategies(t *testing.T) {
	got, err := parseStrategies(" high-contrast , original ,")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "high-contrast", got[0].Name)
	assert.Equal(t, "original", got[1].Name)

	_, err = parseStrategies(" , ")
	require.Error(t, err)
}
