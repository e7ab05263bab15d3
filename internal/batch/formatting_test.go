package batch

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleResult() *Result {
	return &Result{
		Items: []Item{
			{File: "/tickets/a.png", Payload: "TICKET-1", Strategy: "original",
				Attempts: []Attempt{{Strategy: "original", DurationMs: 2.5}}, ElapsedMs: 2.5},
			{File: "/tickets/b.png", Error: noCodeError, Hint: "Hold still.",
				Attempts: []Attempt{{Strategy: "original", Error: "not found"}, {Strategy: "resize-only", Error: "not found"}}},
			{File: "/tickets/c.txt", Error: "unsupported format: .txt"},
		},
		Duration:    1500 * time.Millisecond,
		WorkerCount: 2,
	}
}

func TestFormat_Text(t *testing.T) {
	out, err := sampleResult().Format("text")
	require.NoError(t, err)
	assert.Contains(t, out, "/tickets/a.png: TICKET-1\n  strategy: original (attempt 1, 2.5ms)")
	assert.Contains(t, out, "/tickets/b.png: no code found after 2 attempts\n  Hold still.")
	assert.Contains(t, out, "/tickets/c.txt: error: unsupported format: .txt")
}

func TestFormat_JSON(t *testing.T) {
	out, err := sampleResult().Format("json")
	require.NoError(t, err)

	var parsed struct {
		Files      []Item  `json:"files"`
		Failed     int     `json:"failed"`
		DurationMs float64 `json:"duration_ms"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &parsed))
	require.Len(t, parsed.Files, 3)
	assert.Equal(t, 2, parsed.Failed)
	assert.InDelta(t, 1500, parsed.DurationMs, 0.001)
	assert.Equal(t, "TICKET-1", parsed.Files[0].Payload)
	assert.Equal(t, "Hold still.", parsed.Files[1].Hint)
}

func TestFormat_CSV(t *testing.T) {
	out, err := sampleResult().Format("csv")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "file,payload,strategy,attempts,elapsed_ms,error", lines[0])
	assert.Equal(t, "/tickets/a.png,TICKET-1,original,1,2.5,", lines[1])
	assert.Equal(t, "/tickets/b.png,,,2,0.0,no code found", lines[2])
}

func TestFormat_Unsupported(t *testing.T) {
	_, err := sampleResult().Format("xml")
	require.Error(t, err)
}

func TestWriteStats(t *testing.T) {
	var buf bytes.Buffer
	sampleResult().WriteStats(&buf)
	out := buf.String()
	assert.Contains(t, out, "Total files: 3")
	assert.Contains(t, out, "Decoded: 1")
	assert.Contains(t, out, "Failed: 2")
	assert.Contains(t, out, "Workers: 2")
	assert.Contains(t, out, "Throughput: 2.0 files/sec")
}
