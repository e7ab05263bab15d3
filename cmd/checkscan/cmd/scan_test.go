package cmd

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastSession shortens the pacing and decodes whole frames.
func fastSession(t *testing.T) {
	t.Helper()
	t.Setenv("CHECKSCAN_CAPTURE_REGION_SIZE", "0")
	t.Setenv("CHECKSCAN_SESSION_PROCESSING_DELAY", "10ms")
	t.Setenv("CHECKSCAN_SESSION_DWELL_CAMERA_SUCCESS", "20ms")
	t.Setenv("CHECKSCAN_SESSION_DWELL_CAMERA_FAILURE", "20ms")
}

func TestScanCameraCommand(t *testing.T) {
	t.Run("stops after the first result", func(t *testing.T) {
		isolate(t)
		fastSession(t)
		endpoint, requests := newCheckinBackend(t, http.StatusOK, successBody("Dewi"))
		frames := t.TempDir()
		writeBlank(t, frames, "01_empty.png")
		writeQR(t, frames, "02_ticket.png", "TICKET-500")
		writeQR(t, frames, "03_ticket.png", "TICKET-501")

		out, _, err := executeCommand(t, "scan", "camera", "--frames", frames,
			"--endpoint", endpoint, "--event", "EVT-7", "--frame-rate", "50")
		require.NoError(t, err)
		assert.Contains(t, out, "[success] Check-in berhasil (Dewi)")
		assert.Contains(t, out, "payload: TICKET-500")
		assert.NotContains(t, out, "TICKET-501")

		req := <-requests
		assert.Equal(t, "TICKET-500", req.ScanPayload)
	})

	t.Run("works through the feed", func(t *testing.T) {
		isolate(t)
		fastSession(t)
		endpoint, requests := newCheckinBackend(t, http.StatusOK, successBody("Dewi"))
		frames := t.TempDir()
		writeQR(t, frames, "01_ticket.png", "TICKET-600")
		writeBlank(t, frames, "02_empty.png")
		writeQR(t, frames, "03_ticket.png", "TICKET-601")

		out, _, err := executeCommand(t, "scan", "camera", "--frames", frames,
			"--endpoint", endpoint, "--event", "EVT-7", "--frame-rate", "50",
			"--max-scans", "0", "--format", "json")
		require.NoError(t, err)

		var payloads []string
		for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
			var r resultReport
			require.NoError(t, json.Unmarshal([]byte(line), &r))
			assert.Equal(t, "success", string(r.Outcome))
			payloads = append(payloads, r.Payload)
		}
		assert.Equal(t, []string{"TICKET-600", "TICKET-601"}, payloads)
		assert.Len(t, requests, 2)
	})

	t.Run("empty frame directory", func(t *testing.T) {
		isolate(t)
		fastSession(t)
		_, _, err := executeCommand(t, "scan", "camera", "--frames", t.TempDir(),
			"--endpoint", "http://localhost:1/checkin", "--event", "EVT-7")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to start camera")
	})

	t.Run("frames flag required", func(t *testing.T) {
		isolate(t)
		_, _, err := executeCommand(t, "scan", "camera")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--frames is required")
	})

	t.Run("negative max scans", func(t *testing.T) {
		isolate(t)
		_, _, err := executeCommand(t, "scan", "camera", "--frames", t.TempDir(), "--max-scans", "-1")
		require.Error(t, err)
	})
}
