package server

import (
	"bytes"
	"encoding/json"
	"image/color"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/capture"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/MeKo-Tech/checkscan/internal/testutil"
	"github.com/stretchr/testify/require"
)

// checkinRequest is what the fake backend received.
type checkinRequest struct {
	EventID     string `json:"eventId"`
	ScanPayload string `json:"scanPayload"`
}

// newCheckinBackend answers every request with status and body and reports
// the decoded requests on the returned channel.
func newCheckinBackend(t *testing.T, status int, body any) (string, <-chan checkinRequest) {
	t.Helper()
	requests := make(chan checkinRequest, 16)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req checkinRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		requests <- req
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv.URL + "/api/checkin/scan", requests
}

func successBody(name string) map[string]any {
	return map[string]any{
		"message": "Check-in berhasil",
		"data": map[string]any{
			"volunteerInfo": map[string]any{"id": "USR-42", "nama": name},
			"eventInfo":     map[string]any{"id": "EVT-7", "nama": "Bersih Pantai"},
		},
	}
}

func testTimings() *session.Timings {
	return &session.Timings{
		ProcessingDelay:    20 * time.Millisecond,
		CameraSuccessDwell: 40 * time.Millisecond,
		CameraFailureDwell: 40 * time.Millisecond,
		FileSuccessDwell:   40 * time.Millisecond,
		FileFailureDwell:   40 * time.Millisecond,
		FileHintDwell:      40 * time.Millisecond,
	}
}

// newTestServer builds a server against endpoint and serves its routes.
func newTestServer(t *testing.T, endpoint string, mutate func(*Config)) (*Server, *httptest.Server) {
	t.Helper()
	settings := capture.DefaultSettings()
	settings.RegionWidth, settings.RegionHeight, settings.FrameRate = 0, 0, 0

	cfg := Config{
		CORSOrigin:  "*",
		MaxUploadMB: 5,
		EventID:     "EVT-7",
		Timings:     testTimings(),
		Capture:     settings,
		FrameBuffer: 2,
	}
	cfg.Checkin.Endpoint = endpoint
	cfg.Checkin.Timeout = 2 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = s.Close() })
	return s, ts
}

// multipartUpload builds a multipart body with data in the "image" field.
func multipartUpload(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func qrPNG(t *testing.T, payload string) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.GenerateQRImage(t, testutil.DefaultQRConfig(payload)))
}

func blankPNG(t *testing.T) []byte {
	t.Helper()
	return testutil.EncodePNG(t, testutil.CreateTestImage(200, 200, color.White))
}

func postFile(t *testing.T, url string, data []byte) *http.Response {
	t.Helper()
	body, contentType := multipartUpload(t, "image", "ticket.png", data)
	resp, err := http.Post(url+"/scan/file", contentType, body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

// wireState mirrors session.State with plain strings for decoding.
type wireState struct {
	Mode         string `json:"mode"`
	Origin       string `json:"origin"`
	Payload      string `json:"payload"`
	CameraActive bool   `json:"cameraActive"`
	Stopping     bool   `json:"stopping"`
	Result       *struct {
		Outcome  string `json:"outcome"`
		Message  string `json:"message"`
		Strategy string `json:"strategy"`
	} `json:"result"`
}
