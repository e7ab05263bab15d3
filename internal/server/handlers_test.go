package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(Config{MaxUploadMB: 0})
	require.Error(t, err)

	_, err = NewServer(Config{MaxUploadMB: 1})
	require.ErrorContains(t, err, "failed to create check-in client")

	s, err := NewServer(Config{
		MaxUploadMB: 1,
		Submitter: checkin.SubmitterFunc(func(context.Context, string, checkin.Context) checkin.Result {
			return checkin.Result{Outcome: checkin.OutcomeSuccess}
		}),
	})
	require.NoError(t, err)
	assert.Nil(t, s.rateLimiter)
	require.NoError(t, s.Close())
}

func TestHealthHandler(t *testing.T) {
	endpoint, _ := newCheckinBackend(t, http.StatusOK, successBody("Budi"))
	_, ts := newTestServer(t, endpoint, nil)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health HealthResponse
	decodeBody(t, resp, &health)
	assert.Equal(t, "healthy", health.Status)
	assert.NotEmpty(t, health.Time)

	resp2, err := http.Post(ts.URL+"/health", "text/plain", nil)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp2.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	endpoint, _ := newCheckinBackend(t, http.StatusOK, successBody("Budi"))
	_, ts := newTestServer(t, endpoint, func(c *Config) { c.CORSOrigin = "https://panel.example.org" })

	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/scan/file", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "https://panel.example.org", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
}

func TestStartStopHandlers(t *testing.T) {
	endpoint, _ := newCheckinBackend(t, http.StatusOK, successBody("Budi"))
	s, ts := newTestServer(t, endpoint, nil)

	t.Run("no camera connected", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/scan/start", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var e ErrorResponse
		decodeBody(t, resp, &e)
		assert.False(t, e.Success)
		assert.Contains(t, e.Error, "no camera connected")
		assert.Equal(t, session.Idle, s.Session().Snapshot().Mode)
	})

	t.Run("invalid body", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/scan/start", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("start with event and stop", func(t *testing.T) {
		s.device.Connect()
		resp, err := http.Post(ts.URL+"/scan/start", "application/json", strings.NewReader(`{"eventId":"EVT-9"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var st wireState
		decodeBody(t, resp, &st)
		assert.Equal(t, "scanning", st.Mode)
		assert.True(t, st.CameraActive)
		assert.Equal(t, "EVT-9", s.Session().EventID())
		assert.True(t, s.device.Streaming())

		stop, err := http.Post(ts.URL+"/scan/stop", "application/json", nil)
		require.NoError(t, err)
		defer stop.Body.Close()
		require.Equal(t, http.StatusOK, stop.StatusCode)
		decodeBody(t, stop, &st)
		assert.Equal(t, "idle", st.Mode)
		assert.False(t, st.Stopping)
		assert.False(t, s.device.Streaming())
	})

	t.Run("state", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/scan/state")
		require.NoError(t, err)
		defer resp.Body.Close()
		var st wireState
		decodeBody(t, resp, &st)
		assert.Equal(t, "idle", st.Mode)
	})
}

func TestStartStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, startStatus(session.ErrBusy))
	assert.Equal(t, http.StatusConflict, startStatus(session.ErrStopping))
	assert.Equal(t, http.StatusServiceUnavailable, startStatus(session.ErrClosed))
	assert.Equal(t, http.StatusInternalServerError, startStatus(io.ErrUnexpectedEOF))
}

func TestFileHandler_Success(t *testing.T) {
	endpoint, requests := newCheckinBackend(t, http.StatusOK, successBody("Budi"))
	s, ts := newTestServer(t, endpoint, nil)

	resp := postFile(t, ts.URL, qrPNG(t, "EVT-7:USR-42"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fr struct {
		Success bool `json:"success"`
		Outcome struct {
			Accepted bool   `json:"accepted"`
			Payload  string `json:"payload"`
			Strategy string `json:"strategy"`
			Result   struct {
				Outcome string `json:"outcome"`
				Message string `json:"message"`
			} `json:"result"`
		} `json:"outcome"`
		State wireState `json:"state"`
	}
	decodeBody(t, resp, &fr)
	assert.True(t, fr.Success)
	assert.True(t, fr.Outcome.Accepted)
	assert.Equal(t, "EVT-7:USR-42", fr.Outcome.Payload)
	assert.Equal(t, "original", fr.Outcome.Strategy)
	assert.Equal(t, "success", fr.Outcome.Result.Outcome)
	assert.Contains(t, []string{"showing_result", "idle"}, fr.State.Mode)

	select {
	case req := <-requests:
		assert.Equal(t, "EVT-7", req.EventID)
		assert.Equal(t, "EVT-7:USR-42", req.ScanPayload)
	case <-time.After(time.Second):
		t.Fatal("check-in backend was not called")
	}

	require.Eventually(t, func() bool { return s.Session().Snapshot().Mode == session.Idle },
		2*time.Second, 10*time.Millisecond)
}

func TestFileHandler_NoCode(t *testing.T) {
	endpoint, requests := newCheckinBackend(t, http.StatusOK, successBody("Budi"))
	_, ts := newTestServer(t, endpoint, nil)

	resp := postFile(t, ts.URL, blankPNG(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var fr FileResponse
	decodeBody(t, resp, &fr)
	require.NotNil(t, fr.Outcome)
	require.NotNil(t, fr.Outcome.Result)
	assert.Equal(t, checkin.OutcomeError, fr.Outcome.Result.Outcome)
	assert.Equal(t, session.NoCodeMessage, fr.Outcome.Result.Message)
	assert.NotEmpty(t, fr.Outcome.Result.Detail)
	assert.Empty(t, requests)
}

func TestFileHandler_Rejections(t *testing.T) {
	endpoint, _ := newCheckinBackend(t, http.StatusOK, successBody("Budi"))
	s, ts := newTestServer(t, endpoint, func(c *Config) { c.MaxUploadMB = 1 })

	t.Run("method", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/scan/file")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})

	t.Run("missing field", func(t *testing.T) {
		body, ct := multipartUpload(t, "ticket", "ticket.png", qrPNG(t, "X"))
		resp, err := http.Post(ts.URL+"/scan/file", ct, body)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var e ErrorResponse
		decodeBody(t, resp, &e)
		assert.Equal(t, "No image file provided", e.Error)
	})

	t.Run("not an image", func(t *testing.T) {
		resp := postFile(t, ts.URL, []byte("definitely not a picture"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var e ErrorResponse
		decodeBody(t, resp, &e)
		assert.Equal(t, "Invalid image format", e.Error)
	})

	t.Run("broken pdf", func(t *testing.T) {
		resp := postFile(t, ts.URL, []byte("%PDF-1.7\nnot really"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("too large", func(t *testing.T) {
		body, ct := multipartUpload(t, "image", "big.png", []byte(strings.Repeat("x", 2<<20)))
		req := httptest.NewRequest(http.MethodPost, "/scan/file", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		s.fileHandler(rec, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/scan/file", "application/json", strings.NewReader("{}"))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestFileHandler_BusyWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	_, ts := newTestServer(t, "", func(c *Config) {
		c.Submitter = checkin.SubmitterFunc(func(ctx context.Context, payload string, _ checkin.Context) checkin.Result {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return checkin.Result{Outcome: checkin.OutcomeSuccess, Message: "ok"}
		})
	})

	body, ct := multipartUpload(t, "image", "a.png", qrPNG(t, "EVT-7:USR-1"))
	first := make(chan int, 1)
	go func() {
		resp, err := http.Post(ts.URL+"/scan/file", ct, body)
		if err != nil {
			first <- 0
			return
		}
		_ = resp.Body.Close()
		first <- resp.StatusCode
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get(ts.URL + "/scan/state")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var st wireState
		_ = json.NewDecoder(resp.Body).Decode(&st)
		return st.Mode == "processing" && st.Payload == "EVT-7:USR-1"
	}, 2*time.Second, 10*time.Millisecond)

	resp := postFile(t, ts.URL, qrPNG(t, "EVT-7:USR-2"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	select {
	case code := <-first:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(3 * time.Second):
		t.Fatal("first upload did not complete")
	}
}

func TestFileHandler_RateLimited(t *testing.T) {
	endpoint, _ := newCheckinBackend(t, http.StatusOK, successBody("Budi"))
	_, ts := newTestServer(t, endpoint, func(c *Config) {
		c.UploadsPerMinute = 1
		c.UploadBurst = 1
	})

	first := postFile(t, ts.URL, []byte("junk"))
	assert.Equal(t, http.StatusBadRequest, first.StatusCode)

	second := postFile(t, ts.URL, []byte("junk"))
	require.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.Equal(t, "minute", second.Header.Get("X-RateLimit-Type"))
	assert.Equal(t, "1", second.Header.Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, second.Header.Get("Retry-After"))

	var body map[string]any
	decodeBody(t, second, &body)
	assert.Equal(t, "rate_limit_exceeded", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	endpoint, _ := newCheckinBackend(t, http.StatusOK, successBody("Budi"))
	_, ts := newTestServer(t, endpoint, nil)

	health, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	_ = health.Body.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "checkscan_http_requests_total")
}
