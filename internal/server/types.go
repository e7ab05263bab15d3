package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MeKo-Tech/checkscan/internal/barcode"
	"github.com/MeKo-Tech/checkscan/internal/capture"
	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/decoder"
	"github.com/MeKo-Tech/checkscan/internal/notify"
	"github.com/MeKo-Tech/checkscan/internal/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server exposes one scan session over HTTP and WebSocket.
type Server struct {
	session     *session.Session
	device      *capture.ChannelDevice
	hub         *Hub
	rateLimiter *RateLimiter
	corsOrigin  string
	maxUploadMB int64
	logger      *slog.Logger
	unsubscribe func()
	// lastMode is only touched by onState; session publishes are serialized.
	lastMode session.Mode

	feedMu sync.Mutex
	feeder *wsClient
}

// Config holds server configuration.
type Config struct {
	CORSOrigin  string
	MaxUploadMB int64
	// UploadsPerMinute limits POST /scan/file per client IP; 0 disables it.
	UploadsPerMinute int
	UploadBurst      int

	// Checkin configures the HTTP submitter. Its Invalidator is replaced by
	// the WebSocket hub.
	Checkin checkin.Config
	// Submitter overrides Checkin when set.
	Submitter checkin.Submitter
	EventID   string

	// Timings defaults to session.DefaultTimings when nil.
	Timings       *session.Timings
	Capture       capture.Settings
	DecodeOptions barcode.Options
	// Backend defaults to the gozxing backend.
	Backend barcode.Backend
	// FrameBuffer is how many pushed camera frames may wait for decoding.
	FrameBuffer int

	Logger *slog.Logger
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type StartRequest struct {
	EventID string `json:"eventId,omitempty"`
}

type FileResponse struct {
	Success bool                 `json:"success"`
	Outcome *session.FileOutcome `json:"outcome"`
	State   session.State        `json:"state"`
}

// NewServer wires the submitter, decoder, camera feed and session.
func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxUploadMB <= 0 {
		return nil, errors.New("max upload size must be positive")
	}

	hub := NewHub(logger)

	submitter := config.Submitter
	if submitter == nil {
		cc := config.Checkin
		cc.Invalidator = hub
		if cc.Logger == nil {
			cc.Logger = logger
		}
		client, err := checkin.NewClient(cc)
		if err != nil {
			return nil, fmt.Errorf("failed to create check-in client: %w", err)
		}
		submitter = client
	}

	backend := config.Backend
	if backend == nil {
		backend = barcode.NewBackend()
	}
	device := capture.NewChannelDevice(config.FrameBuffer)
	runner := decoder.NewRunner(backend,
		decoder.WithDecodeOptions(config.DecodeOptions),
		decoder.WithObserver(decodeMetrics{}),
		decoder.WithLogger(logger),
	)

	sess, err := session.New(session.Config{
		Capture: &capture.Config{
			Device:        device,
			Settings:      config.Capture,
			Backend:       backend,
			DecodeOptions: config.DecodeOptions,
			Logger:        logger,
		},
		Decoder:   runner,
		Submitter: instrumentSubmitter(submitter),
		EventID:   config.EventID,
		Notifier:  notify.Multi(notify.LogNotifier{Logger: logger}, hub),
		Timings:   config.Timings,
		Observer:  sessionMetrics{},
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	s := &Server{
		session:     sess,
		device:      device,
		hub:         hub,
		corsOrigin:  config.CORSOrigin,
		maxUploadMB: config.MaxUploadMB,
		logger:      logger,
	}
	if config.UploadsPerMinute > 0 {
		s.rateLimiter = NewRateLimiter(config.UploadsPerMinute, config.UploadBurst)
	}
	s.unsubscribe = sess.Subscribe(s.onState)
	return s, nil
}

func (s *Server) onState(st session.State) {
	if st.Mode != s.lastMode {
		sessionTransitionsTotal.WithLabelValues(st.Mode.String()).Inc()
		s.lastMode = st.Mode
	}
	s.hub.BroadcastState(st)
}

// Session returns the session driven by this server.
func (s *Server) Session() *session.Session {
	return s.session
}

// Close stops the session and disconnects every WebSocket client.
func (s *Server) Close() error {
	s.unsubscribe()
	err := s.session.Close()
	s.hub.CloseAll()
	return err
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/scan/state", s.corsMiddleware(s.stateHandler))
	mux.HandleFunc("/scan/start", s.corsMiddleware(s.startHandler))
	mux.HandleFunc("/scan/stop", s.corsMiddleware(s.stopHandler))
	mux.HandleFunc("/scan/file", s.corsMiddleware(s.rateLimitMiddleware(s.fileHandler)))
	mux.HandleFunc("/scan/ws", s.cameraWebSocketHandler)
	mux.Handle("/metrics", promhttp.Handler())
}
