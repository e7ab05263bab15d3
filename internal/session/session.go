package session

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/barcode"
	"github.com/MeKo-Tech/checkscan/internal/capture"
	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/common"
	"github.com/MeKo-Tech/checkscan/internal/decoder"
	"github.com/MeKo-Tech/checkscan/internal/notify"
)

var (
	// ErrBusy rejects work while a payload is in flight.
	ErrBusy = errors.New("session: a scan is already being processed")
	// ErrStopping rejects Start while the camera is still being released.
	ErrStopping = errors.New("session: camera is still stopping")
	// ErrNoCamera is returned by Start when the session has no camera.
	ErrNoCamera = errors.New("session: no camera configured")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
	// ErrNoImages is returned by HandleFileImages for an empty slice.
	ErrNoImages = errors.New("session: no images to scan")
)

// NoCodeMessage is shown when no strategy could read an uploaded image.
const NoCodeMessage = "No QR code could be read from this image."

// Camera is the live capture source. *capture.Controller implements it.
type Camera interface {
	Start(ctx context.Context) error
	Stop()
	Wait()
}

// FileDecoder extracts a payload from uploaded images. *decoder.Runner implements it.
type FileDecoder interface {
	RunAll(ctx context.Context, imgs []image.Image) (*decoder.Result, error)
}

// Observer receives session events for metrics. Calls are made outside the
// session lock and must not block.
type Observer interface {
	PayloadAccepted(origin Origin)
	PayloadDropped(origin Origin)
	ResultShown(origin Origin, outcome checkin.Outcome)
}

// Config wires a Session.
type Config struct {
	// Camera is used as is when set. Otherwise a capture.Controller is built
	// from Capture, with its callbacks bound to the session.
	Camera    Camera
	Capture   *capture.Config
	Decoder   FileDecoder
	Submitter checkin.Submitter
	EventID   string
	Notifier  notify.Notifier
	// Timings defaults to DefaultTimings when nil. Zero durations are kept
	// as given.
	Timings  *Timings
	Observer Observer
	Logger   *slog.Logger
}

// FileOutcome summarises one uploaded file.
type FileOutcome struct {
	Accepted bool            `json:"accepted"`
	Payload  string          `json:"payload,omitempty"`
	Strategy string          `json:"strategy,omitempty"`
	Result   *checkin.Result `json:"result,omitempty"`
	// Aborted is set when a Stop or Close cut the sequence short.
	Aborted bool `json:"aborted,omitempty"`
}

type listener struct {
	id int
	fn func(State)
}

// Session is the scan state machine. All fields below mu are only written
// by transition methods while holding mu.
type Session struct {
	logger    *slog.Logger
	timings   Timings
	camera    Camera
	decoder   FileDecoder
	submitter checkin.Submitter
	notifier  notify.Notifier
	observer  Observer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	pubMu  sync.Mutex

	mu         sync.Mutex
	mode       Mode
	origin     Origin
	payload    Payload
	result     *checkin.Result
	eventID    string
	gen        uint64
	stopping   bool
	cameraOn   bool
	// startSeq identifies the latest camera start; a failure reported by an
	// older start must not touch state owned by a newer one.
	startSeq   uint64
	submitting bool
	noRestart  bool
	closed     bool
	listeners  []listener
	nextID     int
}

// New builds an Idle session.
func New(cfg Config) (*Session, error) {
	if cfg.Submitter == nil {
		return nil, errors.New("session: submitter is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timings := DefaultTimings()
	if cfg.Timings != nil {
		timings = *cfg.Timings
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		logger:    logger.With("component", "session"),
		timings:   timings,
		camera:    cfg.Camera,
		decoder:   cfg.Decoder,
		submitter: cfg.Submitter,
		notifier:  cfg.Notifier,
		observer:  cfg.Observer,
		eventID:   cfg.EventID,
		ctx:       ctx,
		cancel:    cancel,
	}
	if s.notifier == nil {
		s.notifier = notify.Nop
	}
	if s.decoder == nil {
		s.decoder = decoder.NewRunner(barcode.NewBackend(), decoder.WithLogger(logger))
	}
	if s.camera == nil && cfg.Capture != nil {
		cc := *cfg.Capture
		cc.OnPayload = func(p string) { s.HandleCameraPayload(p) }
		cc.OnFault = s.handleCameraFault
		if cc.Backend == nil {
			cc.Backend = barcode.NewBackend()
		}
		if cc.Logger == nil {
			cc.Logger = logger
		}
		ctrl, err := capture.NewController(cc)
		if err != nil {
			cancel()
			return nil, err
		}
		s.camera = ctrl
	}
	return s, nil
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() State {
	st := State{
		Mode:         s.mode,
		Origin:       s.origin,
		Payload:      s.payload,
		Stopping:     s.stopping,
		CameraActive: s.cameraOn,
	}
	if s.result != nil {
		r := *s.result
		st.Result = &r
	}
	return st
}

// Subscribe registers fn to receive a snapshot after every transition and
// returns a function that removes it. fn must not call back into the session.
func (s *Session) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) publish() {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()

	s.mu.Lock()
	st := s.snapshotLocked()
	ls := append([]listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range ls {
		l.fn(st)
	}
}

// EventID returns the event check-ins are recorded against.
func (s *Session) EventID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eventID
}

// SetEventID changes the event for later submissions.
func (s *Session) SetEventID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventID = id
}

// Start moves Idle to Scanning and starts the camera. It blocks until the
// camera is ready or has failed, in which case the session returns to Idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.stopping:
		s.mu.Unlock()
		return ErrStopping
	case s.mode == Processing || s.mode == ShowingResult:
		s.mu.Unlock()
		return ErrBusy
	case s.mode == Scanning:
		s.mu.Unlock()
		return nil
	case s.camera == nil:
		s.mu.Unlock()
		return ErrNoCamera
	}
	s.mode = Scanning
	s.cameraOn = true
	s.startSeq++
	token := s.startSeq
	s.mu.Unlock()
	s.publish()

	s.logger.Info("Starting scan")
	if err := s.camera.Start(ctx); err != nil {
		s.cameraFailed(token)
		s.logger.Warn("Camera start failed", "error", err)
		return err
	}
	return nil
}

// cameraFailed records that the camera start identified by token did not
// come up and leaves Scanning. It does nothing once a newer start or a stop
// has taken over.
func (s *Session) cameraFailed(token uint64) {
	s.mu.Lock()
	if s.startSeq != token {
		s.mu.Unlock()
		return
	}
	s.cameraOn = false
	if s.mode == Scanning {
		s.mode = Idle
	}
	s.mu.Unlock()
	s.publish()
}

// HandleCameraPayload offers a payload decoded from the live camera. It is
// accepted only while Scanning; anything else is dropped. It reports whether
// the payload was accepted.
func (s *Session) HandleCameraPayload(p string) bool {
	s.mu.Lock()
	if s.closed || s.stopping || s.mode != Scanning {
		mode := s.mode
		s.mu.Unlock()
		s.logger.Debug("Dropped camera payload", "mode", mode.String())
		if s.observer != nil {
			s.observer.PayloadDropped(OriginCamera)
		}
		return false
	}
	s.gen++
	seq := s.gen
	s.mode = Processing
	s.origin = OriginCamera
	s.payload = Payload(p)
	placeholder := checkin.Processing()
	s.result = &placeholder
	s.noRestart = false
	s.cameraOn = false
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Payload accepted", "origin", OriginCamera, "attempt_id", seq)
	s.publish()
	if s.observer != nil {
		s.observer.PayloadAccepted(OriginCamera)
	}
	notify.Safe(s.notifier, notify.CueProcessing)

	// Pause the camera so the same person is not scanned again meanwhile.
	s.camera.Stop()

	go s.processCamera(seq, p)
	return true
}

func (s *Session) processCamera(seq uint64, payload string) {
	defer s.wg.Done()
	res, ok := s.submit(seq, payload)
	if !ok {
		return
	}
	s.show(seq, res, s.timings.Dwell(OriginCamera, res.Outcome))
}

// HandleFile runs the decode strategies on one uploaded image and, when a
// payload is found, submits it. See HandleFileImages.
func (s *Session) HandleFile(ctx context.Context, img image.Image) (*FileOutcome, error) {
	return s.HandleFileImages(ctx, []image.Image{img})
}

// HandleFileImages runs the decode strategies over imgs in order (the pages
// of a PDF ticket, for example) and submits the first payload found. It
// blocks through decoding, the processing delay and the submission; the
// result dwell continues in the background. ErrBusy is returned while
// another payload is in flight. A camera that is scanning keeps running.
func (s *Session) HandleFileImages(ctx context.Context, imgs []image.Image) (*FileOutcome, error) {
	if len(imgs) == 0 {
		return &FileOutcome{}, ErrNoImages
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &FileOutcome{}, ErrClosed
	}
	if s.mode == Processing || s.mode == ShowingResult {
		s.mu.Unlock()
		s.logger.Debug("Dropped file while busy")
		if s.observer != nil {
			s.observer.PayloadDropped(OriginFile)
		}
		return &FileOutcome{}, ErrBusy
	}
	s.gen++
	seq := s.gen
	s.mode = Processing
	s.origin = OriginFile
	s.payload = ""
	placeholder := checkin.Processing()
	s.result = &placeholder
	s.noRestart = false
	s.mu.Unlock()

	s.logger.Info("File accepted", "origin", OriginFile, "attempt_id", seq, "images", len(imgs))
	s.publish()
	if s.observer != nil {
		s.observer.PayloadAccepted(OriginFile)
	}
	notify.Safe(s.notifier, notify.CueProcessing)

	decoded, err := s.decoder.RunAll(ctx, imgs)
	if err != nil {
		var exhausted *decoder.ExhaustedError
		if !errors.As(err, &exhausted) {
			s.abandon(seq)
			return &FileOutcome{Accepted: true, Aborted: true}, err
		}
		s.logger.Info("No code found in file", "attempt_id", seq, "attempts", len(exhausted.Attempts))
		res := checkin.Failure(NoCodeMessage, exhausted.Hint)
		if !s.show(seq, res, s.timings.FileHintDwell) {
			return &FileOutcome{Accepted: true, Aborted: true}, nil
		}
		return &FileOutcome{Accepted: true, Result: &res}, nil
	}

	out := &FileOutcome{Accepted: true, Payload: decoded.Payload, Strategy: decoded.Strategy}
	s.mu.Lock()
	if s.gen != seq {
		s.mu.Unlock()
		out.Aborted = true
		return out, nil
	}
	s.payload = Payload(decoded.Payload)
	s.mu.Unlock()
	s.publish()

	res, ok := s.submit(seq, decoded.Payload)
	if !ok {
		out.Aborted = true
		return out, nil
	}
	res.Strategy = decoded.Strategy
	if !s.show(seq, res, s.timings.Dwell(OriginFile, res.Outcome)) {
		out.Aborted = true
		return out, nil
	}
	out.Result = &res
	return out, nil
}

// submit waits out the processing delay and calls the submitter, unless the
// sequence was superseded meanwhile.
func (s *Session) submit(seq uint64, payload string) (checkin.Result, bool) {
	if !common.Sleep(s.ctx, s.timings.ProcessingDelay) {
		return checkin.Result{}, false
	}

	s.mu.Lock()
	if s.closed || s.gen != seq {
		s.mu.Unlock()
		s.logger.Info("Submission cancelled by stop", "attempt_id", seq)
		return checkin.Result{}, false
	}
	s.submitting = true
	eventID := s.eventID
	s.mu.Unlock()

	timer := common.NewNamedTimer("submit")
	res := s.submitter.Submit(s.ctx, payload, checkin.Context{EventID: eventID})
	timer.Stop()
	s.logger.Info("Submission finished", "attempt_id", seq, "outcome", res.Outcome, "duration", timer.Duration())
	return res, true
}

// show moves to ShowingResult and schedules the settle after dwell. It
// reports false when the sequence was superseded.
func (s *Session) show(seq uint64, res checkin.Result, dwell time.Duration) bool {
	s.mu.Lock()
	s.submitting = false
	if s.closed || s.gen != seq {
		s.mu.Unlock()
		return false
	}
	s.mode = ShowingResult
	s.result = &res
	origin := s.origin
	s.wg.Add(1)
	s.mu.Unlock()

	s.publish()
	if s.observer != nil {
		s.observer.ResultShown(origin, res.Outcome)
	}
	notify.Safe(s.notifier, cueFor(res.Outcome))

	go s.settle(seq, dwell)
	return true
}

func cueFor(o checkin.Outcome) notify.Cue {
	switch o {
	case checkin.OutcomeSuccess:
		return notify.CueSuccess
	case checkin.OutcomeWarning:
		return notify.CueWarning
	default:
		return notify.CueError
	}
}

// settle ends a result cycle: the camera path resumes scanning, the file
// path goes back to Idle, or to Scanning when the camera kept running.
func (s *Session) settle(seq uint64, dwell time.Duration) {
	defer s.wg.Done()
	if !common.Sleep(s.ctx, dwell) {
		return
	}

	s.mu.Lock()
	if s.closed || s.gen != seq {
		s.mu.Unlock()
		return
	}
	origin := s.origin
	s.origin, s.payload, s.result = "", "", nil
	restart := false
	var token uint64
	switch {
	case s.noRestart:
		s.mode = Idle
	case origin == OriginCamera:
		s.mode = Scanning
		s.cameraOn = true
		s.startSeq++
		token = s.startSeq
		restart = true
	case s.cameraOn:
		s.mode = Scanning
	default:
		s.mode = Idle
	}
	s.noRestart = false
	s.mu.Unlock()
	s.publish()

	if !restart {
		return
	}
	if err := s.camera.Start(s.ctx); err != nil {
		s.cameraFailed(token)
		if errors.Is(err, capture.ErrAborted) {
			return
		}
		s.logger.Error("Camera restart failed", "error", err)
		notify.Safe(s.notifier, notify.CueError)
	}
}

// abandon drops an in-flight file sequence without showing a result.
func (s *Session) abandon(seq uint64) {
	s.mu.Lock()
	if s.closed || s.gen != seq {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.origin, s.payload, s.result = "", "", nil
	if s.cameraOn {
		s.mode = Scanning
	} else {
		s.mode = Idle
	}
	s.mu.Unlock()
	s.publish()
}

// Stop ends scanning and releases the camera, blocking until the release is
// done. A payload still waiting out the processing delay is dropped without
// submission; one already submitted finishes its result cycle and then
// settles in Idle. Concurrent and repeated calls are no-ops.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.closed || s.stopping {
		s.mu.Unlock()
		return
	}
	switch s.mode {
	case Idle:
		s.mu.Unlock()
		return
	case Scanning:
		s.mode = Idle
	case Processing:
		if s.submitting {
			s.noRestart = true
		} else {
			s.gen++
			s.mode = Idle
			s.origin, s.payload, s.result = "", "", nil
		}
	case ShowingResult:
		s.noRestart = true
	}
	s.cameraOn = false
	s.startSeq++
	s.stopping = true
	s.mu.Unlock()

	s.logger.Info("Stopping scan")
	s.publish()

	if s.camera != nil {
		s.camera.Stop()
		s.camera.Wait()
	}

	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()
	s.publish()
}

func (s *Session) handleCameraFault(err error) {
	s.mu.Lock()
	if s.closed || s.stopping || !s.cameraOn {
		s.mu.Unlock()
		return
	}
	s.cameraOn = false
	scanning := s.mode == Scanning
	if scanning {
		s.mode = Idle
	}
	s.mu.Unlock()

	s.logger.Error("Camera fault", "error", err)
	s.publish()
	if scanning {
		notify.Safe(s.notifier, notify.CueError)
	}
}

// Close tears everything down unconditionally and waits for background work.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.gen++
	s.mode = Idle
	s.origin, s.payload, s.result = "", "", nil
	s.cameraOn = false
	s.mu.Unlock()

	s.cancel()
	if s.camera != nil {
		s.camera.Stop()
		s.camera.Wait()
	}
	s.wg.Wait()
	s.publish()
	return nil
}

// Wait blocks until background result cycles have finished. It is meant for
// tests and command-line runs that exit after one scan.
func (s *Session) Wait() {
	s.wg.Wait()
}
