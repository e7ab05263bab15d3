package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/barcode"
	"github.com/MeKo-Tech/checkscan/internal/utils"
)

// State is the controller lifecycle state.
type State int

const (
	Uninitialized State = iota
	Starting
	Active
	Stopping
	Released
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Starting:
		return "starting"
	case Active:
		return "active"
	case Stopping:
		return "stopping"
	case Released:
		return "released"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

const defaultReadyTimeout = 10 * time.Second

var errReadyTimeout = errors.New("stream did not become ready in time")

// Config wires a Controller.
type Config struct {
	Device        Device
	Settings      Settings
	Backend       barcode.Backend
	DecodeOptions barcode.Options
	// OnPayload receives every decoded payload. It runs on the frame goroutine.
	OnPayload func(payload string)
	// OnFault receives structural stream faults, at most once per stream.
	OnFault func(err error)
	// ReadyTimeout bounds the wait for stream readiness; zero means 10s.
	ReadyTimeout time.Duration
	Logger       *slog.Logger
}

// Controller owns one camera stream at a time.
type Controller struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	gen         uint64
	stream      Stream
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	releasing   chan struct{}
	startCancel context.CancelFunc
}

// NewController validates cfg and returns an Uninitialized controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Device == nil {
		return nil, errors.New("capture: device is required")
	}
	if cfg.Backend == nil {
		return nil, errors.New("capture: decode backend is required")
	}
	if cfg.OnPayload == nil {
		return nil, errors.New("capture: payload callback is required")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = defaultReadyTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{cfg: cfg, logger: logger.With("component", "capture")}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start acquires the camera and begins decoding frames. It returns once the
// stream is ready. Calling Start while Starting or Active does nothing. A Stop
// issued before the stream is ready makes Start return ErrAborted.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Starting || c.state == Active {
		c.mu.Unlock()
		return nil
	}
	c.state = Starting
	gen := c.gen
	releasing := c.releasing
	startCtx, cancel := context.WithCancel(ctx)
	c.startCancel = cancel
	c.mu.Unlock()
	defer cancel()

	// A previous stream must be fully released before the device is reopened.
	if releasing != nil {
		select {
		case <-releasing:
		case <-startCtx.Done():
			return c.failStart(gen, nil, &HardwareError{Op: "open", Err: startCtx.Err()})
		}
	}

	c.logger.Debug("Opening camera", "facing", c.cfg.Settings.Facing, "frame_rate", c.cfg.Settings.FrameRate)
	stream, err := c.cfg.Device.Open(startCtx, c.cfg.Settings)
	if err != nil {
		return c.failStart(gen, nil, &HardwareError{Op: "open", Err: err})
	}

	if err := c.awaitReady(startCtx, stream); err != nil {
		return c.failStart(gen, stream, &HardwareError{Op: "ready", Err: err})
	}

	c.mu.Lock()
	if c.gen != gen || c.state != Starting {
		c.mu.Unlock()
		c.closeStream(stream)
		return ErrAborted
	}
	loopCtx, loopCancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.stream = stream
	c.loopCancel = loopCancel
	c.loopDone = done
	c.startCancel = nil
	c.state = Active
	c.mu.Unlock()

	go c.frameLoop(loopCtx, stream, gen, done)
	c.logger.Info("Camera active")
	return nil
}

// failStart releases a half-opened stream and settles the state. When Stop
// raced the start, the caller sees ErrAborted instead of the hardware error.
func (c *Controller) failStart(gen uint64, stream Stream, err error) error {
	if stream != nil {
		c.closeStream(stream)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return ErrAborted
	}
	if c.state == Starting {
		c.state = Released
		c.startCancel = nil
	}
	return err
}

func (c *Controller) awaitReady(ctx context.Context, stream Stream) error {
	t := time.NewTimer(c.cfg.ReadyTimeout)
	defer t.Stop()
	select {
	case <-stream.Ready():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return errReadyTimeout
	}
}

// Stop initiates release of the camera and returns immediately. It is
// idempotent and never fails; teardown errors are logged.
func (c *Controller) Stop() {
	c.mu.Lock()
	switch c.state {
	case Stopping, Released:
		c.mu.Unlock()
		return
	case Uninitialized:
		c.state = Released
		c.mu.Unlock()
		return
	}

	c.gen++
	c.state = Stopping
	if c.startCancel != nil {
		c.startCancel()
		c.startCancel = nil
	}
	stream, cancel, done := c.stream, c.loopCancel, c.loopDone
	c.stream, c.loopCancel, c.loopDone = nil, nil, nil
	prev := c.releasing
	released := make(chan struct{})
	c.releasing = released
	c.mu.Unlock()

	go func() {
		defer close(released)
		if prev != nil {
			<-prev
		}
		if cancel != nil {
			cancel()
			<-done
		}
		if stream != nil {
			c.closeStream(stream)
		}

		c.mu.Lock()
		if c.state == Stopping {
			c.state = Released
		}
		if c.releasing == released {
			c.releasing = nil
		}
		c.mu.Unlock()
		c.logger.Info("Camera released")
	}()
}

// Wait blocks until any in-flight release has finished.
func (c *Controller) Wait() {
	_ = c.WaitContext(context.Background())
}

// WaitContext is Wait bounded by ctx.
func (c *Controller) WaitContext(ctx context.Context) error {
	c.mu.Lock()
	releasing := c.releasing
	c.mu.Unlock()
	if releasing == nil {
		return nil
	}
	select {
	case <-releasing:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the camera unconditionally. It exists for shutdown paths and
// does not wait for the release to finish.
func (c *Controller) Close() error {
	c.Stop()
	return nil
}

// closeStream releases hardware, swallowing errors and panics.
func (c *Controller) closeStream(stream Stream) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("Camera release panicked", "error", &TeardownError{Err: fmt.Errorf("%v", r)})
		}
	}()
	if err := stream.Close(); err != nil {
		c.logger.Warn("Camera release failed", "error", &TeardownError{Err: err})
	}
}

func (c *Controller) frameLoop(ctx context.Context, stream Stream, gen uint64, done chan struct{}) {
	defer close(done)

	var minGap time.Duration
	if fps := c.cfg.Settings.FrameRate; fps > 0 {
		// Allow for scheduling jitter on sources that pace themselves.
		minGap = time.Second / time.Duration(fps) * 9 / 10
	}
	var last time.Time
	frames := stream.Frames()

	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				c.handleStreamEnd(gen, stream)
				return
			}
			if frame == nil {
				continue
			}
			if minGap > 0 && !last.IsZero() && time.Since(last) < minGap {
				continue
			}
			last = time.Now()

			payload, err := c.decodeFrame(ctx, frame)
			if err != nil {
				// No code in this frame is the steady state while scanning.
				continue
			}
			if ctx.Err() != nil {
				return
			}
			c.cfg.OnPayload(payload)
		}
	}
}

func (c *Controller) decodeFrame(ctx context.Context, frame image.Image) (string, error) {
	s := c.cfg.Settings
	region := utils.CenterRegion(frame.Bounds(), s.RegionWidth, s.RegionHeight)
	return barcode.DecodeFirst(ctx, c.cfg.Backend, utils.CropRegion(frame, region), c.cfg.DecodeOptions)
}

func (c *Controller) handleStreamEnd(gen uint64, stream Stream) {
	c.mu.Lock()
	if c.gen != gen || c.state != Active {
		c.mu.Unlock()
		return
	}
	c.state = Released
	cancel := c.loopCancel
	c.stream, c.loopCancel, c.loopDone = nil, nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeStream(stream)
	c.logger.Warn("Camera stream ended", "error", ErrStreamEnded)
	if c.cfg.OnFault != nil {
		c.cfg.OnFault(ErrStreamEnded)
	}
}
