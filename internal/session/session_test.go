package session

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/capture"
	"github.com/MeKo-Tech/checkscan/internal/checkin"
	"github.com/MeKo-Tech/checkscan/internal/decoder"
	"github.com/MeKo-Tech/checkscan/internal/notify"
	"github.com/MeKo-Tech/checkscan/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

type fakeCamera struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	running  bool
	release  chan struct{} // when set, Wait blocks until closed

	// holdStart makes the start with that number signal entered and then
	// return whatever arrives on gate.
	holdStart int
	entered   chan struct{}
	gate      chan error
}

func (c *fakeCamera) Start(ctx context.Context) error {
	c.mu.Lock()
	c.starts++
	if c.holdStart != 0 && c.starts == c.holdStart {
		c.mu.Unlock()
		close(c.entered)
		return <-c.gate
	}
	defer c.mu.Unlock()
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *fakeCamera) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		c.stops++
	}
	c.running = false
}

func (c *fakeCamera) Wait() {
	c.mu.Lock()
	release := c.release
	c.mu.Unlock()
	if release != nil {
		<-release
	}
}

func (c *fakeCamera) counts() (starts, stops int, running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starts, c.stops, c.running
}

type submission struct {
	payload string
	cc      checkin.Context
}

type fakeSubmitter struct {
	result checkin.Result
	calls  chan submission
	block  chan struct{} // when set, Submit waits until closed
}

func newFakeSubmitter(res checkin.Result) *fakeSubmitter {
	return &fakeSubmitter{result: res, calls: make(chan submission, 64)}
}

func (f *fakeSubmitter) Submit(ctx context.Context, payload string, cc checkin.Context) checkin.Result {
	f.calls <- submission{payload: payload, cc: cc}
	if f.block != nil {
		<-f.block
	}
	return f.result
}

type fakeDecoder struct {
	result *decoder.Result
	err    error
	calls  atomic.Int32
}

func (d *fakeDecoder) RunAll(ctx context.Context, imgs []image.Image) (*decoder.Result, error) {
	d.calls.Add(1)
	return d.result, d.err
}

type cueRecorder struct {
	mu   sync.Mutex
	cues []notify.Cue
}

func (r *cueRecorder) Notify(c notify.Cue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cues = append(r.cues, c)
}

func (r *cueRecorder) all() []notify.Cue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Cue(nil), r.cues...)
}

type modeRecorder struct {
	mu    sync.Mutex
	modes []Mode
}

func (r *modeRecorder) record(st State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n := len(r.modes); n == 0 || r.modes[n-1] != st.Mode {
		r.modes = append(r.modes, st.Mode)
	}
}

func (r *modeRecorder) transitions() []Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Mode(nil), r.modes...)
}

func testTimings() *Timings {
	return &Timings{
		ProcessingDelay:    60 * time.Millisecond,
		CameraSuccessDwell: 60 * time.Millisecond,
		CameraFailureDwell: 80 * time.Millisecond,
		FileSuccessDwell:   80 * time.Millisecond,
		FileFailureDwell:   90 * time.Millisecond,
		FileHintDwell:      100 * time.Millisecond,
	}
}

type harness struct {
	s     *Session
	cam   *fakeCamera
	sub   *fakeSubmitter
	dec   *fakeDecoder
	cues  *cueRecorder
	modes *modeRecorder
}

func newHarness(t *testing.T, res checkin.Result) *harness {
	t.Helper()
	h := &harness{
		cam:   &fakeCamera{},
		sub:   newFakeSubmitter(res),
		dec:   &fakeDecoder{},
		cues:  &cueRecorder{},
		modes: &modeRecorder{},
	}
	s, err := New(Config{
		Camera:    h.cam,
		Decoder:   h.dec,
		Submitter: h.sub,
		EventID:   "EVT-7",
		Notifier:  h.cues,
		Timings:   testTimings(),
	})
	require.NoError(t, err)
	s.Subscribe(h.modes.record)
	t.Cleanup(func() { _ = s.Close() })
	h.s = s
	return h
}

func (h *harness) waitMode(t *testing.T, want Mode) {
	t.Helper()
	require.Eventually(t, func() bool { return h.s.Snapshot().Mode == want }, waitFor, tick,
		"session never reached %s (now %s)", want, h.s.Snapshot().Mode)
}

func successResult(name string) checkin.Result {
	return checkin.Result{
		Outcome:   checkin.OutcomeSuccess,
		Message:   "Check-in berhasil",
		Volunteer: &checkin.VolunteerInfo{Name: name},
	}
}

func TestNew_RequiresSubmitter(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestNew_DefaultTimings(t *testing.T) {
	s, err := New(Config{Submitter: newFakeSubmitter(checkin.Result{})})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, DefaultTimings(), s.timings)
	assert.Equal(t, Idle, s.Snapshot().Mode)
}

func TestNew_ZeroTimingsAreKept(t *testing.T) {
	s, err := New(Config{Submitter: newFakeSubmitter(checkin.Result{}), Timings: &Timings{}})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, Timings{}, s.timings)
}

func TestStart(t *testing.T) {
	h := newHarness(t, successResult("Budi"))

	require.NoError(t, h.s.Start(context.Background()))
	st := h.s.Snapshot()
	assert.Equal(t, Scanning, st.Mode)
	assert.True(t, st.CameraActive)

	require.NoError(t, h.s.Start(context.Background()), "start while scanning is a no-op")
	starts, _, _ := h.cam.counts()
	assert.Equal(t, 1, starts)
}

func TestStart_WithoutCamera(t *testing.T) {
	s, err := New(Config{Submitter: newFakeSubmitter(checkin.Result{})})
	require.NoError(t, err)
	defer s.Close()
	assert.ErrorIs(t, s.Start(context.Background()), ErrNoCamera)
	assert.Equal(t, Idle, s.Snapshot().Mode)
}

func TestStart_CameraFailureStaysIdle(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	h.cam.startErr = &capture.HardwareError{Op: "open", Err: capture.ErrPermissionDenied}

	err := h.s.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, capture.ErrPermissionDenied)

	st := h.s.Snapshot()
	assert.Equal(t, Idle, st.Mode)
	assert.False(t, st.CameraActive)
}

func TestCameraPayload_SuccessCycle(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	require.NoError(t, h.s.Start(context.Background()))

	require.True(t, h.s.HandleCameraPayload("EVT-7:USR-42"))

	st := h.s.Snapshot()
	assert.Equal(t, Processing, st.Mode)
	assert.Equal(t, OriginCamera, st.Origin)
	assert.Equal(t, Payload("EVT-7:USR-42"), st.Payload)
	require.NotNil(t, st.Result)
	assert.Equal(t, checkin.OutcomeProcessing, st.Result.Outcome)
	_, stops, running := h.cam.counts()
	assert.Equal(t, 1, stops, "camera is paused on accept")
	assert.False(t, running)
	assert.Empty(t, h.sub.calls, "submission waits for the processing delay")

	select {
	case call := <-h.sub.calls:
		assert.Equal(t, "EVT-7:USR-42", call.payload)
		assert.Equal(t, "EVT-7", call.cc.EventID)
	case <-time.After(waitFor):
		t.Fatal("submitter was not called")
	}

	h.waitMode(t, ShowingResult)
	st = h.s.Snapshot()
	require.NotNil(t, st.Result)
	assert.Equal(t, checkin.OutcomeSuccess, st.Result.Outcome)
	assert.Equal(t, "Budi", st.Result.SubjectName())

	h.waitMode(t, Scanning)
	require.Eventually(t, func() bool {
		starts, _, running := h.cam.counts()
		return starts == 2 && running
	}, waitFor, tick, "camera was not restarted")
	assert.Nil(t, h.s.Snapshot().Result)

	assert.Equal(t, []Mode{Scanning, Processing, ShowingResult, Scanning}, h.modes.transitions())
	assert.Equal(t, []notify.Cue{notify.CueProcessing, notify.CueSuccess}, h.cues.all())
}

func TestCameraPayload_ConcurrentArrivalsAreDropped(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	require.NoError(t, h.s.Start(context.Background()))

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.s.HandleCameraPayload("EVT-7:USR-42") {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())

	h.waitMode(t, Scanning)
	// Payloads arriving during the whole cycle were never queued.
	assert.Len(t, h.sub.calls, 1)
}

func TestCameraPayload_IgnoredWhenNotScanning(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	assert.False(t, h.s.HandleCameraPayload("X"))
	assert.Equal(t, Idle, h.s.Snapshot().Mode)
	assert.Empty(t, h.cues.all())
}

func TestCameraPayload_RejectedCheckin(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":       "Sudah check-in",
			"currentStatus": "attended",
		})
	}))
	defer srv.Close()
	client, err := checkin.NewClient(checkin.Config{Endpoint: srv.URL})
	require.NoError(t, err)

	cam := &fakeCamera{}
	cues := &cueRecorder{}
	s, err := New(Config{Camera: cam, Decoder: &fakeDecoder{}, Submitter: client, EventID: "EVT-7", Notifier: cues, Timings: testTimings()})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	acceptedAt := time.Now()
	require.True(t, s.HandleCameraPayload("EVT-7:USR-42"))

	require.Eventually(t, func() bool { return s.Snapshot().Mode == ShowingResult }, waitFor, tick)
	st := s.Snapshot()
	require.NotNil(t, st.Result)
	assert.Equal(t, checkin.OutcomeError, st.Result.Outcome)
	assert.Equal(t, "Sudah check-in", st.Result.Message)
	assert.Equal(t, "attended", st.Result.CurrentStatus)
	assert.Equal(t, "Current status: Attended", st.Result.Detail)

	require.Eventually(t, func() bool { return s.Snapshot().Mode == Scanning }, waitFor, tick)
	tm := testTimings()
	assert.GreaterOrEqual(t, time.Since(acceptedAt), tm.ProcessingDelay+tm.CameraFailureDwell)
	assert.Contains(t, cues.all(), notify.CueError)
}

func TestCameraRestartFailureEndsIdle(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	require.NoError(t, h.s.Start(context.Background()))
	require.True(t, h.s.HandleCameraPayload("X"))

	h.waitMode(t, ShowingResult)
	h.cam.mu.Lock()
	h.cam.startErr = &capture.HardwareError{Op: "open", Err: capture.ErrNoDevice}
	h.cam.mu.Unlock()

	require.Eventually(t, func() bool {
		starts, _, _ := h.cam.counts()
		return starts == 2 && h.s.Snapshot().Mode == Idle
	}, waitFor, tick)
	assert.False(t, h.s.Snapshot().CameraActive)
	assert.Equal(t, notify.CueError, h.cues.all()[len(h.cues.all())-1])
}

func TestCameraRestartAbortedAfterNewerStart(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	h.cam.holdStart = 2
	h.cam.entered = make(chan struct{})
	h.cam.gate = make(chan error)

	require.NoError(t, h.s.Start(context.Background()))
	require.True(t, h.s.HandleCameraPayload("X"))

	select {
	case <-h.cam.entered:
	case <-time.After(waitFor):
		t.Fatal("camera restart never began")
	}

	h.s.Stop()
	assert.Equal(t, Idle, h.s.Snapshot().Mode)
	require.NoError(t, h.s.Start(context.Background()))
	assert.Equal(t, Scanning, h.s.Snapshot().Mode)

	h.cam.gate <- capture.ErrAborted
	h.s.Wait()

	st := h.s.Snapshot()
	assert.Equal(t, Scanning, st.Mode)
	assert.True(t, st.CameraActive)
	starts, _, running := h.cam.counts()
	assert.Equal(t, 3, starts)
	assert.True(t, running)
	assert.True(t, h.s.HandleCameraPayload("Y"), "newer start keeps accepting payloads")
}

func TestFile_DecodedByLastStrategy(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	h.dec.result = &decoder.Result{Payload: "EVT-7:USR-42", Strategy: "grayscale-threshold", Index: 5}

	start := time.Now()
	out, err := h.s.HandleFile(context.Background(), testutil.CreateTestImage(10, 10, image.White.C))
	require.NoError(t, err)

	assert.True(t, out.Accepted)
	assert.False(t, out.Aborted)
	assert.Equal(t, "EVT-7:USR-42", out.Payload)
	assert.Equal(t, "grayscale-threshold", out.Strategy)
	require.NotNil(t, out.Result)
	assert.Equal(t, checkin.OutcomeSuccess, out.Result.Outcome)
	assert.Equal(t, "grayscale-threshold", out.Result.Strategy)
	assert.GreaterOrEqual(t, time.Since(start), testTimings().ProcessingDelay)

	st := h.s.Snapshot()
	assert.Equal(t, ShowingResult, st.Mode)
	assert.Equal(t, OriginFile, st.Origin)

	h.waitMode(t, Idle)
	starts, stops, _ := h.cam.counts()
	assert.Zero(t, starts, "file scans never touch the camera")
	assert.Zero(t, stops)
	assert.Equal(t, []Mode{Processing, ShowingResult, Idle}, h.modes.transitions())
}

func TestFile_RealDecoder(t *testing.T) {
	sub := newFakeSubmitter(successResult("Budi"))
	s, err := New(Config{Submitter: sub, EventID: "EVT-7", Timings: testTimings()})
	require.NoError(t, err)
	defer s.Close()

	blank := testutil.CreateTestImage(200, 200, image.White.C)
	ticket := testutil.GenerateQRImage(t, testutil.DefaultQRConfig("EVT-7:USR-42"))

	out, err := s.HandleFileImages(context.Background(), []image.Image{blank, ticket})
	require.NoError(t, err)
	assert.Equal(t, "EVT-7:USR-42", out.Payload)
	assert.Equal(t, decoder.DefaultStrategies()[0].Name, out.Strategy)
	assert.Equal(t, "EVT-7:USR-42", (<-sub.calls).payload)
}

func TestFile_Exhausted(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	h.dec.err = &decoder.ExhaustedError{Hint: decoder.DefaultHint}

	out, err := h.s.HandleFile(context.Background(), testutil.CreateTestImage(10, 10, image.White.C))
	require.NoError(t, err)
	require.NotNil(t, out.Result)
	assert.Equal(t, checkin.OutcomeError, out.Result.Outcome)
	assert.Equal(t, NoCodeMessage, out.Result.Message)
	assert.Equal(t, decoder.DefaultHint, out.Result.Detail)
	assert.NotEmpty(t, out.Result.Detail)

	assert.Equal(t, ShowingResult, h.s.Snapshot().Mode)
	h.waitMode(t, Idle)
	assert.Empty(t, h.sub.calls, "nothing to submit")
	assert.Equal(t, []notify.Cue{notify.CueProcessing, notify.CueError}, h.cues.all())
}

func TestFile_CancelledDecode(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	h.dec.err = context.Canceled

	out, err := h.s.HandleFile(context.Background(), testutil.CreateTestImage(10, 10, image.White.C))
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, out.Aborted)
	assert.Equal(t, Idle, h.s.Snapshot().Mode)
}

func TestFile_RejectedWhileBusy(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	require.NoError(t, h.s.Start(context.Background()))
	require.True(t, h.s.HandleCameraPayload("X"))

	out, err := h.s.HandleFile(context.Background(), testutil.CreateTestImage(10, 10, image.White.C))
	require.ErrorIs(t, err, ErrBusy)
	assert.False(t, out.Accepted)
	assert.Zero(t, h.dec.calls.Load())

	assert.ErrorIs(t, h.s.Start(context.Background()), ErrBusy)
}

func TestFile_NoImages(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	_, err := h.s.HandleFileImages(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoImages)
}

func TestFile_WhileCameraScanning(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	h.dec.result = &decoder.Result{Payload: "P", Strategy: "original"}
	require.NoError(t, h.s.Start(context.Background()))

	_, err := h.s.HandleFile(context.Background(), testutil.CreateTestImage(10, 10, image.White.C))
	require.NoError(t, err)

	_, stops, running := h.cam.counts()
	assert.Zero(t, stops, "a file does not pause the camera")
	assert.True(t, running)
	assert.False(t, h.s.HandleCameraPayload("Q"), "camera payloads are dropped while the file is in flight")

	h.waitMode(t, Scanning)
	starts, _, _ := h.cam.counts()
	assert.Equal(t, 1, starts)
}

func TestStop_Idempotent(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	require.NoError(t, h.s.Start(context.Background()))

	release := make(chan struct{})
	h.cam.mu.Lock()
	h.cam.release = release
	h.cam.mu.Unlock()

	done := make(chan struct{})
	go func() {
		h.s.Stop()
		close(done)
	}()
	require.Eventually(t, func() bool { return h.s.Snapshot().Stopping }, waitFor, tick)

	h.s.Stop() // no-op while the first stop is tearing down
	assert.ErrorIs(t, h.s.Start(context.Background()), ErrStopping)

	close(release)
	<-done

	st := h.s.Snapshot()
	assert.Equal(t, Idle, st.Mode)
	assert.False(t, st.Stopping)
	_, stops, _ := h.cam.counts()
	assert.Equal(t, 1, stops)

	h.s.Stop()
	assert.Equal(t, []Mode{Scanning, Idle}, h.modes.transitions(), "Idle is entered exactly once")

	require.NoError(t, h.s.Start(context.Background()), "start works again after teardown")
}

func TestStop_DuringProcessingDelayCancelsSubmission(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	require.NoError(t, h.s.Start(context.Background()))
	require.True(t, h.s.HandleCameraPayload("X"))

	h.s.Stop()
	assert.Equal(t, Idle, h.s.Snapshot().Mode)

	time.Sleep(3 * testTimings().ProcessingDelay)
	assert.Empty(t, h.sub.calls, "no submission after stop")
	assert.Equal(t, Idle, h.s.Snapshot().Mode)
	starts, _, _ := h.cam.counts()
	assert.Equal(t, 1, starts, "camera is not restarted")
}

func TestStop_AfterSubmissionStartedSettlesIdle(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	h.sub.block = make(chan struct{})
	require.NoError(t, h.s.Start(context.Background()))
	require.True(t, h.s.HandleCameraPayload("X"))

	select {
	case <-h.sub.calls:
	case <-time.After(waitFor):
		t.Fatal("submitter was not called")
	}
	h.s.Stop()
	assert.Equal(t, Processing, h.s.Snapshot().Mode, "the in-flight payload completes its cycle")

	close(h.sub.block)
	h.waitMode(t, Idle)
	assert.Contains(t, h.modes.transitions(), ShowingResult)

	time.Sleep(2 * testTimings().CameraSuccessDwell)
	starts, _, _ := h.cam.counts()
	assert.Equal(t, 1, starts, "camera restart was cancelled")
	assert.Equal(t, Idle, h.s.Snapshot().Mode)
}

func TestCameraFault(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	require.NoError(t, h.s.Start(context.Background()))

	h.s.handleCameraFault(capture.ErrStreamEnded)

	st := h.s.Snapshot()
	assert.Equal(t, Idle, st.Mode)
	assert.False(t, st.CameraActive)
	assert.Equal(t, []notify.Cue{notify.CueError}, h.cues.all())

	// Faults after a deliberate stop are ignored.
	h.s.handleCameraFault(capture.ErrStreamEnded)
	assert.Len(t, h.cues.all(), 1)
}

func TestClose(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	require.NoError(t, h.s.Start(context.Background()))
	require.True(t, h.s.HandleCameraPayload("X"))

	require.NoError(t, h.s.Close())
	require.NoError(t, h.s.Close())

	assert.Empty(t, h.sub.calls)
	assert.Equal(t, Idle, h.s.Snapshot().Mode)
	assert.ErrorIs(t, h.s.Start(context.Background()), ErrClosed)
	_, err := h.s.HandleFile(context.Background(), testutil.CreateTestImage(1, 1, image.White.C))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	var calls atomic.Int32
	unsubscribe := h.s.Subscribe(func(State) { calls.Add(1) })

	require.NoError(t, h.s.Start(context.Background()))
	assert.Equal(t, int32(1), calls.Load())

	unsubscribe()
	h.s.Stop()
	assert.Equal(t, int32(1), calls.Load())
}

func TestSetEventID(t *testing.T) {
	h := newHarness(t, successResult("Budi"))
	h.s.SetEventID("EVT-9")
	assert.Equal(t, "EVT-9", h.s.EventID())

	h.dec.result = &decoder.Result{Payload: "P", Strategy: "original"}
	_, err := h.s.HandleFile(context.Background(), testutil.CreateTestImage(1, 1, image.White.C))
	require.NoError(t, err)
	assert.Equal(t, "EVT-9", (<-h.sub.calls).cc.EventID)
}

func TestWithCaptureController(t *testing.T) {
	dev := capture.NewChannelDevice(2)
	dev.Connect()
	sub := newFakeSubmitter(successResult("Budi"))

	settings := capture.DefaultSettings()
	settings.RegionWidth, settings.RegionHeight, settings.FrameRate = 0, 0, 0
	s, err := New(Config{
		Capture:   &capture.Config{Device: dev, Settings: settings},
		Submitter: sub,
		EventID:   "EVT-7",
		Timings:   testTimings(),
	})
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Start(context.Background()))
	require.True(t, dev.Streaming())
	require.True(t, dev.Push(testutil.GenerateQRImage(t, testutil.DefaultQRConfig("EVT-7:USR-42"))))

	select {
	case call := <-sub.calls:
		assert.Equal(t, "EVT-7:USR-42", call.payload)
	case <-time.After(5 * time.Second):
		t.Fatal("camera payload was not submitted")
	}
	require.Eventually(t, func() bool { return s.Snapshot().Mode == Scanning && dev.Streaming() }, 5*time.Second, tick,
		"camera was not resumed after the result")

	s.Stop()
	assert.Equal(t, Idle, s.Snapshot().Mode)
	assert.False(t, dev.Streaming())
}
