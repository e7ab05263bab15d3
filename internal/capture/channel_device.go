package capture

import (
	"context"
	"image"
	"sync"
)

// ChannelDevice is a camera fed by frames pushed from elsewhere, typically a
// browser streaming over a websocket. It supports one open stream at a time.
type ChannelDevice struct {
	mu        sync.Mutex
	available bool
	denied    bool
	buffer    int
	stream    *channelStream
}

// NewChannelDevice returns a disconnected device whose streams buffer up to
// buffer frames. Frames pushed into a full buffer are dropped.
func NewChannelDevice(buffer int) *ChannelDevice {
	if buffer < 1 {
		buffer = 1
	}
	return &ChannelDevice{buffer: buffer}
}

// Connect marks a frame source as attached and clears any earlier denial.
func (d *ChannelDevice) Connect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = true
	d.denied = false
}

// Deny records that the frame source refused camera access.
func (d *ChannelDevice) Deny() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.denied = true
}

// Disconnect detaches the frame source. An open stream ends.
func (d *ChannelDevice) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.available = false
	if d.stream != nil {
		d.stream.end()
		d.stream = nil
	}
}

// Connected reports whether a frame source is attached.
func (d *ChannelDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.available
}

// Streaming reports whether a stream is open and accepting frames.
func (d *ChannelDevice) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream != nil
}

// Open implements Device.
func (d *ChannelDevice) Open(ctx context.Context, _ Settings) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.denied:
		return nil, ErrPermissionDenied
	case !d.available:
		return nil, ErrNoDevice
	case d.stream != nil:
		return nil, ErrDeviceBusy
	}
	s := &channelStream{
		dev:    d,
		frames: make(chan image.Image, d.buffer),
		ready:  make(chan struct{}),
	}
	close(s.ready)
	d.stream = s
	return s, nil
}

// Push offers a frame to the open stream without blocking. It reports
// whether the frame was accepted.
func (d *ChannelDevice) Push(img image.Image) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil || img == nil {
		return false
	}
	select {
	case d.stream.frames <- img:
		return true
	default:
		return false
	}
}

type channelStream struct {
	dev    *ChannelDevice
	frames chan image.Image
	ready  chan struct{}
	once   sync.Once
}

func (s *channelStream) Ready() <-chan struct{}     { return s.ready }
func (s *channelStream) Frames() <-chan image.Image { return s.frames }

// end closes the frame channel. Callers hold dev.mu.
func (s *channelStream) end() {
	s.once.Do(func() { close(s.frames) })
}

func (s *channelStream) Close() error {
	s.dev.mu.Lock()
	defer s.dev.mu.Unlock()
	if s.dev.stream == s {
		s.dev.stream = nil
	}
	s.end()
	return nil
}
