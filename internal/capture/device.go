package capture

import (
	"context"
	"image"
)

// Facing selects which camera to use on devices that have several.
type Facing string

const (
	FacingRear  Facing = "environment"
	FacingFront Facing = "user"
)

// Settings are requested from a device when opening a stream.
type Settings struct {
	Facing Facing
	// RegionWidth and RegionHeight bound the centred detection box in pixels.
	RegionWidth  int
	RegionHeight int
	// FrameRate caps how many frames per second are decoded.
	FrameRate int
}

// DefaultSettings requests the rear camera, a 250x250 box and 10 fps.
func DefaultSettings() Settings {
	return Settings{
		Facing:       FacingRear,
		RegionWidth:  250,
		RegionHeight: 250,
		FrameRate:    10,
	}
}

// Device opens camera streams.
type Device interface {
	Open(ctx context.Context, s Settings) (Stream, error)
}

// Stream is an open camera stream.
type Stream interface {
	// Ready is closed once the stream is delivering frames.
	Ready() <-chan struct{}
	// Frames yields captured frames. It is closed when the stream ends.
	Frames() <-chan image.Image
	// Close releases the hardware.
	Close() error
}
