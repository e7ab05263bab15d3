package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrPermissionDenied is returned by devices the operator has not granted access to.
	ErrPermissionDenied = errors.New("capture: camera permission denied")
	// ErrNoDevice is returned when no camera is connected.
	ErrNoDevice = errors.New("capture: no camera connected")
	// ErrDeviceBusy is returned when a device already has an open stream.
	ErrDeviceBusy = errors.New("capture: device busy")
	// ErrStreamEnded is reported to OnFault when a stream stops delivering frames on its own.
	ErrStreamEnded = errors.New("capture: stream ended unexpectedly")
	// ErrAborted is returned by Start when Stop was called before the stream became ready.
	ErrAborted = errors.New("capture: start aborted by stop")
)

// HardwareError wraps a failure to acquire the camera.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("camera %s failed: %v", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// TeardownError wraps a failure to release the camera. It is only ever logged.
type TeardownError struct {
	Err error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("camera release failed: %v", e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }
