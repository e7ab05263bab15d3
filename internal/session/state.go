package session

import (
	"fmt"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/checkin"
)

// Mode is the externally visible phase of a session.
type Mode int

const (
	Idle Mode = iota
	Scanning
	Processing
	ShowingResult
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Processing:
		return "processing"
	case ShowingResult:
		return "showing_result"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// MarshalText renders the mode by name in JSON state snapshots.
func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText parses a mode name as produced by MarshalText.
func (m *Mode) UnmarshalText(text []byte) error {
	for _, candidate := range []Mode{Idle, Scanning, Processing, ShowingResult} {
		if candidate.String() == string(text) {
			*m = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown session mode %q", text)
}

// Origin tells where the in-flight payload came from.
type Origin string

const (
	OriginCamera Origin = "camera"
	OriginFile   Origin = "file"
)

// Payload is the opaque string decoded from a code.
type Payload string

// State is a point-in-time copy of the session.
type State struct {
	Mode    Mode            `json:"mode"`
	Origin  Origin          `json:"origin,omitempty"`
	Payload Payload         `json:"payload,omitempty"`
	Result  *checkin.Result `json:"result,omitempty"`
	// Stopping is set while a camera teardown is in flight.
	Stopping bool `json:"stopping"`
	// CameraActive reports whether the camera is meant to be running.
	CameraActive bool `json:"cameraActive"`
}

// InFlight reports whether a payload is being processed or its result shown.
func (s State) InFlight() bool {
	return s.Mode == Processing || s.Mode == ShowingResult
}

// Timings holds every pacing delay of the session.
type Timings struct {
	// ProcessingDelay separates payload acceptance from submission.
	ProcessingDelay    time.Duration
	CameraSuccessDwell time.Duration
	CameraFailureDwell time.Duration
	FileSuccessDwell   time.Duration
	FileFailureDwell   time.Duration
	// FileHintDwell applies when no strategy could decode an uploaded image.
	FileHintDwell time.Duration
}

// DefaultTimings returns the operator-facing defaults.
func DefaultTimings() Timings {
	return Timings{
		ProcessingDelay:    4 * time.Second,
		CameraSuccessDwell: 3 * time.Second,
		CameraFailureDwell: 4 * time.Second,
		FileSuccessDwell:   1500 * time.Millisecond,
		FileFailureDwell:   2 * time.Second,
		FileHintDwell:      4 * time.Second,
	}
}

// Dwell returns how long a result stays on screen.
func (t Timings) Dwell(origin Origin, outcome checkin.Outcome) time.Duration {
	success := outcome == checkin.OutcomeSuccess
	switch {
	case origin == OriginCamera && success:
		return t.CameraSuccessDwell
	case origin == OriginCamera:
		return t.CameraFailureDwell
	case success:
		return t.FileSuccessDwell
	default:
		return t.FileFailureDwell
	}
}
