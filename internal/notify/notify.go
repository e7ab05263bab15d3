// Package notify delivers fire-and-forget operator cues. Implementations never
// block the caller for long and never report failures.
package notify

import (
	"io"
	"log/slog"
	"sync"
)

// Cue identifies the kind of feedback to play.
type Cue string

const (
	CueProcessing Cue = "processing"
	CueSuccess    Cue = "success"
	CueError      Cue = "error"
	CueWarning    Cue = "warning"
)

// Notifier plays a cue.
type Notifier interface {
	Notify(c Cue)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(c Cue)

func (f NotifierFunc) Notify(c Cue) { f(c) }

// Nop discards every cue.
var Nop Notifier = NotifierFunc(func(Cue) {})

// LogNotifier records cues in the structured log.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(c Cue) {
	logger := n.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Cue", "cue", string(c))
}

// BellNotifier rings the terminal bell for results. Success rings once,
// errors and warnings twice, processing stays silent.
type BellNotifier struct {
	mu sync.Mutex
	w  io.Writer
}

// NewBellNotifier writes bells to w.
func NewBellNotifier(w io.Writer) *BellNotifier {
	return &BellNotifier{w: w}
}

func (n *BellNotifier) Notify(c Cue) {
	var bells string
	switch c {
	case CueSuccess:
		bells = "\a"
	case CueError, CueWarning:
		bells = "\a\a"
	default:
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	_, _ = io.WriteString(n.w, bells)
}

// Multi fans a cue out to several notifiers. A panicking notifier does not
// stop the others.
func Multi(ns ...Notifier) Notifier {
	out := make([]Notifier, 0, len(ns))
	for _, n := range ns {
		if n != nil {
			out = append(out, n)
		}
	}
	return multi(out)
}

type multi []Notifier

func (m multi) Notify(c Cue) {
	for _, n := range m {
		Safe(n, c)
	}
}

// Safe plays c on n, swallowing panics.
func Safe(n Notifier, c Cue) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("Notifier panicked", "cue", string(c), "panic", r)
		}
	}()
	n.Notify(c)
}
