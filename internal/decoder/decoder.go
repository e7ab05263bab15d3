// Package decoder runs the ordered fallback sequence of preprocessing and
// decode attempts against a single still image.
//
// Strategies run strictly one after another, gentlest first, and the runner
// stops at the first one that yields a payload. A failing strategy, whether
// it returns an error or panics, only means "no payload from this strategy".
package decoder

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/barcode"
	"github.com/MeKo-Tech/checkscan/internal/common"
	"github.com/MeKo-Tech/checkscan/internal/preprocess"
)

// DefaultHint is the remediation shown when every strategy failed.
const DefaultHint = "Ensure the code is in focus and well lit, then try again."

// ErrExhausted matches any *ExhaustedError via errors.Is.
var ErrExhausted = errors.New("decoder: no strategy produced a payload")

// Strategy pairs a preprocessing profile with a decode attempt.
type Strategy struct {
	Name    string
	Profile preprocess.Profile
}

// DefaultStrategies returns one strategy per preprocessing profile, in order.
func DefaultStrategies() []Strategy {
	profiles := preprocess.Profiles()
	out := make([]Strategy, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, Strategy{Name: p.Name, Profile: p})
	}
	return out
}

// Attempt records one strategy execution.
type Attempt struct {
	Strategy string
	Err      error
	Duration time.Duration
}

// Result is a successful decode.
type Result struct {
	Payload  string
	Strategy string
	// Index is the zero-based position of Strategy in the runner's order.
	Index    int
	Attempts []Attempt
	Elapsed  time.Duration
}

// ExhaustedError reports that all strategies failed for every input image.
type ExhaustedError struct {
	Hint     string
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	var names []string
	for _, a := range e.Attempts {
		names = append(names, a.Strategy)
	}
	return fmt.Sprintf("decoder: no payload after %d attempts (%s): %s",
		len(e.Attempts), strings.Join(names, ", "), e.Hint)
}

// Is makes errors.Is(err, ErrExhausted) true.
func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Observer receives per-strategy outcomes, e.g. for metrics.
type Observer interface {
	StrategyAttempted(strategy string, success bool, d time.Duration)
	Exhausted()
}

// Runner executes strategies against images.
type Runner struct {
	backend    barcode.Backend
	opts       barcode.Options
	strategies []Strategy
	observer   Observer
	logger     *slog.Logger
	hint       string
}

// Option configures a Runner.
type Option func(*Runner)

// WithStrategies replaces the default strategy order.
func WithStrategies(s []Strategy) Option {
	return func(r *Runner) { r.strategies = append([]Strategy(nil), s...) }
}

// WithDecodeOptions sets the options passed to every decode attempt.
func WithDecodeOptions(o barcode.Options) Option {
	return func(r *Runner) { r.opts = o }
}

// WithObserver attaches an observer.
func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithHint overrides the remediation hint.
func WithHint(h string) Option {
	return func(r *Runner) { r.hint = h }
}

// NewRunner builds a runner around backend using DefaultStrategies.
func NewRunner(backend barcode.Backend, opts ...Option) *Runner {
	r := &Runner{
		backend:    backend,
		strategies: DefaultStrategies(),
		hint:       DefaultHint,
	}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Strategies returns a copy of the configured order.
func (r *Runner) Strategies() []Strategy {
	return append([]Strategy(nil), r.strategies...)
}

// Run tries each strategy on img in order and returns the first payload.
// All failures yield an *ExhaustedError; a cancelled ctx yields ctx.Err().
func (r *Runner) Run(ctx context.Context, img image.Image) (*Result, error) {
	return r.RunAll(ctx, []image.Image{img})
}

// RunAll runs the full strategy sequence on each image in turn (for example
// the pages of a PDF ticket) and returns the first payload found.
func (r *Runner) RunAll(ctx context.Context, imgs []image.Image) (*Result, error) {
	timer := common.NewNamedTimer("decode")
	var attempts []Attempt

	for imgIdx, img := range imgs {
		for i, s := range r.strategies {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			payload, att := r.attempt(ctx, img, s)
			attempts = append(attempts, att)
			if r.observer != nil {
				r.observer.StrategyAttempted(s.Name, att.Err == nil, att.Duration)
			}
			if att.Err != nil {
				r.logger.Debug("Decode strategy failed", "strategy", s.Name, "image", imgIdx, "error", att.Err)
				continue
			}

			elapsed := timer.Stop()
			r.logger.Info("Decode strategy succeeded",
				"strategy", s.Name, "index", i, "image", imgIdx, "attempts", len(attempts), "elapsed", elapsed)
			return &Result{
				Payload:  payload,
				Strategy: s.Name,
				Index:    i,
				Attempts: attempts,
				Elapsed:  elapsed,
			}, nil
		}
	}

	if r.observer != nil {
		r.observer.Exhausted()
	}
	r.logger.Info("All decode strategies failed", "attempts", len(attempts), "elapsed", timer.Stop())
	return nil, &ExhaustedError{Hint: r.hint, Attempts: attempts}
}

// attempt runs one strategy, converting panics into errors.
func (r *Runner) attempt(ctx context.Context, img image.Image, s Strategy) (payload string, att Attempt) {
	t := common.NewNamedTimer(s.Name)
	att.Strategy = s.Name
	defer func() {
		if rec := recover(); rec != nil {
			payload = ""
			att.Err = fmt.Errorf("strategy %s panicked: %v", s.Name, rec)
		}
		att.Duration = t.Stop()
	}()

	prepared, err := preprocess.Apply(img, s.Profile)
	if err != nil {
		att.Err = err
		return "", att
	}
	payload, err = barcode.DecodeFirst(ctx, r.backend, prepared, r.opts)
	if err != nil {
		att.Err = err
		return "", att
	}
	return payload, att
}
