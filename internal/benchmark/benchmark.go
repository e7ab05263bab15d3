// Package benchmark times the decode strategies against real ticket images
// so the strategy order can be tuned with numbers instead of guesses.
package benchmark

import (
	"context"
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/barcode"
	"github.com/MeKo-Tech/checkscan/internal/common"
	"github.com/MeKo-Tech/checkscan/internal/decoder"
	"github.com/MeKo-Tech/checkscan/internal/preprocess"
)

// MemoryStats holds memory usage statistics.
type MemoryStats struct {
	AllocBytes      uint64 `json:"alloc_bytes"`
	TotalAllocBytes uint64 `json:"total_alloc_bytes"`
	NumGC           uint32 `json:"num_gc"`
}

// GetMemoryStats returns current memory statistics.
func GetMemoryStats() MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemoryStats{
		AllocBytes:      m.Alloc,
		TotalAllocBytes: m.TotalAlloc,
		NumGC:           m.NumGC,
	}
}

func (m MemoryStats) String() string {
	return fmt.Sprintf("Alloc: %d KB, Total: %d KB, GC: %d",
		m.AllocBytes/1024, m.TotalAllocBytes/1024, m.NumGC)
}

// Result holds the outcome of one benchmark.
type Result struct {
	Name       string        `json:"name"`
	Iterations int           `json:"iterations"`
	Duration   time.Duration `json:"duration_ns"`
	// AllocatedBytes is the cumulative allocation during the run.
	AllocatedBytes uint64 `json:"allocated_bytes"`
	Error          error  `json:"-"`
}

// Average returns the mean duration of one iteration.
func (r Result) Average() time.Duration {
	if r.Iterations == 0 {
		return 0
	}
	return r.Duration / time.Duration(r.Iterations)
}

func (r Result) String() string {
	if r.Error != nil {
		return fmt.Sprintf("%s: ERROR - %v", r.Name, r.Error)
	}
	return fmt.Sprintf("%s: %d iterations, avg: %v, total: %v, alloc: %d KB",
		r.Name, r.Iterations, r.Average(), r.Duration, r.AllocatedBytes/1024)
}

// Func is one benchmarked operation.
type Func func(ctx context.Context) error

type entry struct {
	name string
	fn   Func
}

// Suite runs named benchmarks in registration order.
type Suite struct {
	mu      sync.Mutex
	entries []entry
	results []Result
}

// NewSuite creates an empty suite.
func NewSuite() *Suite {
	return &Suite{}
}

// Add registers a benchmark.
func (s *Suite) Add(name string, fn Func) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{name: name, fn: fn})
}

// Run runs the named benchmark.
func (s *Suite) Run(ctx context.Context, name string, iterations int) Result {
	s.mu.Lock()
	var found *entry
	for i := range s.entries {
		if s.entries[i].name == name {
			found = &s.entries[i]
			break
		}
	}
	s.mu.Unlock()

	if found == nil {
		return Result{Name: name, Error: fmt.Errorf("benchmark '%s' not found", name)}
	}
	return run(ctx, *found, iterations)
}

// RunAll runs every benchmark and keeps the results. It stops early when
// ctx is cancelled.
func (s *Suite) RunAll(ctx context.Context, iterations int) []Result {
	s.mu.Lock()
	entries := append([]entry(nil), s.entries...)
	s.mu.Unlock()

	results := make([]Result, 0, len(entries))
	for _, e := range entries {
		if ctx.Err() != nil {
			break
		}
		results = append(results, run(ctx, e, iterations))
	}

	s.mu.Lock()
	s.results = results
	s.mu.Unlock()
	return results
}

// Results returns the results of the last RunAll.
func (s *Suite) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

func run(ctx context.Context, e entry, iterations int) Result {
	if iterations < 1 {
		iterations = 1
	}
	runtime.GC()
	before := GetMemoryStats()
	timer := common.NewNamedTimer(e.name)

	done := 0
	var err error
	for range iterations {
		if err = ctx.Err(); err != nil {
			break
		}
		if err = e.fn(ctx); err != nil {
			break
		}
		done++
	}

	res := Result{
		Name:           e.name,
		Iterations:     done,
		Duration:       timer.Stop(),
		AllocatedBytes: GetMemoryStats().TotalAllocBytes - before.TotalAllocBytes,
		Error:          err,
	}
	if done == 0 {
		res.Iterations = 1
	}
	return res
}

// StrategyResult is the benchmark of one decode strategy on one image.
type StrategyResult struct {
	Result
	Strategy string `json:"strategy"`
	Decoded  bool   `json:"decoded"`
	Payload  string `json:"payload,omitempty"`
	Err      string `json:"error,omitempty"`
}

// Report covers every strategy for one image.
type Report struct {
	Source     string           `json:"source"`
	Width      int              `json:"width"`
	Height     int              `json:"height"`
	Iterations int              `json:"iterations"`
	Strategies []StrategyResult `json:"strategies"`
	// FirstHit is the strategy the decoder would stop at, empty when
	// none decodes the image.
	FirstHit string `json:"first_hit,omitempty"`
	// TimeToFirstHit sums the average durations of every strategy up to
	// and including FirstHit.
	TimeToFirstHit time.Duration `json:"time_to_first_hit_ns,omitempty"`
	// Fastest is the quickest strategy that decodes the image.
	Fastest string `json:"fastest,omitempty"`
}

// StrategyBench runs every strategy against an image, in runner order.
type StrategyBench struct {
	Backend    barcode.Backend
	Options    barcode.Options
	Strategies []decoder.Strategy
	Iterations int
}

// Run benchmarks img. A strategy that finds no code is a measurement, not
// an error; only preprocessing or decoder failures end up in Result.Error.
func (b *StrategyBench) Run(ctx context.Context, source string, img image.Image) (*Report, error) {
	if img == nil {
		return nil, errors.New("benchmark: image is nil")
	}
	strategies := b.Strategies
	if len(strategies) == 0 {
		strategies = decoder.DefaultStrategies()
	}
	backend := b.Backend
	if backend == nil {
		backend = barcode.NewBackend()
	}

	bounds := img.Bounds()
	report := &Report{
		Source:     source,
		Width:      bounds.Dx(),
		Height:     bounds.Dy(),
		Iterations: max(b.Iterations, 1),
	}

	suite := NewSuite()
	outcomes := make(map[string]*StrategyResult, len(strategies))
	for _, s := range strategies {
		sr := &StrategyResult{Strategy: s.Name}
		outcomes[s.Name] = sr
		profile := s.Profile
		suite.Add(s.Name, func(ctx context.Context) error {
			prepared, err := preprocess.Apply(img, profile)
			if err != nil {
				return err
			}
			payload, err := barcode.DecodeFirst(ctx, backend, prepared, b.Options)
			switch {
			case err == nil:
				sr.Decoded, sr.Payload = true, payload
				return nil
			case errors.Is(err, barcode.ErrNotFound):
				return nil
			default:
				return err
			}
		})
	}

	var cumulative time.Duration
	for _, res := range suite.RunAll(ctx, report.Iterations) {
		sr := outcomes[res.Name]
		sr.Result = res
		if res.Error != nil {
			sr.Err = res.Error.Error()
		}
		report.Strategies = append(report.Strategies, *sr)

		if res.Error != nil || !sr.Decoded {
			if report.FirstHit == "" {
				cumulative += res.Average()
			}
			continue
		}
		if report.FirstHit == "" {
			report.FirstHit = sr.Strategy
			report.TimeToFirstHit = cumulative + res.Average()
		}
		if report.Fastest == "" || res.Average() < fastestAverage(report) {
			report.Fastest = sr.Strategy
		}
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func fastestAverage(r *Report) time.Duration {
	for _, s := range r.Strategies {
		if s.Strategy == r.Fastest {
			return s.Average()
		}
	}
	return 0
}
