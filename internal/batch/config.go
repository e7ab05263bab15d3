package batch

import (
	"fmt"
	"path/filepath"
	"runtime"
	"time"
)

// Config holds all configuration for batch decoding.
type Config struct {
	// Workers is the number of files decoded concurrently.
	Workers int

	// File discovery settings
	Recursive       bool
	IncludePatterns []string
	ExcludePatterns []string

	// PDF settings
	Pages    string
	Password string
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() *Config {
	return &Config{Workers: runtime.NumCPU()}
}

// Validate checks the worker count and the glob patterns.
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("invalid worker count: %d (must be at least 1)", c.Workers)
	}
	for _, p := range append(append([]string(nil), c.IncludePatterns...), c.ExcludePatterns...) {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid pattern %q: %w", p, err)
		}
	}
	return nil
}

// Result holds the result of a batch run.
type Result struct {
	Items       []Item
	Duration    time.Duration
	WorkerCount int
}

// Failed counts the files that produced no payload.
func (r *Result) Failed() int {
	n := 0
	for _, it := range r.Items {
		if !it.OK() {
			n++
		}
	}
	return n
}
