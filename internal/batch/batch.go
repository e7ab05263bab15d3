// Package batch decodes many ticket files at once, for example a folder of
// e-tickets exported from a mailbox.
package batch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/decoder"
)

// Decoder runs the decode strategies. *decoder.Runner implements it and is
// safe for concurrent use.
type Decoder interface {
	RunAll(ctx context.Context, imgs []image.Image) (*decoder.Result, error)
}

// Decode discovers the ticket files named by paths and decodes them with
// config.Workers goroutines. Items keep the discovery order. Per-file
// failures are recorded in the items; the error is reserved for bad input.
func Decode(ctx context.Context, paths []string, dec Decoder, config *Config) (*Result, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	files, err := discoverTicketFiles(paths, config.Recursive, config.IncludePatterns, config.ExcludePatterns)
	if err != nil {
		return nil, fmt.Errorf("failed to discover ticket files: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no ticket files found")
	}

	workers := min(config.Workers, len(files))
	startTime := time.Now()
	items := decodeParallel(ctx, dec, files, workers, config)

	return &Result{
		Items:       items,
		Duration:    time.Since(startTime),
		WorkerCount: workers,
	}, nil
}
