package batch

import (
	"context"
	"errors"
	"image"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MeKo-Tech/checkscan/internal/decoder"
	"github.com/MeKo-Tech/checkscan/internal/pdf"
	"github.com/MeKo-Tech/checkscan/internal/utils"
)

// Attempt is one strategy execution of an Item.
type Attempt struct {
	Strategy   string  `json:"strategy"`
	Error      string  `json:"error,omitempty"`
	DurationMs float64 `json:"duration_ms"`
}

// Item is the outcome for one file.
type Item struct {
	File      string    `json:"file"`
	Payload   string    `json:"payload,omitempty"`
	Strategy  string    `json:"strategy,omitempty"`
	Attempts  []Attempt `json:"attempts,omitempty"`
	ElapsedMs float64   `json:"elapsed_ms"`
	Error     string    `json:"error,omitempty"`
	// Hint is set when the file was read but no strategy found a code.
	Hint string `json:"hint,omitempty"`
}

// OK reports whether a payload was found.
func (it Item) OK() bool { return it.Error == "" }

// NoCode reports whether every strategy ran without finding a code.
func (it Item) NoCode() bool { return it.Hint != "" }

const noCodeError = "no code found"

// LoadImages reads an image file, or every embedded image of a PDF ticket
// in page order.
func LoadImages(path, pages, password string) ([]image.Image, error) {
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		extracted, err := pdf.ExtractImages(path, pdf.Options{Pages: pages, UserPassword: password})
		if err != nil {
			return nil, err
		}
		return pdf.Images(extracted), nil
	}
	img, _, err := utils.LoadImage(path)
	if err != nil {
		return nil, err
	}
	return []image.Image{img}, nil
}

// decodeFile loads and decodes a single file.
func decodeFile(ctx context.Context, dec Decoder, path string, config *Config) Item {
	item := Item{File: path}

	imgs, err := LoadImages(path, config.Pages, config.Password)
	if err != nil {
		item.Error = err.Error()
		return item
	}

	res, err := dec.RunAll(ctx, imgs)
	if err != nil {
		item.Error = err.Error()
		var exhausted *decoder.ExhaustedError
		if errors.As(err, &exhausted) {
			item.Error = noCodeError
			item.Hint = exhausted.Hint
			item.Attempts = toAttempts(exhausted.Attempts)
		}
		return item
	}

	item.Payload = res.Payload
	item.Strategy = res.Strategy
	item.Attempts = toAttempts(res.Attempts)
	item.ElapsedMs = float64(res.Elapsed.Microseconds()) / 1000
	return item
}

func toAttempts(attempts []decoder.Attempt) []Attempt {
	out := make([]Attempt, 0, len(attempts))
	for _, a := range attempts {
		at := Attempt{Strategy: a.Strategy, DurationMs: float64(a.Duration.Microseconds()) / 1000}
		if a.Err != nil {
			at.Error = a.Err.Error()
		}
		out = append(out, at)
	}
	return out
}

// decodeParallel fans files out to workers and collects the items by index.
func decodeParallel(ctx context.Context, dec Decoder, files []string, workers int, config *Config) []Item {
	items := make([]Item, len(files))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				if err := ctx.Err(); err != nil {
					items[i] = Item{File: files[i], Error: err.Error()}
					continue
				}
				items[i] = decodeFile(ctx, dec, files[i], config)
			}
		}()
	}

	for i := range files {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return items
}
