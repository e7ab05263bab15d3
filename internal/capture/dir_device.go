package capture

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/MeKo-Tech/checkscan/internal/utils"
)

// DirDevice replays the images in a directory as camera frames, in name
// order, paced at the requested frame rate. Reopening the device resumes
// after the last delivered frame, the way a camera keeps looking at
// whatever comes next.
type DirDevice struct {
	Dir string
	// Loop restarts from the first image instead of ending the stream.
	Loop   bool
	Logger *slog.Logger

	mu   sync.Mutex
	next int
}

// Open implements Device. A directory without images behaves like a
// missing camera.
func (d *DirDevice) Open(ctx context.Context, s Settings) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := listImages(d.Dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrNoDevice, d.Dir)
	}

	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := 100 * time.Millisecond
	if s.FrameRate > 0 {
		interval = time.Second / time.Duration(s.FrameRate)
	}

	st := &dirStream{
		frames: make(chan image.Image),
		ready:  make(chan struct{}),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	close(st.ready)

	d.mu.Lock()
	start := d.next
	d.mu.Unlock()
	if start >= len(files) {
		start = 0
		if !d.Loop {
			start = len(files)
		}
	}
	go st.run(files, start, interval, d.Loop, logger, d.advance)
	return st, nil
}

// Rewind makes the next Open start from the first image again.
func (d *DirDevice) Rewind() {
	d.mu.Lock()
	d.next = 0
	d.mu.Unlock()
}

func (d *DirDevice) advance(i int) {
	d.mu.Lock()
	d.next = i
	d.mu.Unlock()
}

func listImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !utils.IsSupportedImage(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

type dirStream struct {
	frames chan image.Image
	ready  chan struct{}
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

func (s *dirStream) Ready() <-chan struct{}     { return s.ready }
func (s *dirStream) Frames() <-chan image.Image { return s.frames }

func (s *dirStream) Close() error {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	return nil
}

func (s *dirStream) run(files []string, start int, interval time.Duration, loop bool,
	logger *slog.Logger, advance func(int),
) {
	defer close(s.done)
	defer close(s.frames)

	for {
		sent := 0
		for i := start; i < len(files); i++ {
			path := files[i]
			img, _, err := utils.LoadImage(path)
			if err != nil {
				logger.Warn("Skipping unreadable frame", "path", path, "error", err)
				advance(i + 1)
				continue
			}
			select {
			case s.frames <- img:
				sent++
				advance(i + 1)
			case <-s.stop:
				return
			}
			select {
			case <-time.After(interval):
			case <-s.stop:
				return
			}
		}
		if !loop || (sent == 0 && start == 0) {
			return
		}
		start = 0
	}
}
