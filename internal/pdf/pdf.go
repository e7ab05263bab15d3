// Package pdf pulls the embedded images out of PDF e-tickets so that the
// decode strategies can look for a code on each page.
package pdf

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/checkscan/internal/utils"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// ErrNoImages is returned when a PDF contains no extractable images.
var ErrNoImages = errors.New("pdf: no images found")

// Options narrows an extraction.
type Options struct {
	// Pages selects pages like "1-3,5". Empty means all pages.
	Pages string
	// UserPassword opens encrypted tickets.
	UserPassword string
}

// PageImage is one embedded image and where it was found.
type PageImage struct {
	Page  int
	Name  string
	Image image.Image
}

// ExtractImages returns the embedded images of a PDF file ordered by page
// and then by name.
func ExtractImages(path string, opts Options) ([]PageImage, error) {
	pageNumbers, err := parsePageRange(opts.Pages)
	if err != nil {
		return nil, fmt.Errorf("invalid page range %q: %w", opts.Pages, err)
	}

	tempDir, err := os.MkdirTemp("", "checkscan-pdf-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	var pages []string
	for _, n := range pageNumbers {
		pages = append(pages, strconv.Itoa(n))
	}

	conf := model.NewDefaultConfiguration()
	if opts.UserPassword != "" {
		conf.UserPW = opts.UserPassword
	}
	if err := api.ExtractImagesFile(path, tempDir, pages, conf); err != nil {
		return nil, fmt.Errorf("failed to extract images from PDF: %w", err)
	}

	images, err := collectExtractedImages(tempDir)
	if err != nil {
		return nil, fmt.Errorf("failed to process extracted images: %w", err)
	}
	if len(images) == 0 {
		return nil, ErrNoImages
	}
	return images, nil
}

// ExtractImagesFromBytes is ExtractImages for an in-memory upload.
func ExtractImagesFromBytes(data []byte, opts Options) ([]PageImage, error) {
	if !utils.IsPDF(data) {
		return nil, errors.New("pdf: data is not a PDF document")
	}
	f, err := os.CreateTemp("", "checkscan-upload-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	name := f.Name()
	defer func() { _ = os.Remove(name) }()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	return ExtractImages(name, opts)
}

// Images drops the page metadata.
func Images(pages []PageImage) []image.Image {
	out := make([]image.Image, 0, len(pages))
	for _, p := range pages {
		out = append(out, p.Image)
	}
	return out
}

// collectExtractedImages loads every readable image in dir. Unreadable files
// are skipped.
func collectExtractedImages(dir string) ([]PageImage, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []PageImage
	for _, e := range entries {
		if e.IsDir() || !utils.IsSupportedImage(e.Name()) {
			continue
		}
		img, _, err := utils.LoadImage(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		out = append(out, PageImage{Page: parsePageFromFilename(e.Name()), Name: e.Name(), Image: img})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// parsePageFromFilename reads the page number from an extracted file name.
// Both "page_<n>_image_<i>.<ext>" and "<base>_<n>_<id>.<ext>" are understood;
// anything else sorts first as page 0.
func parsePageFromFilename(filename string) int {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))
	parts := strings.Split(stem, "_")
	if len(parts) >= 2 && parts[0] == "page" {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			return n
		}
		return 0
	}
	if len(parts) >= 3 {
		if n, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
			return n
		}
	}
	return 0
}

// parsePageRange parses "1-5" or "1,3,5". Empty means all pages.
func parsePageRange(pageRange string) ([]int, error) {
	if strings.TrimSpace(pageRange) == "" {
		return nil, nil
	}
	var pages []int
	for _, part := range strings.Split(pageRange, ",") {
		p, err := parseRangeToken(strings.TrimSpace(part))
		if err != nil {
			return nil, err
		}
		pages = append(pages, p...)
	}
	return pages, nil
}

func parseRangeToken(part string) ([]int, error) {
	lo, hi, isRange := strings.Cut(part, "-")
	if !isRange {
		n, err := strconv.Atoi(part)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("invalid page number: %s", part)
		}
		return []int{n}, nil
	}
	if strings.Contains(hi, "-") {
		return nil, fmt.Errorf("invalid range format: %s", part)
	}
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil || start < 1 {
		return nil, fmt.Errorf("invalid start page: %s", lo)
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return nil, fmt.Errorf("invalid end page: %s", hi)
	}
	if start > end {
		return nil, fmt.Errorf("start page %d greater than end page %d", start, end)
	}
	out := make([]int, 0, end-start+1)
	for i := start; i <= end; i++ {
		out = append(out, i)
	}
	return out, nil
}
