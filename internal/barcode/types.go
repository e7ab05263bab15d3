package barcode

import (
	"context"
	"errors"
	"image"
	"strings"
)

// ErrNotFound is returned when no symbol could be located or decoded.
var ErrNotFound = errors.New("barcode: no symbol found")

// Format represents a barcode symbology.
type Format int

const (
	FormatUnknown Format = iota
	FormatQR
	FormatDataMatrix
	FormatCode128
	FormatCode39
	FormatEAN8
	FormatEAN13
	FormatUPCA
	FormatITF
	FormatCodabar
)

// Options controls backend decoding behavior.
type Options struct {
	// Formats constrains the set of symbologies to search. Empty means QR only.
	Formats []Format

	// TryHarder enables more exhaustive search (slower but more robust).
	TryHarder bool

	// ROI optionally restricts decoding to a sub-rectangle of the image.
	// If zero-sized or out of bounds, backends should ignore it.
	ROI image.Rectangle
}

// Point is an integer point in image coordinates.
type Point struct {
	X int
	Y int
}

// Result represents a decoded symbol.
type Result struct {
	Type   Format
	Value  string
	Points []Point         // Finder pattern or key points if available
	BBox   image.Rectangle // Bounding box derived from points
}

// Backend is a pluggable barcode decoder implementation.
type Backend interface {
	Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error)
}

// BackendFunc adapts a plain function to the Backend interface.
type BackendFunc func(ctx context.Context, img image.Image, opts Options) ([]Result, error)

// Decode calls f.
func (f BackendFunc) Decode(ctx context.Context, img image.Image, opts Options) ([]Result, error) {
	return f(ctx, img, opts)
}

// NewBackend returns the default gozxing-backed implementation.
func NewBackend() Backend { return &gozxingBackend{} }

// DecodeFirst runs the backend and returns the first non-empty payload.
// An empty result set is reported as ErrNotFound.
func DecodeFirst(ctx context.Context, b Backend, img image.Image, opts Options) (string, error) {
	rs, err := b.Decode(ctx, img, opts)
	if err != nil {
		return "", err
	}
	for _, r := range rs {
		if r.Value != "" {
			return r.Value, nil
		}
	}
	return "", ErrNotFound
}

// ParseFormat maps a user-facing symbology name to a Format.
func ParseFormat(s string) (Format, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "qr", "qrcode", "qr-code":
		return FormatQR, true
	case "datamatrix", "data-matrix":
		return FormatDataMatrix, true
	case "code128", "code-128":
		return FormatCode128, true
	case "code39", "code-39":
		return FormatCode39, true
	case "ean8", "ean-8":
		return FormatEAN8, true
	case "ean13", "ean-13":
		return FormatEAN13, true
	case "upca", "upc-a":
		return FormatUPCA, true
	case "itf", "interleaved2of5", "i2/5":
		return FormatITF, true
	case "codabar":
		return FormatCodabar, true
	default:
		return 0, false
	}
}

// ParseFormats maps a list of names, skipping unknown entries.
func ParseFormats(names []string) []Format {
	var out []Format
	for _, n := range names {
		if f, ok := ParseFormat(n); ok {
			out = append(out, f)
		}
	}
	return out
}

func (f Format) String() string {
	switch f {
	case FormatQR:
		return "qr"
	case FormatDataMatrix:
		return "datamatrix"
	case FormatCode128:
		return "code128"
	case FormatCode39:
		return "code39"
	case FormatEAN8:
		return "ean8"
	case FormatEAN13:
		return "ean13"
	case FormatUPCA:
		return "upca"
	case FormatITF:
		return "itf"
	case FormatCodabar:
		return "codabar"
	default:
		return "unknown"
	}
}
