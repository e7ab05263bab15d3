package utils

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.Black)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close()) }()
	require.NoError(t, png.Encode(f, img))
}

func TestIsSupportedImage(t *testing.T) {
	for _, p := range []string{"a.jpg", "b.JPEG", "c.png", "d.bmp", "e.gif", "f.webp"} {
		assert.True(t, IsSupportedImage(p), p)
	}
	for _, p := range []string{"a.pdf", "b.txt", "noext"} {
		assert.False(t, IsSupportedImage(p), p)
	}
}

func TestIsPDF(t *testing.T) {
	assert.True(t, IsPDF([]byte("%PDF-1.7\n...")))
	assert.False(t, IsPDF([]byte("\x89PNG")))
	assert.False(t, IsPDF(nil))
}

func TestLoadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ticket.png")
	writePNG(t, path, 40, 20)

	img, meta, err := LoadImage(path)
	require.NoError(t, err)
	assert.Equal(t, 40, img.Bounds().Dx())
	assert.Equal(t, "png", meta.Format)
	assert.Equal(t, 40, meta.Width)
	assert.Equal(t, 20, meta.Height)
	assert.Positive(t, meta.SizeBytes)
}

func TestLoadImage_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		path string
	}{
		{name: "empty path", path: ""},
		{name: "unsupported extension", path: filepath.Join(dir, "x.txt")},
		{name: "missing file", path: filepath.Join(dir, "missing.png")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := LoadImage(tt.path)
			require.Error(t, err)
			var ipe *ImageProcessingError
			assert.True(t, errors.As(err, &ipe))
		})
	}

	t.Run("corrupt data", func(t *testing.T) {
		path := filepath.Join(dir, "bad.png")
		require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o600))
		_, _, err := LoadImage(path)
		var ipe *ImageProcessingError
		require.ErrorAs(t, err, &ipe)
		assert.Equal(t, "decode", ipe.Operation)
	})
}

func TestDecodeImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))

	img, format, err := DecodeImage(&buf)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 3, img.Bounds().Dx())
}

func TestCenterRegion(t *testing.T) {
	b := image.Rect(0, 0, 640, 480)

	assert.Equal(t, image.Rect(195, 115, 445, 365), CenterRegion(b, 250, 250))
	assert.Equal(t, b, CenterRegion(b, 0, 0))
	assert.Equal(t, image.Rect(0, 0, 640, 480), CenterRegion(b, 1000, 1000))
}

func TestCropRegion(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 80))

	out := CropRegion(img, image.Rect(10, 10, 60, 40))
	assert.Equal(t, 50, out.Bounds().Dx())
	assert.Equal(t, 30, out.Bounds().Dy())

	assert.Same(t, img, CropRegion(img, image.Rect(500, 500, 600, 600)))
	assert.Same(t, img, CropRegion(img, img.Bounds()))
}
