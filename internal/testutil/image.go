package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// QRConfig controls synthetic QR ticket generation.
type QRConfig struct {
	Payload    string
	Size       int         // edge length of the square code in pixels
	Margin     int         // white border around the code
	Caption    string      // optional text under the code
	Foreground color.Color // dark modules
	Background color.Color // light modules and margin
}

// DefaultQRConfig returns a clean black-on-white 300px code.
func DefaultQRConfig(payload string) QRConfig {
	return QRConfig{
		Payload:    payload,
		Size:       300,
		Margin:     40,
		Foreground: color.Black,
		Background: color.White,
	}
}

// GenerateQRImage renders a QR code for the payload as an RGBA image.
func GenerateQRImage(t *testing.T, cfg QRConfig) *image.RGBA {
	t.Helper()

	hints := map[gozxing.EncodeHintType]interface{}{
		gozxing.EncodeHintType_MARGIN: 0,
	}
	matrix, err := qrcode.NewQRCodeWriter().Encode(cfg.Payload, gozxing.BarcodeFormat_QR_CODE, cfg.Size, cfg.Size, hints)
	require.NoError(t, err, "Failed to encode QR payload %q", cfg.Payload)

	captionHeight := 0
	if cfg.Caption != "" {
		captionHeight = 24
	}
	w := matrix.GetWidth() + 2*cfg.Margin
	h := matrix.GetHeight() + 2*cfg.Margin + captionHeight

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{cfg.Background}, image.Point{}, draw.Src)
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				img.Set(x+cfg.Margin, y+cfg.Margin, cfg.Foreground)
			}
		}
	}

	if cfg.Caption != "" {
		drawer := &font.Drawer{
			Dst:  img,
			Src:  &image.Uniform{cfg.Foreground},
			Face: basicfont.Face7x13,
			Dot:  fixed.P(cfg.Margin, h-cfg.Margin/2),
		}
		drawer.DrawString(cfg.Caption)
	}

	return img
}

// CreateTestImage creates a uniformly coloured image.
func CreateTestImage(width, height int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{c}, image.Point{}, draw.Src)
	return img
}

// Gradient creates a horizontal grey ramp, handy for tonal checks.
func Gradient(width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		for x := range width {
			v := uint8(x * 255 / max(width-1, 1))
			img.Set(x, y, color.RGBA{v, v, v, 255})
		}
	}
	return img
}

// SaveImage writes img as PNG, creating parent directories.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()

	require.NoError(t, EnsureDir(filepath.Dir(path)))

	file, err := os.Create(path) //nolint:gosec // G304: Test file creation with controlled path
	require.NoError(t, err, "Failed to create file %s", path)
	defer func() {
		require.NoError(t, file.Close())
	}()

	require.NoError(t, png.Encode(file, img), "Failed to encode PNG image")
}

// EncodePNG returns the PNG bytes of img.
func EncodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}
