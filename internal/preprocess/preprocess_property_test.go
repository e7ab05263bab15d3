package preprocess

import (
	"image"
	"image/color"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func genUniform(v uint8) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func TestContrast_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("contrast output stays on the same side of the midpoint", prop.ForAll(
		func(in uint8, c int) bool {
			out := ContrastValue(in, ContrastFactor(float64(c)))
			switch {
			case in > 128:
				return out >= 128
			case in < 128:
				return out <= 128
			default:
				return out == 128
			}
		},
		gen.UInt8(),
		gen.IntRange(0, 100),
	))

	properties.Property("positive contrast never moves a value toward the midpoint", prop.ForAll(
		func(in uint8, c int) bool {
			out := ContrastValue(in, ContrastFactor(float64(c)))
			d0 := absInt(int(in) - 128)
			d1 := absInt(int(out) - 128)
			return d1 >= d0 || out == 0 || out == 255
		},
		gen.UInt8(),
		gen.IntRange(0, 100),
	))

	properties.TestingRun(t)
}

func TestThreshold_Properties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("threshold output is black or white and matches the midpoint", prop.ForAll(
		func(v uint8) bool {
			px := Threshold(genUniform(v), DefaultThreshold).RGBAAt(1, 1)
			if v > DefaultThreshold {
				return px.R == 255
			}
			return px.R == 0
		},
		gen.UInt8(),
	))

	properties.Property("original profile returns the same image", prop.ForAll(
		func(v uint8) bool {
			img := genUniform(v)
			out, err := Apply(img, Profile{Name: Original})
			return err == nil && out == img && out.At(2, 2) == color.Color(color.RGBA{v, v, v, 255})
		},
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
