// Package preprocess holds the pure image transforms applied before each
// decode attempt: downscaling, linear contrast and grayscale thresholding.
//
// Profiles are ordered from gentlest to most destructive. Every transform
// returns a new image and never mutates its input.
package preprocess

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/MeKo-Tech/checkscan/internal/utils"
	"github.com/anthonynsimon/bild/adjust"
	"github.com/disintegration/imaging"
)

// Profile names, in the order the decode runner tries them.
const (
	Original           = "original"
	ResizeOnly         = "resize-only"
	LightSharpen       = "light-sharpen"
	MediumContrast     = "medium-contrast"
	HighContrast       = "high-contrast"
	GrayscaleThreshold = "grayscale-threshold"
)

// DefaultThreshold is the binarization midpoint: luminance above it turns white.
const DefaultThreshold = 127

// Profile describes one preprocessing parameter set.
type Profile struct {
	Name string
	// MaxDimension caps the longer side; 0 leaves the size alone.
	MaxDimension int
	// Contrast is the linear contrast adjustment in [-255, 255]; 0 is none.
	Contrast float64
	// Threshold converts to luminance and binarizes at DefaultThreshold.
	Threshold bool
}

// Profiles returns the fixed strategy order. The slice is freshly allocated.
func Profiles() []Profile {
	return []Profile{
		{Name: Original},
		{Name: ResizeOnly, MaxDimension: 1500},
		{Name: LightSharpen, MaxDimension: 1200, Contrast: 15},
		{Name: MediumContrast, MaxDimension: 1200, Contrast: 30},
		{Name: HighContrast, MaxDimension: 1000, Contrast: 50},
		{Name: GrayscaleThreshold, MaxDimension: 1200, Threshold: true},
	}
}

// Lookup returns the named profile from Profiles.
func Lookup(name string) (Profile, bool) {
	for _, p := range Profiles() {
		if p.Name == name {
			return p, true
		}
	}
	return Profile{}, false
}

// IsIdentity reports whether applying p returns its input untouched.
func (p Profile) IsIdentity() bool {
	return p.MaxDimension == 0 && p.Contrast == 0 && !p.Threshold
}

// Apply runs the profile against img. The identity profile returns img itself.
func Apply(img image.Image, p Profile) (image.Image, error) {
	if img == nil {
		return nil, &utils.ImageProcessingError{Operation: "preprocess:" + p.Name, Err: errors.New("input image is nil")}
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, &utils.ImageProcessingError{
			Operation: "preprocess:" + p.Name,
			Err:       fmt.Errorf("empty image bounds %v", b),
		}
	}
	if p.Contrast < -255 || p.Contrast > 255 {
		return nil, &utils.ImageProcessingError{
			Operation: "preprocess:" + p.Name,
			Err:       fmt.Errorf("contrast %.1f out of range [-255, 255]", p.Contrast),
		}
	}
	if p.IsIdentity() {
		return img, nil
	}

	out := img
	if p.MaxDimension > 0 {
		out = FitWithin(out, p.MaxDimension)
	}
	if p.Contrast != 0 {
		out = Contrast(out, p.Contrast)
	}
	if p.Threshold {
		out = Threshold(out, DefaultThreshold)
	}
	return out, nil
}

// FitWithin downsizes img so its longer side is at most maxDim, keeping the
// aspect ratio. Images already within bounds are returned as a copy.
func FitWithin(img image.Image, maxDim int) image.Image {
	return imaging.Fit(img, maxDim, maxDim, imaging.Lanczos)
}

// ContrastFactor is the standard linear contrast factor for adjustment c.
func ContrastFactor(c float64) float64 {
	return 259 * (c + 255) / (255 * (259 - c))
}

// ContrastValue applies factor f to one 8-bit channel value.
func ContrastValue(in uint8, f float64) uint8 {
	return clampByte(f*(float64(in)-128) + 128)
}

// Contrast applies the linear contrast adjustment to R, G and B.
func Contrast(img image.Image, c float64) *image.RGBA {
	f := ContrastFactor(c)
	var lut [256]uint8
	for i := range lut {
		lut[i] = ContrastValue(uint8(i), f)
	}
	return adjust.Apply(img, func(px color.RGBA) color.RGBA {
		return color.RGBA{R: lut[px.R], G: lut[px.G], B: lut[px.B], A: px.A}
	})
}

// Luminance is the Rec. 601 weighted sum 0.299R + 0.587G + 0.114B.
func Luminance(r, g, b uint8) float64 {
	return float64(luma1000(r, g, b)) / 1000
}

// luma1000 is Luminance scaled by 1000 so comparisons stay exact.
func luma1000(r, g, b uint8) int {
	return 299*int(r) + 587*int(g) + 114*int(b)
}

// Threshold converts img to luminance and binarizes it: values strictly
// above level become white, everything else black.
func Threshold(img image.Image, level uint8) *image.RGBA {
	return adjust.Apply(img, func(px color.RGBA) color.RGBA {
		v := uint8(0)
		if luma1000(px.R, px.G, px.B) > int(level)*1000 {
			v = 255
		}
		return color.RGBA{R: v, G: v, B: v, A: 255}
	})
}

func clampByte(v float64) uint8 {
	return uint8(math.Max(0, math.Min(255, math.Round(v))))
}
