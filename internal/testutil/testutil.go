// Package testutil provides shared test fixtures: synthetic camera images of
// a gaussian focal spot.
package testutil

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
)

// Spot describes a gaussian spot centred in a Width x Height image.
type Spot struct {
	Width, Height int
	SigmaX        float64
	SigmaY        float64
	Peak          float64 // 250 when zero
}

// Image renders the spot as an 8 bit grey image.
func (s Spot) Image() *image.Gray {
	peak := s.Peak
	if peak == 0 {
		peak = 250
	}
	img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
	cx, cy := float64(s.Width)/2, float64(s.Height)/2
	for x := 0; x < s.Width; x++ {
		for y := 0; y < s.Height; y++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			v := peak * math.Exp(-dx*dx/(2*s.SigmaX*s.SigmaX)-dy*dy/(2*s.SigmaY*s.SigmaY))
			img.SetGray(x, y, color.Gray{Y: uint8(v)})
		}
	}
	return img
}

// PNG encodes the spot image.
func (s Spot) PNG(t testing.TB) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, s.Image()); err != nil {
		t.Fatalf("encoding spot: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes data to path, creating parent directories.
func WriteFile(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
