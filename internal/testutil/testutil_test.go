package testutil

import (
	"bytes"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestSpotImage(t *testing.T) {
	img := Spot{Width: 40, Height: 30, SigmaX: 3, SigmaY: 2}.Image()
	if got := img.Bounds().Dx(); got != 40 {
		t.Errorf("width = %d, want 40", got)
	}
	if got := img.GrayAt(20, 15).Y; got != 250 {
		t.Errorf("peak = %d, want 250", got)
	}
	if img.GrayAt(0, 0).Y != 0 {
		t.Errorf("corner not dark: %d", img.GrayAt(0, 0).Y)
	}
	if img.GrayAt(23, 15).Y <= img.GrayAt(20, 18).Y {
		t.Error("spot should be wider in x than in y")
	}
}

func TestSpotPNGAndWriteFile(t *testing.T) {
	data := Spot{Width: 8, Height: 4, SigmaX: 1, SigmaY: 1, Peak: 100}.PNG(t)
	path := filepath.Join(t.TempDir(), "a", "b", "spot.png")
	WriteFile(t, path, data)

	raw, err := os.ReadFile(path)
	AssertNoError(t, err)
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	AssertNoError(t, err)
	if cfg.Width != 8 || cfg.Height != 4 {
		t.Errorf("decoded %dx%d, want 8x4", cfg.Width, cfg.Height)
	}
}
