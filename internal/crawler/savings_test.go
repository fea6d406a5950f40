package crawler

import (
	"testing"
)

var testRatios = map[string]float64{
	"image/jpeg": 0.30,
	"image/png":  0.26,
	"image/gif":  0.15,
}

func TestEstimateSavings(t *testing.T) {
	t.Run("Projects savings for legacy formats", func(t *testing.T) {
		estimated, percent := EstimateSavings("image/jpeg", 100_000, testRatios)
		if estimated != 30_000 {
			t.Errorf("Expected estimate 30000, got %d", estimated)
		}
		if percent != 70 {
			t.Errorf("Expected 70%% savings, got %v", percent)
		}
	})

	t.Run("Conforming formats yield zero savings", func(t *testing.T) {
		for _, mime := range []string{"image/webp", "image/avif", "image/svg+xml"} {
			estimated, percent := EstimateSavings(mime, 50_000, testRatios)
			if estimated != 50_000 || percent != 0 {
				t.Errorf("%s: expected passthrough, got %d/%v", mime, estimated, percent)
			}
		}
	})

	t.Run("Unknown types estimate zero", func(t *testing.T) {
		estimated, percent := EstimateSavings("image/x-icon", 10_000, testRatios)
		if estimated != 10_000 || percent != 0 {
			t.Errorf("Unknown type must pass through, got %d/%v", estimated, percent)
		}
	})

	t.Run("MIME parameters and case are ignored", func(t *testing.T) {
		estimated, _ := EstimateSavings("Image/JPEG; charset=binary", 100_000, testRatios)
		if estimated != 30_000 {
			t.Errorf("Expected parameterized MIME matched, got %d", estimated)
		}
	})

	t.Run("Non-positive sizes estimate zero", func(t *testing.T) {
		if estimated, _ := EstimateSavings("image/jpeg", 0, testRatios); estimated != 0 {
			t.Errorf("Expected 0, got %d", estimated)
		}
	})
}

func TestIsConforming(t *testing.T) {
	if !IsConforming("image/webp") || !IsConforming("IMAGE/AVIF") {
		t.Error("Modern formats must be conforming")
	}
	if IsConforming("image/jpeg") || IsConforming("image/png") {
		t.Error("Legacy formats are non-conforming")
	}
}
