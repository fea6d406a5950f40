package crawler

import "strings"

// conformingTypes are formats already considered optimized; they yield no
// estimated savings.
var conformingTypes = map[string]struct{}{
	"image/webp":    {},
	"image/avif":    {},
	"image/svg+xml": {},
}

// IsConforming reports whether a MIME type is a modern, already-optimized
// image format.
func IsConforming(mimeType string) bool {
	_, ok := conformingTypes[normalizeMime(mimeType)]
	return ok
}

// EstimateSavings projects the byte savings of converting an image to a
// modern format, using per-MIME compression ratios. Conforming formats and
// unknown types estimate zero. Returns the estimated post-conversion size
// and the savings percentage.
func EstimateSavings(mimeType string, byteSize int64, ratios map[string]float64) (estimatedSize int64, savingsPercent float64) {
	if byteSize <= 0 {
		return 0, 0
	}
	mime := normalizeMime(mimeType)
	if _, ok := conformingTypes[mime]; ok {
		return byteSize, 0
	}

	ratio, ok := ratios[mime]
	if !ok || ratio <= 0 || ratio >= 1 {
		return byteSize, 0
	}

	estimatedSize = int64(float64(byteSize) * ratio)
	savingsPercent = (1 - ratio) * 100
	return estimatedSize, savingsPercent
}

// normalizeMime lowercases a MIME type and drops any parameters
// ("image/jpeg; charset=binary" -> "image/jpeg").
func normalizeMime(mimeType string) string {
	mime := strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}
