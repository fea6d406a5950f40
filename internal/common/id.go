package common

import (
	"github.com/google/uuid"
)

// NewScanID generates a unique scan ID with the "scan_" prefix
// Format: scan_<uuid>
func NewScanID() string {
	return "scan_" + uuid.New().String()
}

// NewImageID generates a unique discovered-image ID with the "img_" prefix
// Format: img_<uuid>
func NewImageID() string {
	return "img_" + uuid.New().String()
}
