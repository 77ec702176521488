package validation

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// SavePrefixRegex validates a persistence directory prefix
	SavePrefixRegex = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

	// RunIDRegex validates acquisition run ID format
	RunIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

const maxMetadataBytes = 64 * 1024

// ValidateCameraName validates a camera device name as reported by the runtime
func ValidateCameraName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("camera name is required")
	}
	if len(name) > 256 {
		return fmt.Errorf("camera name is too long (max 256 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("camera name contains invalid characters")
	}
	return nil
}

// ValidateSavePrefix validates the directory prefix used for persisted acquisitions
func ValidateSavePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("save prefix is required")
	}
	if len(prefix) > 128 {
		return fmt.Errorf("save prefix is too long (max 128 characters)")
	}
	if prefix == "." || prefix == ".." {
		return fmt.Errorf("save prefix must name a directory")
	}
	if !SavePrefixRegex.MatchString(prefix) {
		return fmt.Errorf("save prefix contains invalid characters (only letters, numbers, ., _, - allowed)")
	}
	return nil
}

// ValidateSaveRoot validates the root directory for persisted acquisitions
func ValidateSaveRoot(root string) error {
	if strings.TrimSpace(root) == "" {
		return fmt.Errorf("save root is required")
	}
	if !filepath.IsAbs(root) {
		return fmt.Errorf("save root must be an absolute path")
	}
	return nil
}

// ValidateMetadata validates the free-form metadata attached to persisted output
func ValidateMetadata(metadata string) error {
	if len(metadata) > maxMetadataBytes {
		return fmt.Errorf("metadata is too long (max %d bytes)", maxMetadataBytes)
	}
	if !utf8.ValidString(metadata) {
		return fmt.Errorf("metadata must be valid UTF-8")
	}
	return nil
}

// ValidateRunID validates an acquisition run ID
func ValidateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("run ID is required")
	}
	if len(runID) > 100 {
		return fmt.Errorf("run ID is too long (max 100 characters)")
	}
	if !RunIDRegex.MatchString(runID) {
		return fmt.Errorf("invalid run ID format")
	}
	return nil
}

// ValidateExposureMs validates an exposure time in milliseconds
func ValidateExposureMs(ms float64) error {
	if ms <= 0 {
		return fmt.Errorf("exposure must be > 0 ms")
	}
	if ms > 10000 {
		return fmt.Errorf("exposure is too long (max 10000 ms)")
	}
	return nil
}

// ValidateFrameCount validates the number of frames requested for a sequence
func ValidateFrameCount(n int64) error {
	if n < 0 {
		return fmt.Errorf("frame count must be >= 0")
	}
	return nil
}
