package validation

import (
	"strings"
	"testing"
)

func TestValidateCameraName(t *testing.T) {
	tests := []struct {
		name    string
		camera  string
		wantErr bool
	}{
		{"simulated camera", "simulated: radial sin", false},
		{"vendor camera", "Hamamatsu C15440", false},
		{"empty", "", true},
		{"blank", "   ", true},
		{"too long", strings.Repeat("c", 300), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateCameraName(tt.camera)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCameraName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSavePrefix(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		wantErr bool
	}{
		{"plain", "acquisition", false},
		{"with dash and dot", "run-1.v2", false},
		{"empty", "", true},
		{"dot", ".", true},
		{"parent", "..", true},
		{"path separator", "a/b", true},
		{"space", "my run", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSavePrefix(tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSavePrefix() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSaveRoot(t *testing.T) {
	if err := ValidateSaveRoot("/data/acq"); err != nil {
		t.Errorf("expected absolute root to be valid, got %v", err)
	}
	if err := ValidateSaveRoot("relative/dir"); err == nil {
		t.Error("expected relative root to be rejected")
	}
	if err := ValidateSaveRoot(""); err == nil {
		t.Error("expected empty root to be rejected")
	}
}

func TestValidateMetadata(t *testing.T) {
	if err := ValidateMetadata(`{"sample":"A1"}`); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateMetadata(strings.Repeat("m", maxMetadataBytes+1)); err == nil {
		t.Error("expected oversized metadata to be rejected")
	}
	if err := ValidateMetadata(string([]byte{0xff, 0xfe})); err == nil {
		t.Error("expected invalid UTF-8 to be rejected")
	}
}

func TestValidateRunID(t *testing.T) {
	if err := ValidateRunID("run_0123abcd"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateRunID("run 1"); err == nil {
		t.Error("expected invalid run id to be rejected")
	}
}

func TestValidateExposureMs(t *testing.T) {
	tests := []struct {
		ms      float64
		wantErr bool
	}{
		{20, false},
		{0, true},
		{-1, true},
		{20000, true},
	}
	for _, tt := range tests {
		if err := ValidateExposureMs(tt.ms); (err != nil) != tt.wantErr {
			t.Errorf("ValidateExposureMs(%v) error = %v, wantErr %v", tt.ms, err, tt.wantErr)
		}
	}
}
