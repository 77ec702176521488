package utils

import (
	"strings"
	"testing"
)

func TestGenerateID_Prefix(t *testing.T) {
	id := GenerateRunID()
	if !strings.HasPrefix(id, "run_") {
		t.Errorf("expected run_ prefix, got %s", id)
	}
	if len(id) != len("run_")+32 {
		t.Errorf("unexpected id length %d for %s", len(id), id)
	}
}

func TestGenerateID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateRequestID()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}

func TestGenerateID_NoPrefix(t *testing.T) {
	id := GenerateID("")
	if strings.Contains(id, "_") {
		t.Errorf("expected bare id, got %s", id)
	}
}
