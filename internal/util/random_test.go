package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomHex(t *testing.T) {
	if got := GenerateRandomHex(0); got != "" {
		t.Errorf("expected empty string for length 0, got %q", got)
	}
	if got := GenerateRandomHex(-3); got != "" {
		t.Errorf("expected empty string for negative length, got %q", got)
	}

	got := GenerateRandomHex(32)
	if len(got) != 32 {
		t.Fatalf("expected 32 characters, got %d", len(got))
	}
	for _, c := range got {
		if !strings.ContainsRune("0123456789abcdef", c) {
			t.Fatalf("non-hex character %q in %q", c, got)
		}
	}
}

func TestGeneratedIDsHavePrefixes(t *testing.T) {
	if id := GenerateSessionID(); !strings.HasPrefix(id, "s_") || len(id) != 34 {
		t.Errorf("unexpected session id %q", id)
	}
	if id := GenerateFlowID(); !strings.HasPrefix(id, "f_") || len(id) != 18 {
		t.Errorf("unexpected flow id %q", id)
	}
}

func TestGeneratedIDsAreUnlikelyToCollide(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateSessionID()
		if seen[id] {
			t.Fatalf("duplicate id generated: %s", id)
		}
		seen[id] = true
	}
}
