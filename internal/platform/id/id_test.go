package id

import (
	"testing"

	"github.com/google/uuid"
)

func TestNewIDRoundTripsToUUIDv4(t *testing.T) {
	s, err := NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	if len(s) != Length {
		t.Fatalf("expected %d-character id, got %d", Length, len(s))
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '2' || r > '7') {
			t.Fatalf("unexpected character %q in id", r)
		}
	}
	u, err := Parse(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Version() != 4 || u.Variant() != uuid.RFC4122 {
		t.Fatalf("expected RFC 4122 v4, got version %d variant %s", u.Version(), u.Variant())
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "short", "11111111111111111111111111", "abcdefghijklmnopqrstuvwxy!"} {
		if _, err := Parse(s); err == nil {
			t.Fatalf("expected error for %q", s)
		}
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool, 64)
	for range 64 {
		s, err := NewID()
		if err != nil {
			t.Fatalf("new id: %v", err)
		}
		if seen[s] {
			t.Fatalf("duplicate id %q", s)
		}
		seen[s] = true
	}
}
