package idgen

import (
	"regexp"
	"strings"
	"testing"
)

func TestNewDealID_Shape(t *testing.T) {
	pattern := regexp.MustCompile(`^` + regexp.QuoteMeta(DealPrefix) + `[a-z0-9]{12}$`)
	for i := 0; i < 100; i++ {
		id, err := NewDealID()
		if err != nil {
			t.Fatalf("NewDealID() error on iteration %d: %v", i, err)
		}
		if !pattern.MatchString(id) {
			t.Fatalf("NewDealID() = %q, does not match %s", id, pattern)
		}
		if !Valid(id) {
			t.Fatalf("generated id %q is not Valid", id)
		}
	}
}

func TestNewDealID_Uniqueness(t *testing.T) {
	const count = 10_000
	seen := make(map[string]struct{}, count)
	for i := 0; i < count; i++ {
		id, err := NewDealID()
		if err != nil {
			t.Fatalf("NewDealID() error on iteration %d: %v", i, err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ID after %d generations: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestWithPrefix(t *testing.T) {
	id, err := WithPrefix("test-")
	if err != nil {
		t.Fatalf("WithPrefix error: %v", err)
	}
	if !strings.HasPrefix(id, "test-") || len(id) != len("test-")+Length {
		t.Errorf("WithPrefix = %q", id)
	}
}

func TestValid(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"deal-1", true},
		{"ACME_2026.q3", true},
		{"", false},
		{"-leading", false},
		{"has space", false},
		{"slash/inside", false},
		{strings.Repeat("a", MaxLength), true},
		{strings.Repeat("a", MaxLength+1), false},
	}
	for _, tt := range tests {
		if got := Valid(tt.id); got != tt.want {
			t.Errorf("Valid(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
