package category

import (
	"testing"
	"time"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", All},
		{"  ", All},
		{"Watches", "watches"},
		{"trading-cards", "trading_cards"},
		{"Trading Cards", "trading_cards"},
		{"cards", "trading_cards"},
		{"Sneakers", "shoes"},
		{"garden_tools", "garden_tools"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCacheTTL(t *testing.T) {
	tests := []struct {
		category string
		want     time.Duration
	}{
		{"trading_cards", 3 * time.Hour},
		{"cards", 3 * time.Hour},
		{"jewelry", 12 * time.Hour},
		{"unknown", 12 * time.Hour},
		{All, 12 * time.Hour},
		{"watches", 24 * time.Hour},
		{"shoes", 24 * time.Hour},
		{"vintage", 24 * time.Hour},
		{"antiques", 24 * time.Hour},
	}
	for _, tt := range tests {
		if got := CacheTTL(tt.category); got != tt.want {
			t.Errorf("CacheTTL(%q) = %v, want %v", tt.category, got, tt.want)
		}
	}
}

func TestLookup(t *testing.T) {
	p, ok := Lookup("Watch")
	if !ok {
		t.Fatal("Lookup(Watch) not found")
	}
	if !p.RequiresTextConfirmation || !p.SpeculativeOCR {
		t.Errorf("watches profile = %+v, want text confirmation with speculative OCR", p)
	}

	p, ok = Lookup("garden_tools")
	if ok {
		t.Error("Lookup(garden_tools) reported a known category")
	}
	if p.RequiresTextConfirmation {
		t.Error("unknown categories must not require text confirmation")
	}
}

func TestKnownSorted(t *testing.T) {
	names := Known()
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("Known() not sorted: %v", names)
		}
	}
}
