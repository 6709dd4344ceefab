package market

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2026, 3, 1, 18, 30, 0, 0, time.UTC)
	tests := []struct {
		raw string
		ok  bool
	}{
		{"2026-03-01T18:30:00Z", true},
		{"2026-03-01T18:30:00.000Z", true},
		{"2026-03-01T20:30:00+02:00", true},
		{"2026-03-01 18:30:00+00", true},
		{"2026-03-01 18:30:00", true},
		{"2026-03-01T18:30:00", true},
		{"  2026-03-01T18:30:00Z  ", true},
		{"next tuesday", false},
		{"", false},
	}
	for _, tt := range tests {
		got, ok := ParseTimestamp(tt.raw)
		if ok != tt.ok {
			t.Errorf("ParseTimestamp(%q) ok = %v, want %v", tt.raw, ok, tt.ok)
			continue
		}
		if ok && !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %v, want %v", tt.raw, got, want)
		}
	}
}

func TestParseTimestamp_DateOnly(t *testing.T) {
	got, ok := ParseTimestamp("2026-03-01")
	if !ok {
		t.Fatal("expected date-only value to parse")
	}
	if !got.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", got)
	}
}

func TestEligible(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		m    Market
		want bool
	}{
		{"active future", Market{Status: "active", ExpiresAt: "2026-01-02T00:00:00Z"}, true},
		{"live future", Market{Status: "live", ExpiresAt: "2026-01-02T00:00:00Z"}, true},
		{"status case", Market{Status: "ACTIVE", ExpiresAt: "2026-01-02T00:00:00Z"}, true},
		{"expired", Market{Status: "active", ExpiresAt: "2025-12-31T00:00:00Z"}, false},
		{"expires exactly now", Market{Status: "active", ExpiresAt: "2026-01-01T12:00:00Z"}, false},
		{"closed", Market{Status: "closed", ExpiresAt: "2026-01-02T00:00:00Z"}, false},
		{"unparseable expiry", Market{Status: "active", ExpiresAt: "soon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.m.Eligible(now, nil); got != tt.want {
				t.Errorf("Eligible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterEligible_PreservesOrderAndLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []Market{
		{ID: "a", Status: "active", ExpiresAt: "2026-02-01T00:00:00Z"},
		{ID: "b", Status: "active", ExpiresAt: "2025-02-01T00:00:00Z"},
		{ID: "c", Status: "active", ExpiresAt: "2026-03-01T00:00:00Z"},
		{ID: "d", Status: "active", ExpiresAt: "2026-04-01T00:00:00Z"},
	}
	got := filterEligible(in, now, nil, 2)
	if len(got) != 2 {
		t.Fatalf("got %d markets, want 2", len(got))
	}
	if got[0].ID != "a" || got[1].ID != "c" {
		t.Errorf("got IDs %q, %q; want a, c", got[0].ID, got[1].ID)
	}
}
