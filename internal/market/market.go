package market

import (
	"strings"
	"time"
)

// DefaultLiveStatuses are the status values treated as live when none are configured.
var DefaultLiveStatuses = []string{"active", "live"}

// Market is a prediction-market record as read from the hosted store.
// Records are owned by the store; the agent never writes them.
type Market struct {
	ID          string
	Title       string
	Description string
	Question    string
	ExpiresAt   string // raw stored value, parsed on demand
	ImageURL    string
	Status      string
	CreatedAt   time.Time
}

// timestampLayouts lists the layouts accepted for stored expiry values,
// most specific first. Layouts without a zone are interpreted as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a stored timestamp in any of the accepted layouts.
// The "Z"-suffixed UTC form is the common case.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Expiry returns the parsed expiry, or false when the stored value is
// missing or not a recognised timestamp.
func (m Market) Expiry() (time.Time, bool) {
	return ParseTimestamp(m.ExpiresAt)
}

// Eligible reports whether the market is live at now. The status must match
// one of statuses (case-insensitive). A parseable expiry must be strictly
// after now; an unparseable one is left to the store-side filter.
func (m Market) Eligible(now time.Time, statuses []string) bool {
	if !statusMatches(m.Status, statuses) {
		return false
	}
	if exp, ok := m.Expiry(); ok && !exp.After(now) {
		return false
	}
	return true
}

func statusMatches(status string, statuses []string) bool {
	if len(statuses) == 0 {
		statuses = DefaultLiveStatuses
	}
	status = strings.TrimSpace(status)
	for _, s := range statuses {
		if strings.EqualFold(status, s) {
			return true
		}
	}
	return false
}

// filterEligible keeps markets live at now, preserving order, up to limit.
func filterEligible(markets []Market, now time.Time, statuses []string, limit int) []Market {
	out := make([]Market, 0, len(markets))
	for _, m := range markets {
		if !m.Eligible(now, statuses) {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}
