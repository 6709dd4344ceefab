// Package market reads live prediction markets from the hosted data store.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is returned when the store cannot be reached, rejects the
// credentials, or answers with something that cannot be decoded. The poll
// loop treats it as recoverable.
var ErrUnavailable = errors.New("market repository unavailable")

// ErrInvalidLimit is returned when FetchLive is called with a non-positive limit.
var ErrInvalidLimit = errors.New("limit must be positive")

// Repository returns the markets currently live, most recently created first.
// An empty, non-nil slice means the store was reachable but had nothing live.
type Repository interface {
	FetchLive(ctx context.Context, limit int) ([]Market, error)
}

// Clock supplies the time used to evaluate expiry. Expiry is compared
// against the caller's clock, never the store's.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}

func unavailable(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUnavailable, fmt.Sprintf(format, args...))
}
