// Package social holds the platform-neutral types exchanged between the
// posting client and the components that read mentions and publish replies.
package social

import (
	"errors"
	"strconv"
	"time"
)

// ErrUnavailable marks failures where the platform could not be reached or
// refused service (transport errors, rate limits, 5xx). Callers treat these
// as systemic rather than specific to one mention.
var ErrUnavailable = errors.New("platform unavailable")

// Mention is a post that references the bot account.
type Mention struct {
	ID             uint64
	Text           string
	AuthorID       string
	AuthorHandle   string
	ConversationID string
	CreatedAt      time.Time
}

// PostID returns the mention ID in the string form the platform expects
// for reply links.
func (m Mention) PostID() string {
	return strconv.FormatUint(m.ID, 10)
}

// User is the minimal account identity returned by the platform.
type User struct {
	ID       string
	Username string
	Name     string
}
