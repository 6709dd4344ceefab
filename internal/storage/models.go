package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Reply statuses recorded in the ledger.
const (
	ReplyStatusReplied = "replied" // header, every market and the closer were posted
	ReplyStatusPartial = "partial" // thread posted with some markets missing
	ReplyStatusEmpty   = "empty"   // single "no live markets" reply
	ReplyStatusFailed  = "failed"  // nothing could be posted
	ReplyStatusSkipped = "skipped" // filtered out (own post, missing keyword)
)

// MentionReply records what the agent did for one mention.
type MentionReply struct {
	ID          string
	MentionID   string
	AuthorID    string
	Status      string
	PostIDs     []string
	MarketCount int
	FailedCount int
	Error       string
	CreatedAt   time.Time
}
