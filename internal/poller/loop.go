// Package poller drives the agent: it polls for new mentions, replies to
// each with a market thread and advances the checkpoint, backing off on
// repeated failures until the retry budget runs out.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/spredd-markets/spredd-degen/internal/checkpoint"
	"github.com/spredd-markets/spredd-degen/internal/market"
	"github.com/spredd-markets/spredd-degen/internal/social"
	"github.com/spredd-markets/spredd-degen/internal/storage"
	"github.com/spredd-markets/spredd-degen/internal/thread"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultBackoffBase  = 60 * time.Second
	DefaultBackoffCap   = 300 * time.Second
	DefaultMaxFailures  = 5
	DefaultMentionDelay = 5 * time.Second
	DefaultMarketLimit  = 5
)

// ErrRetryBudgetExhausted is returned by Run after too many consecutive
// failed cycles.
var ErrRetryBudgetExhausted = errors.New("retry budget exhausted")

// State is the loop's position in its lifecycle.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateBackoff
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateBackoff:
		return "backoff"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MentionSource lists mentions newer than sinceID (all recent when zero).
type MentionSource interface {
	ListMentions(ctx context.Context, sinceID uint64) ([]social.Mention, error)
}

// ThreadBuilder posts the reply thread for one mention.
type ThreadBuilder interface {
	Build(ctx context.Context, mention social.Mention, markets []market.Market) (thread.Result, error)
}

// Ledger records the outcome of every handled mention and remembers which
// mentions already received a reply across restarts.
type Ledger interface {
	RecordReply(ctx context.Context, r storage.MentionReply) error
	HasReplied(ctx context.Context, mentionID string) (bool, error)
}

// Reporter forwards errors worth an operator's attention.
type Reporter func(err error, tags map[string]string)

// Config holds the loop's policy knobs. Zero values select the defaults.
type Config struct {
	Interval       time.Duration
	BackoffBase    time.Duration
	BackoffCap     time.Duration
	MaxFailures    int
	MarketLimit    int
	SelfID         string
	TriggerKeyword string
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = DefaultMaxFailures
	}
	if c.MarketLimit <= 0 {
		c.MarketLimit = DefaultMarketLimit
	}
	return c
}

// Loop is the sequential poll/reply controller.
type Loop struct {
	mentions    MentionSource
	markets     market.Repository
	builder     ThreadBuilder
	checkpoints checkpoint.Store
	ledger      Ledger
	pacer       thread.Pacer
	report      Reporter
	sleep       func(ctx context.Context, d time.Duration) error
	cfg         Config
	logger      *slog.Logger
	tracer      trace.Tracer

	state    atomic.Int32
	failures int
	seen     map[uint64]struct{}
}

// Option customises a Loop.
type Option func(*Loop)

// WithLedger records each handled mention.
func WithLedger(l Ledger) Option {
	return func(lp *Loop) { lp.ledger = l }
}

// WithMentionPacer sets the pacer waited on before each mention.
func WithMentionPacer(p thread.Pacer) Option {
	return func(lp *Loop) {
		if p != nil {
			lp.pacer = p
		}
	}
}

func WithReporter(r Reporter) Option {
	return func(lp *Loop) {
		if r != nil {
			lp.report = r
		}
	}
}

// WithSleep replaces the context-aware sleep used between cycles (for tests).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(lp *Loop) {
		if fn != nil {
			lp.sleep = fn
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(lp *Loop) {
		if l != nil {
			lp.logger = l
		}
	}
}

// New creates a Loop with the given collaborators.
func New(mentions MentionSource, markets market.Repository, builder ThreadBuilder, checkpoints checkpoint.Store, cfg Config, opts ...Option) *Loop {
	l := &Loop{
		mentions:    mentions,
		markets:     markets,
		builder:     builder,
		checkpoints: checkpoints,
		pacer:       thread.NewPacer(DefaultMentionDelay),
		report:      func(error, map[string]string) {},
		sleep:       sleepCtx,
		cfg:         cfg.withDefaults(),
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/spredd-markets/spredd-degen/internal/poller"),
		seen:        make(map[uint64]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State reports the loop's current state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
}

// Backoff returns the delay after the given number of consecutive failures:
// min(limit, base * 2^failures).
func Backoff(base, limit time.Duration, failures int) time.Duration {
	d := base
	for i := 0; i < failures; i++ {
		if d >= limit {
			return limit
		}
		d *= 2
	}
	if d > limit {
		return limit
	}
	return d
}

// Run polls until ctx is cancelled (returning nil) or the retry budget is
// exhausted (returning an error wrapping ErrRetryBudgetExhausted).
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("poll loop started",
		"interval", l.cfg.Interval,
		"max_failures", l.cfg.MaxFailures,
	)
	for {
		if ctx.Err() != nil {
			l.setState(StateIdle)
			return nil
		}

		l.setState(StatePolling)
		err := l.RunOnce(ctx)
		if ctx.Err() != nil {
			l.setState(StateIdle)
			l.logger.Info("poll loop stopped")
			return nil
		}

		var wait time.Duration
		if err == nil {
			l.failures = 0
			l.setState(StateIdle)
			wait = l.cfg.Interval
		} else {
			l.failures++
			if l.failures >= l.cfg.MaxFailures {
				l.setState(StateTerminated)
				fatal := fmt.Errorf("%w after %d consecutive failures: %w", ErrRetryBudgetExhausted, l.failures, err)
				l.logger.Error("giving up, operator intervention required", "failures", l.failures, "error", err)
				l.report(fatal, map[string]string{"component": "poller", "fatal": "true"})
				return fatal
			}
			l.setState(StateBackoff)
			wait = Backoff(l.cfg.BackoffBase, l.cfg.BackoffCap, l.failures)
			l.logger.Warn("poll cycle failed, backing off",
				"failures", l.failures,
				"backoff", wait,
				"error", err,
			)
		}

		if err := l.sleep(ctx, wait); err != nil {
			l.setState(StateIdle)
			l.logger.Info("poll loop stopped")
			return nil
		}
	}
}

// RunOnce performs one polling pass. A returned error is systemic: the
// checkpoint has not moved past the mention that was being handled.
func (l *Loop) RunOnce(ctx context.Context) error {
	ctx, span := l.tracer.Start(ctx, "poll.cycle")
	defer span.End()

	log := l.logger.With("cycle_id", uuid.NewString())

	since, ok, err := l.checkpoints.Load(ctx)
	if err != nil {
		return l.fail(span, fmt.Errorf("loading checkpoint: %w", err))
	}
	if !ok {
		since = 0
	}
	l.forget(since)

	mentions, err := l.mentions.ListMentions(ctx, since)
	if err != nil {
		return l.fail(span, fmt.Errorf("listing mentions: %w", err))
	}

	pending := pendingMentions(mentions, since)
	span.SetAttributes(
		attribute.Int64("checkpoint", int64(since)),
		attribute.Int("mentions", len(pending)),
	)
	if len(pending) == 0 {
		log.Debug("no new mentions", "checkpoint", since)
		return nil
	}
	log.Info("processing mentions", "count", len(pending), "checkpoint", since)

	for _, m := range pending {
		if err := l.handle(ctx, log.With("mention_id", m.ID), m); err != nil {
			return l.fail(span, err)
		}
	}
	return nil
}

func (l *Loop) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "poll cycle failed")
	return err
}

// handle processes one mention and advances the checkpoint to its ID.
func (l *Loop) handle(ctx context.Context, log *slog.Logger, m social.Mention) error {
	if _, done := l.seen[m.ID]; done {
		log.Debug("mention already handled in this process")
		return l.advance(ctx, m.ID)
	}

	if l.repliedBefore(ctx, log, m) {
		log.Info("mention already replied to in an earlier run")
		l.seen[m.ID] = struct{}{}
		return l.advance(ctx, m.ID)
	}

	if reason := l.skipReason(m); reason != "" {
		log.Info("skipping mention", "reason", reason)
		l.record(ctx, log, storage.MentionReply{
			MentionID: m.PostID(),
			AuthorID:  m.AuthorID,
			Status:    storage.ReplyStatusSkipped,
			Error:     reason,
		})
		l.seen[m.ID] = struct{}{}
		return l.advance(ctx, m.ID)
	}

	if err := l.pacer.Wait(ctx); err != nil {
		return err
	}

	markets, err := l.markets.FetchLive(ctx, l.cfg.MarketLimit)
	if err != nil {
		return fmt.Errorf("fetching markets for mention %d: %w", m.ID, err)
	}

	res, err := l.builder.Build(ctx, m, markets)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	reply := storage.MentionReply{
		MentionID:   m.PostID(),
		AuthorID:    m.AuthorID,
		PostIDs:     res.PostIDs,
		MarketCount: len(markets),
		FailedCount: len(res.Failures),
	}
	switch {
	case err != nil && errors.Is(err, social.ErrUnavailable):
		return fmt.Errorf("replying to mention %d: %w", m.ID, err)
	case err != nil:
		log.Error("mention failed, skipping it", "error", err)
		l.report(err, map[string]string{"component": "thread", "mention_id": m.PostID()})
		reply.Status = storage.ReplyStatusFailed
		reply.Error = err.Error()
	case res.NoMarkets:
		reply.Status = storage.ReplyStatusEmpty
	case len(res.Failures) > 0:
		reply.Status = storage.ReplyStatusPartial
		reply.Error = failureSummary(res.Failures)
	default:
		reply.Status = storage.ReplyStatusReplied
	}

	l.record(ctx, log, reply)
	l.seen[m.ID] = struct{}{}
	return l.advance(ctx, m.ID)
}

// repliedBefore consults the ledger so a reply whose checkpoint write was
// lost is not posted again after a restart. Ledger errors are not fatal.
func (l *Loop) repliedBefore(ctx context.Context, log *slog.Logger, m social.Mention) bool {
	if l.ledger == nil {
		return false
	}
	replied, err := l.ledger.HasReplied(ctx, m.PostID())
	if err != nil {
		log.Warn("reply ledger lookup failed", "error", err)
		return false
	}
	return replied
}

// forget drops handled mentions at or below the stored checkpoint, which
// pendingMentions already filters out.
func (l *Loop) forget(upTo uint64) {
	for id := range l.seen {
		if id <= upTo {
			delete(l.seen, id)
		}
	}
}

func (l *Loop) skipReason(m social.Mention) string {
	if l.cfg.SelfID != "" && m.AuthorID == l.cfg.SelfID {
		return "own post"
	}
	if kw := l.cfg.TriggerKeyword; kw != "" && !strings.Contains(strings.ToLower(m.Text), strings.ToLower(kw)) {
		return "missing trigger keyword"
	}
	return ""
}

func (l *Loop) advance(ctx context.Context, id uint64) error {
	if err := l.checkpoints.Save(ctx, id); err != nil {
		return fmt.Errorf("saving checkpoint %d: %w", id, err)
	}
	return nil
}

func (l *Loop) record(ctx context.Context, log *slog.Logger, r storage.MentionReply) {
	if l.ledger == nil {
		return
	}
	if err := l.ledger.RecordReply(ctx, r); err != nil {
		log.Warn("recording reply", "error", err)
	}
}

// pendingMentions drops mentions at or below the checkpoint and duplicates,
// and orders the rest by ascending ID.
func pendingMentions(mentions []social.Mention, since uint64) []social.Mention {
	out := make([]social.Mention, 0, len(mentions))
	dup := make(map[uint64]struct{}, len(mentions))
	for _, m := range mentions {
		if m.ID <= since {
			continue
		}
		if _, ok := dup[m.ID]; ok {
			continue
		}
		dup[m.ID] = struct{}{}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func failureSummary(failures []thread.ItemFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		if f.Stage == thread.StageCloser {
			parts = append(parts, fmt.Sprintf("closer: %v", f.Err))
			continue
		}
		parts = append(parts, fmt.Sprintf("market %s: %v", f.MarketID, f.Err))
	}
	return strings.Join(parts, "; ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
