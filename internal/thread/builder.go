// Package thread assembles the reply chain posted for one mention: a header,
// one post per market and a closing call-to-action.
package thread

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/spredd-markets/spredd-degen/internal/format"
	"github.com/spredd-markets/spredd-degen/internal/market"
	"github.com/spredd-markets/spredd-degen/internal/social"
)

// DefaultPostDelay is the minimum gap between two consecutive posts.
const DefaultPostDelay = 2 * time.Second

// Poster publishes a post, optionally as a reply and with media attached.
type Poster interface {
	CreatePost(ctx context.Context, text, replyTo string, mediaIDs []string) (string, error)
}

// MediaUploader turns an image URL into a media handle, reporting ok=false
// when the image could not be used.
type MediaUploader interface {
	Upload(ctx context.Context, imageURL string) (string, bool)
}

// Pacer blocks until the next post may be sent. *rate.Limiter satisfies it.
type Pacer interface {
	Wait(ctx context.Context) error
}

// NewPacer returns a limiter allowing one event per interval. A non-positive
// interval disables pacing.
func NewPacer(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Draft is a post waiting to be published.
type Draft struct {
	Text     string
	MediaIDs []string
}

// Failure stages.
const (
	StageMarket = "market"
	StageCloser = "closer"
)

// ItemFailure records a post that could not be published. The thread
// carries on without it.
type ItemFailure struct {
	Stage    string
	Index    int // 1-based market position; 0 for the closer
	MarketID string
	Err      error
}

// Result is what a Build produced. PostIDs are in creation order.
type Result struct {
	PostIDs      []string
	Failures     []ItemFailure
	MissingMedia int
	NoMarkets    bool
}

// Builder posts threads through a Poster.
type Builder struct {
	poster    Poster
	media     MediaUploader
	formatter *format.Formatter
	pacer     Pacer
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option customises a Builder.
type Option func(*Builder)

// WithMedia enables image attachment. Without it markets are posted text-only.
func WithMedia(m MediaUploader) Option {
	return func(b *Builder) { b.media = m }
}

func WithPacer(p Pacer) Option {
	return func(b *Builder) {
		if p != nil {
			b.pacer = p
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.logger = l
		}
	}
}

func NewBuilder(poster Poster, f *format.Formatter, opts ...Option) *Builder {
	b := &Builder{
		poster:    poster,
		formatter: f,
		pacer:     NewPacer(DefaultPostDelay),
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/spredd-markets/spredd-degen/internal/thread"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build replies to mention with a thread covering markets.
//
// An error is returned only when the first post (the header, or the single
// no-markets reply) fails, or when ctx is cancelled part way. Later failures
// are recorded in Result.Failures and skipped: the chain continues from the
// last post that succeeded, and the closer is always attempted.
func (b *Builder) Build(ctx context.Context, mention social.Mention, markets []market.Market) (Result, error) {
	ctx, span := b.tracer.Start(ctx, "thread.build", trace.WithAttributes(
		attribute.String("mention.id", mention.PostID()),
		attribute.Int("markets", len(markets)),
	))
	defer span.End()

	res, err := b.build(ctx, mention, markets)
	span.SetAttributes(
		attribute.Int("posts", len(res.PostIDs)),
		attribute.Int("failures", len(res.Failures)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "thread not posted")
	}
	return res, err
}

func (b *Builder) build(ctx context.Context, mention social.Mention, markets []market.Market) (Result, error) {
	var res Result
	log := b.logger.With("mention_id", mention.ID)

	if len(markets) == 0 {
		res.NoMarkets = true
		id, err := b.post(ctx, Draft{Text: b.formatter.NoMarkets(mention.AuthorHandle)}, mention.PostID())
		if err != nil {
			return res, fmt.Errorf("posting no-markets reply: %w", err)
		}
		res.PostIDs = append(res.PostIDs, id)
		log.Info("replied with no live markets", "post_id", id)
		return res, nil
	}

	headerID, err := b.post(ctx, Draft{Text: b.formatter.Header(mention.AuthorHandle, len(markets))}, mention.PostID())
	if err != nil {
		return res, fmt.Errorf("posting thread header: %w", err)
	}
	res.PostIDs = append(res.PostIDs, headerID)
	tail := headerID

	for i, m := range markets {
		draft := Draft{Text: b.formatter.Format(m, i+1, len(markets))}
		if m.ImageURL != "" {
			if mediaID, ok := b.upload(ctx, m.ImageURL); ok {
				draft.MediaIDs = []string{mediaID}
			} else {
				res.MissingMedia++
			}
		}

		id, err := b.post(ctx, draft, tail)
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		if err != nil {
			log.Warn("market post failed, continuing", "market_id", m.ID, "index", i+1, "error", err)
			res.Failures = append(res.Failures, ItemFailure{Stage: StageMarket, Index: i + 1, MarketID: m.ID, Err: err})
			continue
		}
		res.PostIDs = append(res.PostIDs, id)
		tail = id
	}

	id, err := b.post(ctx, Draft{Text: b.formatter.Closer()}, tail)
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if err != nil {
		log.Warn("closing post failed", "error", err)
		res.Failures = append(res.Failures, ItemFailure{Stage: StageCloser, Err: err})
	} else {
		res.PostIDs = append(res.PostIDs, id)
	}

	log.Info("thread posted",
		"posts", len(res.PostIDs),
		"failed", len(res.Failures),
		"missing_media", res.MissingMedia,
	)
	return res, nil
}

func (b *Builder) upload(ctx context.Context, imageURL string) (string, bool) {
	if b.media == nil {
		return "", false
	}
	return b.media.Upload(ctx, imageURL)
}

// post waits for the pacer and then publishes d as a reply to replyTo.
func (b *Builder) post(ctx context.Context, d Draft, replyTo string) (string, error) {
	if err := b.pacer.Wait(ctx); err != nil {
		return "", err
	}
	return b.poster.CreatePost(ctx, d.Text, replyTo, d.MediaIDs)
}
