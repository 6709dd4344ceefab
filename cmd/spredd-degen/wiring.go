package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/spredd-markets/spredd-degen/internal/checkpoint"
	"github.com/spredd-markets/spredd-degen/internal/config"
	"github.com/spredd-markets/spredd-degen/internal/format"
	"github.com/spredd-markets/spredd-degen/internal/market"
	"github.com/spredd-markets/spredd-degen/internal/media"
	"github.com/spredd-markets/spredd-degen/internal/poller"
	"github.com/spredd-markets/spredd-degen/internal/storage"
	"github.com/spredd-markets/spredd-degen/internal/telemetry"
	"github.com/spredd-markets/spredd-degen/internal/thread"
	"github.com/spredd-markets/spredd-degen/internal/xapi"
)

// newLogger builds the process logger from the log.* settings.
func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// closers releases resources in reverse order of acquisition.
type closers struct {
	fns    []func() error
	logger *slog.Logger
}

func (c *closers) add(fn func() error) { c.fns = append(c.fns, fn) }

func (c *closers) close() {
	for i := len(c.fns) - 1; i >= 0; i-- {
		if err := c.fns[i](); err != nil {
			c.logger.Warn("closing resource", "error", err)
		}
	}
	c.fns = nil
}

func openStorage(cfg config.Config, cl *closers) (*storage.Store, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	cl.add(store.Close)
	return store, nil
}

func openMarkets(cfg config.Config, cl *closers) (market.Repository, error) {
	switch cfg.Markets.Backend {
	case "postgres":
		db, err := market.OpenPostgres(cfg.Markets.DSN)
		if err != nil {
			return nil, err
		}
		repo := market.NewSQLRepository(db, cfg.Markets.Table, cfg.Markets.LiveStatuses, nil)
		cl.add(repo.Close)
		return repo, nil
	case "postgrest", "":
		return market.NewPostgRESTRepository(cfg.Markets.URL, cfg.Markets.APIKey,
			market.WithTable(cfg.Markets.Table),
			market.WithStatuses(cfg.Markets.LiveStatuses),
		), nil
	default:
		return nil, fmt.Errorf("unknown markets backend %q", cfg.Markets.Backend)
	}
}

// checkpointInStorage reports whether the checkpoint lives in local storage.
// An empty backend selects sqlite.
func checkpointInStorage(cfg config.Config) bool {
	return cfg.Checkpoint.Backend == "sqlite" || cfg.Checkpoint.Backend == ""
}

// openCheckpoint returns the checkpoint store selected by checkpoint.backend.
// store is only consulted when checkpointInStorage is true.
func openCheckpoint(ctx context.Context, cfg config.Config, store *storage.Store, logger *slog.Logger, cl *closers) (checkpoint.Store, error) {
	if checkpointInStorage(cfg) {
		if store == nil {
			return nil, errors.New("sqlite checkpoint backend needs local storage")
		}
		return checkpoint.NewSQLiteStore(store, logger), nil
	}
	switch cfg.Checkpoint.Backend {
	case "file":
		return checkpoint.NewFileStore(cfg.CheckpointPath(), logger), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Checkpoint.RedisAddr,
			Password: cfg.Checkpoint.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.Checkpoint.RedisAddr, err)
		}
		rs := checkpoint.NewRedisStore(client, cfg.Checkpoint.RedisKey, logger)
		cl.add(rs.Close)
		return rs, nil
	case "postgres":
		ps, err := checkpoint.NewPostgresStore(ctx, cfg.Checkpoint.DSN, logger)
		if err != nil {
			return nil, err
		}
		cl.add(func() error { ps.Close(); return nil })
		return ps, nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}

// openCheckpointOnly opens the checkpoint store together with the local
// storage it needs, for commands that use nothing else.
func openCheckpointOnly(ctx context.Context, cfg config.Config, logger *slog.Logger, cl *closers) (checkpoint.Store, error) {
	var store *storage.Store
	if checkpointInStorage(cfg) {
		var err error
		if store, err = openStorage(cfg, cl); err != nil {
			return nil, err
		}
	}
	return openCheckpoint(ctx, cfg, store, logger, cl)
}

func newXClient(cfg config.Config, logger *slog.Logger) *xapi.Client {
	client := xapi.NewClient(cfg.X.AccessToken, cfg.X.RequestTimeout)
	client.SetBaseURL(cfg.X.BaseURL)
	client.SetLogger(logger)
	return client
}

// resolveUserID returns x.user_id, asking the platform when it is unset.
func resolveUserID(ctx context.Context, cfg config.Config, client *xapi.Client, logger *slog.Logger) (string, error) {
	if cfg.X.UserID != "" {
		return cfg.X.UserID, nil
	}
	me, err := client.Me(ctx)
	if err != nil {
		return "", fmt.Errorf("resolving bot account (set x.user_id to skip): %w", err)
	}
	logger.Info("resolved bot account", "user_id", me.ID, "username", me.Username)
	return me.ID, nil
}

func newFormatter(cfg config.Config) *format.Formatter {
	return format.New(format.Options{
		Limit:   cfg.Thread.PostLimit,
		SiteURL: cfg.Thread.SiteURL,
		Hashtag: cfg.Thread.Hashtag,
	})
}

func newBuilder(cfg config.Config, client *xapi.Client, logger *slog.Logger) *thread.Builder {
	opts := []thread.Option{
		thread.WithPacer(thread.NewPacer(cfg.Thread.PostDelay)),
		thread.WithLogger(logger),
	}
	if cfg.Thread.MediaEnabled {
		uploader := media.New(client,
			media.WithFetchTimeout(cfg.Media.FetchTimeout),
			media.WithMaxBytes(int64(cfg.Media.MaxBytes)),
			media.WithLogger(logger),
		)
		opts = append(opts, thread.WithMedia(uploader))
	}
	return thread.NewBuilder(client, newFormatter(cfg), opts...)
}

// bot bundles the assembled loop with what must be released afterwards.
type bot struct {
	loop      *poller.Loop
	telemetry *telemetry.Telemetry
	closers   *closers
}

// newBot assembles every collaborator of the poll loop from cfg.
func newBot(ctx context.Context, cfg config.Config, logger *slog.Logger) (*bot, error) {
	if err := cfg.Require(config.NeedX, config.NeedMarkets, config.NeedCheckpoint); err != nil {
		return nil, err
	}

	cl := &closers{logger: logger}
	ok := false
	defer func() {
		if !ok {
			cl.close()
		}
	}()

	tel, err := telemetry.Setup(ctx, telemetry.Options{
		SentryDSN:    cfg.Telemetry.SentryDSN,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		Environment:  cfg.Telemetry.Environment,
		Release:      "spredd-degen@" + version,
	}, logger)
	if err != nil {
		return nil, err
	}
	cl.add(func() error { return tel.Shutdown(context.Background()) })

	store, err := openStorage(cfg, cl)
	if err != nil {
		return nil, err
	}
	repo, err := openMarkets(cfg, cl)
	if err != nil {
		return nil, err
	}
	checkpoints, err := openCheckpoint(ctx, cfg, store, logger, cl)
	if err != nil {
		return nil, err
	}

	client := newXClient(cfg, logger)
	userID, err := resolveUserID(ctx, cfg, client, logger)
	if err != nil {
		return nil, err
	}

	loop := poller.New(
		client.Mentions(userID),
		repo,
		newBuilder(cfg, client, logger),
		checkpoints,
		poller.Config{
			Interval:       cfg.Poll.Interval,
			BackoffBase:    cfg.Poll.BackoffBase,
			BackoffCap:     cfg.Poll.BackoffCap,
			MaxFailures:    cfg.Poll.MaxFailures,
			MarketLimit:    cfg.Markets.Limit,
			SelfID:         userID,
			TriggerKeyword: cfg.X.TriggerKeyword,
		},
		poller.WithLedger(store),
		poller.WithMentionPacer(thread.NewPacer(cfg.Thread.MentionDelay)),
		poller.WithReporter(tel.Report),
		poller.WithLogger(logger),
	)

	ok = true
	return &bot{loop: loop, telemetry: tel, closers: cl}, nil
}

func (b *bot) Close() { b.closers.close() }
