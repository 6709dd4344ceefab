package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/spredd-markets/spredd-degen/internal/checkpoint"
	"github.com/spredd-markets/spredd-degen/internal/config"
	"github.com/spredd-markets/spredd-degen/internal/format"
	"github.com/spredd-markets/spredd-degen/internal/poller"
	"github.com/spredd-markets/spredd-degen/internal/storage"
)

// statusInterval is how often the running bot logs its loop state.
const statusInterval = 15 * time.Minute

// loadConfig loads configuration and installs the configured logger as the
// slog default.
func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// --- run ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll mentions and reply until interrupted",
	Long: `Poll the bot's mentions and reply to each with a thread of live markets.

The loop runs until SIGINT/SIGTERM (exit 0) or until too many consecutive
cycles fail (exit 1). With --once a single cycle is run and its error, if
any, is returned.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		return runBot(cmd.Context(), cfg, logger, once)
	},
}

func init() {
	runCmd.Flags().Bool("once", false, "run a single poll cycle and exit")
}

func runBot(ctx context.Context, cfg config.Config, logger *slog.Logger, once bool) error {
	b, err := newBot(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	if once {
		printStep("Running a single poll cycle")
		return b.loop.RunOnce(ctx)
	}

	logger.Info("spredd-degen starting", "version", version, "interval", cfg.Poll.Interval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.loop.Run(gctx)
	})
	g.Go(func() error {
		logState(gctx, b.loop, logger, statusInterval)
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, poller.ErrRetryBudgetExhausted) {
			logger.Error("giving up", "error", err)
		}
		return err
	}
	logger.Info("spredd-degen stopped")
	return nil
}

func logState(ctx context.Context, loop *poller.Loop, logger *slog.Logger, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("agent status", "state", loop.State())
		}
	}
}

// --- whoami ---

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account the access token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Require(config.NeedX); err != nil {
			return err
		}

		me, err := newXClient(cfg, logger).Me(cmd.Context())
		if err != nil {
			return err
		}
		printStatus("ID", "%s", me.ID)
		printStatus("Username", "@%s", me.Username)
		printStatus("Name", "%s", me.Name)
		return nil
	},
}

// --- checkpoint ---

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or move the last-processed mention checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoint(cmd.Context(), func(ctx context.Context, cfg config.Config, cp checkpoint.Store) error {
			id, ok, err := cp.Load(ctx)
			if err != nil {
				return err
			}
			if !ok {
				printWarning("No checkpoint stored (%s backend); the next cycle reads all recent mentions", cfg.Checkpoint.Backend)
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		})
	},
}

var checkpointSetCmd = &cobra.Command{
	Use:   "set <mention-id>",
	Short: "Overwrite the stored checkpoint",
	Long: `Overwrite the stored checkpoint. Mentions with IDs at or below the
new value are never answered.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid mention id %q: %w", args[0], err)
		}
		return withCheckpoint(cmd.Context(), func(ctx context.Context, _ config.Config, cp checkpoint.Store) error {
			if err := cp.Save(ctx, id); err != nil {
				return err
			}
			printSuccess("Checkpoint set to %d", id)
			return nil
		})
	},
}

func withCheckpoint(ctx context.Context, fn func(ctx context.Context, cfg config.Config, cp checkpoint.Store) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Require(config.NeedCheckpoint); err != nil {
		return err
	}

	cl := &closers{logger: logger}
	defer cl.close()

	cp, err := openCheckpointOnly(ctx, cfg, logger, cl)
	if err != nil {
		return err
	}
	return fn(ctx, cfg, cp)
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd)
	checkpointCmd.AddCommand(checkpointSetCmd)
}

// --- markets ---

var marketsCmd = &cobra.Command{
	Use:   "markets",
	Short: "Inspect live markets",
}

var marketsPreviewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the thread that would be posted, without posting",
	RunE: func(cmd *cobra.Command, args []string) error {
		handle, _ := cmd.Flags().GetString("handle")
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Require(config.NeedMarkets); err != nil {
			return err
		}
		if limit <= 0 {
			limit = cfg.Markets.Limit
		}

		cl := &closers{logger: logger}
		defer cl.close()
		repo, err := openMarkets(cfg, cl)
		if err != nil {
			return err
		}
		markets, err := repo.FetchLive(cmd.Context(), limit)
		if err != nil {
			return err
		}

		f := newFormatter(cfg)
		out := cmd.OutOrStdout()
		if len(markets) == 0 {
			printPost(out, f, "reply", f.NoMarkets(handle))
			return nil
		}
		printPost(out, f, "header", f.Header(handle, len(markets)))
		for i, m := range markets {
			label := fmt.Sprintf("market %d/%d", i+1, len(markets))
			if m.ImageURL != "" {
				label += " [image]"
			}
			printPost(out, f, label, f.Format(m, i+1, len(markets)))
		}
		printPost(out, f, "closer", f.Closer())
		return nil
	},
}

func printPost(w io.Writer, f *format.Formatter, label, text string) {
	fmt.Fprintf(w, "%s (%d/%d)\n%s\n\n", colorize(colorBold, label), format.Length(text), f.Limit(), text)
}

func init() {
	marketsPreviewCmd.Flags().String("handle", "", "handle to greet in the header")
	marketsPreviewCmd.Flags().Int("limit", 0, "number of markets (default markets.limit)")
	marketsCmd.AddCommand(marketsPreviewCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recently handled mentions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		cl := &closers{logger: logger}
		defer cl.close()
		store, err := openStorage(cfg, cl)
		if err != nil {
			return err
		}

		replies, err := store.RecentReplies(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(replies) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No mentions handled yet.")
			return nil
		}
		for _, r := range replies {
			line := fmt.Sprintf("%s  %s  %-8s markets=%d posts=%d",
				colorize(colorCyan, r.MentionID),
				r.CreatedAt.Format(time.RFC3339),
				statusColor(r.Status),
				r.MarketCount,
				len(r.PostIDs),
			)
			if r.Error != "" {
				line += "  " + r.Error
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		return nil
	},
}

func statusColor(status string) string {
	switch status {
	case storage.ReplyStatusReplied, storage.ReplyStatusEmpty:
		return colorize(colorGreen, status)
	case storage.ReplyStatusPartial, storage.ReplyStatusSkipped:
		return colorize(colorYellow, status)
	default:
		return colorize(colorRed, status)
	}
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of mentions to list")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s  (%s)\n", colorize(colorBold, k.Key), k.Value, k.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
