package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps the checkpoint in a bot_checkpoints table, next to the
// markets data when both live in the same Supabase project.
type PostgresStore struct {
	pool   *pgxpool.Pool
	name   string
	logger *slog.Logger
}

// NewPostgresStore connects to dsn and creates the checkpoint table if needed.
func NewPostgresStore(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, name: DefaultName, logger: loggerOrDefault(logger)}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS bot_checkpoints (
		name TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("creating bot_checkpoints: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (uint64, bool, error) {
	var raw string
	err := s.pool.QueryRow(ctx, "SELECT value FROM bot_checkpoints WHERE name = $1", s.name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading checkpoint: %w", err)
	}
	id, ok := parse(s.logger, "postgres", raw)
	return id, ok, nil
}

func (s *PostgresStore) Save(ctx context.Context, id uint64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bot_checkpoints (name, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		s.name, format(id))
	if err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}
