package checkpoint

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spredd-markets/spredd-degen/internal/storage"
)

// DefaultName is the row/key name used for the mention checkpoint.
const DefaultName = "mentions"

// SQLiteStore keeps the checkpoint as a row in the agent's SQLite database.
type SQLiteStore struct {
	db     *storage.Store
	name   string
	logger *slog.Logger
}

func NewSQLiteStore(db *storage.Store, logger *slog.Logger) *SQLiteStore {
	return &SQLiteStore{db: db, name: DefaultName, logger: loggerOrDefault(logger)}
}

var _ Store = (*SQLiteStore)(nil)

func (s *SQLiteStore) Load(ctx context.Context) (uint64, bool, error) {
	raw, err := s.db.GetCheckpoint(ctx, s.name)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, ok := parse(s.logger, "sqlite", raw)
	return id, ok, nil
}

func (s *SQLiteStore) Save(ctx context.Context, id uint64) error {
	return s.db.SetCheckpoint(ctx, s.name, format(id))
}
