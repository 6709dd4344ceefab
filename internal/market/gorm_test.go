package market

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupMarketsDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "markets.db")), &gorm.Config{})
	require.NoError(t, err, "open db")
	require.NoError(t, db.AutoMigrate(&Record{}), "migrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func seedRecord(t *testing.T, db *gorm.DB, id, title, status string, expires, created time.Time) {
	t.Helper()
	rec := Record{
		ID:             id,
		Title:          sql.NullString{String: title, Valid: title != ""},
		ExpirationDate: expires.UTC(),
		Status:         status,
		CreatedAt:      created.UTC(),
	}
	require.NoError(t, db.Create(&rec).Error)
}

func TestSQLRepository_FetchLive(t *testing.T) {
	db := setupMarketsDB(t)
	now := fixedNow

	seedRecord(t, db, "1", "old but live", "active", now.Add(48*time.Hour), now.Add(-72*time.Hour))
	seedRecord(t, db, "2", "newest", "ACTIVE", now.Add(24*time.Hour), now.Add(-1*time.Hour))
	seedRecord(t, db, "3", "expired", "active", now.Add(-time.Hour), now.Add(-2*time.Hour))
	seedRecord(t, db, "4", "resolved", "settled", now.Add(24*time.Hour), now.Add(-3*time.Hour))
	seedRecord(t, db, "5", "middle", "live", now.Add(24*time.Hour), now.Add(-24*time.Hour))

	repo := NewSQLRepository(db, "", nil, fixedClock)
	markets, err := repo.FetchLive(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, markets, 3)

	assert.Equal(t, "newest", markets[0].Title)
	assert.Equal(t, "middle", markets[1].Title)
	assert.Equal(t, "old but live", markets[2].Title)
	assert.Equal(t, "2", markets[0].ID)
	_, ok := markets[0].Expiry()
	assert.True(t, ok, "expiry should round-trip as a parseable timestamp")
}

func TestSQLRepository_Limit(t *testing.T) {
	db := setupMarketsDB(t)
	for i, title := range []string{"a", "b", "c"} {
		seedRecord(t, db, title, title, "active", fixedNow.Add(time.Hour), fixedNow.Add(-time.Duration(i)*time.Minute))
	}

	repo := NewSQLRepository(db, "markets", nil, fixedClock)
	markets, err := repo.FetchLive(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "a", markets[0].ID)
	assert.Equal(t, "b", markets[1].ID)
}

func TestSQLRepository_Empty(t *testing.T) {
	db := setupMarketsDB(t)

	repo := NewSQLRepository(db, "", nil, fixedClock)
	markets, err := repo.FetchLive(context.Background(), 5)
	require.NoError(t, err)
	assert.NotNil(t, markets)
	assert.Empty(t, markets)
}

func TestSQLRepository_MissingTableIsUnavailable(t *testing.T) {
	db := setupMarketsDB(t)

	repo := NewSQLRepository(db, "no_such_table", nil, fixedClock)
	_, err := repo.FetchLive(context.Background(), 5)
	assert.ErrorIs(t, err, ErrUnavailable)
}
