package market

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Record is the row shape of the markets table when read over SQL.
type Record struct {
	ID             string         `gorm:"column:id;primaryKey"`
	Title          sql.NullString `gorm:"column:title"`
	Description    sql.NullString `gorm:"column:description"`
	Question       sql.NullString `gorm:"column:question"`
	ExpirationDate time.Time      `gorm:"column:expiration_date;index"`
	ImageURL       sql.NullString `gorm:"column:image_url"`
	Status         string         `gorm:"column:status;index"`
	CreatedAt      time.Time      `gorm:"column:created_at"`
}

func (Record) TableName() string { return defaultTable }

func (r Record) toMarket() Market {
	return Market{
		ID:          r.ID,
		Title:       strings.TrimSpace(r.Title.String),
		Description: strings.TrimSpace(r.Description.String),
		Question:    strings.TrimSpace(r.Question.String),
		ExpiresAt:   r.ExpirationDate.UTC().Format(time.RFC3339),
		ImageURL:    strings.TrimSpace(r.ImageURL.String),
		Status:      r.Status,
		CreatedAt:   r.CreatedAt.UTC(),
	}
}

// SQLRepository reads markets straight from Postgres through GORM.
type SQLRepository struct {
	db       *gorm.DB
	table    string
	statuses []string
	clock    Clock
}

// OpenPostgres connects to the Postgres database behind the hosted store.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	return db, nil
}

// NewSQLRepository wraps an open GORM handle. Empty table or statuses fall
// back to the defaults; a nil clock uses the wall clock.
func NewSQLRepository(db *gorm.DB, table string, statuses []string, clock Clock) *SQLRepository {
	if table == "" {
		table = defaultTable
	}
	if len(statuses) == 0 {
		statuses = DefaultLiveStatuses
	}
	return &SQLRepository{db: db, table: table, statuses: statuses, clock: clock}
}

var _ Repository = (*SQLRepository)(nil)

// FetchLive returns up to limit live markets, newest first.
func (r *SQLRepository) FetchLive(ctx context.Context, limit int) ([]Market, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}
	now := r.clock.now()

	lowered := make([]string, len(r.statuses))
	for i, s := range r.statuses {
		lowered[i] = strings.ToLower(s)
	}

	var rows []Record
	err := r.db.WithContext(ctx).
		Table(r.table).
		Select("CAST(id AS TEXT) AS id, title, description, question, expiration_date, image_url, status, created_at").
		Where("LOWER(status) IN ?", lowered).
		Where("expiration_date > ?", now).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("querying %s: %v", r.table, err)
	}

	markets := make([]Market, 0, len(rows))
	for _, row := range rows {
		markets = append(markets, row.toMarket())
	}
	return filterEligible(markets, now, r.statuses, limit), nil
}

// Close releases the underlying connection pool.
func (r *SQLRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
