package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// observationRow is the gorm mapping of the observations table.
type observationRow struct {
	ID          int64     `gorm:"primaryKey;autoIncrement"`
	ObservedAt  time.Time `gorm:"not null;uniqueIndex:observations_symbol_time_key,priority:2;index:observations_symbol_latest_idx,priority:2"`
	TokenSymbol string    `gorm:"size:20;not null;uniqueIndex:observations_symbol_time_key,priority:1;index:observations_symbol_latest_idx,priority:1"`
	TokenName   string    `gorm:"not null;default:''"`
	MetricValue float64   `gorm:"not null"`
}

func (observationRow) TableName() string {
	return "observations"
}

func (r observationRow) toObservation() Observation {
	return Observation{
		ID:         r.ID,
		ObservedAt: r.ObservedAt.UTC(),
		Symbol:     r.TokenSymbol,
		Name:       r.TokenName,
		Value:      r.MetricValue,
	}
}

// SQLiteStore is a single-file observation store for local runs. It has no
// insert notifications, so only the polling trigger works on top of it.
type SQLiteStore struct {
	db  *gorm.DB
	now func() time.Time

	// mu makes the assigned observed_at strictly increasing within the process
	mu   sync.Mutex
	last time.Time
}

// OpenSQLite opens (or creates) the database at dsn and migrates it.
func OpenSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&observationRow{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// WithClock overrides the time source used to stamp inserts.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// Close releases the database handle.
func (s *SQLiteStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLiteStore) stamp() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts := s.now().UTC()
	if !ts.After(s.last) {
		ts = s.last.Add(time.Microsecond)
	}
	s.last = ts
	return ts
}

// InsertObservations appends a batch in one transaction, all rows stamped
// with the same observed_at. Duplicates of (token_symbol, observed_at) are skipped.
func (s *SQLiteStore) InsertObservations(ctx context.Context, batch []NewObservation) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}
	observedAt := s.stamp()
	rows := make([]observationRow, 0, len(batch))
	for _, obs := range batch {
		rows = append(rows, observationRow{
			ObservedAt:  observedAt,
			TokenSymbol: obs.Symbol,
			TokenName:   obs.Name,
			MetricValue: obs.Value,
		})
	}

	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
		inserted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("insert observations: %w", err)
	}
	return inserted, nil
}

// ListCandidateTokens returns tokens holding at least two unconsumed observations.
func (s *SQLiteStore) ListCandidateTokens(ctx context.Context) ([]string, error) {
	var symbols []string
	err := s.db.WithContext(ctx).
		Model(&observationRow{}).
		Group("token_symbol").
		Having("COUNT(*) >= ?", 2).
		Order("token_symbol").
		Pluck("token_symbol", &symbols).Error
	if err != nil {
		return nil, fmt.Errorf("list candidate tokens: %w", err)
	}
	return symbols, nil
}

// LatestTwo returns the two newest observations of a token, newest first.
func (s *SQLiteStore) LatestTwo(ctx context.Context, symbol string) (Pair, bool, error) {
	var rows []observationRow
	err := s.db.WithContext(ctx).
		Where("token_symbol = ?", symbol).
		Order("observed_at DESC").
		Order("id DESC").
		Limit(2).
		Find(&rows).Error
	if err != nil {
		return Pair{}, false, fmt.Errorf("latest two for %s: %w", symbol, err)
	}
	if len(rows) < 2 {
		return Pair{}, false, nil
	}
	return Pair{Current: rows[0].toObservation(), Previous: rows[1].toObservation()}, true, nil
}

// DeleteConsumed removes every observation of the token strictly older than current.
func (s *SQLiteStore) DeleteConsumed(ctx context.Context, symbol string, current Observation) (int64, error) {
	var deleted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.
			Where("token_symbol = ?", symbol).
			Where("observed_at < ? OR (observed_at = ? AND id < ?)", current.ObservedAt.UTC(), current.ObservedAt.UTC(), current.ID).
			Delete(&observationRow{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, fmt.Errorf("delete consumed for %s: %w", symbol, err)
	}
	return deleted, nil
}

// ListWindow lists unconsumed observations, newest first.
func (s *SQLiteStore) ListWindow(ctx context.Context, limit int) ([]Observation, error) {
	var rows []observationRow
	err := s.db.WithContext(ctx).
		Order("observed_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list window: %w", err)
	}
	observations := make([]Observation, 0, len(rows))
	for _, row := range rows {
		observations = append(observations, row.toObservation())
	}
	return observations, nil
}

// CountObservations counts stored observations.
func (s *SQLiteStore) CountObservations(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&observationRow{}).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count observations: %w", err)
	}
	return count, nil
}

var _ ObservationStore = (*SQLiteStore)(nil)
