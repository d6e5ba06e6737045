package calllog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// CallLogEntry is the persisted form of a Record.
type CallLogEntry struct {
	ID                    string     `gorm:"primaryKey;size:36"`
	ExternalCorrelationID string     `gorm:"uniqueIndex;size:200;not null"`
	OriginatingEndpoint   string     `gorm:"size:200;index"`
	TerminatingEndpoint   string     `gorm:"size:200;index"`
	StartTime             time.Time  `gorm:"index"`
	AnswerTime            *time.Time `gorm:"default:null"`
	EndTime               time.Time  `gorm:"not null"`
	DurationSeconds       int64      `gorm:"not null"`
	Status                string     `gorm:"size:50;index"`
	HangupCauseCode       int        `gorm:"not null"`
	HangupCauseText       string     `gorm:"size:200"`
	CreatedAt             time.Time  `gorm:"autoCreateTime"`
}

func (CallLogEntry) TableName() string {
	return "call_log"
}

// Store writes records to a SQL database through GORM.
type Store struct {
	db *gorm.DB
}

// Open connects to the database selected by driver ("sqlite", "mysql" or
// "postgres") and migrates the call_log table.
func Open(driver, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("calllog: unsupported driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("calllog: connect %s: %w", driver, err)
	}
	return NewStore(db)
}

// NewStore wraps an existing connection and migrates the schema.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&CallLogEntry{}); err != nil {
		return nil, fmt.Errorf("calllog: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Submit inserts rec, ignoring a row that already carries the same
// correlation id.
func (s *Store) Submit(ctx context.Context, rec Record) error {
	entry := CallLogEntry{
		ID:                    uuid.NewString(),
		ExternalCorrelationID: rec.ExternalCorrelationID,
		OriginatingEndpoint:   rec.OriginatingEndpoint,
		TerminatingEndpoint:   rec.TerminatingEndpoint,
		StartTime:             rec.StartTime.UTC(),
		EndTime:               rec.EndTime.UTC(),
		DurationSeconds:       rec.DurationSeconds,
		Status:                string(rec.Status),
		HangupCauseCode:       rec.HangupCauseCode,
		HangupCauseText:       rec.HangupCauseText,
	}
	if !rec.AnswerTime.IsZero() {
		at := rec.AnswerTime.UTC()
		entry.AnswerTime = &at
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "external_correlation_id"}},
			DoNothing: true,
		}).
		Create(&entry).Error
	if err != nil {
		return fmt.Errorf("calllog: insert %s: %w", rec.ExternalCorrelationID, err)
	}
	return nil
}

// Find returns the stored entry for a correlation id.
func (s *Store) Find(ctx context.Context, correlationID string) (*CallLogEntry, error) {
	var entry CallLogEntry
	err := s.db.WithContext(ctx).
		Where("external_correlation_id = ?", correlationID).
		First(&entry).Error
	if err != nil {
		return nil, fmt.Errorf("calllog: find %s: %w", correlationID, err)
	}
	return &entry, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&CallLogEntry{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("calllog: count: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
