package audit

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const defaultRecentLimit = 50

// ClipRecord is the persisted form of an Entry.
type ClipRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	SourceURL  string    `gorm:"not null;index" json:"video_url"`
	Status     string    `gorm:"not null;index" json:"status"`
	Message    string    `gorm:"type:text" json:"message"`
	OutputPath string    `json:"output_path,omitempty"`
	CreatedAt  time.Time `gorm:"index" json:"timestamp"`
}

// TableName returns the table name for ClipRecord.
func (ClipRecord) TableName() string {
	return "clip_audit"
}

// DBSink stores entries in SQLite through gorm.
type DBSink struct {
	db *gorm.DB
}

// OpenDBSink opens (or creates) the SQLite database at path and migrates it.
func OpenDBSink(path string) (*DBSink, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit db directory: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	return NewDBSink(db)
}

// NewDBSink wraps an existing connection and migrates the audit table.
func NewDBSink(db *gorm.DB) (*DBSink, error) {
	if err := db.AutoMigrate(&ClipRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit table: %w", err)
	}
	return &DBSink{db: db}, nil
}

// Record inserts one row.
func (s *DBSink) Record(ctx context.Context, entry Entry) error {
	created := entry.Timestamp
	if created.IsZero() {
		created = time.Now().UTC()
	}
	record := ClipRecord{
		SourceURL:  entry.SourceURL,
		Status:     entry.Status,
		Message:    entry.Message,
		OutputPath: entry.OutputPath,
		CreatedAt:  created,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("failed to store audit entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *DBSink) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	var records []ClipRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}

	entries := make([]Entry, 0, len(records))
	for _, r := range records {
		entries = append(entries, Entry{
			Timestamp:  r.CreatedAt,
			SourceURL:  r.SourceURL,
			Status:     r.Status,
			Message:    r.Message,
			OutputPath: r.OutputPath,
		})
	}
	return entries, nil
}

// Close releases the underlying connection.
func (s *DBSink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
