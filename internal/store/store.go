// Package store is the optional local audit trail. It records tool
// invocations and operation outcomes for operator review; nothing in the
// service ever reads runtime state back from it, so the server stays
// stateless across restarts.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ToolInvocation is one recorded tools/call.
type ToolInvocation struct {
	ID         uint   `gorm:"primaryKey"`
	Tool       string `gorm:"index"`
	Action     string
	OK         bool
	ErrorKind  string
	DurationMS int64
	CreatedAt  time.Time
}

// OperationRecord is the terminal outcome of one long-running operation.
type OperationRecord struct {
	ID          uint   `gorm:"primaryKey"`
	OperationID string `gorm:"index"`
	Tool        string
	State       string
	StartedAt   time.Time
	FinishedAt  time.Time
	CreatedAt   time.Time
}

// Store records audit events. Implementations must be safe for
// concurrent use.
type Store interface {
	RecordInvocation(ctx context.Context, inv *ToolInvocation) error
	RecordOperation(ctx context.Context, rec *OperationRecord) error
	ListInvocations(ctx context.Context, limit int) ([]ToolInvocation, error)
	Close() error
}

// sqliteStore is the gorm-backed implementation.
type sqliteStore struct {
	db *gorm.DB
}

// Open creates (or opens) the sqlite audit database at path.
func Open(path string) (Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit directory: %w", err)
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	if err := db.AutoMigrate(&ToolInvocation{}, &OperationRecord{}); err != nil {
		return nil, fmt.Errorf("migrate audit schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) RecordInvocation(ctx context.Context, inv *ToolInvocation) error {
	return s.db.WithContext(ctx).Create(inv).Error
}

func (s *sqliteStore) RecordOperation(ctx context.Context, rec *OperationRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *sqliteStore) ListInvocations(ctx context.Context, limit int) ([]ToolInvocation, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []ToolInvocation
	err := s.db.WithContext(ctx).Order("id desc").Limit(limit).Find(&out).Error
	return out, err
}

func (s *sqliteStore) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}

// noopStore discards everything; used when auditing is disabled.
type noopStore struct{}

// NewNoop returns a store that records nothing.
func NewNoop() Store { return noopStore{} }

func (noopStore) RecordInvocation(context.Context, *ToolInvocation) error { return nil }
func (noopStore) RecordOperation(context.Context, *OperationRecord) error { return nil }
func (noopStore) ListInvocations(context.Context, int) ([]ToolInvocation, error) {
	return nil, nil
}
func (noopStore) Close() error { return nil }
