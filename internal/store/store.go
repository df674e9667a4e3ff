// Package store is the durable record of projects, content, tasks, subtitles
// and copywriting sessions. It is the single source of truth for polling.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a partial unique index rejects an insert
	ErrConflict = errors.New("conflicting live record")
	// ErrStale is returned when a conditional write matched no row because
	// another writer moved the record first
	ErrStale = errors.New("record changed concurrently")
)

// Store wraps a GORM handle. A Store obtained inside Transaction is bound to
// that transaction.
type Store struct {
	db *gorm.DB
}

// New creates a Store over db
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn inside a single database transaction
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// forUpdate row-locks reads inside a transaction. SQLite ignores the clause.
func (s *Store) forUpdate(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func wrapGet(entity string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return fmt.Errorf("failed to fetch %s: %w", entity, err)
}

func wrapCreate(entity string, err error) error {
	if isDuplicate(err) {
		return fmt.Errorf("%s: %w", entity, ErrConflict)
	}
	return fmt.Errorf("failed to create %s: %w", entity, err)
}

// isDuplicate recognizes unique violations whether or not the dialector
// translated them into gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value violates unique constraint")
}
