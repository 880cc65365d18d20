package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/emp3thy/unsubscriber/internal/model"
)

// SQLiteStore implements the Store interface using a local SQLite database.
type SQLiteStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// AddToWhitelist marks a sender as protected; re-adding refreshes the note.
func (s *SQLiteStore) AddToWhitelist(ctx context.Context, sender, note string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO whitelist (sender, note) VALUES (?, ?)
		ON CONFLICT(sender) DO UPDATE SET note = excluded.note`,
		sender, note,
	)
	if err != nil {
		return fmt.Errorf("adding %s to whitelist: %w", sender, err)
	}
	return nil
}

// RemoveFromWhitelist deletes a sender's protection.
func (s *SQLiteStore) RemoveFromWhitelist(ctx context.Context, sender string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM whitelist WHERE sender = ?", sender)
	if err != nil {
		return fmt.Errorf("removing %s from whitelist: %w", sender, err)
	}
	return nil
}

// ListWhitelist returns all protected senders.
func (s *SQLiteStore) ListWhitelist(ctx context.Context) ([]string, error) {
	var senders []string
	err := s.db.SelectContext(ctx, &senders, "SELECT sender FROM whitelist ORDER BY sender")
	if err != nil {
		return nil, fmt.Errorf("listing whitelist: %w", err)
	}
	return senders, nil
}

// MarkUnwanted records that the user explicitly marked a sender unwanted.
func (s *SQLiteStore) MarkUnwanted(ctx context.Context, sender string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO unwanted_senders (sender) VALUES (?)
		ON CONFLICT(sender) DO NOTHING`,
		sender,
	)
	if err != nil {
		return fmt.Errorf("marking %s unwanted: %w", sender, err)
	}
	return nil
}

// ListUnwanted returns all senders previously marked unwanted.
func (s *SQLiteStore) ListUnwanted(ctx context.Context) ([]string, error) {
	var senders []string
	err := s.db.SelectContext(ctx, &senders, "SELECT sender FROM unwanted_senders ORDER BY sender")
	if err != nil {
		return nil, fmt.Errorf("listing unwanted senders: %w", err)
	}
	return senders, nil
}

// RecordAttempt appends one attempt to the audit trail. A missing ID
// or timestamp is filled in.
func (s *SQLiteStore) RecordAttempt(ctx context.Context, entry model.ActionEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_history (id, sender, strategy, success, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Sender, entry.Strategy, entry.Success, entry.Message, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("recording attempt for %s: %w", entry.Sender, err)
	}
	return nil
}

// ListAttempts returns the most recent attempts, optionally filtered
// by sender, newest first.
func (s *SQLiteStore) ListAttempts(ctx context.Context, sender string, limit int) ([]model.ActionEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, sender, strategy, success, message, created_at
		FROM action_history`
	args := []any{}
	if sender != "" {
		query += " WHERE sender = ?"
		args = append(args, sender)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	var entries []model.ActionEntry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	return entries, nil
}

// UpsertMustDelete records that a sender's chain was exhausted. A
// repeat failure refreshes the reason and timestamp in place.
func (s *SQLiteStore) UpsertMustDelete(ctx context.Context, sender, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO must_delete (sender, reason, marked_at) VALUES (?, ?, ?)
		ON CONFLICT(sender) DO UPDATE SET
			reason = excluded.reason,
			marked_at = excluded.marked_at`,
		sender, reason, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upserting must-delete for %s: %w", sender, err)
	}
	return nil
}

// ListMustDelete returns every pending must-delete entry, oldest first.
func (s *SQLiteStore) ListMustDelete(ctx context.Context) ([]model.MustDeleteEntry, error) {
	var entries []model.MustDeleteEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT sender, reason, marked_at FROM must_delete ORDER BY marked_at")
	if err != nil {
		return nil, fmt.Errorf("listing must-delete entries: %w", err)
	}
	return entries, nil
}

// RemoveMustDelete clears a sender's entry once its mail was deleted.
func (s *SQLiteStore) RemoveMustDelete(ctx context.Context, sender string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM must_delete WHERE sender = ?", sender)
	if err != nil {
		return fmt.Errorf("removing must-delete for %s: %w", sender, err)
	}
	return nil
}

// getMustDelete looks up one sender's entry; found is false when absent.
func (s *SQLiteStore) getMustDelete(ctx context.Context, sender string) (model.MustDeleteEntry, bool, error) {
	var entry model.MustDeleteEntry
	err := s.db.GetContext(ctx, &entry,
		"SELECT sender, reason, marked_at FROM must_delete WHERE sender = ?", sender)
	if errors.Is(err, sql.ErrNoRows) {
		return model.MustDeleteEntry{}, false, nil
	}
	if err != nil {
		return model.MustDeleteEntry{}, false, fmt.Errorf("reading must-delete for %s: %w", sender, err)
	}
	return entry, true, nil
}
