package store

import (
	"context"

	"github.com/emp3thy/unsubscriber/internal/model"
)

// Store defines the persistence interface for the whitelist, the
// historical-unwanted senders, the must-delete list, and the attempt
// history.
type Store interface {
	// === Whitelist (protected senders) ===

	AddToWhitelist(ctx context.Context, sender, note string) error
	RemoveFromWhitelist(ctx context.Context, sender string) error
	ListWhitelist(ctx context.Context) ([]string, error)

	// === Historical unwanted senders ===

	MarkUnwanted(ctx context.Context, sender string) error
	ListUnwanted(ctx context.Context) ([]string, error)

	// === Attempt history (append-only audit trail) ===

	RecordAttempt(ctx context.Context, entry model.ActionEntry) error
	ListAttempts(ctx context.Context, sender string, limit int) ([]model.ActionEntry, error)

	// === Must-delete list ===

	// UpsertMustDelete is idempotent: a repeat failure for the same
	// sender refreshes the reason and timestamp rather than duplicating.
	UpsertMustDelete(ctx context.Context, sender, reason string) error
	ListMustDelete(ctx context.Context) ([]model.MustDeleteEntry, error)
	RemoveMustDelete(ctx context.Context, sender string) error

	Close() error
}
