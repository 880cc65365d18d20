package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emp3thy/unsubscriber/internal/model"
)

// newTestStore creates an in-memory store with all migrations applied.
func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("closing test store: %v", err)
		}
	})

	return s
}

func TestWhitelist(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddToWhitelist(ctx, "boss@work.example", "employer"))
	require.NoError(t, s.AddToWhitelist(ctx, "mom@family.example", ""))

	senders, err := s.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"boss@work.example", "mom@family.example"}, senders)

	// Re-adding is an update, not a duplicate.
	require.NoError(t, s.AddToWhitelist(ctx, "boss@work.example", "still employer"))
	senders, err = s.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Len(t, senders, 2)

	require.NoError(t, s.RemoveFromWhitelist(ctx, "boss@work.example"))
	senders, err = s.ListWhitelist(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mom@family.example"}, senders)
}

func TestUnwantedSenders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.MarkUnwanted(ctx, "spam@x.example"))
	require.NoError(t, s.MarkUnwanted(ctx, "spam@x.example"))

	senders, err := s.ListUnwanted(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"spam@x.example"}, senders)
}

func TestMustDelete_IdempotentUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMustDelete(ctx, "spam@x.example", "all strategies failed"))

	first, found, err := s.getMustDelete(ctx, "spam@x.example")
	require.NoError(t, err)
	require.True(t, found)

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.UpsertMustDelete(ctx, "spam@x.example", "failed again"))

	entries, err := s.ListMustDelete(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1, "repeat failures must not duplicate the entry")
	assert.Equal(t, "failed again", entries[0].Reason)
	assert.True(t, entries[0].MarkedAt.After(first.MarkedAt) || entries[0].MarkedAt.Equal(first.MarkedAt))
}

func TestMustDelete_Remove(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertMustDelete(ctx, "spam@x.example", "exhausted"))
	require.NoError(t, s.RemoveMustDelete(ctx, "spam@x.example"))

	_, found, err := s.getMustDelete(ctx, "spam@x.example")
	require.NoError(t, err)
	assert.False(t, found)

	entries, err := s.ListMustDelete(ctx)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestActionHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entries := []model.ActionEntry{
		{Sender: "a@x.example", Strategy: "header-link", Success: false, Message: "404"},
		{Sender: "a@x.example", Strategy: "direct-link", Success: true, Message: "ok"},
		{Sender: "b@x.example", Strategy: "mailto", Success: true, Message: "pending"},
	}
	for i, e := range entries {
		e.CreatedAt = time.Date(2025, 6, 1, 10, i, 0, 0, time.UTC)
		require.NoError(t, s.RecordAttempt(ctx, e))
	}

	all, err := s.ListAttempts(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Newest first.
	assert.Equal(t, "mailto", all[0].Strategy)

	forA, err := s.ListAttempts(ctx, "a@x.example", 10)
	require.NoError(t, err)
	require.Len(t, forA, 2)
	for _, e := range forA {
		assert.Equal(t, "a@x.example", e.Sender)
		assert.NotEmpty(t, e.ID, "missing ids are filled in")
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.runMigrations())

	var versions int
	require.NoError(t, s.db.Get(&versions, "SELECT COUNT(*) FROM schema_version"))
	assert.Equal(t, 1, versions)
}
