// Package engine orchestrates the pipeline: fetch records, score and
// group them, run the unsubscribe strategy chain per selected sender,
// and bulk-delete mail from senders the chain gave up on.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emp3thy/unsubscriber/internal/model"
	"github.com/emp3thy/unsubscriber/internal/score"
	"github.com/emp3thy/unsubscriber/internal/store"
)

// RecordSource supplies parsed email records for a scan. The engine
// never opens network connections itself.
type RecordSource interface {
	FetchRecords(ctx context.Context, since time.Time, limit int) ([]model.EmailRecord, error)
}

// Deleter bulk-deletes a sender's messages from the mailbox.
type Deleter interface {
	DeleteFrom(ctx context.Context, sender string) (int, error)
}

// senderSets is the per-scan snapshot of the protection and
// historical-unwanted oracles. Loading the sets up front makes oracle
// lookups infallible during scoring and surfaces store errors at scan
// start.
type senderSets struct {
	protected map[string]bool
	unwanted  map[string]bool
}

func (s *senderSets) IsProtected(sender string) bool       { return s.protected[sender] }
func (s *senderSets) WasMarkedUnwanted(sender string) bool { return s.unwanted[sender] }

// loadSenderSets snapshots the whitelist and unwanted senders.
func loadSenderSets(ctx context.Context, st store.Store) (*senderSets, error) {
	whitelist, err := st.ListWhitelist(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading whitelist: %w", err)
	}
	unwanted, err := st.ListUnwanted(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading unwanted senders: %w", err)
	}

	sets := &senderSets{
		protected: make(map[string]bool, len(whitelist)),
		unwanted:  make(map[string]bool, len(unwanted)),
	}
	for _, s := range whitelist {
		sets.protected[s] = true
	}
	for _, s := range unwanted {
		sets.unwanted[s] = true
	}
	return sets, nil
}

// Scanner runs one mailbox scan and produces the ranked sender list.
type Scanner struct {
	source RecordSource
	store  store.Store
	log    *slog.Logger
	days   int
	limit  int
}

// NewScanner creates a Scanner. days bounds how far back the scan
// reaches; limit caps the number of fetched messages.
func NewScanner(source RecordSource, st store.Store, days, limit int, log *slog.Logger) *Scanner {
	if days <= 0 {
		days = 30
	}
	return &Scanner{source: source, store: st, log: log, days: days, limit: limit}
}

// Scan fetches records, scores them against the current oracle
// snapshot, and returns the ranked aggregates with the pooled
// unsubscribe signals per sender.
func (s *Scanner) Scan(ctx context.Context) (*score.ScanResult, error) {
	sets, err := loadSenderSets(ctx, s.store)
	if err != nil {
		return nil, err
	}

	since := time.Now().AddDate(0, 0, -s.days)
	records, err := s.source.FetchRecords(ctx, since, s.limit)
	if err != nil {
		return nil, fmt.Errorf("fetching records: %w", err)
	}

	result := score.NewAggregator(score.NewScorer(sets)).Group(records)
	s.log.Info("scan complete",
		"messages", len(records),
		"senders", len(result.Aggregates),
	)
	return result, nil
}
