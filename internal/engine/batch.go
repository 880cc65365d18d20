package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/emp3thy/unsubscriber/internal/extract"
	"github.com/emp3thy/unsubscriber/internal/model"
	"github.com/emp3thy/unsubscriber/internal/store"
	"github.com/emp3thy/unsubscriber/internal/strategy"
)

// ChainExecutor runs the strategy chain for one sender's signals.
type ChainExecutor interface {
	Execute(ctx context.Context, sender string, sig extract.Signals) strategy.Result
}

// Target is one sender selected for an unsubscribe run, carrying the
// pooled signals from its scanned messages.
type Target struct {
	Sender  string
	Signals extract.Signals
}

// SenderResult is the terminal state of one sender in a batch run.
type SenderResult struct {
	Sender     string
	Result     strategy.Result
	Skipped    bool
	SkipReason string
}

// RunReport summarizes a batch run. Canceled is set when the context
// expired before every target was processed; Results holds the senders
// that did complete.
type RunReport struct {
	Results  []SenderResult
	Canceled bool
}

// Runner executes the strategy chain across a batch of senders with a
// bounded worker pool. Cancellation is cooperative: an in-flight
// sender finishes its chain, no new sender starts.
type Runner struct {
	chain   ChainExecutor
	store   store.Store
	log     *slog.Logger
	workers int
}

// NewRunner creates a Runner. workers should match the rate limiter's
// concurrency cap; more workers would only queue inside the limiter.
func NewRunner(chain ChainExecutor, st store.Store, workers int, log *slog.Logger) *Runner {
	if workers <= 0 {
		workers = 3
	}
	return &Runner{chain: chain, store: st, log: log, workers: workers}
}

// Run processes the targets. Protected senders are skipped before the
// chain runs. A sender whose chain exhausts every strategy is recorded
// on the must-delete list and marked historically unwanted, so future
// scans rank it higher and purge can clear its mail.
func (r *Runner) Run(ctx context.Context, targets []Target) (*RunReport, error) {
	sets, err := loadSenderSets(ctx, r.store)
	if err != nil {
		return nil, err
	}

	jobs := make(chan Target)
	var (
		mu     sync.Mutex
		report RunReport
		wg     sync.WaitGroup
	)

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tgt := range jobs {
				// A sender already queued when cancellation lands is
				// dropped here; no new chain starts after cancel.
				if ctx.Err() != nil {
					mu.Lock()
					report.Canceled = true
					mu.Unlock()
					continue
				}
				res := r.runSender(ctx, tgt, sets)
				mu.Lock()
				report.Results = append(report.Results, res)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, tgt := range targets {
		if ctx.Err() != nil {
			report.Canceled = true
			break
		}
		select {
		case jobs <- tgt:
		case <-ctx.Done():
			report.Canceled = true
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return &report, nil
}

func (r *Runner) runSender(ctx context.Context, tgt Target, sets *senderSets) SenderResult {
	if sets.IsProtected(tgt.Sender) {
		r.log.Info("skipping protected sender", "sender", tgt.Sender)
		return SenderResult{Sender: tgt.Sender, Skipped: true, SkipReason: "sender is protected"}
	}

	// Cancellation stops new senders, never an in-flight chain: the
	// strategies' own timeouts bound the calls, and the audit writes
	// below must land even when the batch was canceled mid-sender.
	ctx = context.WithoutCancel(ctx)

	res := r.chain.Execute(ctx, tgt.Sender, tgt.Signals)

	// Any attempted sender feeds the historical factor of future scans:
	// mail still arriving after an unsubscribe run should rank higher.
	if err := r.store.MarkUnwanted(ctx, tgt.Sender); err != nil {
		r.log.Warn("marking sender unwanted failed", "sender", tgt.Sender, "error", err)
	}
	if !res.Success {
		if err := r.store.UpsertMustDelete(ctx, tgt.Sender, res.Message); err != nil {
			r.log.Warn("recording must-delete entry failed", "sender", tgt.Sender, "error", err)
		}
	}
	return SenderResult{Sender: tgt.Sender, Result: res}
}

// HistoryStore adapts the persistence layer to the chain's attempt
// sink, filling in the generated fields on write.
type HistoryStore struct {
	store store.Store
}

func NewHistoryStore(st store.Store) *HistoryStore {
	return &HistoryStore{store: st}
}

func (h *HistoryStore) RecordAttempt(ctx context.Context, sender string, outcome model.AttemptOutcome) error {
	msg := outcome.Message
	if outcome.Pending {
		msg = "pending verification: " + msg
	}
	return h.store.RecordAttempt(ctx, model.ActionEntry{
		Sender:   sender,
		Strategy: outcome.Strategy,
		Success:  outcome.Success,
		Message:  msg,
	})
}

// Purger clears mailbox messages from every sender on the must-delete
// list.
type Purger struct {
	deleter Deleter
	store   store.Store
	log     *slog.Logger
}

func NewPurger(deleter Deleter, st store.Store, log *slog.Logger) *Purger {
	return &Purger{deleter: deleter, store: st, log: log}
}

// Purge deletes mail from each must-delete sender and removes the
// entry once the mailbox is clear. A failing sender stays on the list
// for the next run; the pass continues with the remaining senders.
// A sender protected since its entry was recorded is never touched:
// its stale entry is dropped instead.
func (p *Purger) Purge(ctx context.Context) (deleted int, err error) {
	sets, err := loadSenderSets(ctx, p.store)
	if err != nil {
		return 0, err
	}
	entries, err := p.store.ListMustDelete(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing must-delete entries: %w", err)
	}

	var attempted, failures int
	for _, entry := range entries {
		if ctx.Err() != nil {
			return deleted, ctx.Err()
		}
		if sets.IsProtected(entry.Sender) {
			p.log.Info("skipping protected sender, dropping stale entry", "sender", entry.Sender)
			if err := p.store.RemoveMustDelete(ctx, entry.Sender); err != nil {
				p.log.Warn("removing must-delete entry failed", "sender", entry.Sender, "error", err)
			}
			continue
		}
		attempted++
		n, err := p.deleter.DeleteFrom(ctx, entry.Sender)
		if err != nil {
			failures++
			p.log.Warn("purge failed for sender", "sender", entry.Sender, "error", err)
			continue
		}
		deleted += n
		p.log.Info("purged sender", "sender", entry.Sender, "messages", n)
		if err := p.store.RemoveMustDelete(ctx, entry.Sender); err != nil {
			p.log.Warn("removing must-delete entry failed", "sender", entry.Sender, "error", err)
		}
	}

	if failures > 0 {
		return deleted, fmt.Errorf("%d of %d sender(s) failed to purge", failures, attempted)
	}
	return deleted, nil
}
