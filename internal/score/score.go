// Package score computes per-message unwantedness scores and rolls
// them up into ranked per-sender aggregates.
package score

import (
	"sort"

	"github.com/emp3thy/unsubscriber/internal/extract"
	"github.com/emp3thy/unsubscriber/internal/model"
)

// Factor point values.
const (
	unreadPoints     = 1
	hasSignalPoints  = 1
	historicalPoints = 5
)

// Oracle answers membership questions about a sender. Implementations
// are expected to be cheap; the engine snapshots store state into
// in-memory sets before a scan.
type Oracle interface {
	// IsProtected reports whether the user whitelisted the sender.
	IsProtected(sender string) bool

	// WasMarkedUnwanted reports whether the user previously marked the
	// sender unwanted.
	WasMarkedUnwanted(sender string) bool
}

// Scorer computes the unwantedness score of a single message.
type Scorer struct {
	oracle Oracle
}

// NewScorer returns a Scorer backed by the given oracle.
func NewScorer(oracle Oracle) *Scorer {
	return &Scorer{oracle: oracle}
}

// Score computes the message's score and a breakdown of contributing
// factors. frequency is the 1-based position of this message among the
// sender's messages in the current scan; the first contributes nothing.
//
// A protected sender short-circuits every other factor and scores the
// reserved sentinel: it must never accrue a positive score or become
// eligible for any destructive action.
func (s *Scorer) Score(rec model.EmailRecord, frequency int) (int, model.Breakdown) {
	if s.oracle.IsProtected(rec.Sender) {
		return model.ProtectedScore, model.Breakdown{
			"protected": model.ProtectedScore,
			"total":     model.ProtectedScore,
		}
	}

	breakdown := model.Breakdown{}
	total := 0

	if rec.Unread {
		breakdown["unread"] = unreadPoints
		total += unreadPoints
	}
	if extract.Extract(rec).HasAny() {
		breakdown["has_unsubscribe"] = hasSignalPoints
		total += hasSignalPoints
	}
	if freq := frequency - 1; freq > 0 {
		breakdown["frequency"] = freq
		total += freq
	}
	if s.oracle.WasMarkedUnwanted(rec.Sender) {
		breakdown["historical"] = historicalPoints
		total += historicalPoints
	}

	breakdown["total"] = total
	return total, breakdown
}

// maxSampleLinks caps the representative links kept per aggregate.
const maxSampleLinks = 3

// ScanResult holds the ranked aggregates of one scan together with the
// pooled unsubscribe signals per sender, which the strategy chain
// consumes.
type ScanResult struct {
	Aggregates []model.SenderAggregate
	Signals    map[string]extract.Signals
}

// Aggregate looks up a sender's aggregate in the result.
func (r *ScanResult) Aggregate(sender string) (model.SenderAggregate, bool) {
	for _, agg := range r.Aggregates {
		if agg.Sender == sender {
			return agg, true
		}
	}
	return model.SenderAggregate{}, false
}

// Aggregator groups scored records by sender.
type Aggregator struct {
	scorer *Scorer
}

// NewAggregator returns an Aggregator using the given scorer.
func NewAggregator(scorer *Scorer) *Aggregator {
	return &Aggregator{scorer: scorer}
}

// Group partitions records by sender, scores each message with its
// running per-sender frequency, and emits one aggregate per sender,
// sorted by total score descending. The sort is stable: ties keep
// first-encounter order. Empty input yields empty output.
func (a *Aggregator) Group(records []model.EmailRecord) *ScanResult {
	result := &ScanResult{Signals: make(map[string]extract.Signals)}

	index := make(map[string]int)
	counts := make(map[string]int)

	for _, rec := range records {
		counts[rec.Sender]++
		total, _ := a.scorer.Score(rec, counts[rec.Sender])
		sig := extract.Extract(rec)

		i, ok := index[rec.Sender]
		if !ok {
			i = len(result.Aggregates)
			index[rec.Sender] = i
			result.Aggregates = append(result.Aggregates, model.SenderAggregate{
				Sender:          rec.Sender,
				LastMessageDate: rec.Date,
			})
		}

		agg := &result.Aggregates[i]
		agg.TotalCount++
		if rec.Unread {
			agg.UnreadCount++
		}
		agg.TotalScore += total
		if total == model.ProtectedScore {
			agg.Protected = true
		}
		if sig.HasAny() {
			agg.HasUnsubscribe = true
		}
		if rec.Date.After(agg.LastMessageDate) {
			agg.LastMessageDate = rec.Date
		}

		result.Signals[rec.Sender] = result.Signals[rec.Sender].Merge(sig)
	}

	for i := range result.Aggregates {
		agg := &result.Aggregates[i]
		agg.AverageScore = float64(agg.TotalScore) / float64(agg.TotalCount)
		agg.SampleLinks = sampleLinks(result.Signals[agg.Sender])
	}

	sort.SliceStable(result.Aggregates, func(i, j int) bool {
		return result.Aggregates[i].TotalScore > result.Aggregates[j].TotalScore
	})

	return result
}

// sampleLinks picks up to three unique representative links in
// discovery order: header, body, mailto.
func sampleLinks(sig extract.Signals) []string {
	var links []string
	seen := make(map[string]bool)
	for _, list := range [][]string{sig.HeaderLinks, sig.BodyLinks, sig.MailtoLinks} {
		for _, u := range list {
			if seen[u] {
				continue
			}
			if len(links) == maxSampleLinks {
				return links
			}
			seen[u] = true
			links = append(links, u)
		}
	}
	return links
}
