package score

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emp3thy/unsubscriber/internal/model"
)

func day(n int) time.Time {
	return time.Date(2025, 6, n, 12, 0, 0, 0, time.UTC)
}

func TestGroup_Empty(t *testing.T) {
	agg := NewAggregator(newScorer(nil, nil))
	result := agg.Group(nil)
	assert.Empty(t, result.Aggregates)
	assert.Empty(t, result.Signals)
}

func TestGroup_FrequencyContributions(t *testing.T) {
	// Five read messages from one sender, no links: frequency
	// contributions 0,1,2,3,4 in scan order, total 10.
	var records []model.EmailRecord
	for i := 1; i <= 5; i++ {
		records = append(records, model.EmailRecord{
			Sender: "deals@shop.example",
			Date:   day(i),
		})
	}

	result := NewAggregator(newScorer(nil, nil)).Group(records)
	require.Len(t, result.Aggregates, 1)

	agg := result.Aggregates[0]
	assert.Equal(t, 10, agg.TotalScore)
	assert.Equal(t, 5, agg.TotalCount)
	assert.Equal(t, 0, agg.UnreadCount)
	assert.Equal(t, 2.0, agg.AverageScore)
	assert.Equal(t, day(5), agg.LastMessageDate)
	assert.False(t, agg.HasUnsubscribe)
}

func TestGroup_CountConservation(t *testing.T) {
	records := []model.EmailRecord{
		{Sender: "a@x.example", Date: day(1)},
		{Sender: "b@x.example", Date: day(2), Unread: true},
		{Sender: "a@x.example", Date: day(3)},
		{Sender: "c@x.example", Date: day(4)},
		{Sender: "b@x.example", Date: day(5)},
	}

	result := NewAggregator(newScorer(nil, nil)).Group(records)

	total := 0
	for _, agg := range result.Aggregates {
		total += agg.TotalCount
		assert.GreaterOrEqual(t, agg.TotalCount, agg.UnreadCount)
		assert.GreaterOrEqual(t, agg.UnreadCount, 0)
	}
	assert.Equal(t, len(records), total)
}

func TestGroup_SortedByScoreDescending(t *testing.T) {
	records := []model.EmailRecord{
		{Sender: "quiet@x.example", Date: day(1)},
		{Sender: "busy@x.example", Date: day(2), Unread: true},
		{Sender: "busy@x.example", Date: day(3), Unread: true},
		{Sender: "busy@x.example", Date: day(4), Unread: true},
	}

	result := NewAggregator(newScorer(nil, nil)).Group(records)
	require.Len(t, result.Aggregates, 2)
	assert.Equal(t, "busy@x.example", result.Aggregates[0].Sender)
	assert.Equal(t, "quiet@x.example", result.Aggregates[1].Sender)
}

func TestGroup_TiesKeepEncounterOrder(t *testing.T) {
	records := []model.EmailRecord{
		{Sender: "first@x.example", Date: day(1), Unread: true},
		{Sender: "second@x.example", Date: day(2), Unread: true},
		{Sender: "third@x.example", Date: day(3), Unread: true},
	}

	result := NewAggregator(newScorer(nil, nil)).Group(records)
	require.Len(t, result.Aggregates, 3)
	assert.Equal(t, "first@x.example", result.Aggregates[0].Sender)
	assert.Equal(t, "second@x.example", result.Aggregates[1].Sender)
	assert.Equal(t, "third@x.example", result.Aggregates[2].Sender)
}

func TestGroup_SampleLinksCappedAndUnique(t *testing.T) {
	var records []model.EmailRecord
	for i := 0; i < 5; i++ {
		records = append(records, model.EmailRecord{
			Sender: "news@x.example",
			Date:   day(i + 1),
			BodyUnsubscribeLinks: []string{
				fmt.Sprintf("https://x.example/unsub/%d", i),
				"https://x.example/unsub/shared",
			},
		})
	}

	result := NewAggregator(newScorer(nil, nil)).Group(records)
	require.Len(t, result.Aggregates, 1)

	agg := result.Aggregates[0]
	assert.True(t, agg.HasUnsubscribe)
	assert.LessOrEqual(t, len(agg.SampleLinks), 3)
	seen := make(map[string]bool)
	for _, link := range agg.SampleLinks {
		assert.False(t, seen[link], "duplicate sample link %s", link)
		seen[link] = true
	}
}

func TestGroup_ProtectedSender(t *testing.T) {
	var records []model.EmailRecord
	for i := 0; i < 10; i++ {
		records = append(records, model.EmailRecord{
			Sender:               "boss@work.example",
			Date:                 day(i + 1),
			Unread:               true,
			BodyUnsubscribeLinks: []string{"https://x.example/unsubscribe"},
		})
	}

	result := NewAggregator(newScorer([]string{"boss@work.example"}, nil)).Group(records)
	require.Len(t, result.Aggregates, 1)

	agg := result.Aggregates[0]
	assert.True(t, agg.Protected)
	assert.Equal(t, -10, agg.TotalScore)
	assert.Equal(t, -1.0, agg.AverageScore)
}

func TestGroup_MergesSignalsPerSender(t *testing.T) {
	records := []model.EmailRecord{
		{
			Sender:            "news@x.example",
			Date:              day(1),
			HeaderUnsubscribe: "<https://x.example/unsub>",
		},
		{
			Sender:               "news@x.example",
			Date:                 day(2),
			BodyUnsubscribeLinks: []string{"mailto:unsub@x.example"},
		},
	}

	result := NewAggregator(newScorer(nil, nil)).Group(records)
	sig, ok := result.Signals["news@x.example"]
	require.True(t, ok)
	assert.Equal(t, []string{"https://x.example/unsub"}, sig.HeaderLinks)
	assert.Equal(t, []string{"mailto:unsub@x.example"}, sig.MailtoLinks)
}
