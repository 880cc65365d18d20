package model

import "time"

// EmailRecord is one parsed message as produced by the mail source.
// Sender is always a normalized address (lowercase, address-only);
// records whose sender cannot be parsed are dropped by the source.
type EmailRecord struct {
	Sender  string
	Subject string
	Date    time.Time
	Unread  bool
	UID     uint32

	// HeaderUnsubscribe is the raw List-Unsubscribe header value,
	// possibly containing several bracket-delimited URIs.
	HeaderUnsubscribe string

	// HeaderUnsubscribePost reports whether the companion
	// List-Unsubscribe-Post header advertised one-click POST support.
	HeaderUnsubscribePost bool

	// BodyUnsubscribeLinks holds unsubscribe-like URIs discovered in the
	// message body, HTML anchors first, then plain-text matches.
	BodyUnsubscribeLinks []string
}

// Breakdown maps contributing factor names to their point values.
// The "total" entry always equals the sum of the other entries, except
// for protected senders where the reserved sentinel applies.
type Breakdown map[string]int

// ProtectedScore is the sentinel returned for whitelisted senders.
// It short-circuits every other scoring factor.
const ProtectedScore = -1

// Total returns the breakdown's total entry.
func (b Breakdown) Total() int { return b["total"] }

// SenderAggregate is the per-sender rollup of one scan.
type SenderAggregate struct {
	Sender          string
	TotalCount      int
	UnreadCount     int
	TotalScore      int
	AverageScore    float64
	Protected       bool
	HasUnsubscribe  bool
	SampleLinks     []string // at most 3, deduplicated
	LastMessageDate time.Time
}

// AttemptOutcome is the result of a single strategy execution. It is
// never mutated after creation.
type AttemptOutcome struct {
	Success  bool
	Message  string
	Strategy string

	// Pending marks an optimistic success that cannot be independently
	// verified (mailto): the remote party may still ignore the request.
	Pending bool

	// Throttled marks a failure caused by a server rate-limit response;
	// RetryAfter is the server-requested pause, zero when unspecified.
	Throttled  bool
	RetryAfter time.Duration
}

// MustDeleteEntry records that a sender's unsubscribe chain was
// exhausted without success, pending bulk deletion.
type MustDeleteEntry struct {
	Sender   string    `db:"sender"`
	Reason   string    `db:"reason"`
	MarkedAt time.Time `db:"marked_at"`
}

// ActionEntry is one persisted row of the attempt history.
type ActionEntry struct {
	ID        string    `db:"id"`
	Sender    string    `db:"sender"`
	Strategy  string    `db:"strategy"`
	Success   bool      `db:"success"`
	Message   string    `db:"message"`
	CreatedAt time.Time `db:"created_at"`
}
