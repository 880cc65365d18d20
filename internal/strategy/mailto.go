package strategy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/emp3thy/unsubscriber/internal/extract"
	"github.com/emp3thy/unsubscriber/internal/model"
)

// MailSender delivers an outbound message through the user's own
// authenticated account.
type MailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// Mailto is the last-resort strategy: it sends an unsubscribe email to
// the address in a mailto URI. Success is optimistic, since the remote
// party never confirms processing, so outcomes carry Pending and must
// be presented as weaker than an HTTP confirmation.
type Mailto struct {
	sender MailSender
}

// NewMailto returns the mailto strategy using the given outbound sender.
func NewMailto(sender MailSender) *Mailto {
	return &Mailto{sender: sender}
}

// Name implements Strategy.
func (m *Mailto) Name() string { return NameMailto }

// CanHandle reports whether any mailto URI exists (header or body).
func (m *Mailto) CanHandle(sig extract.Signals) bool {
	return len(sig.MailtoLinks) > 0
}

// Execute parses the first mailto URI and sends the unsubscribe mail.
func (m *Mailto) Execute(ctx context.Context, sig extract.Signals) model.AttemptOutcome {
	if len(sig.MailtoLinks) == 0 {
		return model.AttemptOutcome{
			Strategy: NameMailto,
			Message:  "no mailto link available",
		}
	}

	to, subject, body, err := ParseMailto(sig.MailtoLinks[0])
	if err != nil {
		return model.AttemptOutcome{
			Strategy: NameMailto,
			Message:  fmt.Sprintf("invalid mailto URI: %v", err),
		}
	}

	if err := m.sender.Send(ctx, to, subject, body); err != nil {
		return model.AttemptOutcome{
			Strategy: NameMailto,
			Message:  fmt.Sprintf("sending unsubscribe mail to %s: %v", to, err),
		}
	}

	return model.AttemptOutcome{
		Strategy: NameMailto,
		Success:  true,
		Pending:  true,
		Message:  fmt.Sprintf("unsubscribe mail sent to %s, pending verification", to),
	}
}

// ParseMailto extracts the recipient, subject, and body from a mailto
// URI. Subject defaults to "unsubscribe" when the URI carries none.
func ParseMailto(uri string) (to, subject, body string, err error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return "", "", "", fmt.Errorf("parsing %q: %w", uri, err)
	}
	if !strings.EqualFold(u.Scheme, "mailto") {
		return "", "", "", fmt.Errorf("%q is not a mailto URI", uri)
	}

	to = strings.TrimSpace(u.Opaque)
	if to == "" {
		return "", "", "", fmt.Errorf("mailto URI %q has no recipient", uri)
	}

	q := u.Query()
	subject = q.Get("subject")
	if subject == "" {
		subject = "unsubscribe"
	}
	body = q.Get("body")
	if body == "" {
		body = "Please unsubscribe me from this mailing list."
	}
	return to, subject, body, nil
}
