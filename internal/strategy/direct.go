package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/emp3thy/unsubscriber/internal/extract"
	"github.com/emp3thy/unsubscriber/internal/model"
)

// directTimeout caps a direct-link request. Unsubscribe landing pages
// are slower than header endpoints, so the budget is larger.
const directTimeout = 15 * time.Second

// maxBodyLinks bounds how many body links one execution tries.
const maxBodyLinks = 3

// DirectLink is the second-priority strategy: it follows
// unsubscribe-like links scraped from the message body. Some providers
// set a session cookie on a redirect hop before accepting the action,
// so each execution keeps a cookie jar.
type DirectLink struct{}

// NewDirectLink returns the direct-link strategy.
func NewDirectLink() *DirectLink {
	return &DirectLink{}
}

// Name implements Strategy.
func (d *DirectLink) Name() string { return NameDirectLink }

// CanHandle reports whether any body HTTP(S) link exists.
func (d *DirectLink) CanHandle(sig extract.Signals) bool {
	return len(sig.BodyLinks) > 0
}

// Execute tries up to three body links in discovery order: GET first,
// then POST when the server rejects the method. The first 2xx wins.
func (d *DirectLink) Execute(ctx context.Context, sig extract.Signals) model.AttemptOutcome {
	links := sig.BodyLinks
	if len(links) > maxBodyLinks {
		links = links[:maxBodyLinks]
	}
	if len(links) == 0 {
		return model.AttemptOutcome{
			Strategy: NameDirectLink,
			Message:  "no body links available",
		}
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return model.AttemptOutcome{
			Strategy: NameDirectLink,
			Message:  fmt.Sprintf("creating cookie jar: %v", err),
		}
	}
	client := &http.Client{
		Timeout:       directTimeout,
		CheckRedirect: checkRedirect,
		Jar:           jar,
	}

	var throttled *model.AttemptOutcome
	for _, link := range links {
		outcome := d.tryLink(ctx, client, link)
		if outcome.Success {
			return outcome
		}
		if outcome.Throttled && throttled == nil {
			throttled = &outcome
		}
	}

	if throttled != nil {
		return *throttled
	}
	return model.AttemptOutcome{
		Strategy: NameDirectLink,
		Message:  fmt.Sprintf("all %d body link(s) failed", len(links)),
	}
}

// tryLink issues a GET and, on 405, retries the same URL with POST.
func (d *DirectLink) tryLink(ctx context.Context, client *http.Client, link string) model.AttemptOutcome {
	outcome := d.request(ctx, client, http.MethodGet, link)
	if outcome.Message == methodNotAllowed {
		outcome = d.request(ctx, client, http.MethodPost, link)
		if outcome.Message == methodNotAllowed {
			outcome.Message = fmt.Sprintf("%s rejected both GET and POST (405)", link)
		}
	}
	return outcome
}

// methodNotAllowed is an internal marker for a 405 response.
const methodNotAllowed = "method not allowed"

func (d *DirectLink) request(ctx context.Context, client *http.Client, method, link string) model.AttemptOutcome {
	req, err := http.NewRequestWithContext(ctx, method, link, nil)
	if err != nil {
		return model.AttemptOutcome{
			Strategy: NameDirectLink,
			Message:  fmt.Sprintf("invalid unsubscribe URL %s: %v", link, err),
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return model.AttemptOutcome{
			Strategy: NameDirectLink,
			Message:  fmt.Sprintf("%s %s failed: %v", method, link, err),
		}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return model.AttemptOutcome{
			Strategy: NameDirectLink,
			Success:  true,
			Message:  fmt.Sprintf("%s to %s confirmed (%d)", method, link, resp.StatusCode),
		}
	case resp.StatusCode == http.StatusMethodNotAllowed:
		return model.AttemptOutcome{Strategy: NameDirectLink, Message: methodNotAllowed}
	case resp.StatusCode == http.StatusTooManyRequests:
		return throttleOutcome(NameDirectLink, resp)
	default:
		return model.AttemptOutcome{
			Strategy: NameDirectLink,
			Message:  fmt.Sprintf("%s %s answered %d", method, link, resp.StatusCode),
		}
	}
}
