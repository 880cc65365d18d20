// Package strategy implements the unsubscribe strategy chain: a
// fixed-priority sequence of mechanisms (List-Unsubscribe header link,
// direct body link, mailto) tried for one sender until one succeeds or
// every applicable strategy fails.
package strategy

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/emp3thy/unsubscriber/internal/extract"
	"github.com/emp3thy/unsubscriber/internal/model"
)

// Strategy names, also used as the audit-trail strategy column.
const (
	NameHeaderLink = "header-link"
	NameDirectLink = "direct-link"
	NameMailto     = "mailto"
)

// userAgent identifies the tool on outbound unsubscribe requests.
const userAgent = "unsubscriber/1.0 (automated list-unsubscribe)"

// maxRedirects bounds redirect following on unsubscribe requests.
const maxRedirects = 5

// Strategy is one unsubscribe mechanism. CanHandle is a pure
// predicate; Execute may perform network or mail I/O and must fold
// every error into the returned outcome rather than failing.
type Strategy interface {
	Name() string
	CanHandle(sig extract.Signals) bool
	Execute(ctx context.Context, sig extract.Signals) model.AttemptOutcome
}

// checkRedirect returns a policy func capping redirect hops.
func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return http.ErrUseLastResponse
	}
	return nil
}

// throttleOutcome builds the failed outcome for a 429 response,
// carrying the parsed Retry-After so the chain can back off globally.
func throttleOutcome(name string, resp *http.Response) model.AttemptOutcome {
	return model.AttemptOutcome{
		Strategy:   name,
		Message:    "rate limited by server (429)",
		Throttled:  true,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
	}
}

// parseRetryAfter reads a Retry-After header value in seconds form.
// HTTP-date form and absent values yield zero, which callers map to
// the default back-off.
func parseRetryAfter(value string) time.Duration {
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
