package strategy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/emp3thy/unsubscriber/internal/extract"
	"github.com/emp3thy/unsubscriber/internal/model"
)

// oneClickBody is the fixed POST body required by RFC 8058.
const oneClickBody = "List-Unsubscribe=One-Click"

// headerTimeout caps a header-link request. Header endpoints are
// API-style and answer quickly.
const headerTimeout = 10 * time.Second

// HeaderLink is the highest-priority strategy: it targets the HTTP(S)
// URI advertised in the List-Unsubscribe header, using a one-click
// POST when the companion header allows it.
type HeaderLink struct {
	client *http.Client
}

// NewHeaderLink returns the header-link strategy with its own
// bounded-timeout HTTP client.
func NewHeaderLink() *HeaderLink {
	return &HeaderLink{
		client: &http.Client{
			Timeout:       headerTimeout,
			CheckRedirect: checkRedirect,
		},
	}
}

// Name implements Strategy.
func (h *HeaderLink) Name() string { return NameHeaderLink }

// CanHandle reports whether a header HTTP(S) URI exists.
func (h *HeaderLink) CanHandle(sig extract.Signals) bool {
	return len(sig.HeaderLinks) > 0
}

// Execute issues the unsubscribe request against the first header
// link: a one-click POST when advertised, otherwise a GET. Any 2xx
// response is success; errors and other statuses become a failed
// outcome.
func (h *HeaderLink) Execute(ctx context.Context, sig extract.Signals) model.AttemptOutcome {
	if len(sig.HeaderLinks) == 0 {
		return model.AttemptOutcome{
			Strategy: NameHeaderLink,
			Message:  "no header link available",
		}
	}
	target := sig.HeaderLinks[0]

	var req *http.Request
	var err error
	if sig.OneClick {
		req, err = http.NewRequestWithContext(
			ctx, http.MethodPost, target, strings.NewReader(oneClickBody),
		)
		if err == nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}
	} else {
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	}
	if err != nil {
		return model.AttemptOutcome{
			Strategy: NameHeaderLink,
			Message:  fmt.Sprintf("invalid unsubscribe URL %s: %v", target, err),
		}
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := h.client.Do(req)
	if err != nil {
		return model.AttemptOutcome{
			Strategy: NameHeaderLink,
			Message:  fmt.Sprintf("request to %s failed: %v", target, err),
		}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		method := http.MethodGet
		if sig.OneClick {
			method = "one-click POST"
		}
		return model.AttemptOutcome{
			Strategy: NameHeaderLink,
			Success:  true,
			Message:  fmt.Sprintf("%s to %s confirmed (%d)", method, target, resp.StatusCode),
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return throttleOutcome(NameHeaderLink, resp)
	default:
		return model.AttemptOutcome{
			Strategy: NameHeaderLink,
			Message:  fmt.Sprintf("%s answered %d", target, resp.StatusCode),
		}
	}
}
