// Package extract discovers candidate unsubscribe signals in a parsed
// email: List-Unsubscribe header URIs, unsubscribe-like HTML anchors,
// and plain-text link patterns. It performs no network access and never
// fails on malformed input.
package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/emp3thy/unsubscriber/internal/model"
)

// maxSignals caps the combined number of links returned per message.
const maxSignals = 5

// keywords are the case-insensitive markers an anchor or text link must
// contain to count as an unsubscribe candidate.
var keywords = []string{
	"unsubscribe",
	"opt-out",
	"opt out",
	"remove",
	"stop receiving",
	"cancel subscription",
}

var (
	// textLinkRe matches http(s) URLs in plain text; candidates are then
	// filtered by keyword.
	textLinkRe = regexp.MustCompile(`(?i)https?://[^\s<>"']+`)

	// textMailtoRe matches mailto URIs (with optional query) in plain text.
	textMailtoRe = regexp.MustCompile(`(?i)mailto:[\w.+%-]+@[\w.-]+\.[a-z]{2,}(?:\?[^\s<>"']*)?`)
)

// Signals is the set of candidate unsubscribe mechanisms found in one
// message, in discovery order: header first, then HTML body, then text.
type Signals struct {
	// HeaderLinks are HTTP(S) URIs from the List-Unsubscribe header.
	HeaderLinks []string

	// BodyLinks are HTTP(S) URIs discovered in the message body.
	BodyLinks []string

	// MailtoLinks are mailto URIs from either the header or the body.
	MailtoLinks []string

	// OneClick reports that the header links support RFC 8058 one-click
	// POST semantics.
	OneClick bool
}

// HasAny reports whether any candidate signal was found.
func (s Signals) HasAny() bool {
	return len(s.HeaderLinks) > 0 || len(s.BodyLinks) > 0 || len(s.MailtoLinks) > 0
}

// Merge combines two signal sets, preserving s's order, dropping
// duplicates, and OR-ing the one-click flag. Used to pool the signals
// of all messages from one sender before running the strategy chain.
func (s Signals) Merge(other Signals) Signals {
	merged := Signals{OneClick: s.OneClick || other.OneClick}
	seen := make(map[string]bool)
	appendAll := func(dst *[]string, lists ...[]string) {
		for _, list := range lists {
			for _, u := range list {
				if !seen[u] {
					seen[u] = true
					*dst = append(*dst, u)
				}
			}
		}
	}
	appendAll(&merged.HeaderLinks, s.HeaderLinks, other.HeaderLinks)
	appendAll(&merged.BodyLinks, s.BodyLinks, other.BodyLinks)
	appendAll(&merged.MailtoLinks, s.MailtoLinks, other.MailtoLinks)
	return merged
}

// Extract collects the unsubscribe signals of one record. Header URIs
// come first, then body links, preserving discovery order; duplicates
// are dropped and the combined set is capped at 5 entries.
func Extract(rec model.EmailRecord) Signals {
	var sig Signals

	seen := make(map[string]bool)
	total := 0
	add := func(dst *[]string, uri string) {
		uri = strings.TrimSpace(uri)
		if uri == "" || seen[uri] || total >= maxSignals {
			return
		}
		seen[uri] = true
		total++
		*dst = append(*dst, uri)
	}

	headerHTTP, headerMailto := ParseHeader(rec.HeaderUnsubscribe)
	for _, u := range headerHTTP {
		add(&sig.HeaderLinks, u)
	}
	for _, u := range headerMailto {
		add(&sig.MailtoLinks, u)
	}

	for _, u := range rec.BodyUnsubscribeLinks {
		if isMailto(u) {
			add(&sig.MailtoLinks, u)
		} else {
			add(&sig.BodyLinks, u)
		}
	}

	sig.OneClick = rec.HeaderUnsubscribePost && len(sig.HeaderLinks) > 0
	return sig
}

// ParseHeader splits a raw List-Unsubscribe value into HTTP(S) and
// mailto URIs. The header holds one or more comma-separated,
// angle-bracket-delimited URIs; malformed fragments are skipped.
func ParseHeader(value string) (httpLinks, mailtoLinks []string) {
	if value == "" {
		return nil, nil
	}
	for _, part := range strings.Split(value, ",") {
		uri := strings.Trim(strings.TrimSpace(part), "<>")
		uri = strings.TrimSpace(uri)
		switch {
		case isHTTP(uri):
			httpLinks = append(httpLinks, uri)
		case isMailto(uri):
			mailtoLinks = append(mailtoLinks, uri)
		}
	}
	return httpLinks, mailtoLinks
}

// ScanBody scans the HTML and plain-text bodies of a message and
// returns unsubscribe-like links, HTML anchors first.
func ScanBody(htmlBody, textBody string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, u := range append(ScanHTML(htmlBody), ScanText(textBody)...) {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	return out
}

// ScanHTML walks anchor elements and returns the targets whose href or
// visible text contains an unsubscribe keyword. A parse failure yields
// an empty result.
func ScanHTML(htmlBody string) []string {
	if htmlBody == "" {
		return nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		if containsKeyword(href) || containsKeyword(sel.Text()) {
			links = append(links, strings.TrimSpace(href))
		}
	})
	return links
}

// ScanText applies the plain-text patterns: http(s) URLs and mailto
// URIs that carry an unsubscribe keyword.
func ScanText(textBody string) []string {
	if textBody == "" {
		return nil
	}
	var links []string
	for _, m := range textLinkRe.FindAllString(textBody, -1) {
		m = strings.TrimRight(m, ".,;:)")
		if containsKeyword(m) {
			links = append(links, m)
		}
	}
	for _, m := range textMailtoRe.FindAllString(textBody, -1) {
		if containsKeyword(m) {
			links = append(links, m)
		}
	}
	return links
}

func containsKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isHTTP(uri string) bool {
	lower := strings.ToLower(uri)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func isMailto(uri string) bool {
	return strings.HasPrefix(strings.ToLower(uri), "mailto:")
}
