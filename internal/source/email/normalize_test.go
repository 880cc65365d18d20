package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeSender(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain address", "news@example.com", "news@example.com"},
		{"display name", "Example News <News@Example.COM>", "news@example.com"},
		{"plus alias stripped", "user+deals@example.com", "user@example.com"},
		{"dots kept", "first.last@example.com", "first.last@example.com"},
		{"address list falls back to first parseable", "a@x.example, b@y.example", "a@x.example"},
		{"empty input", "", ""},
		{"unparseable", "<<<not an address", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeSender(tt.input))
		})
	}
}

func TestParseBody_ReadsUnsubscribeHeaders(t *testing.T) {
	// parseBody is exercised through a raw RFC 2822 message; malformed
	// content must degrade to a partial record, never an error.
	raw := "From: Example News <news@example.com>\r\n" +
		"To: me@example.com\r\n" +
		"Subject: weekly deals\r\n" +
		"List-Unsubscribe: <https://example.com/unsub>, <mailto:unsub@example.com>\r\n" +
		"List-Unsubscribe-Post: List-Unsubscribe=One-Click\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Stop receiving these: https://example.com/unsubscribe?u=1\r\n"

	rec := recordFromRaw(t, raw)

	assert.Equal(t, "<https://example.com/unsub>, <mailto:unsub@example.com>", rec.HeaderUnsubscribe)
	assert.True(t, rec.HeaderUnsubscribePost)
	assert.Equal(t, []string{"https://example.com/unsubscribe?u=1"}, rec.BodyUnsubscribeLinks)
}

func TestParseBody_HTMLAnchors(t *testing.T) {
	raw := "From: news@example.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		`<html><body><a href="https://example.com/opt-out">Unsubscribe</a></body></html>` + "\r\n"

	rec := recordFromRaw(t, raw)
	assert.Equal(t, []string{"https://example.com/opt-out"}, rec.BodyUnsubscribeLinks)
}

func TestParseBody_GarbageInput(t *testing.T) {
	rec := recordFromRaw(t, "\x00\x01 not a message at all")
	assert.Empty(t, rec.HeaderUnsubscribe)
	assert.False(t, rec.HeaderUnsubscribePost)
}
