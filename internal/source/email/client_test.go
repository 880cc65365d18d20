package email

import (
	"io"
	"log/slog"
	"testing"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/assert"

	"github.com/emp3thy/unsubscriber/internal/model"
)

// recordFromRaw runs the body parser over a raw RFC 2822 message.
func recordFromRaw(t *testing.T, raw string) model.EmailRecord {
	t.Helper()

	rec := model.EmailRecord{}
	parseBody(&rec, []byte(raw), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return rec
}

func envelopeMsg(uid uint32, mailbox, host string) *imapclient.FetchMessageBuffer {
	return &imapclient.FetchMessageBuffer{
		UID: imap.UID(uid),
		Envelope: &imap.Envelope{
			From: []imap.Address{{Mailbox: mailbox, Host: host}},
		},
	}
}

func TestDeleteSearchValue(t *testing.T) {
	assert.Equal(t, "@x.example", deleteSearchValue("news@x.example"))
	assert.Equal(t, "no-at-sign", deleteSearchValue("no-at-sign"))
}

func TestMatchingUIDs_ExactSenderOnly(t *testing.T) {
	msgs := []*imapclient.FetchMessageBuffer{
		envelopeMsg(1, "news", "x.example"),
		// Substring hits from the server search must not survive the
		// envelope check.
		envelopeMsg(2, "goodnews", "x.example"),
		envelopeMsg(3, "News", "X.Example"),
	}

	uids := matchingUIDs(msgs, "news@x.example")
	assert.Equal(t, []imap.UID{1, 3}, uids)
}

func TestMatchingUIDs_CollapsesAliases(t *testing.T) {
	msgs := []*imapclient.FetchMessageBuffer{
		envelopeMsg(7, "user+deals", "x.example"),
		envelopeMsg(8, "user", "x.example"),
		envelopeMsg(9, "user+promo", "x.example"),
	}

	uids := matchingUIDs(msgs, "user@x.example")
	assert.Equal(t, []imap.UID{7, 8, 9}, uids)
}

func TestMatchingUIDs_SkipsMissingEnvelope(t *testing.T) {
	msgs := []*imapclient.FetchMessageBuffer{
		{UID: 4},
		{UID: 5, Envelope: &imap.Envelope{}},
	}

	assert.Empty(t, matchingUIDs(msgs, "news@x.example"))
}
