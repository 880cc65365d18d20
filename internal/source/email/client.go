// Package email implements the IMAP and SMTP collaborators: it turns
// mailbox messages into parsed records for scoring, bulk-deletes mail
// from given-up senders, and sends the mailto strategy's outbound
// unsubscribe messages.
package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-message/mail"

	"github.com/emp3thy/unsubscriber/internal/extract"
	"github.com/emp3thy/unsubscriber/internal/model"
)

// AuthError indicates that authentication failed for the mail account.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error: %s", e.Message)
}

// IMAPClient wraps go-imap v2 for connecting to and querying IMAP servers.
type IMAPClient struct {
	host     string
	port     string
	username string
	password string
	tls      bool
	mailbox  string
	log      *slog.Logger
}

// NewIMAPClient creates a new IMAP client configuration.
func NewIMAPClient(
	host, port, username, password string,
	useTLS bool,
	mailbox string,
	log *slog.Logger,
) *IMAPClient {
	if mailbox == "" {
		mailbox = "INBOX"
	}
	return &IMAPClient{
		host:     host,
		port:     port,
		username: username,
		password: password,
		tls:      useTLS,
		mailbox:  mailbox,
		log:      log,
	}
}

// Connect establishes a connection to the IMAP server, authenticates,
// selects the configured mailbox, and returns the connected client.
// The caller is responsible for calling Logout on the returned client.
func (c *IMAPClient) Connect(_ context.Context) (*imapclient.Client, error) {
	addr := c.host + ":" + c.port

	var client *imapclient.Client
	var err error

	if c.tls {
		client, err = imapclient.DialTLS(addr, nil)
	} else {
		client, err = imapclient.DialStartTLS(addr, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}

	if err := client.Login(c.username, c.password).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, &AuthError{
			Message: fmt.Sprintf("authentication failed for %s: %v", c.username, err),
		}
	}

	if _, err := client.Select(c.mailbox, nil).Wait(); err != nil {
		_ = client.Logout().Wait()
		return nil, fmt.Errorf("selecting %s: %w", c.mailbox, err)
	}

	return client, nil
}

// FetchRecords connects to IMAP, searches for messages received since
// the cutoff, fetches their bodies, and parses each into an
// EmailRecord. Messages whose sender cannot be parsed are dropped with
// a warning; body parse failures yield partial records, never errors.
func (c *IMAPClient) FetchRecords(
	ctx context.Context, since time.Time, limit int,
) ([]model.EmailRecord, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Logout().Wait() }()

	criteria := &imap.SearchCriteria{
		Since: since,
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return nil, nil
	}

	// Limit the number of UIDs to fetch (take most recent).
	if limit > 0 && len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}

	uidSet := imap.UIDSetNum(uids...)

	bodySection := &imap.FetchItemBodySection{
		Peek: true,
	}
	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		Flags:       true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	var records []model.EmailRecord
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}

		buf, err := msg.Collect()
		if err != nil {
			c.log.Warn("collecting message failed", "error", err)
			continue
		}

		rec, ok := c.recordFromBuffer(buf, bodySection)
		if !ok {
			continue
		}
		records = append(records, rec)
	}

	if err := fetchCmd.Close(); err != nil {
		return records, fmt.Errorf("fetching messages: %w", err)
	}

	return records, nil
}

// DeleteFrom marks every message from the given sender deleted and
// expunges the mailbox. It returns the number of messages removed.
//
// Servers match HEADER FROM as a substring (RFC 3501), which both
// over-matches (news@ also hits goodnews@) and misses +alias variants
// that normalization collapsed into the stored sender. The search
// therefore prefilters on the domain only; each candidate's envelope
// makes the final call.
func (c *IMAPClient) DeleteFrom(ctx context.Context, sender string) (int, error) {
	client, err := c.Connect(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = client.Logout().Wait() }()

	criteria := &imap.SearchCriteria{
		Header: []imap.SearchCriteriaHeaderField{
			{Key: "From", Value: deleteSearchValue(sender)},
		},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return 0, fmt.Errorf("searching messages from %s: %w", sender, err)
	}

	uids := searchData.AllUIDs()
	if len(uids) == 0 {
		return 0, nil
	}

	msgs, err := client.Fetch(imap.UIDSetNum(uids...), &imap.FetchOptions{
		Envelope: true,
		UID:      true,
	}).Collect()
	if err != nil {
		return 0, fmt.Errorf("fetching envelopes from %s: %w", sender, err)
	}

	matched := matchingUIDs(msgs, sender)
	if len(matched) == 0 {
		return 0, nil
	}

	uidSet := imap.UIDSetNum(matched...)
	storeCmd := client.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagDeleted},
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return 0, fmt.Errorf("flagging messages from %s: %w", sender, err)
	}

	if err := client.Expunge().Close(); err != nil {
		return 0, fmt.Errorf("expunging mailbox: %w", err)
	}

	return len(matched), nil
}

// deleteSearchValue is the server-side prefilter for a sender's mail:
// the @domain suffix, which every alias of the address still carries.
func deleteSearchValue(sender string) string {
	if i := strings.LastIndex(sender, "@"); i >= 0 {
		return sender[i:]
	}
	return sender
}

// matchingUIDs keeps the messages whose normalized envelope sender
// equals target. Messages without a parseable envelope sender are
// never deleted.
func matchingUIDs(msgs []*imapclient.FetchMessageBuffer, target string) []imap.UID {
	var uids []imap.UID
	for _, msg := range msgs {
		if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
			continue
		}
		if NormalizeSender(msg.Envelope.From[0].Addr()) != target {
			continue
		}
		uids = append(uids, msg.UID)
	}
	return uids
}

// recordFromBuffer turns one fetched message into an EmailRecord.
// ok is false when the sender cannot be determined.
func (c *IMAPClient) recordFromBuffer(
	buf *imapclient.FetchMessageBuffer,
	bodySection *imap.FetchItemBodySection,
) (model.EmailRecord, bool) {
	rec := model.EmailRecord{
		UID:    uint32(buf.UID),
		Unread: true,
	}

	if buf.Envelope != nil {
		rec.Subject = buf.Envelope.Subject
		rec.Date = buf.Envelope.Date
		if len(buf.Envelope.From) > 0 {
			rec.Sender = NormalizeSender(buf.Envelope.From[0].Addr())
		}
	}

	for _, flag := range buf.Flags {
		if flag == imap.FlagSeen {
			rec.Unread = false
		}
	}

	rawBody := buf.FindBodySection(bodySection)
	if rawBody != nil {
		parseBody(&rec, rawBody, c.log)
	}

	if rec.Sender == "" {
		c.log.Warn("dropping message without parseable sender",
			"uid", rec.UID, "subject", rec.Subject)
		return model.EmailRecord{}, false
	}

	return rec, true
}

// parseBody parses the raw RFC 2822 message, reads the unsubscribe
// headers, and scans the text/HTML parts for unsubscribe links.
// Malformed content yields a partial record.
func parseBody(rec *model.EmailRecord, raw []byte, log *slog.Logger) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		log.Warn("parsing message body failed", "uid", rec.UID, "error", err)
		rec.BodyUnsubscribeLinks = extract.ScanBody("", string(raw))
		return
	}
	defer mr.Close()

	rec.HeaderUnsubscribe = mr.Header.Get("List-Unsubscribe")
	rec.HeaderUnsubscribePost = mr.Header.Get("List-Unsubscribe-Post") != ""
	if rec.Sender == "" {
		rec.Sender = NormalizeSender(mr.Header.Get("From"))
	}

	var textBody, htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Warn("reading message part failed", "uid", rec.UID, "error", err)
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}

		switch {
		case strings.HasPrefix(contentType, "text/plain"):
			textBody = string(body)
		case strings.HasPrefix(contentType, "text/html"):
			htmlBody = string(body)
		}
	}

	rec.BodyUnsubscribeLinks = extract.ScanBody(htmlBody, textBody)
}
