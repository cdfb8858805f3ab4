// Package normalize turns raw RFC 5322 payloads into canonical messages.
package normalize

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"html"
	"io"
	"log/slog"
	stdmail "net/mail"
	"strings"
	"time"

	gomessage "github.com/emersion/go-message"
	gomail "github.com/emersion/go-message/mail"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	htmlcharset "golang.org/x/net/html/charset"
	"golang.org/x/text/unicode/norm"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// DefaultMaxBodyBytes caps each extracted body part.
const DefaultMaxBodyBytes int64 = 1 << 20

func init() {
	gomessage.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		return htmlcharset.NewReaderLabel(charset, input)
	}
}

// Envelope carries the routing facts that are not part of the payload.
type Envelope struct {
	TenantID  string
	AccountID string
	Channel   models.SourceChannel
	// IngestedAt is used when the payload has no usable Date header. Zero means now.
	IngestedAt time.Time
	// MailboxRef is a stable server-side identity such as a POP3 UIDL. When
	// the payload has neither Message-ID nor a usable Date, the message id is
	// derived from it so that repeated fetches deduplicate.
	MailboxRef string
}

// Normalizer parses raw messages.
type Normalizer struct {
	maxBodyBytes int64
	now          func() time.Time
	logger       *slog.Logger
	ugc          *bluemonday.Policy
	strict       *bluemonday.Policy
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// WithMaxBodyBytes overrides the per-part body cap.
func WithMaxBodyBytes(limit int64) Option {
	return func(n *Normalizer) {
		if limit > 0 {
			n.maxBodyBytes = limit
		}
	}
}

// WithClock overrides the ingestion clock.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Normalizer) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// New returns a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		maxBodyBytes: DefaultMaxBodyBytes,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       slog.Default(),
		ugc:          bluemonday.UGCPolicy(),
		strict:       bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "normalize")
	return n
}

// Normalize parses raw into a Message stamped with env. It fails with
// inbound.ErrParse when the payload is empty, the header block cannot be read
// or no sender address can be found.
func (n *Normalizer) Normalize(raw []byte, env Envelope) (*models.Message, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, inbound.Wrap(inbound.ErrParse, "normalize", errors.New("empty message"))
	}

	reader, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) {
		return nil, inbound.Wrap(inbound.ErrParse, "normalize", err)
	}
	if reader == nil {
		return nil, inbound.Wrap(inbound.ErrParse, "normalize", errors.New("no message reader"))
	}
	defer reader.Close()

	header := &reader.Header
	from, ok := senderFromHeader(header)
	if !ok {
		return nil, inbound.Wrap(inbound.ErrParse, "normalize", errors.New("no sender address"))
	}

	channel := env.Channel
	if channel == "" {
		channel = models.SourceChannelPoll
	}

	msg := &models.Message{
		ID:            uuid.NewString(),
		TenantID:      env.TenantID,
		AccountID:     env.AccountID,
		MessageID:     normalizeMessageID(header.Get("Message-Id")),
		From:          from.Address,
		FromName:      from.Name,
		To:            addressList(header, "To"),
		Cc:            addressList(header, "Cc"),
		Subject:       subjectFromHeader(header),
		References:    uniqueMessageIDs(header.Values("References")...),
		SourceChannel: channel,
	}
	if ids := parseMessageIDs(header.Get("In-Reply-To")); len(ids) > 0 {
		msg.InReplyTo = ids[0]
	}
	var dated bool
	msg.ReceivedAt, dated = n.receivedAt(header, env)
	if msg.MessageID == "" && !dated && env.MailboxRef != "" {
		msg.MessageID = mailboxRefID(env.AccountID, env.MailboxRef)
	}

	plain, rich := n.readBodyParts(reader)
	if rich != "" {
		msg.BodyHTML = n.ugc.Sanitize(rich)
	}
	msg.BodyText = plain
	if plain == "" && rich != "" {
		msg.BodyText = strings.TrimSpace(html.UnescapeString(n.strict.Sanitize(rich)))
	}

	return msg, nil
}

// receivedAt reports the receive time and whether it came from the Date header.
func (n *Normalizer) receivedAt(header *gomail.Header, env Envelope) (time.Time, bool) {
	if date, err := header.Date(); err == nil && !date.IsZero() {
		return date.UTC(), true
	}
	if !env.IngestedAt.IsZero() {
		return env.IngestedAt.UTC(), false
	}
	return n.now(), false
}

func mailboxRefID(accountID, ref string) string {
	sum := sha256.Sum256([]byte(accountID + "\x00" + ref))
	return hex.EncodeToString(sum[:16]) + "@mailbox.invalid"
}

// readBodyParts returns the first text/plain and the first text/html part.
func (n *Normalizer) readBodyParts(reader *gomail.Reader) (string, string) {
	var plain, rich string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			n.logger.Debug("read part failed", "error", err)
			break
		}
		header, ok := part.Header.(*gomail.InlineHeader)
		if !ok {
			continue
		}
		mediaType, _, err := header.ContentType()
		if err != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		mediaType = strings.ToLower(mediaType)

		switch {
		case mediaType == "text/plain" && plain == "":
			plain = n.readPart(part.Body)
		case mediaType == "text/html" && rich == "":
			rich = n.readPart(part.Body)
		}
		if plain != "" && rich != "" {
			break
		}
	}
	return plain, rich
}

func (n *Normalizer) readPart(src io.Reader) string {
	if src == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(src, n.maxBodyBytes))
	if err != nil {
		n.logger.Debug("read part body failed", "error", err)
	}
	return string(data)
}

func senderFromHeader(header *gomail.Header) (*gomail.Address, bool) {
	for _, field := range []string{"From", "Sender", "Reply-To"} {
		if addr := firstAddress(header, field); addr != nil {
			return addr, true
		}
	}
	return nil, false
}

func firstAddress(header *gomail.Header, field string) *gomail.Address {
	if list, err := header.AddressList(field); err == nil {
		for _, addr := range list {
			if addr != nil && strings.TrimSpace(addr.Address) != "" {
				return &gomail.Address{Name: addr.Name, Address: strings.TrimSpace(addr.Address)}
			}
		}
	}
	raw := strings.TrimSpace(header.Get(field))
	if raw == "" {
		return nil
	}
	if addr, err := stdmail.ParseAddress(raw); err == nil && addr.Address != "" {
		return &gomail.Address{Name: addr.Name, Address: addr.Address}
	}
	return nil
}

func addressList(header *gomail.Header, field string) []string {
	list, err := header.AddressList(field)
	if err != nil {
		return nil
	}
	var out []string
	for _, addr := range list {
		if addr == nil || strings.TrimSpace(addr.Address) == "" {
			continue
		}
		out = append(out, strings.TrimSpace(addr.Address))
	}
	return out
}

func subjectFromHeader(header *gomail.Header) string {
	subject, err := header.Subject()
	if err != nil {
		subject = header.Get("Subject")
	}
	return norm.NFC.String(strings.TrimSpace(subject))
}
