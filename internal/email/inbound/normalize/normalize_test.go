package normalize

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

var fixedNow = time.Date(2025, 5, 6, 7, 8, 9, 0, time.UTC)

func newTestNormalizer(opts ...Option) *Normalizer {
	return New(append([]Option{WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestNormalizePlainMessage(t *testing.T) {
	raw := strings.Join([]string{
		`From: "Jane Doe" <jane@example.com>`,
		"To: support@acme.test, billing@acme.test",
		"Cc: boss@example.com",
		"Subject: =?UTF-8?B?SGVsbG8gd8O2cmxk?=",
		"Date: Tue, 01 Apr 2025 10:00:00 +0200",
		"Message-ID: <abc123@example.com>",
		"In-Reply-To: <root@acme.test>",
		"References: <first@acme.test> <root@acme.test>",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"Hi there",
	}, "\r\n")

	msg, err := newTestNormalizer().Normalize([]byte(raw), Envelope{TenantID: "t1", AccountID: "a1"})
	require.NoError(t, err)

	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, "t1", msg.TenantID)
	assert.Equal(t, "a1", msg.AccountID)
	assert.Equal(t, models.SourceChannelPoll, msg.SourceChannel)
	assert.Equal(t, "jane@example.com", msg.From)
	assert.Equal(t, "Jane Doe", msg.FromName)
	assert.Equal(t, []string{"support@acme.test", "billing@acme.test"}, msg.To)
	assert.Equal(t, []string{"boss@example.com"}, msg.Cc)
	assert.Equal(t, "Hello wörld", msg.Subject)
	assert.Equal(t, time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC), msg.ReceivedAt)
	assert.Equal(t, "abc123@example.com", msg.MessageID)
	assert.Equal(t, "root@acme.test", msg.InReplyTo)
	assert.Equal(t, []string{"first@acme.test", "root@acme.test"}, msg.References)
	assert.Equal(t, "Hi there", msg.BodyText)
	assert.Empty(t, msg.BodyHTML)
}

func TestNormalizeMultipartPicksFirstParts(t *testing.T) {
	raw := strings.Join([]string{
		"From: jane@example.com",
		"Subject: multipart",
		"MIME-Version: 1.0",
		`Content-Type: multipart/alternative; boundary="b1"`,
		"",
		"--b1",
		"Content-Type: text/plain; charset=iso-8859-1",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"Gr=FC=DFe",
		"--b1",
		"Content-Type: text/html; charset=utf-8",
		"",
		`<p onclick="evil()">Hello <script>alert(1)</script><b>there</b></p>`,
		"--b1",
		"Content-Type: text/plain",
		"",
		"second plain",
		"--b1--",
		"",
	}, "\r\n")

	msg, err := newTestNormalizer().Normalize([]byte(raw), Envelope{Channel: models.SourceChannelWebhook})
	require.NoError(t, err)
	assert.Equal(t, "Grüße", strings.TrimSpace(msg.BodyText))
	assert.Contains(t, msg.BodyHTML, "<b>there</b>")
	assert.NotContains(t, msg.BodyHTML, "script")
	assert.NotContains(t, msg.BodyHTML, "onclick")
	assert.Equal(t, models.SourceChannelWebhook, msg.SourceChannel)
}

func TestNormalizeDerivesTextFromHTML(t *testing.T) {
	raw := "From: jane@example.com\r\nContent-Type: text/html\r\n\r\n<div>Fish &amp; <i>chips</i></div>"
	msg, err := newTestNormalizer().Normalize([]byte(raw), Envelope{})
	require.NoError(t, err)
	assert.Equal(t, "Fish & chips", msg.BodyText)
	assert.NotEmpty(t, msg.BodyHTML)
}

func TestNormalizeSenderFallbacks(t *testing.T) {
	msg, err := newTestNormalizer().Normalize([]byte("Sender: relay@example.com\r\nSubject: x\r\n\r\nbody"), Envelope{})
	require.NoError(t, err)
	assert.Equal(t, "relay@example.com", msg.From)

	msg, err = newTestNormalizer().Normalize([]byte("Reply-To: Desk <desk@example.com>\r\n\r\nbody"), Envelope{})
	require.NoError(t, err)
	assert.Equal(t, "desk@example.com", msg.From)
	assert.Equal(t, "Desk", msg.FromName)
}

func TestNormalizeReceivedAtFallback(t *testing.T) {
	ingested := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

	msg, err := newTestNormalizer().Normalize([]byte("From: a@example.com\r\nDate: not a date\r\n\r\nbody"), Envelope{IngestedAt: ingested})
	require.NoError(t, err)
	assert.Equal(t, ingested, msg.ReceivedAt)

	msg, err = newTestNormalizer().Normalize([]byte("From: a@example.com\r\n\r\nbody"), Envelope{})
	require.NoError(t, err)
	assert.Equal(t, fixedNow, msg.ReceivedAt)
}

func TestNormalizeMailboxRefIdentity(t *testing.T) {
	n := newTestNormalizer()
	bare := []byte("From: a@example.com\r\nSubject: x\r\n\r\nbody")

	first, err := n.Normalize(bare, Envelope{AccountID: "a1", MailboxRef: "UID-1"})
	require.NoError(t, err)
	again, err := n.Normalize(bare, Envelope{AccountID: "a1", MailboxRef: "UID-1", IngestedAt: fixedNow.Add(time.Hour)})
	require.NoError(t, err)
	assert.NotEmpty(t, first.MessageID)
	assert.Equal(t, first.MessageID, again.MessageID)

	other, err := n.Normalize(bare, Envelope{AccountID: "a2", MailboxRef: "UID-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.MessageID, other.MessageID)

	dated, err := n.Normalize([]byte("From: a@example.com\r\nDate: Wed, 01 May 2024 10:00:00 +0000\r\n\r\nbody"), Envelope{AccountID: "a1", MailboxRef: "UID-1"})
	require.NoError(t, err)
	assert.Empty(t, dated.MessageID, "a dated message keeps the composite rule")

	withID, err := n.Normalize([]byte("From: a@example.com\r\nMessage-ID: <m1@example.com>\r\n\r\nbody"), Envelope{AccountID: "a1", MailboxRef: "UID-1"})
	require.NoError(t, err)
	assert.Equal(t, "m1@example.com", withID.MessageID)
}

func TestNormalizeRejectsUnusablePayloads(t *testing.T) {
	n := newTestNormalizer()
	for name, raw := range map[string]string{
		"empty":      "",
		"whitespace": " \r\n\t",
		"no sender":  "Subject: orphan\r\n\r\nbody",
		"bad header": "this is not a header line\r\n\r\n",
	} {
		_, err := n.Normalize([]byte(raw), Envelope{})
		assert.ErrorIs(t, err, inbound.ErrParse, name)
	}
}

func TestNormalizeCapsBody(t *testing.T) {
	raw := "From: a@example.com\r\n\r\n" + strings.Repeat("x", 100)
	msg, err := newTestNormalizer(WithMaxBodyBytes(10)).Normalize([]byte(raw), Envelope{})
	require.NoError(t, err)
	assert.Len(t, msg.BodyText, 10)
}

func TestParseMessageIDs(t *testing.T) {
	assert.Equal(t, []string{"a@x", "b@y"}, MessageIDs("<a@x>\r\n <b@y>"))
	assert.Equal(t, []string{"bare@x"}, MessageIDs(" bare@x "))
	assert.Nil(t, MessageIDs("  "))
	assert.Equal(t, []string{"a@x", "b@y"}, uniqueMessageIDs("<a@x> <b@y>", "<a@x>"))
}
