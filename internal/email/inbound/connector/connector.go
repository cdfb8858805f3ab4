package connector

import (
	"context"
	"time"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
)

// Account carries the minimal set of fields a connector needs to open a mailbox.
type Account struct {
	ID       string
	TenantID string
	Address  string
	Type     string // pop3, pop3s, imap, imaps
	Host     string
	Port     int
	UseTLS   bool
	Username string
	Password []byte
	Folder   string
}

// FetchedMessage wraps the on-wire RFC822 payload plus derived metadata.
type FetchedMessage struct {
	AccountID  string
	Connector  string
	UID        string
	RemoteID   string
	ReceivedAt time.Time
	SizeBytes  int64
	Raw        []byte
	Metadata   map[string]string
	account    Account
}

// AccountSnapshot returns the account metadata captured when the fetch occurred.
func (m FetchedMessage) AccountSnapshot() Account {
	return m.account
}

// WithAccount captures the account metadata on the message.
func (m *FetchedMessage) WithAccount(acc Account) {
	acc.Password = nil
	m.account = acc
	m.AccountID = acc.ID
}

// Stats summarizes one mailbox session.
type Stats struct {
	Found   int
	Handled int
	Failed  int
}

// Handler receives fully fetched messages and hands them to PostMaster. A
// message is only acknowledged on the server after Handle returns nil.
type Handler interface {
	Handle(ctx context.Context, msg *FetchedMessage) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *FetchedMessage) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg *FetchedMessage) error {
	return f(ctx, msg)
}

// Fetcher implementations (POP3, IMAP) stream messages to a handler.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, account Account, handler Handler) (Stats, error)
}

// Factory resolves the correct connector implementation for a mailbox.
type Factory interface {
	FetcherFor(account Account) (Fetcher, error)
}

const (
	defaultDialTimeout = 10 * time.Second
	defaultAuthTimeout = 5 * time.Second
)

// waitWithTimeout runs a blocking protocol step and gives up after timeout.
// The caller closes the underlying connection, which unblocks wait.
func waitWithTimeout(ctx context.Context, timeout time.Duration, wait func() error) error {
	done := make(chan error, 1)
	go func() { done <- wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return &timeoutError{after: timeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

type timeoutError struct{ after time.Duration }

func (e *timeoutError) Error() string   { return "timed out after " + e.after.String() }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }

// watchSession closes the transport once ctx is done. Protocol libraries
// block on socket reads and never consult ctx themselves, so this is what
// enforces the session deadline after login.
func watchSession(ctx context.Context, closeFn func() error) (stop func() bool) {
	return context.AfterFunc(ctx, func() { _ = closeFn() })
}

// sessionError classifies a failed protocol step. When ctx ended, the step
// failed because watchSession tore the connection down, and the deadline is
// reported instead of the resulting I/O error.
func sessionError(ctx context.Context, op string, err error, fallback error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return inbound.Wrap(inbound.ErrConnection, op, ctxErr)
	}
	return inbound.ClassifyNetwork(op, err, fallback)
}
