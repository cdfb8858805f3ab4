package connector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/go-pop3"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
)

type pop3Connection interface {
	Auth(user, password string) error
	Quit() error
	Uidl(msgID int) ([]pop3.MessageID, error)
	RetrRaw(msgID int) (*bytes.Buffer, error)
	Dele(msgID ...int) error
	// Close drops the transport without a QUIT exchange.
	Close() error
}

type pop3ConnFactory func(Account) (pop3Connection, error)

// POP3Fetcher reads POP3/POP3S mailboxes. POP3 has no seen flag, so
// messages stay on the server unless delete-after-fetch is enabled and
// repeated downloads are absorbed by deduplication.
type POP3Fetcher struct {
	deleteAfterFetch bool
	dialTimeout      time.Duration
	authTimeout      time.Duration
	now              func() time.Time
	logger           *slog.Logger
	newConn          pop3ConnFactory
}

// POP3FetcherOption customizes fetcher behavior.
type POP3FetcherOption func(*POP3Fetcher)

// NewPOP3Fetcher returns a POP3 connector.
func NewPOP3Fetcher(opts ...POP3FetcherOption) *POP3Fetcher {
	f := &POP3Fetcher{
		dialTimeout: defaultDialTimeout,
		authTimeout: defaultAuthTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	f.newConn = f.defaultConnFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newConn == nil {
		f.newConn = f.defaultConnFactory
	}
	return f
}

// WithPOP3DeleteAfterFetch toggles destructive POP3 behavior.
func WithPOP3DeleteAfterFetch(delete bool) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		f.deleteAfterFetch = delete
	}
}

// WithPOP3Logger overrides the logger used for connector diagnostics.
func WithPOP3Logger(logger *slog.Logger) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithPOP3DialTimeout overrides the socket dial timeout.
func WithPOP3DialTimeout(timeout time.Duration) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithPOP3AuthTimeout bounds the USER/PASS exchange.
func WithPOP3AuthTimeout(timeout time.Duration) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if timeout > 0 {
			f.authTimeout = timeout
		}
	}
}

func withPOP3ConnFactory(factory pop3ConnFactory) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		f.newConn = factory
	}
}

// WithPOP3Clock overrides the wall clock, primarily for tests.
func WithPOP3Clock(now func() time.Time) POP3FetcherOption {
	return func(f *POP3Fetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// Name returns the connector identifier.
func (f *POP3Fetcher) Name() string {
	return "pop3"
}

// Fetch hands every message in the maildrop to handler.
func (f *POP3Fetcher) Fetch(ctx context.Context, account Account, handler Handler) (Stats, error) {
	var stats Stats
	if handler == nil {
		return stats, errors.New("pop3 fetcher requires a handler")
	}
	if err := validateAccount(account); err != nil {
		return stats, err
	}
	log := f.logger.With("component", "pop3", "account_id", account.ID)

	conn, err := f.newConn(account)
	if err != nil {
		return stats, inbound.ClassifyNetwork("pop3 connect", err, inbound.ErrConnection)
	}
	// QUIT is only sent on a healthy session; after a timeout or protocol
	// failure the server may never answer it.
	healthy := false
	defer func() {
		if healthy {
			f.safeQuit(log, conn)
		}
		_ = conn.Close()
	}()
	stop := watchSession(ctx, conn.Close)
	defer stop()

	err = waitWithTimeout(ctx, f.authTimeout, func() error {
		return conn.Auth(account.Username, string(account.Password))
	})
	if err != nil {
		return stats, sessionError(ctx, "pop3 auth", err, inbound.ErrAuthentication)
	}

	msgs, err := conn.Uidl(0)
	if err != nil {
		return stats, sessionError(ctx, "pop3 uidl", err, inbound.ErrProtocol)
	}
	stats.Found = len(msgs)

	for _, meta := range msgs {
		if err := ctx.Err(); err != nil {
			return stats, inbound.Wrap(inbound.ErrConnection, "pop3 session", err)
		}

		payload, err := conn.RetrRaw(meta.ID)
		if err != nil {
			return stats, sessionError(ctx, fmt.Sprintf("pop3 retr %d", meta.ID), err, inbound.ErrProtocol)
		}

		uid := meta.UID
		if uid == "" {
			uid = strconv.Itoa(meta.ID)
		}
		raw := append([]byte(nil), payload.Bytes()...)
		msg := &FetchedMessage{
			Connector:  f.Name(),
			UID:        uid,
			RemoteID:   buildRemoteID(account, uid),
			ReceivedAt: f.now(),
			SizeBytes:  int64(len(raw)),
			Raw:        raw,
			Metadata: map[string]string{
				"uidl":    uid,
				"pop3_id": strconv.Itoa(meta.ID),
			},
		}
		if meta.Size > 0 {
			msg.Metadata["reported_size"] = strconv.Itoa(meta.Size)
		}
		msg.WithAccount(account)

		if err := handler.Handle(ctx, msg); err != nil {
			stats.Failed++
			log.Warn("message kept on server", "uid", uid, "error", err)
			continue
		}
		stats.Handled++
		if f.deleteAfterFetch {
			if err := conn.Dele(meta.ID); err != nil {
				return stats, sessionError(ctx, fmt.Sprintf("pop3 delete %d", meta.ID), err, inbound.ErrProtocol)
			}
		}
	}

	healthy = ctx.Err() == nil
	return stats, nil
}

func (f *POP3Fetcher) safeQuit(log *slog.Logger, conn pop3Connection) {
	if conn == nil {
		return
	}
	if err := conn.Quit(); err != nil {
		log.Debug("pop3 quit error", "error", err)
	}
}

func (f *POP3Fetcher) defaultConnFactory(account Account) (pop3Connection, error) {
	if account.Host == "" {
		return nil, errors.New("pop3 account missing host")
	}
	tls := account.UseTLS || usePOP3TLS(account.Type)
	port := account.Port
	if port == 0 {
		if tls {
			port = 995
		} else {
			port = 110
		}
	}
	dialer := &capturingDialer{Dialer: net.Dialer{Timeout: f.dialTimeout}}
	client := pop3.New(pop3.Opt{
		Host:        account.Host,
		Port:        port,
		DialTimeout: f.dialTimeout,
		Dialer:      dialer,
		TLSEnabled:  tls,
	})
	conn, err := client.NewConn()
	if err != nil {
		if dialer.conn != nil {
			_ = dialer.conn.Close()
		}
		return nil, err
	}
	return &pop3ConnWrapper{Conn: conn, raw: dialer.conn}, nil
}

// capturingDialer keeps the socket go-pop3 dials, since pop3.Conn offers no
// way to close it without a QUIT round trip.
type capturingDialer struct {
	net.Dialer
	conn net.Conn
}

func (d *capturingDialer) Dial(network, address string) (net.Conn, error) {
	conn, err := d.Dialer.Dial(network, address)
	if err == nil {
		d.conn = conn
	}
	return conn, err
}

type pop3ConnWrapper struct {
	*pop3.Conn
	raw net.Conn
}

func (w *pop3ConnWrapper) Close() error {
	if w.raw == nil {
		return nil
	}
	return w.raw.Close()
}

func validateAccount(account Account) error {
	if !supportsPOP3(account.Type) {
		return inbound.Wrap(inbound.ErrProtocol, "pop3", fmt.Errorf("account type %s not supported by POP3 connector", account.Type))
	}
	if account.Username == "" {
		return inbound.Wrap(inbound.ErrAuthentication, "pop3", errors.New("account missing username"))
	}
	if len(account.Password) == 0 {
		return inbound.Wrap(inbound.ErrAuthentication, "pop3", errors.New("account missing password"))
	}
	return nil
}

func supportsPOP3(t string) bool {
	switch strings.ToLower(t) {
	case "pop3", "pop3s", "pop3_tls", "pop3s_tls":
		return true
	default:
		return false
	}
}

func usePOP3TLS(t string) bool {
	switch strings.ToLower(t) {
	case "pop3s", "pop3_tls", "pop3s_tls":
		return true
	default:
		return false
	}
}
