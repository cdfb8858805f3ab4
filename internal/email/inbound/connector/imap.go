package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
)

type imapClient interface {
	Login(username, password string) commandWaiter
	Logout() commandWaiter
	Close() error
	Select(mailbox string, options *imap.SelectOptions) selectWaiter
	UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter
	Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter
	Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter
	UIDExpunge(uids imap.UIDSet) expungeWaiter
}

type commandWaiter interface{ Wait() error }
type selectWaiter interface {
	Wait() (*imap.SelectData, error)
}
type searchWaiter interface {
	Wait() (*imap.SearchData, error)
}
type fetchWaiter interface {
	Collect() ([]*imapclient.FetchMessageBuffer, error)
	Close() error
}
type expungeWaiter interface{ Close() error }

// IMAPFetcher reads unseen messages from IMAP/IMAPS mailboxes.
type IMAPFetcher struct {
	deleteAfterFetch bool
	dialTimeout      time.Duration
	authTimeout      time.Duration
	now              func() time.Time
	logger           *slog.Logger
	newClient        func(Account) (imapClient, error)
}

// IMAPFetcherOption customizes fetcher behavior.
type IMAPFetcherOption func(*IMAPFetcher)

// NewIMAPFetcher returns an IMAP connector. Messages are left on the server
// and flagged \Seen once the handler accepted them.
func NewIMAPFetcher(opts ...IMAPFetcherOption) *IMAPFetcher {
	f := &IMAPFetcher{
		dialTimeout: defaultDialTimeout,
		authTimeout: defaultAuthTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      slog.Default(),
	}
	f.newClient = f.defaultClientFactory
	for _, opt := range opts {
		opt(f)
	}
	if f.newClient == nil {
		f.newClient = f.defaultClientFactory
	}
	return f
}

// WithIMAPDeleteAfterFetch expunges handled messages instead of keeping them.
func WithIMAPDeleteAfterFetch(delete bool) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.deleteAfterFetch = delete
	}
}

// WithIMAPLogger overrides the logger used for connector diagnostics.
func WithIMAPLogger(logger *slog.Logger) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithIMAPDialTimeout overrides the socket dial timeout.
func WithIMAPDialTimeout(timeout time.Duration) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.dialTimeout = timeout
		}
	}
}

// WithIMAPAuthTimeout bounds the LOGIN round trip.
func WithIMAPAuthTimeout(timeout time.Duration) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if timeout > 0 {
			f.authTimeout = timeout
		}
	}
}

func withIMAPClientFactory(factory func(Account) (imapClient, error)) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		f.newClient = factory
	}
}

// WithIMAPClock overrides the wall clock, primarily for tests.
func WithIMAPClock(now func() time.Time) IMAPFetcherOption {
	return func(f *IMAPFetcher) {
		if now != nil {
			f.now = now
		}
	}
}

// Name returns the connector identifier.
func (f *IMAPFetcher) Name() string {
	return "imap"
}

// Fetch hands every unseen message to handler. Handler failures are counted
// and leave the message unseen for the next cycle; only connection,
// authentication and protocol failures abort the session.
func (f *IMAPFetcher) Fetch(ctx context.Context, account Account, handler Handler) (Stats, error) {
	var stats Stats
	if handler == nil {
		return stats, errors.New("imap fetcher requires a handler")
	}
	if err := validateIMAPAccount(account); err != nil {
		return stats, err
	}
	log := f.logger.With("component", "imap", "account_id", account.ID)

	client, err := f.newClient(account)
	if err != nil {
		return stats, inbound.ClassifyNetwork("imap connect", err, inbound.ErrConnection)
	}
	defer f.safeClose(log, client)
	stop := watchSession(ctx, client.Close)
	defer stop()

	err = waitWithTimeout(ctx, f.authTimeout, func() error {
		return client.Login(account.Username, string(account.Password)).Wait()
	})
	if err != nil {
		return stats, sessionError(ctx, "imap login", err, inbound.ErrAuthentication)
	}

	mailbox := account.Folder
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := client.Select(mailbox, nil).Wait(); err != nil {
		return stats, sessionError(ctx, "imap select "+mailbox, err, inbound.ErrProtocol)
	}

	criteria := &imap.SearchCriteria{NotFlag: []imap.Flag{imap.FlagSeen}}
	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return stats, sessionError(ctx, "imap search", err, inbound.ErrProtocol)
	}
	uids := searchData.AllUIDs()
	stats.Found = len(uids)
	if len(uids) == 0 {
		f.logout(log, client)
		return stats, nil
	}

	fetchOpts := &imap.FetchOptions{
		UID:          true,
		InternalDate: true,
		BodySection:  []*imap.FetchItemBodySection{{Peek: true}},
	}
	fetchBuffers, err := client.Fetch(imap.UIDSetNum(uids...), fetchOpts).Collect()
	if err != nil {
		return stats, sessionError(ctx, "imap fetch", err, inbound.ErrProtocol)
	}

	var handled []imap.UID
	for _, buf := range fetchBuffers {
		if err := ctx.Err(); err != nil {
			return stats, inbound.Wrap(inbound.ErrConnection, "imap session", err)
		}
		uidStr := strconv.FormatUint(uint64(buf.UID), 10)
		if len(buf.BodySection) == 0 || len(buf.BodySection[0].Bytes) == 0 {
			stats.Failed++
			log.Warn("imap message without body", "uid", uidStr)
			continue
		}
		body := buf.BodySection[0].Bytes
		received := buf.InternalDate
		if received.IsZero() {
			received = f.now()
		}
		msg := &FetchedMessage{
			Connector:  f.Name(),
			UID:        uidStr,
			RemoteID:   buildRemoteID(account, uidStr),
			ReceivedAt: received,
			SizeBytes:  int64(len(body)),
			Raw:        append([]byte(nil), body...),
			Metadata: map[string]string{
				"imap_uid":    uidStr,
				"imap_folder": mailbox,
			},
		}
		msg.WithAccount(account)

		if err := handler.Handle(ctx, msg); err != nil {
			stats.Failed++
			log.Warn("message left unseen", "uid", uidStr, "error", err)
			continue
		}
		stats.Handled++
		handled = append(handled, buf.UID)

		seen := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagSeen}}
		if err := client.Store(imap.UIDSetNum(buf.UID), seen, nil).Close(); err != nil {
			if ctx.Err() != nil {
				return stats, sessionError(ctx, "imap store seen", err, inbound.ErrProtocol)
			}
			log.Warn("imap mark seen failed", "uid", uidStr, "error", err)
		}
	}

	if f.deleteAfterFetch && len(handled) > 0 {
		set := imap.UIDSetNum(handled...)
		store := &imap.StoreFlags{Op: imap.StoreFlagsAdd, Silent: true, Flags: []imap.Flag{imap.FlagDeleted}}
		if err := client.Store(set, store, nil).Close(); err != nil {
			return stats, sessionError(ctx, "imap store delete", err, inbound.ErrProtocol)
		}
		if err := client.UIDExpunge(set).Close(); err != nil {
			return stats, sessionError(ctx, "imap expunge", err, inbound.ErrProtocol)
		}
	}

	f.logout(log, client)
	return stats, nil
}

func (f *IMAPFetcher) logout(log *slog.Logger, client imapClient) {
	if err := client.Logout().Wait(); err != nil {
		log.Debug("imap logout error", "error", err)
	}
}

func (f *IMAPFetcher) safeClose(log *slog.Logger, client imapClient) {
	if client == nil {
		return
	}
	if err := client.Close(); err != nil {
		log.Debug("imap close error", "error", err)
	}
}

func (f *IMAPFetcher) defaultClientFactory(account Account) (imapClient, error) {
	if account.Host == "" {
		return nil, errors.New("imap account missing host")
	}
	tls := account.UseTLS || useIMAPTLS(account.Type)
	port := account.Port
	if port == 0 {
		if tls {
			port = 993
		} else {
			port = 143
		}
	}
	opts := &imapclient.Options{Dialer: &net.Dialer{Timeout: f.dialTimeout}}
	addr := net.JoinHostPort(account.Host, strconv.Itoa(port))
	var client *imapclient.Client
	var err error
	if tls {
		client, err = imapclient.DialTLS(addr, opts)
	} else {
		client, err = imapclient.DialInsecure(addr, opts)
	}
	if err != nil {
		return nil, err
	}
	return &imapClientWrapper{Client: client}, nil
}

type imapClientWrapper struct{ *imapclient.Client }

func (w *imapClientWrapper) Login(username, password string) commandWaiter {
	return w.Client.Login(username, password)
}
func (w *imapClientWrapper) Logout() commandWaiter { return w.Client.Logout() }
func (w *imapClientWrapper) Select(mailbox string, options *imap.SelectOptions) selectWaiter {
	return w.Client.Select(mailbox, options)
}
func (w *imapClientWrapper) UIDSearch(criteria *imap.SearchCriteria, options *imap.SearchOptions) searchWaiter {
	return w.Client.UIDSearch(criteria, options)
}
func (w *imapClientWrapper) Fetch(numSet imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	return w.Client.Fetch(numSet, options)
}
func (w *imapClientWrapper) Store(numSet imap.NumSet, store *imap.StoreFlags, options *imap.StoreOptions) fetchWaiter {
	return w.Client.Store(numSet, store, options)
}
func (w *imapClientWrapper) UIDExpunge(uids imap.UIDSet) expungeWaiter {
	return w.Client.UIDExpunge(uids)
}

func validateIMAPAccount(account Account) error {
	if !supportsIMAP(account.Type) {
		return inbound.Wrap(inbound.ErrProtocol, "imap", fmt.Errorf("account type %s not supported by IMAP connector", account.Type))
	}
	if account.Username == "" {
		return inbound.Wrap(inbound.ErrAuthentication, "imap", errors.New("account missing username"))
	}
	if len(account.Password) == 0 {
		return inbound.Wrap(inbound.ErrAuthentication, "imap", errors.New("account missing password"))
	}
	return nil
}

func supportsIMAP(t string) bool {
	switch strings.ToLower(t) {
	case "imap", "imaps", "imap_tls", "imaps_tls", "imaptls":
		return true
	default:
		return false
	}
}

func useIMAPTLS(t string) bool {
	switch strings.ToLower(t) {
	case "imaps", "imap_tls", "imaps_tls", "imaptls":
		return true
	default:
		return false
	}
}
