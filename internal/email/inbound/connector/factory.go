package connector

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
)

// FactoryOption customizes a connector factory.
type FactoryOption func(*simpleFactory)

type simpleFactory struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewFactory builds a connector factory with the provided options.
func NewFactory(opts ...FactoryOption) Factory {
	f := &simpleFactory{fetchers: make(map[string]Fetcher)}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// SessionConfig carries the tunables shared by the built-in connectors.
type SessionConfig struct {
	DialTimeout      time.Duration
	AuthTimeout      time.Duration
	DeleteAfterFetch bool
	Logger           *slog.Logger
}

// DefaultFactory returns a factory preloaded with built-in connectors.
func DefaultFactory(cfg SessionConfig) Factory {
	return NewFactory(
		WithFetcher(NewPOP3Fetcher(
			WithPOP3DialTimeout(cfg.DialTimeout),
			WithPOP3AuthTimeout(cfg.AuthTimeout),
			WithPOP3DeleteAfterFetch(cfg.DeleteAfterFetch),
			WithPOP3Logger(cfg.Logger),
		), "pop3", "pop3s", "pop3_tls", "pop3s_tls"),
		WithFetcher(NewIMAPFetcher(
			WithIMAPDialTimeout(cfg.DialTimeout),
			WithIMAPAuthTimeout(cfg.AuthTimeout),
			WithIMAPDeleteAfterFetch(cfg.DeleteAfterFetch),
			WithIMAPLogger(cfg.Logger),
		), "imap", "imaps", "imap_tls", "imaps_tls", "imaptls"),
	)
}

// WithFetcher registers a fetcher for the provided account types.
func WithFetcher(fetcher Fetcher, accountTypes ...string) FactoryOption {
	return func(f *simpleFactory) {
		if f == nil || fetcher == nil {
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, t := range accountTypes {
			key := normalizeType(t)
			if key == "" {
				continue
			}
			f.fetchers[key] = fetcher
		}
	}
}

func (f *simpleFactory) FetcherFor(account Account) (Fetcher, error) {
	key := normalizeType(account.Type)
	f.mu.RLock()
	fetcher, ok := f.fetchers[key]
	f.mu.RUnlock()
	if !ok {
		return nil, inbound.Wrap(inbound.ErrProtocol, "connector lookup",
			fmt.Errorf("no connector registered for account type %q", account.Type))
	}
	return fetcher, nil
}

func normalizeType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func buildRemoteID(account Account, uid string) string {
	if account.Username == "" {
		return fmt.Sprintf("%s:%s", account.Host, uid)
	}
	return fmt.Sprintf("%s@%s:%s", account.Username, account.Host, uid)
}
