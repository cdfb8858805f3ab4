package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
)

type noopFetcher struct{}

func (noopFetcher) Name() string { return "noop" }

func (noopFetcher) Fetch(context.Context, Account, Handler) (Stats, error) { return Stats{}, nil }

func TestFactoryReturnsRegisteredFetcher(t *testing.T) {
	factory := NewFactory(WithFetcher(noopFetcher{}, "Pop3"))

	fetcher, err := factory.FetcherFor(Account{Type: " POP3 "})
	require.NoError(t, err)
	require.Equal(t, "noop", fetcher.Name())

	_, err = factory.FetcherFor(Account{Type: "graph"})
	require.ErrorIs(t, err, inbound.ErrProtocol)
}

func TestDefaultFactoryCoversBuiltins(t *testing.T) {
	factory := DefaultFactory(SessionConfig{})
	for typ, name := range map[string]string{"imap": "imap", "imaps": "imap", "pop3": "pop3", "pop3s": "pop3"} {
		fetcher, err := factory.FetcherFor(Account{Type: typ})
		require.NoError(t, err, typ)
		require.Equal(t, name, fetcher.Name())
	}
}
