package connector

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
)

func TestIMAPFetcherFetchesUnseenMessages(t *testing.T) {
	client := &fakeIMAPClient{
		uids: []imap.UID{11, 12},
		bodies: map[imap.UID][]byte{
			11: []byte("first"),
			12: []byte("second"),
		},
		internalDate: map[imap.UID]time.Time{
			11: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}
	now := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	h := &recordingHandler{}
	f := NewIMAPFetcher(
		WithIMAPClock(func() time.Time { return now }),
		withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }),
	)

	acc := Account{ID: "acc-7", TenantID: "t1", Type: "imaps", Host: "mail.example", Username: "agent", Password: []byte("secret"), Folder: "INBOX"}
	stats, err := f.Fetch(context.Background(), acc, h)
	require.NoError(t, err)
	require.Equal(t, Stats{Found: 2, Handled: 2}, stats)

	require.Equal(t, []imap.Flag{imap.FlagSeen}, client.search.NotFlag)
	require.True(t, client.fetchOpts.BodySection[0].Peek, "body must be fetched without setting \\Seen")
	require.Equal(t, []string{"11", "12"}, client.storeSets)
	require.Equal(t, []imap.Flag{imap.FlagSeen, imap.FlagSeen}, client.storeFlags)
	require.Zero(t, client.expungeCalls)
	require.Equal(t, 1, client.logoutCalls)
	require.True(t, client.closed)

	require.Len(t, h.messages, 2)
	require.Equal(t, "11", h.messages[0].UID)
	require.Equal(t, "acc-7", h.messages[0].AccountID)
	require.Equal(t, "t1", h.messages[0].AccountSnapshot().TenantID)
	require.Nil(t, h.messages[0].AccountSnapshot().Password)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), h.messages[0].ReceivedAt)
	require.Equal(t, now, h.messages[1].ReceivedAt)
}

func TestIMAPFetcherLeavesFailedMessageUnseen(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{11, 12, 13},
		bodies: map[imap.UID][]byte{11: []byte("first"), 12: []byte("second"), 13: []byte("third")},
	}
	h := &recordingHandler{failUID: "12"}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))

	acc := Account{ID: "acc-7", Type: "imap", Host: "mail.example", Username: "agent", Password: []byte("secret")}
	stats, err := f.Fetch(context.Background(), acc, h)
	require.NoError(t, err)
	require.Equal(t, Stats{Found: 3, Handled: 2, Failed: 1}, stats)
	require.Equal(t, []string{"11", "13"}, client.storeSets)
	require.Len(t, h.messages, 2)
}

func TestIMAPFetcherEmptyMailboxNoError(t *testing.T) {
	client := &fakeIMAPClient{}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	acc := Account{Type: "imap", Username: "u", Password: []byte("p")}
	stats, err := f.Fetch(context.Background(), acc, &recordingHandler{})
	require.NoError(t, err)
	require.Zero(t, stats.Found)
	require.Zero(t, client.fetchCalls)
	require.Empty(t, client.storeSets)
}

func TestIMAPFetcherValidation(t *testing.T) {
	f := NewIMAPFetcher()

	_, err := f.Fetch(context.Background(), Account{Type: "imap", Password: []byte("pw")}, &recordingHandler{})
	require.ErrorIs(t, err, inbound.ErrAuthentication)

	_, err = f.Fetch(context.Background(), Account{Type: "imap", Username: "user"}, &recordingHandler{})
	require.ErrorIs(t, err, inbound.ErrAuthentication)

	_, err = f.Fetch(context.Background(), Account{Type: "pop3", Username: "user", Password: []byte("pw")}, &recordingHandler{})
	require.ErrorIs(t, err, inbound.ErrProtocol)

	_, err = f.Fetch(context.Background(), Account{Type: "imap", Username: "u", Password: []byte("p")}, nil)
	require.Error(t, err)
}

func TestIMAPFetcherDeletesHandledWhenEnabled(t *testing.T) {
	client := &fakeIMAPClient{
		uids:   []imap.UID{11, 12},
		bodies: map[imap.UID][]byte{11: []byte("body"), 12: []byte("body")},
	}
	f := NewIMAPFetcher(
		WithIMAPDeleteAfterFetch(true),
		withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }),
	)
	acc := Account{Type: "imap", Username: "u", Password: []byte("p")}
	_, err := f.Fetch(context.Background(), acc, &recordingHandler{failUID: "12"})
	require.NoError(t, err)
	require.Equal(t, []string{"11", "11"}, client.storeSets)
	require.Equal(t, []imap.Flag{imap.FlagSeen, imap.FlagDeleted}, client.storeFlags)
	require.Equal(t, 1, client.expungeCalls)
}

func TestIMAPFetcherClassifiesFailures(t *testing.T) {
	acc := Account{Type: "imap", Username: "u", Password: []byte("p")}

	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	}))
	_, err := f.Fetch(context.Background(), acc, &recordingHandler{})
	require.ErrorIs(t, err, inbound.ErrConnection)

	f = NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return &fakeIMAPClient{loginErr: errors.New("NO [AUTHENTICATIONFAILED]")}, nil
	}))
	_, err = f.Fetch(context.Background(), acc, &recordingHandler{})
	require.ErrorIs(t, err, inbound.ErrAuthentication)
	require.ErrorContains(t, err, "imap login")

	f = NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return &fakeIMAPClient{selectErr: errors.New("no inbox")}, nil
	}))
	_, err = f.Fetch(context.Background(), acc, &recordingHandler{})
	require.ErrorIs(t, err, inbound.ErrProtocol)
	require.ErrorContains(t, err, "imap select")

	f = NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) {
		return &fakeIMAPClient{uids: []imap.UID{1}, fetchErr: errors.New("BAD")}, nil
	}))
	_, err = f.Fetch(context.Background(), acc, &recordingHandler{})
	require.ErrorIs(t, err, inbound.ErrProtocol)
}

func TestIMAPFetcherAuthTimeout(t *testing.T) {
	client := &fakeIMAPClient{loginBlock: make(chan struct{})}
	f := NewIMAPFetcher(
		WithIMAPAuthTimeout(20*time.Millisecond),
		withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }),
	)
	acc := Account{Type: "imap", Username: "u", Password: []byte("p")}

	start := time.Now()
	_, err := f.Fetch(context.Background(), acc, &recordingHandler{})
	require.ErrorIs(t, err, inbound.ErrConnection)
	require.Less(t, time.Since(start), time.Second)
	require.True(t, client.isClosed())
}

func TestIMAPFetcherSessionDeadlineAfterLogin(t *testing.T) {
	client := &fakeIMAPClient{selectBlock: make(chan struct{})}
	f := NewIMAPFetcher(withIMAPClientFactory(func(Account) (imapClient, error) { return client, nil }))
	acc := Account{Type: "imap", Username: "u", Password: []byte("p")}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, acc, &recordingHandler{})
		done <- err
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, inbound.ErrConnection)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		require.ErrorContains(t, err, "imap select")
	case <-time.After(2 * time.Second):
		t.Fatal("session outlived its deadline while the server stalled after login")
	}
	require.True(t, client.isClosed())
}

func TestSupportsIMAPPreds(t *testing.T) {
	require.True(t, supportsIMAP("imap_tls"))
	require.True(t, supportsIMAP("IMAPTLS"))
	require.False(t, supportsIMAP("pop3"))
	require.True(t, useIMAPTLS("imaps"))
	require.True(t, useIMAPTLS("IMAPTLS"))
	require.False(t, useIMAPTLS("imap"))
}

type fakeIMAPClient struct {
	uids         []imap.UID
	bodies       map[imap.UID][]byte
	internalDate map[imap.UID]time.Time

	loginErr    error
	loginBlock  chan struct{}
	selectBlock chan struct{}
	selectErr   error
	searchErr   error
	fetchErr    error
	storeErr    error
	expungeErr  error
	logoutErr   error

	search       *imap.SearchCriteria
	fetchOpts    *imap.FetchOptions
	fetchCalls   int
	storeSets    []string
	storeFlags   []imap.Flag
	expungeCalls int
	logoutCalls  int

	mu     sync.Mutex
	closed bool
}

func (c *fakeIMAPClient) Login(_, _ string) commandWaiter {
	return &fakeCommand{err: c.loginErr, block: c.loginBlock}
}
func (c *fakeIMAPClient) Logout() commandWaiter {
	c.logoutCalls++
	return &fakeCommand{err: c.logoutErr}
}
func (c *fakeIMAPClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		for _, block := range []chan struct{}{c.loginBlock, c.selectBlock} {
			if block != nil {
				close(block)
			}
		}
	}
	c.closed = true
	return nil
}
func (c *fakeIMAPClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
func (c *fakeIMAPClient) Select(_ string, _ *imap.SelectOptions) selectWaiter {
	return &fakeSelect{err: c.selectErr, block: c.selectBlock}
}
func (c *fakeIMAPClient) UIDSearch(criteria *imap.SearchCriteria, _ *imap.SearchOptions) searchWaiter {
	c.search = criteria
	data := &imap.SearchData{All: imap.UIDSetNum(c.uids...)}
	return &fakeSearch{err: c.searchErr, data: data}
}
func (c *fakeIMAPClient) Fetch(_ imap.NumSet, options *imap.FetchOptions) fetchWaiter {
	c.fetchCalls++
	c.fetchOpts = options
	var bufs []*imapclient.FetchMessageBuffer
	if c.fetchErr == nil {
		for _, uid := range c.uids {
			bufs = append(bufs, &imapclient.FetchMessageBuffer{
				SeqNum:       uint32(uid),
				UID:          uid,
				InternalDate: c.internalDate[uid],
				BodySection: []imapclient.FetchBodySectionBuffer{{
					Section: &imap.FetchItemBodySection{Peek: true},
					Bytes:   append([]byte(nil), c.bodies[uid]...),
				}},
			})
		}
	}
	return &fakeFetch{err: c.fetchErr, bufs: bufs}
}
func (c *fakeIMAPClient) Store(numSet imap.NumSet, store *imap.StoreFlags, _ *imap.StoreOptions) fetchWaiter {
	c.storeSets = append(c.storeSets, numSet.String())
	if store != nil {
		c.storeFlags = append(c.storeFlags, store.Flags...)
	}
	return &fakeFetch{err: c.storeErr}
}
func (c *fakeIMAPClient) UIDExpunge(_ imap.UIDSet) expungeWaiter {
	c.expungeCalls++
	return &fakeExpunge{err: c.expungeErr}
}

type fakeCommand struct {
	err   error
	block chan struct{}
}

func (c *fakeCommand) Wait() error {
	if c.block != nil {
		<-c.block
		return errors.New("connection closed")
	}
	return c.err
}

type fakeSelect struct {
	err   error
	block chan struct{}
}

func (s *fakeSelect) Wait() (*imap.SelectData, error) {
	if s.block != nil {
		<-s.block
		return nil, errors.New("use of closed network connection")
	}
	return nil, s.err
}

type fakeSearch struct {
	err  error
	data *imap.SearchData
}

func (s *fakeSearch) Wait() (*imap.SearchData, error) { return s.data, s.err }

type fakeFetch struct {
	err  error
	bufs []*imapclient.FetchMessageBuffer
}

func (f *fakeFetch) Collect() ([]*imapclient.FetchMessageBuffer, error) { return f.bufs, f.err }
func (f *fakeFetch) Close() error                                       { return f.err }

type fakeExpunge struct{ err error }

func (e *fakeExpunge) Close() error { return e.err }
