package inbound

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapKeepsKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(ErrPersistence, "store message", cause)

	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "store message: persistence error: disk full", err.Error())
	require.Nil(t, Wrap(ErrParse, "x", nil))
}

func TestWrapDoesNotOverrideExistingKind(t *testing.T) {
	inner := Wrap(ErrAuthentication, "imap login", errors.New("bad creds"))
	outer := Wrap(ErrProtocol, "imap", fmt.Errorf("session: %w", inner))

	require.ErrorIs(t, outer, ErrAuthentication)
	require.NotErrorIs(t, outer, ErrProtocol)
	require.Equal(t, ErrAuthentication, KindOf(outer))
}

func TestAccountLevel(t *testing.T) {
	require.True(t, AccountLevel(Wrap(ErrConnection, "dial", errors.New("refused"))))
	require.True(t, AccountLevel(Wrap(ErrProtocol, "select", errors.New("NO"))))
	require.False(t, AccountLevel(Wrap(ErrParse, "normalize", errors.New("garbage"))))
	require.False(t, AccountLevel(errors.New("plain")))
}

func TestClassifyNetwork(t *testing.T) {
	dialErr := &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
	require.ErrorIs(t, ClassifyNetwork("imap connect", dialErr, ErrProtocol), ErrConnection)
	require.ErrorIs(t, ClassifyNetwork("imap login", context.DeadlineExceeded, ErrAuthentication), ErrConnection)
	require.ErrorIs(t, ClassifyNetwork("imap login", errors.New("NO [AUTHENTICATIONFAILED]"), ErrAuthentication), ErrAuthentication)
	require.NoError(t, ClassifyNetwork("noop", nil, ErrProtocol))
}
