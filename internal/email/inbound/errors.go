// Package inbound holds the error taxonomy shared by the inbound mail pipeline.
package inbound

import (
	"context"
	"errors"
	"net"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConnection     = errors.New("connection error")
	ErrAuthentication = errors.New("authentication error")
	ErrProtocol       = errors.New("protocol error")
	ErrParse          = errors.New("parse error")
	ErrPersistence    = errors.New("persistence error")
	ErrEnqueue        = errors.New("enqueue error")
)

// Error annotates a failure with its kind and the operation that produced it.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Wrap tags err with kind. A nil err stays nil; an err that already carries a
// kind keeps it.
func Wrap(kind error, op string, err error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind sentinel carried by err, or nil.
func KindOf(err error) error {
	for _, kind := range []error{ErrConnection, ErrAuthentication, ErrProtocol, ErrParse, ErrPersistence, ErrEnqueue} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// AccountLevel reports whether err is a per-account session failure that is
// recorded on the account and retried on the next cycle.
func AccountLevel(err error) bool {
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrAuthentication) || errors.Is(err, ErrProtocol)
}

// ClassifyNetwork maps transport failures to ErrConnection and everything
// else to fallback.
func ClassifyNetwork(op string, err error, fallback error) error {
	if err == nil {
		return nil
	}
	if KindOf(err) != nil {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: ErrConnection, Op: op, Err: err}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return &Error{Kind: ErrConnection, Op: op, Err: err}
	}
	return &Error{Kind: fallback, Op: op, Err: err}
}
