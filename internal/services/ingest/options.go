package ingest

import (
	"log/slog"
	"time"

	"github.com/gotrs-io/gotrs-ingest/internal/cache"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/adapter"
)

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithWorkers sets how many accounts are polled concurrently. Values below
// two keep the sequential default.
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSecrets sets the reader used to decrypt account credentials.
func WithSecrets(secrets adapter.SecretReader) Option {
	return func(o *Orchestrator) {
		o.secrets = secrets
	}
}

// WithStatusStore enables the poll status cache.
func WithStatusStore(store cache.StatusStore) Option {
	return func(o *Orchestrator) {
		o.status = store
	}
}

// WithRedispatcher republishes pending ledger records at the end of a pass.
func WithRedispatcher(r Redispatcher, limit int) Option {
	return func(o *Orchestrator) {
		o.redispatch = r
		if limit > 0 {
			o.redispatchLimit = limit
		}
	}
}

// WithSessionTimeout bounds a single mailbox session.
func WithSessionTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.sessionTimeout = d
		}
	}
}

// WithDefaultFolder sets the mailbox folder used when an account has none.
func WithDefaultFolder(folder string) Option {
	return func(o *Orchestrator) {
		o.defaultFolder = folder
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}
