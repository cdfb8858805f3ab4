// Package dedup decides whether an inbound message was already ingested.
//
// Two messages are the same when they share a protocol Message-ID, or when
// they have the same subject and sender and were received within the
// configured tolerance of each other. The second rule is a heuristic: it
// absorbs overlapping poll windows and re-sent copies that lack a
// Message-ID, at the cost of merging genuinely distinct mails with identical
// subject and sender sent a few seconds apart.
package dedup

import (
	"context"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/unicode/norm"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// DefaultTolerance is the receive-time window of the composite rule.
const DefaultTolerance = 5 * time.Second

// CompositePrefix marks dedupe keys derived from subject, sender and time.
const CompositePrefix = "composite:"

// Store answers the lookups the resolver needs. Implementations scope every
// query to the tenant.
type Store interface {
	ExistsByMessageID(ctx context.Context, tenantID, messageID string) (bool, error)
	ExistsNear(ctx context.Context, tenantID, subject, from string, at time.Time, tolerance time.Duration) (bool, error)
}

// Resolver implements the identity policy.
type Resolver struct {
	store     Store
	tolerance time.Duration
	logger    *slog.Logger
}

// Option customizes a Resolver.
type Option func(*Resolver)

// WithTolerance overrides DefaultTolerance.
func WithTolerance(d time.Duration) Option {
	return func(r *Resolver) {
		if d >= 0 {
			r.tolerance = d
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver returns a resolver backed by store.
func NewResolver(store Store, opts ...Option) *Resolver {
	r := &Resolver{store: store, tolerance: DefaultTolerance, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "dedup")
	return r
}

// Tolerance returns the configured composite window.
func (r *Resolver) Tolerance() time.Duration { return r.tolerance }

// Key returns the dedupe key of msg: the protocol Message-ID when present,
// otherwise a digest of subject, sender and receive second.
func Key(msg *models.Message) string {
	if msg == nil {
		return ""
	}
	if id := strings.TrimSpace(msg.MessageID); id != "" {
		return id
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte(norm.NFC.String(strings.TrimSpace(msg.Subject))))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(msg.From))))
	h.Write([]byte{0})
	h.Write([]byte(msg.ReceivedAt.UTC().Truncate(time.Second).Format(time.RFC3339)))
	return CompositePrefix + hex.EncodeToString(h.Sum(nil))
}

// IsDuplicate reports whether msg matches an already stored message of the
// same tenant. Lookup failures are persistence errors.
func (r *Resolver) IsDuplicate(ctx context.Context, msg *models.Message) (bool, error) {
	if msg == nil {
		return false, nil
	}
	if id := strings.TrimSpace(msg.MessageID); id != "" {
		found, err := r.store.ExistsByMessageID(ctx, msg.TenantID, id)
		if err != nil {
			return false, inbound.Wrap(inbound.ErrPersistence, "dedup message-id lookup", err)
		}
		if found {
			r.logger.Debug("duplicate by message-id", "tenant_id", msg.TenantID, "message_id", id)
			return true, nil
		}
	}

	found, err := r.store.ExistsNear(ctx, msg.TenantID, msg.Subject, msg.From, msg.ReceivedAt, r.tolerance)
	if err != nil {
		return false, inbound.Wrap(inbound.ErrPersistence, "dedup composite lookup", err)
	}
	if found {
		r.logger.Debug("duplicate by subject and sender", "tenant_id", msg.TenantID, "from", msg.From)
	}
	return found, nil
}

// Within reports whether a and b are at most tolerance apart.
func Within(a, b time.Time, tolerance time.Duration) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= tolerance
}
