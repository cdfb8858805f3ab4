// Package queue hands persisted messages to the downstream processing queue.
//
// Every hand-off is first appended to the enqueue ledger keyed by
// (tenant, dedupe key), then published. A record that already exists is
// never published again by Enqueue; records whose publish failed are picked
// up by Redispatch.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
	"github.com/gotrs-io/gotrs-ingest/internal/metrics"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/repository"
)

// DefaultSubjectPrefix is the first subject token of published messages.
const DefaultSubjectPrefix = "ingest"

// Payload is the JSON body published for every enqueued message.
type Payload struct {
	MessageID string          `json:"message_id"`
	TenantID  string          `json:"tenant_id"`
	Priority  models.Priority `json:"priority"`
	DedupeKey string          `json:"dedupe_key"`
}

// Enqueuer appends to the ledger and publishes.
type Enqueuer struct {
	ledger    repository.LedgerStore
	publisher Publisher
	prefix    string
	now       func() time.Time
	logger    *slog.Logger
}

// Option customizes an Enqueuer.
type Option func(*Enqueuer)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) Option {
	return func(e *Enqueuer) {
		if p := strings.Trim(strings.TrimSpace(prefix), "."); p != "" {
			e.prefix = p
		}
	}
}

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Enqueuer) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Enqueuer) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEnqueuer builds an Enqueuer over ledger and publisher.
func NewEnqueuer(ledger repository.LedgerStore, publisher Publisher, opts ...Option) *Enqueuer {
	e := &Enqueuer{
		ledger:    ledger,
		publisher: publisher,
		prefix:    DefaultSubjectPrefix,
		now:       func() time.Time { return time.Now().UTC() },
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "enqueuer")
	return e
}

// Subject returns the subject messages of tenantID are published on.
func (e *Enqueuer) Subject(tenantID string) string {
	return e.prefix + "." + subjectToken(tenantID) + ".message"
}

// Enqueue records and publishes msg with priority. It reports whether a
// publish happened; an existing ledger record yields (false, nil).
// Failures carry inbound.ErrEnqueue.
func (e *Enqueuer) Enqueue(ctx context.Context, msg *models.Message, priority models.Priority) (bool, error) {
	if msg == nil {
		return false, nil
	}
	if priority == "" {
		priority = models.PriorityNormal
	}
	rec := &models.EnqueueRecord{
		DedupeKey: msg.DedupeKey,
		TenantID:  msg.TenantID,
		MessageID: msg.ID,
		Priority:  priority,
		QueuedAt:  e.now(),
	}

	created, err := e.ledger.AppendEnqueue(ctx, rec)
	if err != nil {
		metrics.EnqueueFailures.Inc()
		return false, inbound.Wrap(inbound.ErrEnqueue, "ledger append", err)
	}
	if !created {
		e.logger.Debug("already enqueued", "tenant_id", rec.TenantID, "dedupe_key", rec.DedupeKey)
		return false, nil
	}

	if err := e.publish(ctx, *rec); err != nil {
		return false, err
	}
	return true, nil
}

// Redispatch republishes up to limit ledger records whose publish was never
// acknowledged. It returns how many were published.
func (e *Enqueuer) Redispatch(ctx context.Context, limit int) (int, error) {
	pending, err := e.ledger.PendingEnqueues(ctx, limit)
	if err != nil {
		return 0, inbound.Wrap(inbound.ErrEnqueue, "ledger pending", err)
	}

	var (
		published int
		errs      []error
	)
	for _, rec := range pending {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		if err := e.publish(ctx, rec); err != nil {
			errs = append(errs, err)
			continue
		}
		published++
	}
	if published > 0 {
		e.logger.Info("redispatched pending messages", "count", published)
	}
	return published, errors.Join(errs...)
}

func (e *Enqueuer) publish(ctx context.Context, rec models.EnqueueRecord) error {
	payload, err := json.Marshal(Payload{
		MessageID: rec.MessageID,
		TenantID:  rec.TenantID,
		Priority:  rec.Priority,
		DedupeKey: rec.DedupeKey,
	})
	if err != nil {
		return inbound.Wrap(inbound.ErrEnqueue, "encode payload", err)
	}

	subject := e.Subject(rec.TenantID)
	if err := e.publisher.Publish(ctx, subject, payload, rec.DedupeKey); err != nil {
		metrics.EnqueueFailures.Inc()
		e.logger.Warn("queue publish failed",
			"tenant_id", rec.TenantID,
			"message", rec.MessageID,
			"subject", subject,
			"error", err)
		return inbound.Wrap(inbound.ErrEnqueue, "publish", err)
	}
	metrics.EnqueuePublished.Inc()

	if err := e.ledger.MarkPublished(ctx, rec.TenantID, rec.DedupeKey, e.now()); err != nil {
		// Redispatch will publish again; the broker drops it by msg id.
		e.logger.Warn("failed to mark enqueue record published", "dedupe_key", rec.DedupeKey, "error", err)
	}
	return nil
}

// NATS subject tokens must not contain separators, wildcards or whitespace.
func subjectToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, value)
}

// DecodePayload parses a published payload.
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, fmt.Errorf("decode enqueue payload: %w", err)
	}
	return p, nil
}
