// Package postmaster runs fetched messages through the ingestion pipeline:
// normalize, filter, deduplicate, persist, thread and enqueue.
package postmaster

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/dedup"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/filters"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/normalize"
	"github.com/gotrs-io/gotrs-ingest/internal/metrics"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// Action describes what happened to a message.
type Action string

const (
	ActionStored    Action = "stored"
	ActionDuplicate Action = "duplicate"
	ActionIgnored   Action = "ignored"
)

// Result tracks what happened to a message.
type Result struct {
	Action    Action
	MessageID string
	ThreadID  string
	Enqueued  bool
}

// MessageStore persists canonical messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) (bool, error)
	SetThreadID(ctx context.Context, tenantID, id, threadID string) error
}

// Deduplicator decides whether a message was already ingested.
type Deduplicator interface {
	IsDuplicate(ctx context.Context, msg *models.Message) (bool, error)
}

// ThreadLinker assigns a message to a conversation.
type ThreadLinker interface {
	Link(ctx context.Context, msg *models.Message) string
}

// Enqueuer hands a stored message to the downstream queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg *models.Message, priority models.Priority) (bool, error)
}

// Service wires the pipeline stages together. Normalizer, Dedup and
// Messages are required; a nil Threads or Enqueuer skips that stage.
type Service struct {
	Normalizer  *normalize.Normalizer
	FilterChain filters.Chain
	Dedup       Deduplicator
	Messages    MessageStore
	Threads     ThreadLinker
	Enqueuer    Enqueuer
	Logger      *slog.Logger
	Now         func() time.Time
}

// Handle implements connector.Handler for polled messages. A nil return lets
// the session mark the message seen, so only failures that must be retried
// are returned. Unparseable payloads fail the same way on every fetch and are
// consumed after Process has logged and counted them.
func (s *Service) Handle(ctx context.Context, msg *connector.FetchedMessage) error {
	_, err := s.Process(ctx, msg, models.SourceChannelPoll)
	if errors.Is(err, inbound.ErrParse) {
		return nil
	}
	return err
}

// Ingest runs a raw message delivered outside a mailbox session, such as a
// webhook push, through the same pipeline.
func (s *Service) Ingest(ctx context.Context, account connector.Account, raw []byte, channel models.SourceChannel) (Result, error) {
	fetched := &connector.FetchedMessage{
		Connector:  string(channel),
		ReceivedAt: s.now(),
		SizeBytes:  int64(len(raw)),
		Raw:        raw,
	}
	fetched.WithAccount(account)
	return s.Process(ctx, fetched, channel)
}

// Process normalizes, filters, deduplicates and stores fetched. Parse and
// persistence failures are returned; enqueue failures are logged and the
// message stays stored.
func (s *Service) Process(ctx context.Context, fetched *connector.FetchedMessage, channel models.SourceChannel) (Result, error) {
	account := fetched.AccountSnapshot()
	log := s.logger().With("tenant_id", account.TenantID, "account_id", account.ID, "uid", fetched.UID)

	msg, err := s.Normalizer.Normalize(fetched.Raw, normalize.Envelope{
		TenantID:   account.TenantID,
		AccountID:  account.ID,
		Channel:    channel,
		IngestedAt: fetched.ReceivedAt,
		MailboxRef: fetched.Metadata["uidl"],
	})
	if err != nil {
		metrics.MessagesDropped.WithLabelValues("parse_error").Inc()
		log.Warn("failed to parse message", "error", err)
		return Result{}, err
	}

	mctx := &filters.MessageContext{
		Account:     account,
		Message:     fetched,
		Normalized:  msg,
		Annotations: map[string]any{},
	}
	if err := s.FilterChain.Run(ctx, mctx); err != nil {
		return Result{}, err
	}
	if mctx.Ignored() {
		metrics.MessagesDropped.WithLabelValues("filtered").Inc()
		return Result{Action: ActionIgnored}, nil
	}

	msg.DedupeKey = dedup.Key(msg)
	dup, err := s.Dedup.IsDuplicate(ctx, msg)
	if err != nil {
		return Result{}, err
	}
	if dup {
		metrics.MessagesDropped.WithLabelValues("duplicate").Inc()
		log.Debug("duplicate message skipped", "dedupe_key", msg.DedupeKey)
		return Result{Action: ActionDuplicate}, nil
	}

	created, err := s.Messages.CreateMessage(ctx, msg)
	if err != nil {
		return Result{}, inbound.Wrap(inbound.ErrPersistence, "store message", err)
	}
	if !created {
		// Lost a race with a concurrent ingest of the same message.
		metrics.MessagesDropped.WithLabelValues("duplicate").Inc()
		return Result{Action: ActionDuplicate}, nil
	}
	metrics.MessagesIngested.WithLabelValues(string(msg.SourceChannel)).Inc()

	res := Result{Action: ActionStored, MessageID: msg.ID}

	if s.Threads != nil {
		if threadID := s.Threads.Link(ctx, msg); threadID != "" {
			if err := s.Messages.SetThreadID(ctx, msg.TenantID, msg.ID, threadID); err != nil {
				log.Warn("failed to record thread", "message", msg.ID, "thread_id", threadID, "error", err)
			} else {
				msg.ThreadID = threadID
				res.ThreadID = threadID
			}
		}
	}

	if s.Enqueuer != nil {
		queued, err := s.Enqueuer.Enqueue(ctx, msg, priorityOf(mctx))
		if err != nil {
			log.Warn("enqueue failed, message stays stored", "message", msg.ID, "error", err)
		}
		res.Enqueued = queued
	}

	log.Info("message ingested",
		"message", msg.ID,
		"thread_id", res.ThreadID,
		"channel", msg.SourceChannel,
		"enqueued", res.Enqueued)
	return res, nil
}

func priorityOf(m *filters.MessageContext) models.Priority {
	if p, ok := m.Annotations[filters.AnnotationPriorityOverride].(models.Priority); ok && p != "" {
		return p
	}
	return models.PriorityNormal
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger.With("component", "postmaster")
	}
	return slog.Default().With("component", "postmaster")
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}
