package models

import "time"

// SourceChannel records how a message entered the pipeline.
type SourceChannel string

const (
	SourceChannelPoll    SourceChannel = "poll"
	SourceChannelWebhook SourceChannel = "webhook"
)

// Message is the canonical, normalized inbound email.
type Message struct {
	ID            string        `json:"id" db:"id"`
	TenantID      string        `json:"tenant_id" db:"tenant_id"`
	AccountID     string        `json:"account_id" db:"account_id"`
	MessageID     string        `json:"message_id,omitempty" db:"message_id"`
	From          string        `json:"from" db:"from_addr"`
	FromName      string        `json:"from_name,omitempty" db:"from_name"`
	To            []string      `json:"to" db:"-"`
	Cc            []string      `json:"cc" db:"-"`
	Subject       string        `json:"subject" db:"subject"`
	BodyText      string        `json:"body_text" db:"body_text"`
	BodyHTML      string        `json:"body_html" db:"body_html"`
	ReceivedAt    time.Time     `json:"received_at" db:"received_at"`
	InReplyTo     string        `json:"in_reply_to,omitempty" db:"in_reply_to"`
	References    []string      `json:"references,omitempty" db:"-"`
	SourceChannel SourceChannel `json:"source_channel" db:"source_channel"`
	DedupeKey     string        `json:"dedupe_key" db:"dedupe_key"`
	ThreadID      string        `json:"thread_id,omitempty" db:"thread_id"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}

// ThreadLink groups messages connected through reply headers.
type ThreadLink struct {
	ThreadID         string    `json:"thread_id"`
	TenantID         string    `json:"tenant_id"`
	RootMessageID    string    `json:"root_message_id"`
	MemberMessageIDs []string  `json:"member_message_ids"`
	CreatedAt        time.Time `json:"created_at"`
}

// Priority is the downstream processing priority of an enqueued message.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// EnqueueRecord is one row of the append-only hand-off ledger.
type EnqueueRecord struct {
	DedupeKey string    `json:"dedupe_key" db:"dedupe_key"`
	TenantID  string    `json:"tenant_id" db:"tenant_id"`
	MessageID string    `json:"message_id" db:"message_id"`
	Priority  Priority  `json:"priority" db:"priority"`
	QueuedAt  time.Time `json:"queued_at" db:"queued_at"`
	// PublishedAt is set once the queue acknowledged the hand-off.
	PublishedAt *time.Time `json:"published_at,omitempty" db:"published_at"`
}
