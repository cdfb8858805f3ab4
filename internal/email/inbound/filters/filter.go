package filters

import (
	"context"
	"log/slog"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// MessageContext is the mutable envelope filters operate on.
type MessageContext struct {
	Account     connector.Account
	Message     *connector.FetchedMessage
	Normalized  *models.Message
	Annotations map[string]any
}

// Annotate stores value under key, allocating the map on first use.
func (m *MessageContext) Annotate(key string, value any) {
	if m.Annotations == nil {
		m.Annotations = make(map[string]any)
	}
	m.Annotations[key] = value
}

// Ignored reports whether a filter asked for the message to be dropped.
func (m *MessageContext) Ignored() bool {
	if m == nil || m.Annotations == nil {
		return false
	}
	ignore, _ := m.Annotations[AnnotationIgnoreMessage].(bool)
	return ignore
}

// Filter inspects a message before it is persisted.
type Filter interface {
	ID() string
	Apply(ctx context.Context, m *MessageContext) error
}

// Chain executes filters in order, short-circuiting on error.
type Chain struct {
	filters []Filter
}

// NewChain returns a filter chain that runs the provided filters sequentially.
func NewChain(fs ...Filter) Chain {
	return Chain{filters: fs}
}

// Run executes the chain. Filters after one that marked the message ignored
// are skipped.
func (c Chain) Run(ctx context.Context, m *MessageContext) error {
	for _, f := range c.filters {
		if m.Ignored() {
			return nil
		}
		if err := f.Apply(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// NewInboundChain returns the standard inbound chain. Noise classification
// runs first so self-originated mail keeps that verdict even when it also
// carries auto-submission headers.
func NewInboundChain(logger *slog.Logger, patterns Patterns, dropAutoSubmitted bool) Chain {
	return NewChain(
		NewNoiseFilter(logger, patterns),
		NewHeaderHintsFilter(logger, dropAutoSubmitted),
	)
}
