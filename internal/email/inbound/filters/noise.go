package filters

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// Classification is the verdict of the noise filter.
type Classification string

const (
	Genuine        Classification = "genuine"
	SelfOriginated Classification = "self_originated"
	Automated      Classification = "automated"
)

// Patterns are the case-insensitive substrings that mark a message as automated.
type Patterns struct {
	Subjects []string
	Senders  []string
}

// DefaultPatterns covers delivery failures, mailer daemons and auto replies.
func DefaultPatterns() Patterns {
	return Patterns{
		Subjects: []string{
			"delivery status notification",
			"undeliverable",
			"undelivered mail",
			"mail delivery failed",
			"delivery failure",
			"returned mail",
			"failure notice",
			"out of office",
			"automatic reply",
			"auto-reply",
			"autoreply",
			"auto reply",
		},
		Senders: []string{
			"mailer-daemon",
			"postmaster",
		},
	}
}

// Extend returns p with the extra patterns appended.
func (p Patterns) Extend(subjects, senders []string) Patterns {
	out := Patterns{
		Subjects: append(append([]string(nil), p.Subjects...), subjects...),
		Senders:  append(append([]string(nil), p.Senders...), senders...),
	}
	return out
}

// Classify decides whether msg is genuine mail for accountAddress. Self-origin
// is checked before the automated patterns.
func Classify(msg *models.Message, accountAddress string, patterns Patterns) Classification {
	if msg == nil {
		return Genuine
	}
	sender := strings.ToLower(strings.TrimSpace(msg.From))
	account := strings.ToLower(strings.TrimSpace(accountAddress))
	if sender != "" && sender == account {
		return SelfOriginated
	}

	subject := strings.ToLower(msg.Subject)
	for _, p := range patterns.Subjects {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(subject, p) {
			return Automated
		}
	}
	for _, p := range patterns.Senders {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(sender, p) {
			return Automated
		}
	}
	return Genuine
}

// NoiseFilter drops self-originated and automated messages.
type NoiseFilter struct {
	patterns Patterns
	logger   *slog.Logger
}

// NewNoiseFilter constructs the filter with the given patterns.
func NewNoiseFilter(logger *slog.Logger, patterns Patterns) *NoiseFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoiseFilter{patterns: patterns, logger: logger.With("component", "noise_filter")}
}

// ID implements Filter.
func (f *NoiseFilter) ID() string { return "noise" }

// Apply classifies the normalized message and marks noise as ignored.
func (f *NoiseFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Normalized == nil {
		return nil
	}
	class := Classify(m.Normalized, m.Account.Address, f.patterns)
	m.Annotate(AnnotationClassification, class)
	if class != Genuine {
		m.Annotate(AnnotationIgnoreMessage, true)
		f.logger.Debug("dropping message",
			"classification", class,
			"account_id", m.Account.ID,
			"from", m.Normalized.From,
			"subject", m.Normalized.Subject)
	}
	return nil
}
