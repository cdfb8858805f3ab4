package filters

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
	"strings"

	"github.com/emersion/go-message/textproto"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

var (
	priorityHeaders = []string{"X-Priority", "Importance", "Priority", "X-MSMail-Priority"}
	autoHeaders     = []string{"Auto-Submitted", "X-Autoreply", "X-Autorespond", "X-Auto-Response-Suppress"}
)

// HeaderHintsFilter reads priority and RFC 3834 auto-submission headers.
// Priority hints always become an annotation; auto-submitted messages are
// only dropped when dropAutoSubmitted is set.
type HeaderHintsFilter struct {
	logger            *slog.Logger
	dropAutoSubmitted bool
}

// NewHeaderHintsFilter constructs a filter instance.
func NewHeaderHintsFilter(logger *slog.Logger, dropAutoSubmitted bool) *HeaderHintsFilter {
	if logger == nil {
		logger = slog.Default()
	}
	return &HeaderHintsFilter{logger: logger.With("component", "header_hints"), dropAutoSubmitted: dropAutoSubmitted}
}

// ID returns the filter identifier.
func (f *HeaderHintsFilter) ID() string { return "header_hints" }

// Apply inspects the raw header block.
func (f *HeaderHintsFilter) Apply(_ context.Context, m *MessageContext) error {
	if m == nil || m.Message == nil || len(m.Message.Raw) == 0 {
		return nil
	}
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(m.Message.Raw)))
	if err != nil {
		f.logger.Debug("header parse failed", "error", err)
		return nil
	}

	if p, ok := priorityFromHeader(header); ok {
		m.Annotate(AnnotationPriorityOverride, p)
	}

	if auto := autoSubmitted(header); auto != "" {
		m.Annotate(AnnotationAutoSubmitted, auto)
		if f.dropAutoSubmitted {
			m.Annotate(AnnotationClassification, Automated)
			m.Annotate(AnnotationIgnoreMessage, true)
			f.logger.Debug("dropping auto-submitted message", "account_id", m.Account.ID, "marker", auto)
		}
	}
	return nil
}

func priorityFromHeader(header textproto.Header) (models.Priority, bool) {
	for _, name := range priorityHeaders {
		raw := strings.ToLower(strings.TrimSpace(header.Get(name)))
		if raw == "" {
			continue
		}
		switch {
		case strings.HasPrefix(raw, "1"), strings.HasPrefix(raw, "2"),
			raw == "high", raw == "urgent":
			return models.PriorityHigh, true
		case strings.HasPrefix(raw, "4"), strings.HasPrefix(raw, "5"),
			raw == "low", raw == "non-urgent":
			return models.PriorityLow, true
		case strings.HasPrefix(raw, "3"), raw == "normal":
			return models.PriorityNormal, true
		}
	}
	return "", false
}

func autoSubmitted(header textproto.Header) string {
	for _, name := range autoHeaders {
		raw := strings.TrimSpace(header.Get(name))
		if raw == "" {
			continue
		}
		if name == "Auto-Submitted" && strings.EqualFold(raw, "no") {
			continue
		}
		return name + ": " + raw
	}
	switch strings.ToLower(strings.TrimSpace(header.Get("Precedence"))) {
	case "bulk", "junk", "auto_reply":
		return "Precedence: " + header.Get("Precedence")
	}
	return ""
}
