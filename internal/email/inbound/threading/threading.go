// Package threading groups replies with the conversation they answer.
package threading

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// Store persists thread membership. FindThreadByMessageID resolves a
// protocol Message-ID to the thread of the tenant message that carries it.
type Store interface {
	FindThreadByMessageID(ctx context.Context, tenantID, messageID string) (string, bool, error)
	CreateThread(ctx context.Context, link *models.ThreadLink) error
	AppendMember(ctx context.Context, tenantID, threadID, memberID string) error
}

// Linker assigns messages to threads. It never fails the caller.
type Linker struct {
	store  Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// Option customizes a Linker.
type Option func(*Linker)

// WithLogger sets the diagnostics logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Linker) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Linker) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLinker returns a Linker backed by store.
func NewLinker(store Store, opts ...Option) *Linker {
	l := &Linker{
		store:  store,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "threading")
	return l
}

// Link attaches msg to the thread of the first reply candidate found in the
// tenant, or starts a new thread rooted at msg. It returns the thread id, or
// "" when not even a new thread could be recorded.
func (l *Linker) Link(ctx context.Context, msg *models.Message) string {
	if msg == nil {
		return ""
	}
	log := l.logger.With("tenant_id", msg.TenantID, "message", msg.ID)

	threadID, err := l.join(ctx, msg, log)
	if err != nil {
		log.Warn("thread lookup failed, starting new thread", "error", err)
	}
	if threadID != "" {
		return threadID
	}

	threadID, err = l.start(ctx, msg)
	if err != nil {
		log.Warn("thread creation failed", "error", err)
		return ""
	}
	return threadID
}

func (l *Linker) join(ctx context.Context, msg *models.Message, log *slog.Logger) (threadID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			threadID, err = "", fmt.Errorf("panic: %v", r)
		}
	}()

	for _, candidate := range Candidates(msg) {
		if !WellFormed(candidate) {
			log.Debug("skipping malformed reference", "reference", candidate)
			continue
		}
		tid, found, err := l.store.FindThreadByMessageID(ctx, msg.TenantID, candidate)
		if err != nil {
			return "", err
		}
		if !found {
			continue
		}
		if err := l.store.AppendMember(ctx, msg.TenantID, tid, msg.ID); err != nil {
			return "", err
		}
		log.Debug("joined thread", "thread_id", tid, "via", candidate)
		return tid, nil
	}
	return "", nil
}

func (l *Linker) start(ctx context.Context, msg *models.Message) (threadID string, err error) {
	defer func() {
		if r := recover(); r != nil {
			threadID, err = "", fmt.Errorf("panic: %v", r)
		}
	}()

	link := &models.ThreadLink{
		ThreadID:         l.newID(),
		TenantID:         msg.TenantID,
		RootMessageID:    msg.ID,
		MemberMessageIDs: []string{msg.ID},
		CreatedAt:        l.now(),
	}
	if err := l.store.CreateThread(ctx, link); err != nil {
		return "", err
	}
	return link.ThreadID, nil
}

// Candidates lists the ids msg may reply to: In-Reply-To first, then
// References from newest to oldest, without repeats.
func Candidates(msg *models.Message) []string {
	if msg == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(msg.InReplyTo)
	for i := len(msg.References) - 1; i >= 0; i-- {
		add(msg.References[i])
	}
	return out
}

// WellFormed reports whether id looks like a message id: non-empty, contains
// '@' and no whitespace.
func WellFormed(id string) bool {
	if id == "" || !strings.Contains(id, "@") {
		return false
	}
	return strings.IndexFunc(id, unicode.IsSpace) < 0
}
