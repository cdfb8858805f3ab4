package repository

import (
	"context"
	"time"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// AccountStore is the registry contract the poll orchestrator depends on.
// Only fetch-state fields are ever written by ingestion.
type AccountStore interface {
	FindEligibleAccounts(ctx context.Context) ([]*models.MailboxAccount, error)
	GetAccount(ctx context.Context, id string) (*models.MailboxAccount, error)
	ListAccounts(ctx context.Context, tenantID string) ([]*models.MailboxAccount, error)
	UpdateFetchState(ctx context.Context, id string, state models.FetchState) error
}

// MessageStore persists canonical messages.
type MessageStore interface {
	CreateMessage(ctx context.Context, msg *models.Message) (bool, error)
	SetThreadID(ctx context.Context, tenantID, id, threadID string) error
	ExistsByMessageID(ctx context.Context, tenantID, messageID string) (bool, error)
	ExistsNear(ctx context.Context, tenantID, subject, from string, at time.Time, tolerance time.Duration) (bool, error)
}

// ThreadStore persists thread links and membership.
type ThreadStore interface {
	FindThreadByMessageID(ctx context.Context, tenantID, messageID string) (string, bool, error)
	CreateThread(ctx context.Context, link *models.ThreadLink) error
	AppendMember(ctx context.Context, tenantID, threadID, memberID string) error
}

// LedgerStore is the append-only enqueue ledger.
type LedgerStore interface {
	AppendEnqueue(ctx context.Context, rec *models.EnqueueRecord) (bool, error)
	MarkPublished(ctx context.Context, tenantID, dedupeKey string, at time.Time) error
	PendingEnqueues(ctx context.Context, limit int) ([]models.EnqueueRecord, error)
}

// WatcherStore reads configured watcher lists.
type WatcherStore interface {
	TenantWatchers(ctx context.Context, tenantID string) ([]models.Watcher, error)
	AccountWatchers(ctx context.Context, accountID string) ([]models.Watcher, error)
}
