package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-ingest/internal/database"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// EnqueueLedgerRepository is the append-only record of queue hand-offs.
type EnqueueLedgerRepository struct {
	db *sqlx.DB
}

// NewEnqueueLedgerRepository creates a repository over db.
func NewEnqueueLedgerRepository(db *sqlx.DB) *EnqueueLedgerRepository {
	return &EnqueueLedgerRepository{db: db}
}

// AppendEnqueue records rec. It reports false without error when the
// (tenant, dedupe key) pair was already recorded.
func (r *EnqueueLedgerRepository) AppendEnqueue(ctx context.Context, rec *models.EnqueueRecord) (bool, error) {
	if rec.QueuedAt.IsZero() {
		rec.QueuedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`
		INSERT INTO enqueue_ledger (tenant_id, dedupe_key, message_id, priority, queued_at)
		VALUES (?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query, rec.TenantID, rec.DedupeKey, rec.MessageID, string(rec.Priority), rec.QueuedAt.UTC())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to append enqueue record: %w", err)
	}
	return true, nil
}

// MarkPublished records that the queue accepted the hand-off.
func (r *EnqueueLedgerRepository) MarkPublished(ctx context.Context, tenantID, dedupeKey string, at time.Time) error {
	query := r.db.Rebind(`UPDATE enqueue_ledger SET published_at = ? WHERE tenant_id = ? AND dedupe_key = ?`)
	if _, err := r.db.ExecContext(ctx, query, at.UTC(), tenantID, dedupeKey); err != nil {
		return fmt.Errorf("failed to mark enqueue record published: %w", err)
	}
	return nil
}

// PendingEnqueues returns up to limit records whose publish was never
// acknowledged, oldest first.
func (r *EnqueueLedgerRepository) PendingEnqueues(ctx context.Context, limit int) ([]models.EnqueueRecord, error) {
	query := r.db.Rebind(`
		SELECT tenant_id, dedupe_key, message_id, priority, queued_at, published_at
		FROM enqueue_ledger
		WHERE published_at IS NULL
		ORDER BY queued_at ASC
		LIMIT ?`)

	var out []models.EnqueueRecord
	if err := r.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("failed to query pending enqueue records: %w", err)
	}
	return out, nil
}
