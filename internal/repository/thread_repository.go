package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-ingest/internal/database"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// ThreadRepository persists thread links. Thread lookup goes through the
// messages table, so a Message-ID resolves to the thread of the stored
// message carrying it.
type ThreadRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewThreadRepository creates a repository over db.
func NewThreadRepository(db *sqlx.DB) *ThreadRepository {
	return &ThreadRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// FindThreadByMessageID returns the thread of the oldest tenant message with
// the given protocol Message-ID.
func (r *ThreadRepository) FindThreadByMessageID(ctx context.Context, tenantID, messageID string) (string, bool, error) {
	query := r.db.Rebind(`
		SELECT thread_id FROM messages
		WHERE tenant_id = ? AND message_id = ? AND thread_id <> ''
		ORDER BY created_at
		LIMIT 1`)

	var threadID string
	err := r.db.GetContext(ctx, &threadID, query, tenantID, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find thread: %w", err)
	}
	return threadID, true, nil
}

// CreateThread stores link and its initial members in one transaction.
func (r *ThreadRepository) CreateThread(ctx context.Context, link *models.ThreadLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = r.now()
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin thread transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO thread_links (thread_id, tenant_id, root_message_id, created_at)
		VALUES (?, ?, ?, ?)`),
		link.ThreadID, link.TenantID, link.RootMessageID, link.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert thread link: %w", err)
	}

	member := tx.Rebind(`
		INSERT INTO thread_members (thread_id, tenant_id, message_id, added_at)
		VALUES (?, ?, ?, ?)`)
	for _, id := range link.MemberMessageIDs {
		if _, err := tx.ExecContext(ctx, member, link.ThreadID, link.TenantID, id, link.CreatedAt.UTC()); err != nil {
			return fmt.Errorf("failed to insert thread member: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit thread: %w", err)
	}
	return nil
}

// AppendMember adds memberID to threadID. Adding an existing member is a
// no-op.
func (r *ThreadRepository) AppendMember(ctx context.Context, tenantID, threadID, memberID string) error {
	query := r.db.Rebind(`
		INSERT INTO thread_members (thread_id, tenant_id, message_id, added_at)
		VALUES (?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, threadID, tenantID, memberID, r.now()); err != nil {
		if database.IsUniqueViolation(err) {
			return nil
		}
		return fmt.Errorf("failed to append thread member: %w", err)
	}
	return nil
}

// GetThread returns a thread with its members in join order.
func (r *ThreadRepository) GetThread(ctx context.Context, tenantID, threadID string) (*models.ThreadLink, error) {
	var link struct {
		ThreadID      string    `db:"thread_id"`
		TenantID      string    `db:"tenant_id"`
		RootMessageID string    `db:"root_message_id"`
		CreatedAt     time.Time `db:"created_at"`
	}
	err := r.db.GetContext(ctx, &link, r.db.Rebind(`
		SELECT thread_id, tenant_id, root_message_id, created_at
		FROM thread_links
		WHERE tenant_id = ? AND thread_id = ?`), tenantID, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}

	var members []string
	err = r.db.SelectContext(ctx, &members, r.db.Rebind(`
		SELECT message_id FROM thread_members
		WHERE tenant_id = ? AND thread_id = ?
		ORDER BY added_at, message_id`), tenantID, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list thread members: %w", err)
	}

	return &models.ThreadLink{
		ThreadID:         link.ThreadID,
		TenantID:         link.TenantID,
		RootMessageID:    link.RootMessageID,
		MemberMessageIDs: members,
		CreatedAt:        link.CreatedAt,
	}, nil
}
