package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-ingest/internal/database"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

type messageRow struct {
	models.Message
	ToAddrs       sql.NullString `db:"to_addrs"`
	CcAddrs       sql.NullString `db:"cc_addrs"`
	ReferencesIDs sql.NullString `db:"references_ids"`
}

func (r messageRow) model() *models.Message {
	msg := r.Message
	msg.To = decodeList(r.ToAddrs.String)
	msg.Cc = decodeList(r.CcAddrs.String)
	msg.References = decodeList(r.ReferencesIDs.String)
	return &msg
}

// Address and reference lists are stored as JSON arrays in text columns.
func encodeList(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, _ := json.Marshal(values)
	return string(data)
}

func decodeList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// MessageRepository stores canonical messages.
type MessageRepository struct {
	db *sqlx.DB
}

// NewMessageRepository creates a repository over db.
func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateMessage inserts msg. It reports false without error when a message
// with the same (tenant, dedupe key) already exists.
func (r *MessageRepository) CreateMessage(ctx context.Context, msg *models.Message) (bool, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`
		INSERT INTO messages (
			id, tenant_id, account_id, message_id, from_addr, from_name,
			to_addrs, cc_addrs, subject, body_text, body_html, received_at,
			in_reply_to, references_ids, source_channel, dedupe_key, thread_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		msg.ID,
		msg.TenantID,
		msg.AccountID,
		msg.MessageID,
		msg.From,
		msg.FromName,
		encodeList(msg.To),
		encodeList(msg.Cc),
		msg.Subject,
		msg.BodyText,
		msg.BodyHTML,
		msg.ReceivedAt.UTC(),
		msg.InReplyTo,
		encodeList(msg.References),
		string(msg.SourceChannel),
		msg.DedupeKey,
		msg.ThreadID,
		msg.CreatedAt.UTC(),
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert message: %w", err)
	}
	return true, nil
}

// SetThreadID assigns the thread of a stored message.
func (r *MessageRepository) SetThreadID(ctx context.Context, tenantID, id, threadID string) error {
	query := r.db.Rebind(`UPDATE messages SET thread_id = ? WHERE tenant_id = ? AND id = ?`)
	if _, err := r.db.ExecContext(ctx, query, threadID, tenantID, id); err != nil {
		return fmt.Errorf("failed to set message thread: %w", err)
	}
	return nil
}

// ExistsByMessageID reports whether the tenant already stored messageID.
func (r *MessageRepository) ExistsByMessageID(ctx context.Context, tenantID, messageID string) (bool, error) {
	query := r.db.Rebind(`SELECT COUNT(*) FROM messages WHERE tenant_id = ? AND message_id = ?`)
	var n int
	if err := r.db.GetContext(ctx, &n, query, tenantID, messageID); err != nil {
		return false, fmt.Errorf("failed to look up message id: %w", err)
	}
	return n > 0, nil
}

// ExistsNear reports whether the tenant stored a message with the same
// subject and sender received within tolerance of at.
func (r *MessageRepository) ExistsNear(ctx context.Context, tenantID, subject, from string, at time.Time, tolerance time.Duration) (bool, error) {
	query := r.db.Rebind(`
		SELECT COUNT(*) FROM messages
		WHERE tenant_id = ?
			AND subject = ?
			AND LOWER(from_addr) = ?
			AND received_at BETWEEN ? AND ?`)

	at = at.UTC()
	var n int
	err := r.db.GetContext(ctx, &n, query,
		tenantID,
		subject,
		strings.ToLower(strings.TrimSpace(from)),
		at.Add(-tolerance),
		at.Add(tolerance),
	)
	if err != nil {
		return false, fmt.Errorf("failed to look up near duplicates: %w", err)
	}
	return n > 0, nil
}

// GetMessage returns a stored message or ErrNotFound.
func (r *MessageRepository) GetMessage(ctx context.Context, tenantID, id string) (*models.Message, error) {
	query := r.db.Rebind(`
		SELECT id, tenant_id, account_id, message_id, from_addr, from_name,
			to_addrs, cc_addrs, subject, body_text, body_html, received_at,
			in_reply_to, references_ids, source_channel, dedupe_key, thread_id, created_at
		FROM messages
		WHERE tenant_id = ? AND id = ?`)

	var row messageRow
	err := r.db.GetContext(ctx, &row, query, tenantID, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}
	return row.model(), nil
}
