package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

const accountColumns = `id, tenant_id, email_address, protocol_type, host, port, use_tls,
		username, encrypted_secret, folder, outbound_host, outbound_port,
		outbound_username, outbound_encrypted_secret, is_active, auto_fetch_enabled,
		fetch_interval_seconds, last_fetch_at, last_fetch_status, last_fetch_error,
		created_at, updated_at`

type accountRow struct {
	ID                      string         `db:"id"`
	TenantID                string         `db:"tenant_id"`
	EmailAddress            string         `db:"email_address"`
	ProtocolType            string         `db:"protocol_type"`
	Host                    string         `db:"host"`
	Port                    int            `db:"port"`
	UseTLS                  bool           `db:"use_tls"`
	Username                string         `db:"username"`
	EncryptedSecret         sql.NullString `db:"encrypted_secret"`
	Folder                  string         `db:"folder"`
	OutboundHost            string         `db:"outbound_host"`
	OutboundPort            int            `db:"outbound_port"`
	OutboundUsername        string         `db:"outbound_username"`
	OutboundEncryptedSecret sql.NullString `db:"outbound_encrypted_secret"`
	IsActive                bool           `db:"is_active"`
	AutoFetchEnabled        bool           `db:"auto_fetch_enabled"`
	FetchIntervalSeconds    int64          `db:"fetch_interval_seconds"`
	LastFetchAt             sql.NullTime   `db:"last_fetch_at"`
	LastFetchStatus         string         `db:"last_fetch_status"`
	LastFetchError          sql.NullString `db:"last_fetch_error"`
	CreatedAt               time.Time      `db:"created_at"`
	UpdatedAt               time.Time      `db:"updated_at"`
}

func (r accountRow) model() *models.MailboxAccount {
	acct := &models.MailboxAccount{
		ID:           r.ID,
		TenantID:     r.TenantID,
		EmailAddress: r.EmailAddress,
		Protocol: models.ProtocolConfig{
			Type:            r.ProtocolType,
			Host:            r.Host,
			Port:            r.Port,
			UseTLS:          r.UseTLS,
			Username:        r.Username,
			EncryptedSecret: r.EncryptedSecret.String,
			Folder:          r.Folder,
		},
		Outbound: models.OutboundConfig{
			Host:            r.OutboundHost,
			Port:            r.OutboundPort,
			Username:        r.OutboundUsername,
			EncryptedSecret: r.OutboundEncryptedSecret.String,
		},
		IsActive:         r.IsActive,
		AutoFetchEnabled: r.AutoFetchEnabled,
		FetchInterval:    time.Duration(r.FetchIntervalSeconds) * time.Second,
		LastFetchStatus:  models.FetchStatus(r.LastFetchStatus),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
	if r.LastFetchAt.Valid {
		at := r.LastFetchAt.Time
		acct.LastFetchAt = &at
	}
	if r.LastFetchError.Valid && r.LastFetchError.String != "" {
		msg := r.LastFetchError.String
		acct.LastFetchError = &msg
	}
	if acct.LastFetchStatus == "" {
		acct.LastFetchStatus = models.FetchStatusNever
	}
	return acct
}

// MailboxAccountRepository reads mailbox accounts and records fetch state.
type MailboxAccountRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewMailboxAccountRepository creates a repository over db.
func NewMailboxAccountRepository(db *sqlx.DB) *MailboxAccountRepository {
	return &MailboxAccountRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// FindEligibleAccounts returns active, auto-fetch enabled accounts with a host.
func (r *MailboxAccountRepository) FindEligibleAccounts(ctx context.Context) ([]*models.MailboxAccount, error) {
	query := r.db.Rebind(`
		SELECT ` + accountColumns + `
		FROM mailbox_accounts
		WHERE is_active = ? AND auto_fetch_enabled = ? AND TRIM(host) <> ''
		ORDER BY id`)

	var rows []accountRow
	if err := r.db.SelectContext(ctx, &rows, query, true, true); err != nil {
		return nil, fmt.Errorf("failed to query eligible accounts: %w", err)
	}

	accounts := make([]*models.MailboxAccount, 0, len(rows))
	for _, row := range rows {
		acct := row.model()
		if !acct.Eligible() {
			continue
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

// GetAccount returns the account with id or ErrNotFound.
func (r *MailboxAccountRepository) GetAccount(ctx context.Context, id string) (*models.MailboxAccount, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM mailbox_accounts WHERE id = ?`)

	var row accountRow
	err := r.db.GetContext(ctx, &row, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mailbox account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox account: %w", err)
	}
	return row.model(), nil
}

// ListAccounts returns every account of tenantID, or all accounts when
// tenantID is empty.
func (r *MailboxAccountRepository) ListAccounts(ctx context.Context, tenantID string) ([]*models.MailboxAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM mailbox_accounts`
	var args []interface{}
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY tenant_id, email_address`

	var rows []accountRow
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list mailbox accounts: %w", err)
	}
	accounts := make([]*models.MailboxAccount, 0, len(rows))
	for _, row := range rows {
		accounts = append(accounts, row.model())
	}
	return accounts, nil
}

// UpdateFetchState records the outcome of a fetch cycle. An empty error
// clears the stored error.
func (r *MailboxAccountRepository) UpdateFetchState(ctx context.Context, id string, state models.FetchState) error {
	query := r.db.Rebind(`
		UPDATE mailbox_accounts
		SET last_fetch_at = ?,
			last_fetch_status = ?,
			last_fetch_error = ?,
			updated_at = ?
		WHERE id = ?`)

	var lastErr sql.NullString
	if state.Error != "" {
		lastErr = sql.NullString{String: state.Error, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query, state.At.UTC(), string(state.Status), lastErr, r.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update fetch state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("mailbox account %s: %w", id, ErrNotFound)
	}
	return nil
}

// UpdateSecrets rewrites both stored credentials. It is used only by the
// vault migration command.
func (r *MailboxAccountRepository) UpdateSecrets(ctx context.Context, id, protocolSecret, outboundSecret string) error {
	query := r.db.Rebind(`
		UPDATE mailbox_accounts
		SET encrypted_secret = ?,
			outbound_encrypted_secret = ?,
			updated_at = ?
		WHERE id = ?`)

	if _, err := r.db.ExecContext(ctx, query, protocolSecret, outboundSecret, r.now(), id); err != nil {
		return fmt.Errorf("failed to update mailbox secrets: %w", err)
	}
	return nil
}
