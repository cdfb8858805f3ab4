package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// WatcherRepository reads tenant and account watcher lists.
type WatcherRepository struct {
	db *sqlx.DB
}

// NewWatcherRepository creates a repository over db.
func NewWatcherRepository(db *sqlx.DB) *WatcherRepository {
	return &WatcherRepository{db: db}
}

// TenantWatchers returns the tenant-wide watchers, active or not.
func (r *WatcherRepository) TenantWatchers(ctx context.Context, tenantID string) ([]models.Watcher, error) {
	var out []models.Watcher
	query := r.db.Rebind(`SELECT email, is_active FROM tenant_watchers WHERE tenant_id = ? ORDER BY email`)
	if err := r.db.SelectContext(ctx, &out, query, tenantID); err != nil {
		return nil, fmt.Errorf("failed to list tenant watchers: %w", err)
	}
	return out, nil
}

// AccountWatchers returns the watchers configured on a mailbox account.
func (r *WatcherRepository) AccountWatchers(ctx context.Context, accountID string) ([]models.Watcher, error) {
	var out []models.Watcher
	query := r.db.Rebind(`SELECT email, is_active FROM account_watchers WHERE account_id = ? ORDER BY email`)
	if err := r.db.SelectContext(ctx, &out, query, accountID); err != nil {
		return nil, fmt.Errorf("failed to list account watchers: %w", err)
	}
	return out, nil
}
