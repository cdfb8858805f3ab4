// Package watchers computes the silent copy list for outbound
// correspondence from the tenant, account and entity watcher lists.
package watchers

import (
	"context"
	"fmt"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
)

// Source reads the administratively configured watcher lists.
type Source interface {
	TenantWatchers(ctx context.Context, tenantID string) ([]models.Watcher, error)
	AccountWatchers(ctx context.Context, accountID string) ([]models.Watcher, error)
}

// Request describes one outbound message. When AccountWatchers is nil and
// AccountID is set, the account list is loaded from the source.
type Request struct {
	TenantID        string
	AccountID       string
	AccountWatchers []models.Watcher
	EntityWatchers  []models.EntityWatcher
	Recipients      []string
	Cc              []string
	ExcludeEmails   []string
}

// Aggregator resolves BCC lists against a Source.
type Aggregator struct {
	source Source
}

// NewAggregator returns an Aggregator reading from source.
func NewAggregator(source Source) *Aggregator {
	return &Aggregator{source: source}
}

// BCC returns the watcher addresses to copy on the outbound message.
func (a *Aggregator) BCC(ctx context.Context, req Request) ([]string, error) {
	tenant, err := a.source.TenantWatchers(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load tenant watchers: %w", err)
	}

	account := req.AccountWatchers
	if account == nil && req.AccountID != "" {
		account, err = a.source.AccountWatchers(ctx, req.AccountID)
		if err != nil {
			return nil, fmt.Errorf("load account watchers: %w", err)
		}
	}

	set := models.WatcherSet{TenantGlobal: tenant, AccountLevel: account, EntityLevel: req.EntityWatchers}
	exclude := make([]string, 0, len(req.Recipients)+len(req.Cc)+len(req.ExcludeEmails))
	exclude = append(exclude, req.Recipients...)
	exclude = append(exclude, req.Cc...)
	exclude = append(exclude, req.ExcludeEmails...)
	return Aggregate(set, exclude), nil
}

// Aggregate unions active tenant watchers, active account watchers and
// entity watchers not explicitly opted out, in first-seen order, minus
// exclude. Addresses are compared exactly as stored.
func Aggregate(set models.WatcherSet, exclude []string) []string {
	skip := make(map[string]struct{}, len(exclude))
	for _, e := range exclude {
		skip[e] = struct{}{}
	}

	var out []string
	add := func(email string) {
		if email == "" {
			return
		}
		if _, ok := skip[email]; ok {
			return
		}
		skip[email] = struct{}{}
		out = append(out, email)
	}

	for _, w := range set.TenantGlobal {
		if w.IsActive {
			add(w.Email)
		}
	}
	for _, w := range set.AccountLevel {
		if w.IsActive {
			add(w.Email)
		}
	}
	for _, w := range set.EntityLevel {
		if w.Notify == nil || *w.Notify {
			add(w.Email)
		}
	}
	return out
}
