// Package memory provides an in-memory implementation of the ingestion
// repositories for tests and single-process development runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/repository"
)

type tenantKey struct {
	tenant string
	key    string
}

// Store keeps accounts, messages, threads, the enqueue ledger and watchers
// behind a single mutex.
type Store struct {
	mu sync.RWMutex

	accounts       map[string]*models.MailboxAccount
	messages       map[tenantKey]*models.Message // by (tenant, message row id)
	byDedupe       map[tenantKey]string
	threads        map[tenantKey]*models.ThreadLink
	ledger         map[tenantKey]*models.EnqueueRecord
	ledgerOrder    []tenantKey
	tenantWatchers map[string][]models.Watcher
	accountWatch   map[string][]models.Watcher
	insertOrder    []tenantKey
}

var (
	_ repository.AccountStore = (*Store)(nil)
	_ repository.MessageStore = (*Store)(nil)
	_ repository.ThreadStore  = (*Store)(nil)
	_ repository.LedgerStore  = (*Store)(nil)
	_ repository.WatcherStore = (*Store)(nil)
)

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		accounts:       make(map[string]*models.MailboxAccount),
		messages:       make(map[tenantKey]*models.Message),
		byDedupe:       make(map[tenantKey]string),
		threads:        make(map[tenantKey]*models.ThreadLink),
		ledger:         make(map[tenantKey]*models.EnqueueRecord),
		tenantWatchers: make(map[string][]models.Watcher),
		accountWatch:   make(map[string][]models.Watcher),
	}
}

// PutAccount inserts or replaces an account.
func (s *Store) PutAccount(acct *models.MailboxAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *acct
	s.accounts[acct.ID] = &cp
}

// FindEligibleAccounts returns eligible accounts ordered by id.
func (s *Store) FindEligibleAccounts(_ context.Context) ([]*models.MailboxAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.MailboxAccount
	for _, acct := range s.accounts {
		if acct.Eligible() {
			cp := *acct
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetAccount returns a copy of the account with id.
func (s *Store) GetAccount(_ context.Context, id string) (*models.MailboxAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("mailbox account %s: %w", id, repository.ErrNotFound)
	}
	cp := *acct
	return &cp, nil
}

// ListAccounts returns the accounts of tenantID, or all when empty.
func (s *Store) ListAccounts(_ context.Context, tenantID string) ([]*models.MailboxAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.MailboxAccount
	for _, acct := range s.accounts {
		if tenantID != "" && acct.TenantID != tenantID {
			continue
		}
		cp := *acct
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].EmailAddress < out[j].EmailAddress
	})
	return out, nil
}

// UpdateFetchState records a fetch outcome.
func (s *Store) UpdateFetchState(_ context.Context, id string, state models.FetchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("mailbox account %s: %w", id, repository.ErrNotFound)
	}
	at := state.At
	acct.LastFetchAt = &at
	acct.LastFetchStatus = state.Status
	acct.LastFetchError = nil
	if state.Error != "" {
		msg := state.Error
		acct.LastFetchError = &msg
	}
	acct.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateSecrets rewrites the stored credentials of an account.
func (s *Store) UpdateSecrets(_ context.Context, id, protocolSecret, outboundSecret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[id]
	if !ok {
		return fmt.Errorf("mailbox account %s: %w", id, repository.ErrNotFound)
	}
	acct.Protocol.EncryptedSecret = protocolSecret
	acct.Outbound.EncryptedSecret = outboundSecret
	return nil
}

// CreateMessage stores msg unless its (tenant, dedupe key) exists.
func (s *Store) CreateMessage(_ context.Context, msg *models.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dk := tenantKey{msg.TenantID, msg.DedupeKey}
	if _, exists := s.byDedupe[dk]; exists {
		return false, nil
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	cp := *msg
	id := tenantKey{msg.TenantID, msg.ID}
	s.messages[id] = &cp
	s.byDedupe[dk] = msg.ID
	s.insertOrder = append(s.insertOrder, id)
	return true, nil
}

// SetThreadID assigns the thread of a stored message.
func (s *Store) SetThreadID(_ context.Context, tenantID, id, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[tenantKey{tenantID, id}]
	if !ok {
		return fmt.Errorf("message %s: %w", id, repository.ErrNotFound)
	}
	msg.ThreadID = threadID
	return nil
}

// ExistsByMessageID reports whether the tenant stored messageID.
func (s *Store) ExistsByMessageID(_ context.Context, tenantID, messageID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for k, msg := range s.messages {
		if k.tenant == tenantID && msg.MessageID == messageID {
			return true, nil
		}
	}
	return false, nil
}

// ExistsNear reports whether the tenant stored a message with the same
// subject and sender received within tolerance of at.
func (s *Store) ExistsNear(_ context.Context, tenantID, subject, from string, at time.Time, tolerance time.Duration) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	from = strings.TrimSpace(from)
	for k, msg := range s.messages {
		if k.tenant != tenantID || msg.Subject != subject || !strings.EqualFold(msg.From, from) {
			continue
		}
		d := msg.ReceivedAt.Sub(at)
		if d < 0 {
			d = -d
		}
		if d <= tolerance {
			return true, nil
		}
	}
	return false, nil
}

// GetMessage returns a copy of a stored message.
func (s *Store) GetMessage(_ context.Context, tenantID, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[tenantKey{tenantID, id}]
	if !ok {
		return nil, fmt.Errorf("message %s: %w", id, repository.ErrNotFound)
	}
	cp := *msg
	return &cp, nil
}

// Messages returns copies of every stored message in insertion order.
func (s *Store) Messages() []models.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Message, 0, len(s.insertOrder))
	for _, k := range s.insertOrder {
		out = append(out, *s.messages[k])
	}
	return out
}

// FindThreadByMessageID returns the thread of the oldest tenant message
// carrying messageID.
func (s *Store) FindThreadByMessageID(_ context.Context, tenantID, messageID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.insertOrder {
		msg := s.messages[k]
		if k.tenant == tenantID && msg.MessageID == messageID && msg.ThreadID != "" {
			return msg.ThreadID, true, nil
		}
	}
	return "", false, nil
}

// CreateThread stores a new thread link.
func (s *Store) CreateThread(_ context.Context, link *models.ThreadLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tenantKey{link.TenantID, link.ThreadID}
	if _, exists := s.threads[k]; exists {
		return fmt.Errorf("thread %s already exists", link.ThreadID)
	}
	cp := *link
	cp.MemberMessageIDs = append([]string(nil), link.MemberMessageIDs...)
	s.threads[k] = &cp
	return nil
}

// AppendMember adds memberID to a thread once.
func (s *Store) AppendMember(_ context.Context, tenantID, threadID, memberID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	link, ok := s.threads[tenantKey{tenantID, threadID}]
	if !ok {
		return fmt.Errorf("thread %s: %w", threadID, repository.ErrNotFound)
	}
	for _, id := range link.MemberMessageIDs {
		if id == memberID {
			return nil
		}
	}
	link.MemberMessageIDs = append(link.MemberMessageIDs, memberID)
	return nil
}

// GetThread returns a copy of a thread link.
func (s *Store) GetThread(_ context.Context, tenantID, threadID string) (*models.ThreadLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	link, ok := s.threads[tenantKey{tenantID, threadID}]
	if !ok {
		return nil, fmt.Errorf("thread %s: %w", threadID, repository.ErrNotFound)
	}
	cp := *link
	cp.MemberMessageIDs = append([]string(nil), link.MemberMessageIDs...)
	return &cp, nil
}

// AppendEnqueue records rec once per (tenant, dedupe key).
func (s *Store) AppendEnqueue(_ context.Context, rec *models.EnqueueRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := tenantKey{rec.TenantID, rec.DedupeKey}
	if _, exists := s.ledger[k]; exists {
		return false, nil
	}
	if rec.QueuedAt.IsZero() {
		rec.QueuedAt = time.Now().UTC()
	}
	cp := *rec
	s.ledger[k] = &cp
	s.ledgerOrder = append(s.ledgerOrder, k)
	return true, nil
}

// Ledger returns the enqueue records in append order.
func (s *Store) Ledger() []models.EnqueueRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.EnqueueRecord, 0, len(s.ledgerOrder))
	for _, k := range s.ledgerOrder {
		out = append(out, *s.ledger[k])
	}
	return out
}

// MarkPublished stamps a ledger record as published.
func (s *Store) MarkPublished(_ context.Context, tenantID, dedupeKey string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.ledger[tenantKey{tenantID, dedupeKey}]
	if !ok {
		return fmt.Errorf("enqueue record %s: %w", dedupeKey, repository.ErrNotFound)
	}
	stamp := at
	rec.PublishedAt = &stamp
	return nil
}

// PendingEnqueues returns up to limit unpublished records in append order.
func (s *Store) PendingEnqueues(_ context.Context, limit int) ([]models.EnqueueRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.EnqueueRecord
	for _, k := range s.ledgerOrder {
		if limit > 0 && len(out) >= limit {
			break
		}
		if rec := s.ledger[k]; rec.PublishedAt == nil {
			out = append(out, *rec)
		}
	}
	return out, nil
}

// SetTenantWatchers replaces the tenant-wide watcher list.
func (s *Store) SetTenantWatchers(tenantID string, watchers []models.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenantWatchers[tenantID] = append([]models.Watcher(nil), watchers...)
}

// SetAccountWatchers replaces an account's watcher list.
func (s *Store) SetAccountWatchers(accountID string, watchers []models.Watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accountWatch[accountID] = append([]models.Watcher(nil), watchers...)
}

// TenantWatchers returns the tenant-wide watchers.
func (s *Store) TenantWatchers(_ context.Context, tenantID string) ([]models.Watcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Watcher(nil), s.tenantWatchers[tenantID]...), nil
}

// AccountWatchers returns an account's watchers.
func (s *Store) AccountWatchers(_ context.Context, accountID string) ([]models.Watcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Watcher(nil), s.accountWatch[accountID]...), nil
}
