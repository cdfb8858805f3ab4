// Package ingest drives mailbox polling: it selects eligible accounts, runs
// one protocol session per account and records the outcome on the account.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gotrs-io/gotrs-ingest/internal/cache"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/adapter"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-ingest/internal/metrics"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/repository"
)

var (
	// ErrPassInProgress is returned when a pass is triggered while another runs.
	ErrPassInProgress = errors.New("poll pass already in progress")
	// ErrAccountBusy is returned when the account already has a session open.
	ErrAccountBusy = errors.New("account session already in progress")
)

const (
	stateIdle int32 = iota
	stateRunning
)

// DefaultRedispatchLimit caps the ledger records republished per pass.
const DefaultRedispatchLimit = 100

// stateWriteTimeout bounds the fetch-state write that follows a session. The
// write is detached from the pass context so an account whose session hit
// the pass deadline still records its error.
const stateWriteTimeout = 10 * time.Second

// Redispatcher republishes ledger records whose publish was never acknowledged.
type Redispatcher interface {
	Redispatch(ctx context.Context, limit int) (int, error)
}

// AccountResult is the outcome of one mailbox session.
type AccountResult struct {
	AccountID string
	TenantID  string
	Status    models.FetchStatus
	Stats     connector.Stats
	Busy      bool
	Err       error
}

// PassReport summarizes one RunOnePass call.
type PassReport struct {
	StartedAt    time.Time
	FinishedAt   time.Time
	Eligible     int
	NotDue       int
	Succeeded    int
	Failed       int
	Busy         int
	Redispatched int
	Results      []AccountResult
}

// Err joins the per-account session errors of the pass.
func (r PassReport) Err() error {
	var errs []error
	for _, res := range r.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("account %s: %w", res.AccountID, res.Err))
		}
	}
	return errors.Join(errs...)
}

// Orchestrator runs poll passes. The zero value is not usable; build one with
// NewOrchestrator.
type Orchestrator struct {
	accounts   repository.AccountStore
	factory    connector.Factory
	handler    connector.Handler
	secrets    adapter.SecretReader
	status     cache.StatusStore
	redispatch Redispatcher

	workers         int
	sessionTimeout  time.Duration
	defaultFolder   string
	redispatchLimit int
	logger          *slog.Logger
	now             func() time.Time

	state atomic.Int32

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewOrchestrator wires the account registry, connector factory and message
// handler together.
func NewOrchestrator(accounts repository.AccountStore, factory connector.Factory, handler connector.Handler, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		accounts:        accounts,
		factory:         factory,
		handler:         handler,
		workers:         1,
		redispatchLimit: DefaultRedispatchLimit,
		logger:          slog.Default(),
		now:             func() time.Time { return time.Now().UTC() },
		inFlight:        make(map[string]struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	o.logger = o.logger.With("component", "poller")
	return o
}

// Running reports whether a pass is currently executing.
func (o *Orchestrator) Running() bool {
	return o.state.Load() == stateRunning
}

// RunOnePass polls every eligible account whose fetch interval has elapsed.
// A session failure is recorded on its account and in the report; the
// returned error is reserved for failures that stop the whole pass.
func (o *Orchestrator) RunOnePass(ctx context.Context) (PassReport, error) {
	if !o.state.CompareAndSwap(stateIdle, stateRunning) {
		metrics.PollPasses.WithLabelValues("skipped").Inc()
		return PassReport{}, ErrPassInProgress
	}
	defer o.state.Store(stateIdle)

	report := PassReport{StartedAt: o.now()}
	start := time.Now()
	defer func() {
		metrics.PollPassDuration.Observe(time.Since(start).Seconds())
	}()

	eligible, err := o.accounts.FindEligibleAccounts(ctx)
	if err != nil {
		metrics.PollPasses.WithLabelValues("failed").Inc()
		return report, inbound.Wrap(inbound.ErrPersistence, "load eligible accounts", err)
	}
	report.Eligible = len(eligible)

	due := make([]*models.MailboxAccount, 0, len(eligible))
	for _, acc := range eligible {
		if acc.DueAt(report.StartedAt) {
			due = append(due, acc)
		} else {
			report.NotDue++
		}
	}
	// Least recently fetched first, so a pass cut short by its deadline does
	// not starve the same accounts on every tick.
	slices.SortStableFunc(due, func(a, b *models.MailboxAccount) int {
		return compareLastFetch(a.LastFetchAt, b.LastFetchAt)
	})
	if len(due) == 0 {
		o.logger.Debug("poll pass found no due accounts", "eligible", report.Eligible)
	} else {
		o.logger.Info("poll pass starting", "due", len(due), "eligible", report.Eligible, "workers", o.workers)
	}

	report.Results = o.runAll(ctx, due)
	for _, res := range report.Results {
		switch {
		case res.Busy:
			report.Busy++
		case res.Err != nil:
			report.Failed++
		default:
			report.Succeeded++
		}
	}

	if o.redispatch != nil && ctx.Err() == nil {
		n, err := o.redispatch.Redispatch(ctx, o.redispatchLimit)
		report.Redispatched = n
		if err != nil {
			o.logger.Warn("ledger redispatch incomplete", "republished", n, "error", err)
		}
	}

	report.FinishedAt = o.now()
	metrics.PollPasses.WithLabelValues("completed").Inc()
	o.logger.Info("poll pass finished",
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"busy", report.Busy,
		"not_due", report.NotDue,
		"redispatched", report.Redispatched,
		"duration", time.Since(start))
	return report, nil
}

// FetchNow runs one session for accountID immediately, regardless of its
// fetch interval or auto-fetch flag.
func (o *Orchestrator) FetchNow(ctx context.Context, accountID string) (AccountResult, error) {
	acc, err := o.accounts.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return AccountResult{AccountID: accountID}, fmt.Errorf("account %s: %w", accountID, err)
		}
		return AccountResult{AccountID: accountID}, inbound.Wrap(inbound.ErrPersistence, "load account", err)
	}
	if !acc.HasHost() {
		return AccountResult{AccountID: acc.ID, TenantID: acc.TenantID}, fmt.Errorf("account %s has no inbound host configured", acc.ID)
	}

	res := o.runAccount(ctx, acc)
	if res.Busy {
		return res, ErrAccountBusy
	}
	return res, res.Err
}

func (o *Orchestrator) runAll(ctx context.Context, accounts []*models.MailboxAccount) []AccountResult {
	results := make([]AccountResult, len(accounts))
	if o.workers <= 1 {
		for i, acc := range accounts {
			if ctx.Err() != nil {
				results = results[:i]
				break
			}
			results[i] = o.runAccount(ctx, acc)
		}
		return results
	}

	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup
	dispatched := 0
	for i, acc := range accounts {
		if ctx.Err() != nil {
			break
		}
		dispatched = i + 1
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, acc *models.MailboxAccount) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.runAccount(ctx, acc)
		}(i, acc)
	}
	wg.Wait()
	return results[:dispatched]
}

func (o *Orchestrator) runAccount(ctx context.Context, acc *models.MailboxAccount) AccountResult {
	res := AccountResult{AccountID: acc.ID, TenantID: acc.TenantID}
	if !o.claim(acc.ID) {
		res.Busy = true
		o.logger.Info("account session already running, skipping", "account_id", acc.ID)
		return res
	}
	defer o.release(acc.ID)

	res.Stats, res.Err = o.session(ctx, acc)
	res.Status = models.FetchStatusSuccess
	state := models.FetchState{Status: models.FetchStatusSuccess, At: o.now()}
	if res.Err != nil {
		res.Status = models.FetchStatusError
		state.Status = models.FetchStatusError
		state.Error = res.Err.Error()
		o.logger.Warn("mailbox session failed",
			"tenant_id", acc.TenantID,
			"account_id", acc.ID,
			"kind", kindLabel(res.Err),
			"error", res.Err)
	} else {
		o.logger.Info("mailbox session finished",
			"tenant_id", acc.TenantID,
			"account_id", acc.ID,
			"found", res.Stats.Found,
			"handled", res.Stats.Handled,
			"failed", res.Stats.Failed)
	}

	metrics.AccountSessions.WithLabelValues(string(state.Status)).Inc()
	metrics.MessagesFetched.WithLabelValues("handled").Add(float64(res.Stats.Handled))
	metrics.MessagesFetched.WithLabelValues("failed").Add(float64(res.Stats.Failed))

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), stateWriteTimeout)
	defer cancel()
	if err := o.accounts.UpdateFetchState(writeCtx, acc.ID, state); err != nil {
		o.logger.Error("failed to record fetch state", "account_id", acc.ID, "error", err)
	}
	o.recordStatus(writeCtx, acc, state, res.Stats)
	return res
}

// compareLastFetch orders never-fetched accounts first, then oldest fetch.
func compareLastFetch(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

// session opens one protocol session. Panics are recovered and returned as
// protocol errors so a broken account never takes down the pass.
func (o *Orchestrator) session(ctx context.Context, acc *models.MailboxAccount) (stats connector.Stats, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = inbound.Wrap(inbound.ErrProtocol, "session", fmt.Errorf("panic: %v", r))
		}
	}()

	account := adapter.AccountFromModel(acc, o.secrets)
	defer clear(account.Password)
	if account.Folder == "" {
		account.Folder = o.defaultFolder
	}

	fetcher, err := o.factory.FetcherFor(account)
	if err != nil {
		return stats, err
	}

	if o.sessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.sessionTimeout)
		defer cancel()
	}
	return fetcher.Fetch(ctx, account, o.handler)
}

func (o *Orchestrator) recordStatus(ctx context.Context, acc *models.MailboxAccount, state models.FetchState, stats connector.Stats) {
	if o.status == nil {
		return
	}
	status := cache.PollStatus{
		AccountID:       acc.ID,
		TenantID:        acc.TenantID,
		LastPollAt:      state.At,
		LastStatus:      string(state.Status),
		LastError:       state.Error,
		MessagesFound:   stats.Found,
		MessagesHandled: stats.Handled,
	}
	if acc.FetchInterval > 0 {
		status.NextPollETA = state.At.Add(acc.FetchInterval)
	}
	// best effort
	if err := o.status.SetStatus(ctx, status); err != nil {
		o.logger.Debug("failed to store poll status", "account_id", acc.ID, "error", err)
	}
}

func (o *Orchestrator) claim(accountID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inFlight[accountID]; busy {
		return false
	}
	o.inFlight[accountID] = struct{}{}
	return true
}

func (o *Orchestrator) release(accountID string) {
	o.mu.Lock()
	delete(o.inFlight, accountID)
	o.mu.Unlock()
}

func kindLabel(err error) string {
	if kind := inbound.KindOf(err); kind != nil {
		return kind.Error()
	}
	return "unknown"
}
