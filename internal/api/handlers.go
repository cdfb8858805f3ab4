package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/adapter"
	"github.com/gotrs-io/gotrs-ingest/internal/middleware"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/repository"
	"github.com/gotrs-io/gotrs-ingest/internal/services/ingest"
)

type accountResultJSON struct {
	AccountID string `json:"account_id"`
	TenantID  string `json:"tenant_id"`
	Status    string `json:"status"`
	Found     int    `json:"found"`
	Handled   int    `json:"handled"`
	Failed    int    `json:"failed"`
	Busy      bool   `json:"busy,omitempty"`
	Error     string `json:"error,omitempty"`
}

func resultJSON(res ingest.AccountResult) accountResultJSON {
	out := accountResultJSON{
		AccountID: res.AccountID,
		TenantID:  res.TenantID,
		Status:    string(res.Status),
		Found:     res.Stats.Found,
		Handled:   res.Stats.Handled,
		Failed:    res.Stats.Failed,
		Busy:      res.Busy,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

func (s *Server) handleHealth(c *gin.Context) {
	running := false
	if s.deps.Poller != nil {
		running = s.deps.Poller.Running()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"version":      s.deps.Version,
		"pass_running": running,
	})
}

func (s *Server) handleRunPass(c *gin.Context) {
	report, err := s.deps.Poller.RunOnePass(c.Request.Context())
	if errors.Is(err, ingest.ErrPassInProgress) {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("manual poll pass failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "poll pass failed"})
		return
	}

	results := make([]accountResultJSON, 0, len(report.Results))
	for _, res := range report.Results {
		results = append(results, resultJSON(res))
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"started_at":   report.StartedAt,
			"finished_at":  report.FinishedAt,
			"eligible":     report.Eligible,
			"not_due":      report.NotDue,
			"succeeded":    report.Succeeded,
			"failed":       report.Failed,
			"busy":         report.Busy,
			"redispatched": report.Redispatched,
			"accounts":     results,
		},
	})
}

func (s *Server) handleListAccounts(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Query("tenant_id"))
	if claims := middleware.ClaimsFrom(c); claims != nil && claims.TenantID != "" {
		if tenantID != "" && tenantID != claims.TenantID {
			c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "tenant not accessible"})
			return
		}
		tenantID = claims.TenantID
	}

	accounts, err := s.deps.Accounts.ListAccounts(c.Request.Context(), tenantID)
	if err != nil {
		s.logger.Error("failed to list accounts", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to list accounts"})
		return
	}
	if accounts == nil {
		accounts = []*models.MailboxAccount{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": accounts})
}

// loadAccount resolves :id and enforces tenant scope. It writes the error
// response itself and returns nil on failure.
func (s *Server) loadAccount(c *gin.Context) *models.MailboxAccount {
	id := c.Param("id")
	acc, err := s.deps.Accounts.GetAccount(c.Request.Context(), id)
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "account not found"})
		return nil
	}
	if err != nil {
		s.logger.Error("failed to load account", "account_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "failed to load account"})
		return nil
	}
	if !middleware.CanAccessTenant(c, acc.TenantID) {
		// Same answer as a missing account so ids do not leak across tenants.
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": "account not found"})
		return nil
	}
	return acc
}

func (s *Server) handleAccountStatus(c *gin.Context) {
	acc := s.loadAccount(c)
	if acc == nil {
		return
	}
	data := gin.H{
		"account_id":        acc.ID,
		"last_fetch_at":     acc.LastFetchAt,
		"last_fetch_status": acc.LastFetchStatus,
		"last_fetch_error":  acc.LastFetchError,
	}
	if s.deps.Status != nil {
		status, err := s.deps.Status.GetStatus(c.Request.Context(), acc.ID)
		if err != nil {
			s.logger.Warn("failed to read poll status", "account_id", acc.ID, "error", err)
		} else if status != nil {
			data["poll"] = status
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func (s *Server) handleFetchNow(c *gin.Context) {
	acc := s.loadAccount(c)
	if acc == nil {
		return
	}
	res, err := s.deps.Poller.FetchNow(c.Request.Context(), acc.ID)
	switch {
	case errors.Is(err, ingest.ErrAccountBusy):
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": err.Error()})
	case err != nil && res.Status == "":
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
	case err != nil:
		// The session ran and its failure is recorded on the account.
		c.JSON(http.StatusBadGateway, gin.H{"success": false, "error": err.Error(), "data": resultJSON(res)})
	default:
		c.JSON(http.StatusOK, gin.H{"success": true, "data": resultJSON(res)})
	}
}

func (s *Server) handleInbound(c *gin.Context) {
	acc := s.loadAccount(c)
	if acc == nil {
		return
	}
	if !acc.IsActive {
		c.JSON(http.StatusConflict, gin.H{"success": false, "error": "account is inactive"})
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.deps.MaxInboundBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "message too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "failed to read body"})
		return
	}
	if len(raw) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "empty message"})
		return
	}

	// The webhook body is the message itself; no mailbox credentials are used.
	account := adapter.AccountFromModel(acc, nil)
	account.Password = nil
	start := time.Now()
	res, err := s.deps.Ingester.Ingest(c.Request.Context(), account, raw, models.SourceChannelWebhook)
	switch {
	case errors.Is(err, inbound.ErrParse):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"success": false, "error": err.Error()})
		return
	case err != nil:
		s.logger.Error("webhook ingest failed", "account_id", acc.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "ingest failed"})
		return
	}

	s.logger.Debug("webhook message handled", "account_id", acc.ID, "action", res.Action, "duration", time.Since(start))
	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"data": gin.H{
			"action":     res.Action,
			"message_id": res.MessageID,
			"thread_id":  res.ThreadID,
			"enqueued":   res.Enqueued,
		},
	})
}
