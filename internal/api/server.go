// Package api serves the ops HTTP surface: health, metrics, manual passes,
// on-demand account fetches and the inbound webhook.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gotrs-io/gotrs-ingest/internal/auth"
	"github.com/gotrs-io/gotrs-ingest/internal/cache"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-ingest/internal/middleware"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/services/ingest"
)

// DefaultMaxInboundBytes caps webhook request bodies.
const DefaultMaxInboundBytes int64 = 25 << 20

// Poller is the orchestrator surface the API drives.
type Poller interface {
	RunOnePass(ctx context.Context) (ingest.PassReport, error)
	FetchNow(ctx context.Context, accountID string) (ingest.AccountResult, error)
	Running() bool
}

// Accounts reads the mailbox registry.
type Accounts interface {
	GetAccount(ctx context.Context, id string) (*models.MailboxAccount, error)
	ListAccounts(ctx context.Context, tenantID string) ([]*models.MailboxAccount, error)
}

// Ingester runs raw messages through the ingestion pipeline.
type Ingester interface {
	Ingest(ctx context.Context, account connector.Account, raw []byte, channel models.SourceChannel) (postmaster.Result, error)
}

// Deps are the collaborators of the ops server. Status may be nil.
type Deps struct {
	Poller   Poller
	Accounts Accounts
	Ingester Ingester
	Status   cache.StatusStore
	JWT      *auth.JWTManager
	Logger   *slog.Logger
	Version  string
	// MaxInboundBytes overrides DefaultMaxInboundBytes.
	MaxInboundBytes int64
}

// Server is the ops HTTP server.
type Server struct {
	deps   Deps
	logger *slog.Logger
	router *gin.Engine
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.MaxInboundBytes <= 0 {
		deps.MaxInboundBytes = DefaultMaxInboundBytes
	}
	s := &Server{deps: deps, logger: logger.With("component", "ops")}
	s.router = s.routes()
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestID(), middleware.AccessLog(s.logger))

	r.GET("/healthz", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authMW := middleware.NewAuthMiddleware(s.deps.JWT)
	v1 := r.Group("/api/v1", authMW.RequireAuth())
	{
		v1.POST("/passes", middleware.RequireOperator(), s.handleRunPass)
		v1.GET("/accounts", s.handleListAccounts)
		v1.GET("/accounts/:id/status", s.handleAccountStatus)
		v1.POST("/accounts/:id/fetch", s.handleFetchNow)
		v1.POST("/accounts/:id/inbound", s.handleInbound)
	}
	return r
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
