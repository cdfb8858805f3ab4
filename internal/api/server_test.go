package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotrs-io/gotrs-ingest/internal/auth"
	"github.com/gotrs-io/gotrs-ingest/internal/cache"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/connector"
	"github.com/gotrs-io/gotrs-ingest/internal/email/inbound/postmaster"
	"github.com/gotrs-io/gotrs-ingest/internal/models"
	"github.com/gotrs-io/gotrs-ingest/internal/repository/memory"
	"github.com/gotrs-io/gotrs-ingest/internal/services/ingest"
)

type fakePoller struct {
	passErr  error
	fetchRes ingest.AccountResult
	fetchErr error
	fetched  []string
}

func (p *fakePoller) RunOnePass(context.Context) (ingest.PassReport, error) {
	if p.passErr != nil {
		return ingest.PassReport{}, p.passErr
	}
	return ingest.PassReport{Eligible: 1, Succeeded: 1, Results: []ingest.AccountResult{{AccountID: "a1", TenantID: "acme", Status: models.FetchStatusSuccess}}}, nil
}

func (p *fakePoller) FetchNow(_ context.Context, id string) (ingest.AccountResult, error) {
	p.fetched = append(p.fetched, id)
	return p.fetchRes, p.fetchErr
}

func (p *fakePoller) Running() bool { return false }

type fakeIngester struct {
	raw     []byte
	account connector.Account
	channel models.SourceChannel
	err     error
}

func (f *fakeIngester) Ingest(_ context.Context, account connector.Account, raw []byte, channel models.SourceChannel) (postmaster.Result, error) {
	f.raw, f.account, f.channel = raw, account, channel
	if f.err != nil {
		return postmaster.Result{}, f.err
	}
	return postmaster.Result{Action: postmaster.ActionStored, MessageID: "m1", ThreadID: "th1", Enqueued: true}, nil
}

type staticStatus struct{ status *cache.PollStatus }

func (s staticStatus) SetStatus(context.Context, cache.PollStatus) error { return nil }
func (s staticStatus) GetStatus(context.Context, string) (*cache.PollStatus, error) {
	return s.status, nil
}

type fixture struct {
	server   *Server
	poller   *fakePoller
	ingester *fakeIngester
	jwt      *auth.JWTManager
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.NewStore()
	store.PutAccount(&models.MailboxAccount{ID: "a1", TenantID: "acme", EmailAddress: "support@acme.test", IsActive: true,
		Protocol: models.ProtocolConfig{Type: "imap", Host: "imap.acme.test", EncryptedSecret: "secret"}})
	store.PutAccount(&models.MailboxAccount{ID: "b1", TenantID: "globex", EmailAddress: "help@globex.test", IsActive: true,
		Protocol: models.ProtocolConfig{Type: "imap", Host: "imap.globex.test"}})
	store.PutAccount(&models.MailboxAccount{ID: "off", TenantID: "acme", EmailAddress: "old@acme.test"})

	f := fixture{poller: &fakePoller{}, ingester: &fakeIngester{}, jwt: auth.NewJWTManager("test-secret", time.Hour)}
	f.server = NewServer(Deps{
		Poller:          f.poller,
		Accounts:        store,
		Ingester:        f.ingester,
		Status:          staticStatus{status: &cache.PollStatus{AccountID: "a1", LastStatus: "success", MessagesHandled: 2}},
		JWT:             f.jwt,
		Version:         "test",
		MaxInboundBytes: 1024,
	})
	return f
}

func (f fixture) token(t *testing.T, tenant string) string {
	role := auth.RoleOperator
	if tenant != "" {
		role = auth.RoleTenant
	}
	tok, err := f.jwt.GenerateToken("ops", role, tenant)
	require.NoError(t, err)
	return tok
}

func (f fixture) do(method, path, token, body string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])

	w = f.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAPIRequiresToken(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/v1/passes", "", "").Code)
}

func TestRunPass(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodPost, "/api/v1/passes", f.token(t, ""), "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	assert.EqualValues(t, 1, data["succeeded"])

	f.poller.passErr = ingest.ErrPassInProgress
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/passes", f.token(t, ""), "").Code)

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/v1/passes", f.token(t, "acme"), "").Code)
}

func TestFetchNow(t *testing.T) {
	f := newFixture(t)
	f.poller.fetchRes = ingest.AccountResult{AccountID: "a1", TenantID: "acme", Status: models.FetchStatusSuccess, Stats: connector.Stats{Found: 3, Handled: 3}}
	w := f.do(http.MethodPost, "/api/v1/accounts/a1/fetch", f.token(t, "acme"), "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"a1"}, f.poller.fetched)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/accounts/b1/fetch", f.token(t, "acme"), "").Code,
		"other tenants' accounts are invisible")
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/v1/accounts/zzz/fetch", f.token(t, ""), "").Code)

	f.poller.fetchErr = ingest.ErrAccountBusy
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/accounts/a1/fetch", f.token(t, ""), "").Code)

	f.poller.fetchRes.Status = models.FetchStatusError
	f.poller.fetchErr = inbound.Wrap(inbound.ErrAuthentication, "login", errors.New("bad password"))
	assert.Equal(t, http.StatusBadGateway, f.do(http.MethodPost, "/api/v1/accounts/a1/fetch", f.token(t, ""), "").Code)
}

func TestInboundWebhook(t *testing.T) {
	f := newFixture(t)
	raw := "From: jane@example.com\r\nSubject: hi\r\n\r\nbody\r\n"

	w := f.do(http.MethodPost, "/api/v1/accounts/a1/inbound", f.token(t, "acme"), raw)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, raw, string(f.ingester.raw))
	assert.Equal(t, models.SourceChannelWebhook, f.ingester.channel)
	assert.Equal(t, "acme", f.ingester.account.TenantID)
	assert.Nil(t, f.ingester.account.Password)
	data := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "stored", data["action"])

	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/v1/accounts/off/inbound", f.token(t, ""), raw).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/v1/accounts/a1/inbound", f.token(t, ""), "").Code)
	assert.Equal(t, http.StatusRequestEntityTooLarge,
		f.do(http.MethodPost, "/api/v1/accounts/a1/inbound", f.token(t, ""), strings.Repeat("x", 2048)).Code)

	f.ingester.err = inbound.Wrap(inbound.ErrParse, "normalize", errors.New("no sender"))
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/api/v1/accounts/a1/inbound", f.token(t, ""), raw).Code)
}

func TestAccountsAreTenantScoped(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/accounts", f.token(t, "globex"), "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].([]any)
	require.Len(t, data, 1)
	assert.Equal(t, "b1", data[0].(map[string]any)["id"])

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/api/v1/accounts?tenant_id=acme", f.token(t, "globex"), "").Code)

	w = f.do(http.MethodGet, "/api/v1/accounts", f.token(t, ""), "")
	assert.Len(t, decode(t, w)["data"].([]any), 3)
}

func TestAccountStatusIncludesPollCache(t *testing.T) {
	f := newFixture(t)
	w := f.do(http.MethodGet, "/api/v1/accounts/a1/status", f.token(t, ""), "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decode(t, w)["data"].(map[string]any)
	poll := data["poll"].(map[string]any)
	assert.EqualValues(t, 2, poll["messages_handled"])
}
