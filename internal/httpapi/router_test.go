package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uticoins/internal/auth"
	"uticoins/internal/curve"
	"uticoins/internal/dailycode"
	"uticoins/internal/metrics"
	"uticoins/internal/model"
	"uticoins/internal/repository"
	"uticoins/internal/service"
)

const testCode = "424242"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type testServer struct {
	handler http.Handler
	signer  *auth.Signer
	clock   *testClock
	code    *model.DailyCode
	store   *repository.MemoryStore
	reg     *prometheus.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cal, err := dailycode.NewCalendar(time.FixedZone("BRT", -3*60*60), 20, 23*time.Hour, 24*time.Hour)
	require.NoError(t, err)

	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	clock := &testClock{t: cal.IssuedAt(date).Add(time.Hour)}
	store := repository.NewMemoryStore()
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	rewards := service.NewRewardService(store, cal, curve.Default(),
		service.WithClock(clock.Now),
		service.WithMetrics(collector),
		service.WithCodeGenerator(func() (string, error) { return testCode, nil }),
	)
	code, err := rewards.ActiveCode(context.Background())
	require.NoError(t, err)

	signer, err := auth.NewSigner("test-secret", "uticoins", time.Hour)
	require.NoError(t, err)

	h := NewRouter(&Deps{
		Rewards:  rewards,
		Accounts: service.NewAccountService(store),
		Auth:     signer,
		Health:   store,
		Metrics:  collector,
		Gatherer: reg,
	})
	return &testServer{handler: h, signer: signer, clock: clock, code: code, store: store, reg: reg}
}

func (s *testServer) do(t *testing.T, method, path string, userID int64, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != 0 {
		token, err := s.signer.Issue(userID, "")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorDetail {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func TestCodeState_RequiresAuth(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/code/state", 0, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Unauthenticated", decodeError(t, rec).Kind)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/code/state", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCodeState(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/code/state", 7, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state model.CodeState
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, testCode, state.Code)
	assert.Equal(t, "CLAIMABLE", state.State)
	assert.True(t, state.CanClaim)
	assert.Equal(t, int64(30), state.NextRewardAmount)
	assert.Equal(t, int64(23*60*60), state.SecondsUntilNextCode)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestClaim_SuccessThenReplay(t *testing.T) {
	s := newTestServer(t)
	body := `{"code":"` + testCode + `"}`

	first := s.do(t, http.MethodPost, "/api/v1/code/claim", 7, body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, "false", first.Header().Get(ReplayedHeader))

	var res model.ClaimResult
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &res))
	assert.Equal(t, int64(30), res.AmountAwarded)
	assert.Equal(t, 1, res.NewStreakCount)

	second := s.do(t, http.MethodPost, "/api/v1/code/claim", 7, body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "true", second.Header().Get(ReplayedHeader))
	assert.JSONEq(t, first.Body.String(), second.Body.String())

	bal := s.do(t, http.MethodGet, "/api/v1/balance", 7, "")
	require.Equal(t, http.StatusOK, bal.Code)
	var b service.Balance
	require.NoError(t, json.Unmarshal(bal.Body.Bytes(), &b))
	assert.Equal(t, int64(30), b.Balance)
	assert.Len(t, b.Transactions, 1)
}

func TestClaim_Errors(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/code/claim", 7, `{"code":"000000"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CodeMismatch", decodeError(t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/api/v1/code/claim", 7, `{"code":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, KindBadRequest, decodeError(t, rec).Kind)

	rec = s.do(t, http.MethodPost, "/api/v1/code/claim", 7, `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	s.clock.Set(s.code.ClaimDeadline)
	rec = s.do(t, http.MethodPost, "/api/v1/code/claim", 7, `{"code":"`+testCode+`"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "NotClaimable", decodeError(t, rec).Kind)
}

func TestBalance_LimitValidation(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/balance?limit=0", 7, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/balance?limit=5", 7, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthzAndMetrics(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/healthz", 0, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	s.do(t, http.MethodPost, "/api/v1/code/claim", 7, `{"code":"`+testCode+`"}`)

	rec = s.do(t, http.MethodGet, "/metrics", 0, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/v1/code/claim"`)
}

func TestRequestID_Propagated(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestNotFound(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/nope", 0, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type panicRewards struct{}

func (panicRewards) CurrentCodeState(context.Context, int64) (*model.CodeState, error) {
	panic("boom")
}

func (panicRewards) Claim(context.Context, int64, string) (*model.ClaimResult, error) {
	return nil, errors.New("database is on fire")
}

type staticAuth int64

func (a staticAuth) Authenticate(string) (int64, error) { return int64(a), nil }

func TestRecoverAndInternalErrors(t *testing.T) {
	h := NewRouter(&Deps{Rewards: panicRewards{}, Auth: staticAuth(1)})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/code/state", nil)
	req.Header.Set("Authorization", "Bearer x")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/code/claim", strings.NewReader(`{"code":"1"}`))
	req.Header.Set("Authorization", "Bearer x")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	detail := decodeError(t, rec)
	assert.Equal(t, KindInternal, detail.Kind)
	assert.NotContains(t, detail.Message, "fire")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, time.Minute)
	defer rl.Stop()
	h := NewRouter(&Deps{Rewards: panicRewards{}, Auth: staticAuth(9), RateLimiter: rl})

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/code/claim", strings.NewReader(`{}`))
		req.Header.Set("Authorization", "Bearer x")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}
	assert.Equal(t, []int{http.StatusBadRequest, http.StatusBadRequest, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 1, rl.Size())

	rl.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, rl.Size())
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, statusFor(model.ClaimUnauthenticated))
	assert.Equal(t, http.StatusConflict, statusFor(model.ClaimCodeMismatch))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(model.ClaimNotClaimable))
	assert.Equal(t, http.StatusGatewayTimeout, statusFor(model.ClaimNetworkTimeout))
}
