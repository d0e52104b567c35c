// Package httpapi exposes the ledger over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"uticoins/internal/metrics"
	"uticoins/internal/model"
	"uticoins/internal/service"
)

// RewardAPI is the part of the reward service the API serves.
type RewardAPI interface {
	CurrentCodeState(ctx context.Context, userID int64) (*model.CodeState, error)
	Claim(ctx context.Context, userID int64, code string) (*model.ClaimResult, error)
}

// AccountAPI is the part of the account service the API serves.
type AccountAPI interface {
	GetBalance(ctx context.Context, userID int64, limit int) (*service.Balance, error)
}

// Pinger reports backend health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps holds the router's collaborators. Metrics and Gatherer may be nil.
type Deps struct {
	Rewards     RewardAPI
	Accounts    AccountAPI
	Auth        Authenticator
	Health      Pinger
	RateLimiter *RateLimiter
	Metrics     metrics.Recorder
	Gatherer    prometheus.Gatherer
}

// NewRouter builds the API router.
//
// Middleware order: RequestID → Recover → Observe, then Authenticate and the
// rate limiter on /api/v1.
func NewRouter(d *Deps) http.Handler {
	rec := d.Metrics
	if rec == nil {
		rec = metrics.Nop{}
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Recover)
	r.Use(Observe(rec))

	h := &handler{rewards: d.Rewards, accounts: d.Accounts}

	r.Get("/healthz", healthz(d.Health))
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(d.Gatherer))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(d.Auth))
		if d.RateLimiter != nil {
			r.Use(d.RateLimiter.Middleware)
		}

		r.Get("/code/state", h.codeState)
		r.Post("/code/claim", h.claim)
		r.Get("/balance", h.balance)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorKind(w, http.StatusNotFound, KindBadRequest, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorKind(w, http.StatusMethodNotAllowed, KindBadRequest, "method not allowed")
	})
	return r
}

func healthz(p Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if p != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := p.Ping(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
