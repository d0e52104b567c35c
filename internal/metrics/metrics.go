// Package metrics exposes Prometheus metrics for the ledger.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Claim outcomes.
const (
	OutcomeCredited     = "credited"
	OutcomeReplayed     = "replayed"
	OutcomeNotClaimable = "not_claimable"
	OutcomeMismatch     = "code_mismatch"
	OutcomeUnauth       = "unauthenticated"
	OutcomeError        = "error"
)

// Recorder is what the service and HTTP layers report to.
type Recorder interface {
	RecordClaim(outcome string)
	RecordReward(amount int64, position int)
	RecordClaimLatency(d time.Duration)
	RecordStreakResets(n int64)
	RecordCodeIssued()
	RecordHTTPRequest(method, route string, status int, d time.Duration)
}

// Collector is the Prometheus implementation of Recorder.
type Collector struct {
	claims       *prometheus.CounterVec
	coins        prometheus.Counter
	positions    *prometheus.CounterVec
	claimLatency prometheus.Histogram
	resets       prometheus.Counter
	codesIssued  prometheus.Counter
	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec
}

// NewCollector creates a Collector and registers it with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uticoins_claims_total",
			Help: "Claim attempts by outcome.",
		}, []string{"outcome"}),
		coins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uticoins_coins_awarded_total",
			Help: "Coins credited by daily code claims.",
		}),
		positions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uticoins_reward_position_total",
			Help: "Credited claims by position in the reward cycle.",
		}, []string{"position"}),
		claimLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "uticoins_claim_duration_seconds",
			Help:    "Time spent processing a claim.",
			Buckets: prometheus.DefBuckets,
		}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uticoins_streak_resets_total",
			Help: "Streaks zeroed by the rollover job.",
		}),
		codesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "uticoins_codes_issued_total",
			Help: "Daily codes issued by this process.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "uticoins_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "uticoins_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.claims,
		c.coins,
		c.positions,
		c.claimLatency,
		c.resets,
		c.codesIssued,
		c.httpRequests,
		c.httpLatency,
	)

	return c
}

func (c *Collector) RecordClaim(outcome string) {
	c.claims.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordReward(amount int64, position int) {
	c.coins.Add(float64(amount))
	c.positions.WithLabelValues(strconv.Itoa(position)).Inc()
}

func (c *Collector) RecordClaimLatency(d time.Duration) {
	c.claimLatency.Observe(d.Seconds())
}

func (c *Collector) RecordStreakResets(n int64) {
	c.resets.Add(float64(n))
}

func (c *Collector) RecordCodeIssued() {
	c.codesIssued.Inc()
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordClaim(string) {}
func (Nop) RecordReward(int64, int) {}
func (Nop) RecordClaimLatency(time.Duration) {}
func (Nop) RecordStreakResets(int64) {}
func (Nop) RecordCodeIssued() {}
func (Nop) RecordHTTPRequest(string, string, int, time.Duration) {}
