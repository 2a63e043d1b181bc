// Package circuitbreaker guards the three external collaborators that can
// cascade-fail into the rest of the system: the exchange client, the
// Reasoner (LLM) collaborator, and the Store's database pool.
//
// Lives in its own package since in this module "risk" denotes the
// trading risk-assessment domain, not resilience.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker"

	"github.com/yoonsoo-han/autotrader/internal/types"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Default thresholds per guarded service.
const (
	ExchangeMinRequests     = 5
	ExchangeFailureRatio    = 0.6
	ExchangeOpenTimeout     = 30 * time.Second
	ExchangeHalfOpenMaxReqs = 3
	ExchangeCountInterval   = 10 * time.Second

	ReasonerMinRequests     = 3
	ReasonerFailureRatio    = 0.6
	ReasonerOpenTimeout     = 60 * time.Second
	ReasonerHalfOpenMaxReqs = 2
	ReasonerCountInterval   = 10 * time.Second

	StoreMinRequests     = 10
	StoreFailureRatio    = 0.6
	StoreOpenTimeout     = 15 * time.Second
	StoreHalfOpenMaxReqs = 5
	StoreCountInterval   = 10 * time.Second
)

// ServiceSettings configures one guarded service's breaker.
type ServiceSettings struct {
	MinRequests     uint32
	FailureRatio    float64
	OpenTimeout     time.Duration
	HalfOpenMaxReqs uint32
	CountInterval   time.Duration
}

// Metrics holds the Prometheus instruments shared by all breakers,
// registered exactly once via sync.Once so repeated Manager construction
// (e.g. across tests) never double-registers.
type Metrics struct {
	state    *prometheus.GaugeVec
	requests *prometheus.CounterVec
	failures *prometheus.CounterVec
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

func initMetrics() {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{
			state: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half_open)",
			}, []string{"service"}),
			requests: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "circuit_breaker_requests_total",
				Help: "Total number of requests through circuit breaker",
			}, []string{"service", "result"}),
			failures: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "circuit_breaker_failures_total",
				Help: "Total number of failures tracked by circuit breaker",
			}, []string{"service"}),
		}
	})
}

// RecordRequest records a request outcome for a service.
func (m *Metrics) RecordRequest(service string, success bool) {
	result := ResultSuccess
	if !success {
		result = ResultFailure
		m.failures.WithLabelValues(service).Inc()
	}
	m.requests.WithLabelValues(service, result).Inc()
}

// Manager owns the exchange/reasoner/store circuit breakers.
type Manager struct {
	exchange *gobreaker.CircuitBreaker
	reasoner *gobreaker.CircuitBreaker
	store    *gobreaker.CircuitBreaker
	metrics  *Metrics
}

func defaultSettings(s *ServiceSettings, min uint32, ratio float64, timeout time.Duration, halfOpen uint32, interval time.Duration) ServiceSettings {
	if s != nil {
		return *s
	}
	return ServiceSettings{MinRequests: min, FailureRatio: ratio, OpenTimeout: timeout, HalfOpenMaxReqs: halfOpen, CountInterval: interval}
}

func build(name string, s ServiceSettings, onState func(string, gobreaker.State)) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: s.HalfOpenMaxReqs,
		Interval:    s.CountInterval,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= s.MinRequests && ratio >= s.FailureRatio
		},
		OnStateChange: func(_ string, _ gobreaker.State, to gobreaker.State) {
			onState(name, to)
		},
	})
}

// NewManager constructs a Manager with custom per-service settings; a nil
// settings pointer uses that service's documented default.
func NewManager(exchangeSettings, reasonerSettings, storeSettings *ServiceSettings) *Manager {
	initMetrics()
	m := &Manager{metrics: globalMetrics}

	exchangeCfg := defaultSettings(exchangeSettings, ExchangeMinRequests, ExchangeFailureRatio, ExchangeOpenTimeout, ExchangeHalfOpenMaxReqs, ExchangeCountInterval)
	reasonerCfg := defaultSettings(reasonerSettings, ReasonerMinRequests, ReasonerFailureRatio, ReasonerOpenTimeout, ReasonerHalfOpenMaxReqs, ReasonerCountInterval)
	storeCfg := defaultSettings(storeSettings, StoreMinRequests, StoreFailureRatio, StoreOpenTimeout, StoreHalfOpenMaxReqs, StoreCountInterval)

	m.exchange = build("exchange", exchangeCfg, m.updateMetrics)
	m.reasoner = build("reasoner", reasonerCfg, m.updateMetrics)
	m.store = build("store", storeCfg, m.updateMetrics)

	m.updateMetrics("exchange", m.exchange.State())
	m.updateMetrics("reasoner", m.reasoner.State())
	m.updateMetrics("store", m.store.State())

	return m
}

// NewPassthroughManager returns a Manager whose breakers never trip, for
// tests that want to exercise other components without interference.
func NewPassthroughManager() *Manager {
	initMetrics()
	m := &Manager{metrics: globalMetrics}
	neverTrip := func(gobreaker.Counts) bool { return false }
	mk := func(name string) *gobreaker.CircuitBreaker {
		return gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: name, MaxRequests: 1000, Interval: 0, Timeout: time.Millisecond, ReadyToTrip: neverTrip,
		})
	}
	m.exchange = mk("exchange_passthrough")
	m.reasoner = mk("reasoner_passthrough")
	m.store = mk("store_passthrough")
	return m
}

func (m *Manager) updateMetrics(service string, state gobreaker.State) {
	var v float64
	switch state {
	case gobreaker.StateOpen:
		v = 1
	case gobreaker.StateHalfOpen:
		v = 2
	}
	m.metrics.state.WithLabelValues(service).Set(v)
}

func (m *Manager) Exchange() *gobreaker.CircuitBreaker { return m.exchange }
func (m *Manager) Reasoner() *gobreaker.CircuitBreaker { return m.reasoner }
func (m *Manager) Store() *gobreaker.CircuitBreaker    { return m.store }
func (m *Manager) Metrics() *Metrics                   { return m.metrics }

// Execute runs fn through the named breaker, records the outcome in
// Metrics, and translates gobreaker.ErrOpenState into a
// types.ErrTransientUpstream so callers can handle it the same way as any
// other transient failure.
func (m *Manager) Execute(ctx context.Context, breaker *gobreaker.CircuitBreaker, service string, fn func(ctx context.Context) error) error {
	_, err := breaker.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		m.metrics.RecordRequest(service, false)
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return types.NewError(types.ErrTransientUpstream, types.CodeTransientUpstream, service+" circuit breaker open")
		}
		return err
	}
	m.metrics.RecordRequest(service, true)
	return nil
}
