// Package engine is the in-process tracing and caching sidecar. It owns the
// named response caches and collects query traces, counting them in
// Prometheus and optionally shipping them in batches to a reporting
// endpoint.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/txn2/graphql-webapp/pkg/metrics"
)

// APIKeyHeader carries the engine API key on report requests.
const APIKeyHeader = "X-Api-Key"

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("engine: already started")

	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("engine: not started")
)

// Trace is the timing record of one query execution.
type Trace struct {
	OperationName string        `json:"operationName,omitempty"`
	QueryHash     string        `json:"queryHash"`
	StartTime     time.Time     `json:"startTime"`
	EndTime       time.Time     `json:"endTime"`
	Duration      time.Duration `json:"durationNs"`
	ErrorCount    int           `json:"errorCount"`
	Anonymous     bool          `json:"anonymous"`
	CacheHit      bool          `json:"cacheHit"`
}

// reportBatch is the body POSTed to the report endpoint.
type reportBatch struct {
	Traces []Trace `json:"traces"`
}

// Engine is the sidecar. Create it with New, then Start it exactly once.
type Engine struct {
	cfg    Config
	logger *slog.Logger
	client *http.Client
	stores map[string]*Cache

	mu      sync.Mutex
	started bool
	pending []Trace
	cancel  context.CancelFunc
	done    chan struct{}

	traces      *prometheus.CounterVec
	cacheLookup *prometheus.CounterVec
	reports     *prometheus.CounterVec
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithHTTPClient sets the client used for reporting.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) {
		e.client = c
	}
}

// WithRegisterer registers the engine collectors with r.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(e *Engine) {
		r.MustRegister(e.traces, e.cacheLookup, e.reports)
		for _, c := range e.stores {
			r.MustRegister(c.collectors()...)
		}
	}
}

// New validates cfg and builds the engine's stores.
func New(cfg Config, opts ...Option) (*Engine, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:    cfg,
		logger: slog.Default(),
		client: &http.Client{Timeout: 10 * time.Second},
		stores: make(map[string]*Cache, len(cfg.Stores)),
		traces: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "engine",
			Name:      "traces_total",
			Help:      "Query traces recorded by the engine.",
		}, []string{"outcome"}),
		cacheLookup: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "engine",
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by store and result.",
		}, []string{"store", "result"}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metrics.Namespace,
			Subsystem: "engine",
			Name:      "reports_total",
			Help:      "Trace report batches sent by result.",
		}, []string{"result"}),
	}
	for _, s := range cfg.Stores {
		c, err := NewCache(s.Name, s.InMemory.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating store %q: %w", s.Name, err)
		}
		e.stores[s.Name] = c
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Start begins trace reporting. It may be called only once.
func (e *Engine) Start(_ context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyStarted
	}
	e.started = true

	if e.cfg.Report.Endpoint != "" {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		e.cancel, e.done = cancel, done
		go e.reportLoop(ctx, done)
	}

	e.logger.Info("engine started",
		"stores", len(e.stores),
		"public_store", e.cfg.QueryCache.PublicFullQueryStore,
		"reporting", e.cfg.Report.Endpoint != "")
	return nil
}

// Started reports whether Start has been called.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Stop ends reporting and flushes pending traces.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return e.flush(ctx)
}

// Store returns the named cache store, or nil.
func (e *Engine) Store(name string) *Cache {
	return e.stores[name]
}

// PublicCache returns the store for anonymous full responses and its TTL.
// It returns nil when response caching is disabled.
func (e *Engine) PublicCache() (*Cache, time.Duration) {
	if e.cfg.QueryCache.MaxAge <= 0 {
		return nil, 0
	}
	return e.Store(e.cfg.QueryCache.PublicFullQueryStore), e.cfg.QueryCache.MaxAge
}

// CacheLookup records the result of a response cache lookup.
func (e *Engine) CacheLookup(store string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	e.cacheLookup.WithLabelValues(store, result).Inc()
}

// RecordTrace counts t and queues it for reporting.
func (e *Engine) RecordTrace(t Trace) {
	outcome := "ok"
	if t.ErrorCount > 0 {
		outcome = "error"
	}
	e.traces.WithLabelValues(outcome).Inc()

	if e.cfg.Report.Endpoint == "" {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.pending) >= e.cfg.Report.MaxPending {
		e.pending = e.pending[1:]
	}
	e.pending = append(e.pending, t)
}

func (e *Engine) reportLoop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cfg.Report.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.flush(ctx); err != nil {
				e.logger.Warn("engine report failed", "error", err)
			}
		}
	}
}

// flush sends pending traces. Traces from a failed batch are dropped.
func (e *Engine) flush(ctx context.Context) error {
	e.mu.Lock()
	batch := e.pending
	e.pending = nil
	e.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	body, err := json.Marshal(reportBatch{Traces: batch})
	if err != nil {
		e.reports.WithLabelValues("error").Inc()
		return fmt.Errorf("encoding report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Report.Endpoint, bytes.NewReader(body))
	if err != nil {
		e.reports.WithLabelValues("error").Inc()
		return fmt.Errorf("building report request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, e.cfg.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		e.reports.WithLabelValues("error").Inc()
		return fmt.Errorf("sending report: %w", err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= http.StatusMultipleChoices {
		e.reports.WithLabelValues("error").Inc()
		return fmt.Errorf("report rejected with status %d", resp.StatusCode)
	}
	e.reports.WithLabelValues("ok").Inc()
	e.logger.Debug("engine report sent", "traces", len(batch))
	return nil
}
