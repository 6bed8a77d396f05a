// Package telemetry exposes replica metrics on the prometheus endpoint.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/bartossh/echoledger/ledger"
	"github.com/bartossh/echoledger/status"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "echoledger"

var ErrWrongPortSpecified = errors.New("telemetry port must be between 1 and 65535")

// Config contains configuration of the telemetry endpoint.
type Config struct {
	Port int `yaml:"port"`
}

// Recorder collects metrics of served requests and committed ledger operations.
type Recorder struct {
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	committed  *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	replayed   prometheus.Counter
}

// New creates Recorder with its own registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Recorder{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "The total number of served requests by route and response status.",
		}, []string{"route", "status"}),
		durations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of served requests by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		committed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_operations_total",
			Help:      "The total number of committed ledger operations.",
		}, []string{"operation"}),
		reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliations_total",
			Help:      "The total number of ledger reconciliations by outcome.",
		}, []string{"outcome"}),
		replayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replayed_transactions_total",
			Help:      "The total number of transactions appended by replay.",
		}),
	}
}

// RecordRequest records the served request.
func (r *Recorder) RecordRequest(route string, st status.Status, d time.Duration) {
	r.requests.WithLabelValues(route, string(st)).Inc()
	r.durations.WithLabelValues(route).Observe(d.Seconds())
}

// Notify records the committed operation.
func (r *Recorder) Notify(ev ledger.Committed) {
	r.committed.WithLabelValues(string(ev.Operation)).Inc()
	if ev.Reconciliation != "" {
		r.reconciled.WithLabelValues(ev.Reconciliation).Inc()
	}
	if ev.Replayed > 0 {
		r.replayed.Add(float64(ev.Replayed))
	}
}

// Run starts server with prometheus telemetry endpoint.
// This functions blocks. To stop cancel ctx.
func (r *Recorder) Run(ctx context.Context, cfg Config, cancel context.CancelFunc) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return ErrWrongPortSpecified
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry}))
	srv := http.Server{Addr: fmt.Sprintf(":%d", cfg.Port), Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			cancel()
		}
	}()

	<-ctx.Done()

	shutdown, done := context.WithTimeout(context.Background(), time.Second*5)
	defer done()
	return srv.Shutdown(shutdown)
}
