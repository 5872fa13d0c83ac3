// Package metrics exports engine activity as Prometheus metrics. A
// Collector turns run events into counters and histograms through
// engine.Callbacks and serves them over HTTP.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/m4xw311/puck/engine"
	"github.com/m4xw311/puck/protocol"
)

const namespace = "puck"

// Collector owns a registry holding the run metrics.
type Collector struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	modelCalls    *prometheus.CounterVec
	modelLatency  prometheus.Histogram
	promptTokens  prometheus.Histogram
	invalidOutput prometheus.Counter
	records       *prometheus.CounterVec
	responderTime *prometheus.HistogramVec
	faults        *prometheus.CounterVec
	activeRuns    prometheus.Gauge
}

// New creates a Collector with its own registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished runs by stop reason.",
		}, []string{"reason"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_calls_total",
			Help:      "Model queries by outcome.",
		}, []string{"outcome"}),
		modelLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Duration of model queries.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		promptTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prompt_tokens",
			Help:      "Estimated prompt size sent with each model query.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		invalidOutput: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_outputs_total",
			Help:      "Model responses that did not parse.",
		}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Dispatched records by delimiter.",
		}, []string{"delimiter"}),
		responderTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "responder_duration_seconds",
			Help:      "Duration of responder invocations.",
		}, []string{"responder", "scope"}),
		faults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_faults_total",
			Help:      "Responder invocations that returned an error or panicked.",
		}, []string{"responder"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently in progress.",
		}),
	}
	c.registry.MustRegister(
		c.runs, c.modelCalls, c.modelLatency, c.promptTokens, c.invalidOutput,
		c.records, c.responderTime, c.faults, c.activeRuns,
	)
	return c
}

// Registry exposes the underlying registry, mostly for tests.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Callbacks returns the hooks feeding the collector.
func (c *Collector) Callbacks() engine.Callbacks {
	return engine.Callbacks{
		OnRunStart: func(string, string) {
			c.activeRuns.Inc()
		},
		OnModelCall: func(_ string, promptTokens, _ int, elapsed time.Duration, err error) {
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			c.modelCalls.WithLabelValues(outcome).Inc()
			c.modelLatency.Observe(elapsed.Seconds())
			c.promptTokens.Observe(float64(promptTokens))
		},
		OnInvalidOutput: func(string, int, string) {
			c.invalidOutput.Inc()
		},
		OnRecord: func(_ string, rec protocol.Record) {
			delim := rec.Delimiter
			if rec.IsTitle() {
				delim = "title"
			}
			c.records.WithLabelValues(delim).Inc()
		},
		OnResponder: func(_ string, responder string, scope engine.Scope, elapsed time.Duration, err error) {
			c.responderTime.WithLabelValues(responder, string(scope)).Observe(elapsed.Seconds())
			if err != nil {
				c.faults.WithLabelValues(responder).Inc()
			}
		},
		OnRunStop: func(_ string, reason engine.StopReason, _ error) {
			c.activeRuns.Dec()
			c.runs.WithLabelValues(string(reason)).Inc()
		},
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("starting metrics server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
