// Package metrics records run outcomes in a private Prometheus registry and
// pushes them to a Pushgateway when the run ends.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/borrowbot/internal/borrow"
)

const namespace = "borrowbot"

// Recorder implements borrow.Reporter.
type Recorder struct {
	registry *prometheus.Registry

	stepDuration *prometheus.HistogramVec
	steps        *prometheus.CounterVec
	runs         *prometheus.CounterVec
	lastRun      prometheus.Gauge
	borrowed     prometheus.Gauge
	runDuration  prometheus.Gauge

	pushURL string
	job     string
	network string
	logger  *slog.Logger
}

// New builds a Recorder. An empty pushURL keeps the metrics in memory only.
func New(pushURL, job, network string, logger *slog.Logger) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "duration_seconds",
			Help:      "Wall time of each borrow sequence transition, including confirmation waits.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"step", "status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "step",
			Name:      "total",
			Help:      "Transitions by step and outcome.",
		}, []string{"step", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "total",
			Help:      "Finished runs by mode, outcome and error kind.",
		}, []string{"mode", "outcome", "error_kind"}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "last_finished_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		borrowed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "borrowed_amount",
			Help:      "Debt asset amount planned by the last run that reached the plan.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of the last run.",
		}),
		pushURL: pushURL,
		job:     job,
		network: network,
		logger:  logger.With(slog.String("component", "metrics")),
	}
	r.registry.MustRegister(r.stepDuration, r.steps, r.runs, r.lastRun, r.borrowed, r.runDuration)
	return r
}

// Registry exposes the collectors, mainly for tests.
func (r *Recorder) Registry() *prometheus.Registry { return r.registry }

func (r *Recorder) StepCompleted(_ context.Context, ev borrow.StepEvent) {
	labels := prometheus.Labels{"step": ev.Step.String(), "status": string(ev.Status)}
	r.stepDuration.With(labels).Observe(ev.Duration.Seconds())
	r.steps.With(labels).Inc()
}

func (r *Recorder) RunFinished(ctx context.Context, s borrow.Summary) {
	outcome := "succeeded"
	if !s.Succeeded {
		outcome = "failed"
	}
	kind := s.ErrorKind
	if kind == "" {
		kind = "none"
	}
	r.runs.WithLabelValues(s.Mode, outcome, kind).Inc()
	r.lastRun.Set(float64(s.FinishedAt.Unix()))
	r.runDuration.Set(s.FinishedAt.Sub(s.StartedAt).Seconds())
	if s.Plan != nil {
		if v, err := decimal.NewFromString(s.Plan.DebtAmount); err == nil {
			r.borrowed.Set(v.InexactFloat64())
		}
	}

	if err := r.Push(ctx); err != nil {
		r.logger.WarnContext(ctx, "metrics push failed", slog.String("error", err.Error()))
	}
}

// Push sends the registry to the Pushgateway, replacing the previous push
// for this job and network.
func (r *Recorder) Push(ctx context.Context) error {
	if r.pushURL == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	err := push.New(r.pushURL, r.job).
		Gatherer(r.registry).
		Grouping("network", r.network).
		PushContext(ctx)
	if err != nil {
		return fmt.Errorf("metrics: push to %s: %w", r.pushURL, err)
	}
	return nil
}
