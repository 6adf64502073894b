// Package instrument records Prometheus metrics for repositories and scope
// flushes.
package instrument

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-repository-core/repoerr"
	"github.com/goliatone/go-repository-core/scope"
)

// Outcome labels.
const (
	OutcomeOK              = "ok"
	OutcomeNotFound        = "not_found"
	OutcomeDuplicateKey    = "duplicate_key"
	OutcomeInvalidArgument = "invalid_argument"
	OutcomeCanceled        = "canceled"
	OutcomeError           = "error"
)

const namespace = "repository"

// Metrics holds the collectors shared by every instrumented repository.
type Metrics struct {
	operations *prometheus.CounterVec   // entity, operation, outcome
	duration   *prometheus.HistogramVec // entity, operation
	flushes    *prometheus.CounterVec   // outcome
	changes    *prometheus.CounterVec   // state
}

// NewMetrics creates the collectors and registers them with reg. Collectors
// already registered by an earlier call are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Repository operations by entity, operation and outcome",
		}, []string{"entity", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Repository operation latency in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"entity", "operation"}),
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Unit of work flushes by outcome",
		}, []string{"outcome"}),
		changes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_changes_total",
			Help:      "Entity changes written by successful flushes, by state",
		}, []string{"state"}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.operations, err = register(reg, m.operations); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.flushes, err = register(reg, m.flushes); err != nil {
		return nil, err
	}
	if m.changes, err = register(reg, m.changes); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, fmt.Errorf("instrument: register collector: %w", err)
	}
	return c, nil
}

// Outcome classifies err into an outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case repoerr.IsNotFound(err):
		return OutcomeNotFound
	case repoerr.IsDuplicateKey(err):
		return OutcomeDuplicateKey
	case repoerr.IsInvalidArgument(err):
		return OutcomeInvalidArgument
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}

func (m *Metrics) observe(entity, operation string, start time.Time, err error) {
	m.operations.WithLabelValues(entity, operation, Outcome(err)).Inc()
	m.duration.WithLabelValues(entity, operation).Observe(time.Since(start).Seconds())
}

// Writer counts the flushes going through w.
func (m *Metrics) Writer(w scope.Writer) scope.Writer {
	return scope.WriterFunc(func(ctx context.Context, changes []scope.Change) error {
		err := w.Apply(ctx, changes)
		m.flushes.WithLabelValues(Outcome(err)).Inc()
		if err == nil {
			for _, change := range changes {
				m.changes.WithLabelValues(change.State.String()).Inc()
			}
		}
		return err
	})
}
