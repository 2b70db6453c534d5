// Package metrics records item store operation outcomes.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder observes one operation (save_add, save_modify, load_primary, ...).
type Recorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type Nop struct{}

func (Nop) Observe(context.Context, string, bool, time.Duration) {}

// Prometheus exports an operation counter by result and a duration histogram.
type Prometheus struct {
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func NewPrometheus(namespace string, reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_operations_total",
			Help:      "Item store operations by result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "item_operation_duration_seconds",
			Help:      "Item store operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg != nil {
		if err := reg.Register(p.total); err != nil {
			return nil, err
		}
		if err := reg.Register(p.duration); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (p *Prometheus) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	p.total.WithLabelValues(operation, result).Inc()
	p.duration.WithLabelValues(operation).Observe(duration.Seconds())
}
