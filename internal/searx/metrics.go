package searx

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
)

var (
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searx_instance_attempts_total",
			Help: "Requests sent to search instances by outcome",
		},
		[]string{"instance", "kind", "outcome"},
	)

	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "searx_instance_attempt_duration_seconds",
			Help:    "Duration of single instance requests in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"instance"},
	)

	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searx_searches_total",
			Help: "Resolver searches by result",
		},
		[]string{"result"},
	)

	ServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "searx_served_total",
			Help: "Searches answered per serving instance",
		},
		[]string{"instance"},
	)
)

// observe records one request against an instance.
func observe(instance, kind string, start time.Time, err error) {
	AttemptsTotal.WithLabelValues(instance, kind, outcome(err)).Inc()
	AttemptDuration.WithLabelValues(instance).Observe(time.Since(start).Seconds())
}

func outcome(err error) string {
	var statusErr *StatusError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrInvalidShape):
		return "shape"
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker"
	default:
		return "error"
	}
}
