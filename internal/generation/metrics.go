package generation

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values for generation_requests_total.
const (
	OutcomeSuccess = "success"
	OutcomeAPI     = "api_error"
	OutcomeTimeout = "timeout"
	OutcomeError   = "error"
)

// modelOther labels calls whose model the upstream did not confirm. Caller
// input never becomes a label value.
const modelOther = "other"

// maxModelLabel bounds an upstream-echoed model name used as a label.
const maxModelLabel = 64

var (
	// genReqs counts outbound generation calls by model and outcome.
	genReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_requests_total",
			Help: "Total number of outbound text-generation calls.",
		},
		[]string{"model", "outcome"},
	)

	// genLat records the wall time of each outbound call, failures included.
	genLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_duration_seconds",
			Help:    "Duration of outbound text-generation calls in seconds.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model"},
	)
)

func init() {
	prometheus.MustRegister(genReqs, genLat)
}

// observe records one call. echoed is the model named in a successful
// upstream response; failures and unconfirmed models count under "other".
func observe(echoed string, err error, d time.Duration) {
	label := modelLabel(echoed, err)
	genReqs.WithLabelValues(label, outcome(err)).Inc()
	genLat.WithLabelValues(label).Observe(d.Seconds())
}

func modelLabel(echoed string, err error) string {
	if err != nil || echoed == "" || len(echoed) > maxModelLabel {
		return modelOther
	}
	return echoed
}

func outcome(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.As(err, &apiErr):
		return OutcomeAPI
	case errors.Is(err, context.DeadlineExceeded), isTimeout(err):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}
