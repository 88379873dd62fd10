package observer

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeErrorType(t *testing.T) {
	tests := map[string]string{
		"":                             "none",
		"invariant violation: closed":  "invariant",
		"rate limit exceeded":          "rate_limited",
		"collaborator unavailable: ai": "collaborator",
		"database error: boom":         "database",
		"validation failed: content":   "validation",
		"resource not found":           "not_found",
		"nats communication error":     "nats",
		"context deadline exceeded":    "timeout",
		"json: cannot unmarshal":       "unmarshal",
		"something else":               "unknown",
	}
	for in, want := range tests {
		assert.Equal(t, want, SanitizeErrorType(in), in)
	}
}

func TestRoutingCounters(t *testing.T) {
	InitMetrics(true)
	before := testutil.ToFloat64(RoutingDecisionsTotal.WithLabelValues("metrics-co", "bot"))
	IncRoutingDecision("metrics-co", "bot")
	assert.Equal(t, before+1, testutil.ToFloat64(RoutingDecisionsTotal.WithLabelValues("metrics-co", "bot")))

	InitMetrics(false)
	IncRoutingDecision("metrics-co", "bot")
	assert.Equal(t, before+1, testutil.ToFloat64(RoutingDecisionsTotal.WithLabelValues("metrics-co", "bot")))
	InitMetrics(true)
}

func TestObserveDbOperationDurationLabelsStatus(t *testing.T) {
	InitMetrics(true)
	ObserveDbOperationDuration("assign", "conversation", "", 5*time.Millisecond, errors.New("x"))
	count := testutil.CollectAndCount(DatabaseOperationDurationSeconds)
	assert.GreaterOrEqual(t, count, 1)
}
