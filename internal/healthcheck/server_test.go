package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, HealthResponse) {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body HealthResponse
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

func TestHealth(t *testing.T) {
	s := NewServer(0, zaptest.NewLogger(t))

	rec, body := get(t, s, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "UP", body.Status)
}

func TestReady_AllChecksPass(t *testing.T) {
	s := NewServer(0, zaptest.NewLogger(t))
	s.AddReadinessCheck("postgres", func(context.Context) error { return nil })
	s.AddReadinessCheck("nats", func(context.Context) error { return nil })

	rec, body := get(t, s, "/ready")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "READY", body.Status)
	assert.Equal(t, "ok", body.Details["postgres"])
	assert.Equal(t, "ok", body.Details["nats"])
}

func TestReady_FailingCheck(t *testing.T) {
	s := NewServer(0, zaptest.NewLogger(t))
	s.AddReadinessCheck("postgres", func(context.Context) error { return nil })
	s.AddReadinessCheck("nats", func(context.Context) error { return errors.New("nats connection closed") })

	rec, body := get(t, s, "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "NOT_READY", body.Status)
	assert.Equal(t, "nats connection closed", body.Details["nats"])
}

func TestMetricsHandler(t *testing.T) {
	s := NewServer(0, zaptest.NewLogger(t))

	rec, _ := get(t, s, "/metrics")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	s.RegisterMetricsHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# HELP"))
	}))
	rec, _ = get(t, s, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# HELP", rec.Body.String())
}
