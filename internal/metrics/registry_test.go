package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsEndpointServesGatheredSamples(t *testing.T) {
	reg := New()
	reg.IncGateTransitions()
	reg.ObserveGateDuration("dev-review", 90*time.Second)
	reg.SetTasksTotal("agent-a", "in-progress", 3)

	router := reg.Router()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "aof_gate_transitions_total 1")
	assert.Contains(t, body, "aof_tasks_total")
	assert.Contains(t, body, `agent="agent-a"`)
}

func TestHealthEndpointReturnsOK(t *testing.T) {
	router := New().Router()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestUnknownRouteReturns404(t *testing.T) {
	router := New().Router()
	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	a := New()
	b := New()
	a.IncGateTransitions()

	reqA := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recA := httptest.NewRecorder()
	a.Router().ServeHTTP(recA, reqA)

	reqB := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	recB := httptest.NewRecorder()
	b.Router().ServeHTTP(recB, reqB)

	assert.True(t, strings.Contains(recA.Body.String(), "aof_gate_transitions_total 1"))
	assert.True(t, strings.Contains(recB.Body.String(), "aof_gate_transitions_total 0"))
}
