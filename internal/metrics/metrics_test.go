package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fentz26/presencesim/internal/presence"
)

var _ presence.Observer = (*Metrics)(nil)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestMetricsExposition(t *testing.T) {
	m := New()
	m.PlanExtended(4, 6)
	m.HistoryFetchFailed("light.kitchen")
	m.ActionExecuted("turn_on", OutcomeSuccess)
	m.ActionExecuted("turn_on", OutcomeSuccess)
	m.ActionExecuted("turn_off", OutcomeFailure)
	m.ActionExpired("turn_on")
	m.SetRunning(true)

	body := scrape(t, m)
	for _, want := range []string{
		`presencesim_plan_extends_total 1`,
		`presencesim_planned_actions_added_total 4`,
		`presencesim_queue_depth 6`,
		`presencesim_history_fetch_failures_total{entity="light.kitchen"} 1`,
		`presencesim_actions_total{action="turn_on",outcome="success"} 2`,
		`presencesim_actions_total{action="turn_off",outcome="failure"} 1`,
		`presencesim_actions_total{action="turn_on",outcome="expired"} 1`,
		`presencesim_running 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("Exposition missing %q", want)
		}
	}
}

func TestWrapHandler(t *testing.T) {
	m := New()
	h := m.WrapHandler("/api/status", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/status", nil))

	body := scrape(t, m)
	if !strings.Contains(body, `presencesim_http_requests_total{route="/api/status",status="418"} 1`) {
		t.Error("Expected request counter for /api/status")
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.PlanExtended(1, 1)
	m.HistoryFetchFailed("light.a")
	m.ActionExecuted("turn_on", OutcomeSkipped)
	m.ActionExpired("turn_off")
	m.SetQueueDepth(3)
	m.SetRunning(false)

	rec := httptest.NewRecorder()
	m.WrapHandler("/x", http.NotFoundHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}
