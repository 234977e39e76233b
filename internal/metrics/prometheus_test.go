package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusObserver(t *testing.T) {
	obs := NewPrometheusObserver()

	before := testutil.ToFloat64(outcomeCounter.WithLabelValues("delivered"))
	obs.IncWaiting()
	obs.RecordPoll()
	obs.RecordRaceLost()
	obs.ObserveOutcome("delivered", 2*time.Second)
	obs.DecWaiting()

	if got := testutil.ToFloat64(outcomeCounter.WithLabelValues("delivered")); got != before+1 {
		t.Fatalf("expected delivered counter %v, got %v", before+1, got)
	}
	if got := testutil.ToFloat64(waitingGauge); got != 0 {
		t.Fatalf("expected waiting gauge back to 0, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	NewPrometheusObserver().RecordPoll()
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "tbot_store_polls_total") {
		t.Fatal("polls counter missing from exposition")
	}
}

func TestNopObserver(t *testing.T) {
	var obs RetrievalObserver = Nop{}
	obs.IncWaiting()
	obs.DecWaiting()
	obs.RecordPoll()
	obs.RecordRaceLost()
	obs.ObserveOutcome("expired", time.Second)
}
