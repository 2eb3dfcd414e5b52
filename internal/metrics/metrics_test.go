package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	r := New(WithRegistry(registry), WithNamespace("test"), WithLatencyBuckets([]float64{0.1, 1}))

	r.ObserveRequest("complete", 200*time.Millisecond)
	r.ObserveRequest("degraded", time.Second)
	r.ObserveRequest("complete", time.Millisecond)
	r.ObserveSource("survey", SourceOK)
	r.ObserveSource("hh", SourceTimeout)
	r.ObserveVerification("accepted")
	r.ObserveStage("matching", time.Millisecond)
	r.ObserveConfidence(65)
	r.SetIndexRoles(42)
	r.ObserveReload(nil)
	r.ObserveReload(errors.New("bad yaml"))

	if got := testutil.ToFloat64(r.requests.WithLabelValues("complete")); got != 2 {
		t.Fatalf("expected 2 complete requests, got %v", got)
	}
	if got := testutil.ToFloat64(r.sources.WithLabelValues("hh", SourceTimeout)); got != 1 {
		t.Fatalf("expected 1 timeout, got %v", got)
	}
	if got := testutil.ToFloat64(r.indexRoles); got != 42 {
		t.Fatalf("expected 42 roles, got %v", got)
	}
	if got := testutil.ToFloat64(r.reloads.WithLabelValues("error")); got != 1 {
		t.Fatalf("expected 1 failed reload, got %v", got)
	}

	expected := `
# HELP test_verifications_total Role match verification outcomes.
# TYPE test_verifications_total counter
test_verifications_total{outcome="accepted"} 1
`
	if err := testutil.GatherAndCompare(registry, strings.NewReader(expected), "test_verifications_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}

	if n, err := testutil.GatherAndCount(registry, "test_request_duration_seconds"); err != nil || n != 1 {
		t.Fatalf("expected one request histogram, got %d (%v)", n, err)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ObserveRequest("complete", time.Second)
	r.ObserveStage("matching", time.Second)
	r.ObserveSource("x", SourceOK)
	r.ObserveVerification("skipped")
	r.ObserveConfidence(1)
	r.SetIndexRoles(1)
	r.ObserveReload(nil)
}
