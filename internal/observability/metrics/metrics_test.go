package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/metric/noop"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics

	// Must not panic when instrumentation is not wired.
	m.RecordAward(context.Background(), "match_win")
	m.RecordSpend(context.Background(), "redemption")
	m.RecordVelocityDecision(context.Background(), false, "rate_limited")
	m.RecordExpiredPoints(context.Background(), 100)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "playpoints", Environment: "test"}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if m == nil {
		t.Fatal("expected metrics instance")
	}

	m.RecordAward(context.Background(), "match_win")
	m.RecordVelocityDecision(context.Background(), true, "")
}

func TestNilReconcilerMetricsAreNoops(t *testing.T) {
	var m *ReconcilerMetrics

	m.IncRun()
	m.IncUsersExpired()
	m.IncUsersSkipped()
	m.IncError()
	m.IncOverlapSkip()
	m.ObserveRunDuration(0)
}
