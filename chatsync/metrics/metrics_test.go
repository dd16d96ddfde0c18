package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.LiveEvent(OutcomeInserted)
	m.Mutation("send", OutcomePromoted)
	m.Reconnect()
	m.SetRoomsHeld(3)
}

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.LiveEvent(OutcomeInserted)
	m.LiveEvent(OutcomeInserted)
	m.Mutation("react", OutcomeRolledBack)
	m.Reconnect()
	m.SetRoomsHeld(2)

	if got := testutil.ToFloat64(m.LiveEvents.WithLabelValues(OutcomeInserted)); got != 2 {
		t.Fatalf("live inserted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Mutations.WithLabelValues("react", OutcomeRolledBack)); got != 1 {
		t.Fatalf("react rollbacks = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.Reconnects); got != 1 {
		t.Fatalf("reconnects = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.RoomsHeld); got != 2 {
		t.Fatalf("rooms held = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(m.LiveEvents); n != 1 {
		t.Fatalf("expected one live series, got %d", n)
	}
}
