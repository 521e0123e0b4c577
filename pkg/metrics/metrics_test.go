package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegistersOnInjectedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ChunksReceivedTotal.Add(3)
	m.AssembliesTotal.WithLabelValues("success").Inc()

	if got := testutil.ToFloat64(m.ChunksReceivedTotal); got != 3 {
		t.Errorf("chunks received = %v, want 3", got)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}

	// A second registry must accept a second set without panicking.
	New(prometheus.NewRegistry())
}
