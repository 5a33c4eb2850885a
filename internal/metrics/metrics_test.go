package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterExposesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSessionMetrics()
	if err := m.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	m.FramesReceived.WithLabelValues("response").Inc()
	m.UploadChunks.Add(3)

	if got := testutil.ToFloat64(m.FramesReceived.WithLabelValues("response")); got != 1 {
		t.Fatalf("expected 1 received frame, got %v", got)
	}
	if got := testutil.ToFloat64(m.UploadChunks); got != 3 {
		t.Fatalf("expected 3 chunks, got %v", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatalf("expected gathered metric families")
	}
}

func TestRegisterTwiceSharesCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewSessionMetrics()
	if err := first.Register(reg); err != nil {
		t.Fatalf("register first: %v", err)
	}
	second := NewSessionMetrics()
	if err := second.Register(reg); err != nil {
		t.Fatalf("register second: %v", err)
	}

	second.Disconnects.Inc()
	if got := testutil.ToFloat64(first.Disconnects); got != 1 {
		t.Fatalf("expected shared disconnect counter, got %v", got)
	}
}
