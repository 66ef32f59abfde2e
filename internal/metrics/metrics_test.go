package metrics

import "testing"

func TestStatusFollowsErrorRate(t *testing.T) {
	m := New()
	if m.Status() != Healthy {
		t.Fatalf("empty registry should be healthy")
	}
	for i := 0; i < 8; i++ {
		m.Inc(Relayed)
	}
	m.Inc(MalformedMessages)
	m.Inc(MalformedMessages)
	if got := m.Status(); got != Degraded {
		t.Fatalf("status = %s (rate %.1f), want degraded", got, m.ErrorRate())
	}
	for i := 0; i < 10; i++ {
		m.Inc(ProtocolViolations)
	}
	if got := m.Status(); got != Unhealthy {
		t.Fatalf("status = %s, want unhealthy", got)
	}
}
