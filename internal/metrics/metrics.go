package metrics

import (
	"sort"
	"sync"
)

// Counter names used by the relay.
const (
	Connections        = "connections"
	Joins              = "joins"
	JoinsRejected      = "joins_rejected"
	Evictions          = "evictions"
	Relayed            = "relayed"
	DropNoRecipient    = "drop_no_recipient"
	DropBackpressure   = "drop_backpressure"
	DropRateLimited    = "drop_rate_limited"
	Kicked             = "kicked"
	MalformedMessages  = "malformed_messages"
	ProtocolViolations = "protocol_violations"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

func (m *Metrics) Snapshot() map[string]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

func (m *Metrics) Names() []string {
	snap := m.Snapshot()
	names := make([]string, 0, len(snap))
	for k := range snap {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// ErrorRate is the percentage of inbound messages that were malformed,
// rejected or undeliverable.
func (m *Metrics) ErrorRate() float64 {
	snap := m.Snapshot()
	bad := snap[MalformedMessages] + snap[ProtocolViolations] + snap[DropBackpressure] + snap[JoinsRejected]
	total := bad + snap[Relayed] + snap[Joins]
	if total == 0 {
		return 0
	}
	return float64(bad) / float64(total) * 100
}

type Health string

const (
	Healthy   Health = "healthy"
	Degraded  Health = "degraded"
	Unhealthy Health = "unhealthy"
)

// Status grades the relay by its error rate.
func (m *Metrics) Status() Health {
	rate := m.ErrorRate()
	switch {
	case rate > 50:
		return Unhealthy
	case rate > 10:
		return Degraded
	}
	return Healthy
}
