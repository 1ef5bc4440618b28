package stats

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryCollector is the default Collector: it keeps connection records
// only long enough to derive the AtomicCounters totals, never persisting
// them. Selected when Statistics.Backend is "memory" or unset.
type MemoryCollector struct {
	Counters *AtomicCounters

	mu      sync.Mutex
	nextID  int64
	pending map[int64]struct{}
}

func NewMemoryCollector() *MemoryCollector {
	return &MemoryCollector{Counters: NewAtomicCounters(), pending: make(map[int64]struct{})}
}

func (m *MemoryCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	id := atomic.AddInt64(&m.nextID, 1)
	m.mu.Lock()
	m.pending[id] = struct{}{}
	m.mu.Unlock()
	m.Counters.TotalConnections.Add(1)
	m.Counters.ActiveConnections.Add(1)
	return id, nil
}

func (m *MemoryCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	m.mu.Lock()
	delete(m.pending, connectionID)
	m.mu.Unlock()
	m.Counters.ActiveConnections.Add(-1)
	m.Counters.TotalBytesIn.Add(bytesReceived)
	m.Counters.TotalBytesOut.Add(bytesSent)
	m.Counters.DataTransferEvents.Add(1)
	return nil
}

func (m *MemoryCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	m.Counters.TotalErrors.Add(1)
	if errorType == "connection" {
		m.Counters.ConnectionErrors.Add(1)
	} else {
		m.Counters.HTTPErrors.Add(1)
	}
	return nil
}

func (m *MemoryCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	m.Counters.BlockedRequests.Add(1)
	return nil
}

func (m *MemoryCollector) RecordAllowedRequest(ctx context.Context, clientIP, targetHost string) error {
	m.Counters.AllowedRequests.Add(1)
	return nil
}

func (m *MemoryCollector) HealthCheck(ctx context.Context) error { return nil }

func (m *MemoryCollector) Close() error { return nil }
