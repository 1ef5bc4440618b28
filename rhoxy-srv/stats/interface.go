// Package stats tracks per-connection statistics through one pluggable
// Collector: lock-free in-memory counters (the default memory backend), a
// backend that durably logs one row per connection for offline inspection
// (sqlite, postgres), or a no-op (dummy).
package stats

import (
	"context"
	"time"
)

// Collector is the optional connection-record persistence sink. It never
// gates or delays a connection: a persistence failure is the caller's to
// log and swallow, never to surface to the client.
type Collector interface {
	// StartConnection records the start of a connection and returns an
	// opaque id to pass to EndConnection/RecordError.
	StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error)

	// EndConnection records the final byte counts, duration and close
	// reason for a connection started with StartConnection.
	EndConnection(ctx context.Context, connectionID int64, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error

	// RecordError records a non-fatal error associated with a connection.
	RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error

	// RecordBlockedRequest/RecordAllowedRequest log a guard or classifier
	// access-control decision independent of any connection id.
	RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error
	RecordAllowedRequest(ctx context.Context, clientIP, targetHost string) error

	// HealthCheck reports whether the backing store is reachable.
	HealthCheck(ctx context.Context) error

	// Close releases any resources (connections, files) held by the
	// collector.
	Close() error
}

// ConnectionRecord is one durable row: a finished connection's summary.
type ConnectionRecord struct {
	ID          int64
	ClientIP    string
	TargetHost  string
	TargetPort  int
	Protocol    string
	StartedAt   time.Time
	EndedAt     time.Time
	BytesSent   int64
	BytesReceived int64
	CloseReason string
}
