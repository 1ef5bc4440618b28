package stats

import (
	"context"
	"time"
)

// DummyCollector discards everything; selected when the Statistics
// backend is "dummy".
type DummyCollector struct{}

func NewDummyCollector() *DummyCollector { return &DummyCollector{} }

func (d *DummyCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	return 0, nil
}

func (d *DummyCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	return nil
}

func (d *DummyCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	return nil
}

func (d *DummyCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	return nil
}

func (d *DummyCollector) RecordAllowedRequest(ctx context.Context, clientIP, targetHost string) error {
	return nil
}

func (d *DummyCollector) HealthCheck(ctx context.Context) error { return nil }

func (d *DummyCollector) Close() error { return nil }
