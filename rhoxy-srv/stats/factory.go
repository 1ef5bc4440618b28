package stats

import (
	"context"
	"fmt"

	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
)

// NewCollector builds the Collector named by cfg.Backend.
func NewCollector(cfg config.StatisticsConfig) (Collector, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryCollector(), nil
	case "sqlite":
		path := cfg.SQLitePath
		if path == "" {
			path = "rhoxy_stats.db"
		}
		return NewSQLiteCollector(path)
	case "postgres":
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("stats: postgres-dsn is required for the postgres backend")
		}
		return NewPostgreSQLCollector(cfg.PostgresDSN)
	case "dummy":
		return NewDummyCollector(), nil
	default:
		return nil, fmt.Errorf("stats: unsupported backend %q", cfg.Backend)
	}
}

// HealthChecker wraps a Collector's HealthCheck/Close for callers that
// only need liveness, not the full interface.
type HealthChecker struct {
	collector Collector
}

func NewHealthChecker(collector Collector) *HealthChecker {
	return &HealthChecker{collector: collector}
}

func (h *HealthChecker) Check(ctx context.Context) error {
	if h.collector == nil {
		return fmt.Errorf("stats: no collector configured")
	}
	return h.collector.HealthCheck(ctx)
}

func (h *HealthChecker) Close() error {
	if h.collector != nil {
		return h.collector.Close()
	}
	return nil
}
