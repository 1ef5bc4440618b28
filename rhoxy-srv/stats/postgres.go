package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rhoxy/rhoxy/rhoxy-srv/logger"

	_ "github.com/lib/pq"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id BIGSERIAL PRIMARY KEY,
	client_ip TEXT NOT NULL,
	target_host TEXT NOT NULL,
	target_port INTEGER NOT NULL,
	protocol TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	bytes_sent BIGINT NOT NULL DEFAULT 0,
	bytes_received BIGINT NOT NULL DEFAULT 0,
	close_reason TEXT
);
CREATE TABLE IF NOT EXISTS connection_errors (
	id BIGSERIAL PRIMARY KEY,
	connection_id BIGINT NOT NULL,
	error_type TEXT NOT NULL,
	error_message TEXT NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS access_events (
	id BIGSERIAL PRIMARY KEY,
	client_ip TEXT NOT NULL,
	target_host TEXT NOT NULL,
	allowed BOOLEAN NOT NULL,
	reason TEXT,
	occurred_at TIMESTAMPTZ NOT NULL
);
`

// PostgreSQLCollector persists connection records to PostgreSQL via lib/pq.
type PostgreSQLCollector struct {
	db *sql.DB
}

func NewPostgreSQLCollector(dsn string) (*PostgreSQLCollector, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("stats: open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("stats: connect postgres: %w", err)
	}
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("stats: init schema: %w", err)
	}
	logger.Debug("stats: postgres collector ready")
	return &PostgreSQLCollector{db: db}, nil
}

func (p *PostgreSQLCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	var id int64
	err := p.db.QueryRowContext(ctx,
		`INSERT INTO connections (client_ip, target_host, target_port, protocol, started_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		clientIP, targetHost, targetPort, protocol, time.Now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("stats: insert connection: %w", err)
	}
	return id, nil
}

func (p *PostgreSQLCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE connections SET ended_at = $1, bytes_sent = $2, bytes_received = $3, close_reason = $4 WHERE id = $5`,
		time.Now(), bytesSent, bytesReceived, closeReason, connectionID)
	if err != nil {
		return fmt.Errorf("stats: update connection: %w", err)
	}
	return nil
}

func (p *PostgreSQLCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO connection_errors (connection_id, error_type, error_message, occurred_at) VALUES ($1, $2, $3, $4)`,
		connectionID, errorType, errorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("stats: insert error: %w", err)
	}
	return nil
}

func (p *PostgreSQLCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	return p.recordAccess(ctx, clientIP, targetHost, false, reason)
}

func (p *PostgreSQLCollector) RecordAllowedRequest(ctx context.Context, clientIP, targetHost string) error {
	return p.recordAccess(ctx, clientIP, targetHost, true, "")
}

func (p *PostgreSQLCollector) recordAccess(ctx context.Context, clientIP, targetHost string, allowed bool, reason string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO access_events (client_ip, target_host, allowed, reason, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
		clientIP, targetHost, allowed, reason, time.Now())
	if err != nil {
		return fmt.Errorf("stats: insert access event: %w", err)
	}
	return nil
}

func (p *PostgreSQLCollector) HealthCheck(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PostgreSQLCollector) Close() error {
	return p.db.Close()
}
