package stats

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rhoxy/rhoxy/rhoxy-srv/logger"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS connections (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_ip TEXT NOT NULL,
	target_host TEXT NOT NULL,
	target_port INTEGER NOT NULL,
	protocol TEXT NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	bytes_sent INTEGER NOT NULL DEFAULT 0,
	bytes_received INTEGER NOT NULL DEFAULT 0,
	close_reason TEXT
);
CREATE TABLE IF NOT EXISTS connection_errors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connection_id INTEGER NOT NULL,
	error_type TEXT NOT NULL,
	error_message TEXT NOT NULL,
	occurred_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS access_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	client_ip TEXT NOT NULL,
	target_host TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason TEXT,
	occurred_at DATETIME NOT NULL
);
`

// SQLiteCollector persists connection records to a local SQLite file via
// mattn/go-sqlite3.
type SQLiteCollector struct {
	db *sql.DB
}

func NewSQLiteCollector(path string) (*SQLiteCollector, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("stats: open sqlite %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("stats: connect sqlite %s: %w", path, err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("stats: enable WAL: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		return nil, fmt.Errorf("stats: init schema: %w", err)
	}
	logger.Debug("stats: sqlite collector ready at %s", path)
	return &SQLiteCollector{db: db}, nil
}

func (s *SQLiteCollector) StartConnection(ctx context.Context, clientIP, targetHost string, targetPort int, protocol string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (client_ip, target_host, target_port, protocol, started_at) VALUES (?, ?, ?, ?, ?)`,
		clientIP, targetHost, targetPort, protocol, time.Now())
	if err != nil {
		return 0, fmt.Errorf("stats: insert connection: %w", err)
	}
	return res.LastInsertId()
}

func (s *SQLiteCollector) EndConnection(ctx context.Context, connectionID, bytesSent, bytesReceived int64, duration time.Duration, closeReason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE connections SET ended_at = ?, bytes_sent = ?, bytes_received = ?, close_reason = ? WHERE id = ?`,
		time.Now(), bytesSent, bytesReceived, closeReason, connectionID)
	if err != nil {
		return fmt.Errorf("stats: update connection: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordError(ctx context.Context, connectionID int64, errorType, errorMessage string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connection_errors (connection_id, error_type, error_message, occurred_at) VALUES (?, ?, ?, ?)`,
		connectionID, errorType, errorMessage, time.Now())
	if err != nil {
		return fmt.Errorf("stats: insert error: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) RecordBlockedRequest(ctx context.Context, clientIP, targetHost, reason string) error {
	return s.recordAccess(ctx, clientIP, targetHost, false, reason)
}

func (s *SQLiteCollector) RecordAllowedRequest(ctx context.Context, clientIP, targetHost string) error {
	return s.recordAccess(ctx, clientIP, targetHost, true, "")
}

func (s *SQLiteCollector) recordAccess(ctx context.Context, clientIP, targetHost string, allowed bool, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO access_events (client_ip, target_host, allowed, reason, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		clientIP, targetHost, allowed, reason, time.Now())
	if err != nil {
		return fmt.Errorf("stats: insert access event: %w", err)
	}
	return nil
}

func (s *SQLiteCollector) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteCollector) Close() error {
	return s.db.Close()
}
