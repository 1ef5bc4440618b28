package proxy

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/rhoxy/rhoxy/rhoxy-srv/stats"
)

// Dispatcher owns everything a connection handler needs: the parsing
// limits, the guarded dialer, the shared forwarder and the statistics
// collector. One Dispatcher is shared by every accepted connection.
type Dispatcher struct {
	Limits          Limits
	Dialer          *Dialer
	Forwarder       *Forwarder
	Collector       stats.Collector
	RequestDeadline time.Duration
}

// HandleConnection reads exactly one request head from conn and routes it:
// CONNECT to the tunnel, a health check to the health responder, everything
// else to the forwarder. Malformed first lines get a 400. The whole call is
// wrapped in a per-connection deadline of RequestDeadline, except that a
// CONNECT clears it once its head is parsed and relays without a deadline.
func (d *Dispatcher) HandleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())

	conn.SetDeadline(time.Now().Add(d.RequestDeadline)) //nolint:errcheck
	reader := bufio.NewReader(conn)

	head, err := readHead(reader, d.Limits)
	if err != nil {
		writeError(conn, 400, "Bad Request", "malformed request")
		return
	}

	if head.Method == "CONNECT" {
		conn.SetDeadline(time.Time{}) //nolint:errcheck
		HandleConnect(ctx, conn, reader, head, d.Dialer, d.Collector, clientIP, 0)
		return
	}

	if isHealthCheck(head) {
		conn.Write([]byte(healthResponse)) //nolint:errcheck
		return
	}

	ctx, cancel := context.WithTimeout(ctx, d.RequestDeadline)
	defer cancel()
	d.Forwarder.Handle(ctx, head, reader, conn, clientIP)
}
