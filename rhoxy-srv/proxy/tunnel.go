package proxy

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rhoxy/rhoxy/rhoxy-srv/logger"
	"github.com/rhoxy/rhoxy/rhoxy-srv/stats"
)

// HandleConnect drives a CONNECT request through its lifecycle: Received
// (head already parsed by the caller), Resolved (guard approved an
// address), Established (upstream TCP connected, 200 sent to the client),
// Relaying (bidirectional byte copy), Closed. Any failure before
// Established gets a 4xx/5xx response; once Relaying starts, failures are
// only logged and the tunnel is torn down.
//
// reader is the buffered reader the caller used to parse head: any bytes
// the client already pipelined past the CONNECT head (an optimistic TLS
// ClientHello in the same segment, say) sit in its buffer and must be
// drained to upstream before the raw relay takes over, or tunnel
// transparency breaks for that data.
func HandleConnect(ctx context.Context, clientConn net.Conn, reader *bufio.Reader, head *Head, dialer *Dialer, collector stats.Collector, clientIP string, deadline time.Duration) {
	host, port, err := net.SplitHostPort(head.Target)
	if err != nil {
		writeError(clientConn, 400, "Bad Request", "malformed CONNECT target")
		return
	}

	// Resolved: dialer.DialGuarded resolves and denies in one step.
	upstream, err := dialer.DialGuarded(ctx, host, port)
	if err != nil {
		var proxyErr *Error
		if errors.As(err, &proxyErr) && proxyErr.Code == ErrCodeAddressDenied {
			writeError(clientConn, 403, "Forbidden", proxyErr.Description)
			if collector != nil {
				collector.RecordBlockedRequest(ctx, clientIP, host, proxyErr.Description)
			}
			return
		}
		writeError(clientConn, 502, "Bad Gateway", "could not reach target")
		return
	}
	defer upstream.Close()

	// Established.
	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}
	logger.Debug("tunnel: established %s -> %s", clientIP, head.Target)

	if n := reader.Buffered(); n > 0 {
		buffered := make([]byte, n)
		reader.Read(buffered) //nolint:errcheck
		upstream.Write(buffered) //nolint:errcheck
	}

	var connID int64
	if collector != nil {
		collector.RecordAllowedRequest(ctx, clientIP, host)
		connID, _ = collector.StartConnection(ctx, clientIP, host, int(portNum(port)), "connect")
	}

	// Relaying, then Closed once both flows finish.
	start := time.Now()
	sent, received := relay(clientConn, upstream, deadline)

	if collector != nil {
		collector.EndConnection(ctx, connID, sent, received, time.Since(start), "closed")
	}
}

// relay runs the two half-duplex copy flows concurrently. When one flow
// ends it half-closes the write side of the other connection so the second
// flow can drain and finish on its own EOF. deadline <= 0 leaves the
// tunnel unbounded, matching the once-Established, long-lived CONNECT case.
func relay(client, upstream net.Conn, deadline time.Duration) (sent, received int64) {
	var wg sync.WaitGroup
	wg.Add(2)

	if deadline > 0 {
		deadlineAt := time.Now().Add(deadline)
		client.SetDeadline(deadlineAt)   //nolint:errcheck
		upstream.SetDeadline(deadlineAt) //nolint:errcheck
	}

	go func() {
		defer wg.Done()
		n, _ := copyBuffer(upstream, client)
		sent = n
		halfClose(upstream)
	}()
	go func() {
		defer wg.Done()
		n, _ := copyBuffer(client, upstream)
		received = n
		halfClose(client)
	}()

	wg.Wait()
	return sent, received
}

func halfClose(conn net.Conn) {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite() //nolint:errcheck
		return
	}
	conn.Close() //nolint:errcheck
}

func portNum(port string) uint16 {
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return 0
	}
	return uint16(p)
}
