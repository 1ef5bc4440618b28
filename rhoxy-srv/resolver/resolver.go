// Package resolver implements a DNS resolver that can query a configured
// set of upstream servers over UDP, TCP, or DNS-over-TLS, round-robining
// between them. It satisfies guard.Resolver so it can be wired in place of
// net.DefaultResolver wherever DNS.Enabled is true.
package resolver

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
	"github.com/rhoxy/rhoxy/rhoxy-srv/logger"
)

// Resolver dials one of a fixed list of upstream DNS servers per query,
// advancing a round-robin counter each call.
type Resolver struct {
	dnsConfig  config.DNSConfig
	next       uint32
	tlsConfig  *tls.Config
	goResolver *net.Resolver
}

// NewResolver builds a Resolver from cfg. Returns an error if cfg has no
// servers to query.
func NewResolver(cfg config.DNSConfig) (*Resolver, error) {
	if len(cfg.Servers) == 0 {
		return nil, fmt.Errorf("resolver: no DNS servers configured")
	}
	r := &Resolver{
		dnsConfig: cfg,
		tlsConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
			NextProtos: []string{"dot"},
		},
	}
	r.goResolver = &net.Resolver{PreferGo: true, Dial: r.Dial}
	return r, nil
}

// LookupIPAddr satisfies guard.Resolver, routing the lookup through the
// configured upstream servers instead of the host's default resolver.
func (r *Resolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return r.goResolver.LookupIPAddr(ctx, host)
}

// Dial is the custom dial function net.Resolver uses to reach one of the
// configured upstream DNS servers, selected round-robin.
func (r *Resolver) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	idx := atomic.AddUint32(&r.next, 1) % uint32(len(r.dnsConfig.Servers))
	server := r.dnsConfig.Servers[idx]
	logger.Debug("resolver: querying %s (%s)", server.Address, server.Type)

	switch server.Type {
	case config.DNSTypeUDP, config.DNSTypeTCP:
		dialer := &net.Dialer{Timeout: server.GetTimeoutDuration()}
		return dialer.DialContext(ctx, string(server.Type), server.Address)

	case config.DNSTypeDoT:
		dialer := &net.Dialer{Timeout: server.GetTimeoutDuration()}
		tcpConn, err := dialer.DialContext(ctx, "tcp", server.Address)
		if err != nil {
			return nil, fmt.Errorf("resolver: dot tcp dial %s: %w", server.Address, err)
		}

		tlsConfig := r.tlsConfig.Clone()
		if server.TLSHost != "" {
			tlsConfig.ServerName = server.TLSHost
		}

		tlsConn := tls.Client(tcpConn, tlsConfig)
		handshakeCtx, cancel := context.WithTimeout(ctx, server.GetTimeoutDuration())
		defer cancel()
		if err := tlsConn.HandshakeContext(handshakeCtx); err != nil {
			tcpConn.Close()
			return nil, fmt.Errorf("resolver: dot handshake with %s: %w", server.Address, err)
		}
		// net.Resolver dials with "udp" first and frames messages as bare
		// datagrams regardless of what Dial returns; DoT is always a
		// length-prefixed TCP stream. dotConn performs that length-prefix
		// translation so one full message arrives per Read/Write call no
		// matter which network the resolver thinks it asked for.
		return &dotConn{Conn: tlsConn}, nil

	default:
		return nil, fmt.Errorf("resolver: unsupported DNS server type %q", server.Type)
	}
}

// dotConn wraps a DNS-over-TLS stream so each Write sends one complete,
// length-prefixed DNS message and each Read returns one complete message
// with the prefix stripped — the same one-message-per-call contract a
// UDP socket has, which is what net.Resolver's internal client assumes
// regardless of the network string it dialed with.
type dotConn struct {
	net.Conn
}

func (c *dotConn) Write(b []byte) (int, error) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(b)))
	if _, err := c.Conn.Write(lenBuf[:]); err != nil {
		return 0, err
	}
	if _, err := c.Conn.Write(b); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *dotConn) Read(p []byte) (int, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(c.Conn, lenBuf[:]); err != nil {
		return 0, err
	}
	msg := make([]byte, binary.BigEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(c.Conn, msg); err != nil {
		return 0, err
	}
	n := copy(p, msg)
	if n < len(msg) {
		return n, io.ErrShortBuffer
	}
	return n, nil
}
