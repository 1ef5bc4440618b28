package resolver

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
)

func TestNewResolverRejectsEmptyServerList(t *testing.T) {
	_, err := NewResolver(config.DNSConfig{Enabled: true})
	assert.Error(t, err)
}

func TestDialRoundRobinsAcrossServers(t *testing.T) {
	serverA := startUDPEchoServer(t)
	serverB := startUDPEchoServer(t)
	defer serverA.Close()
	defer serverB.Close()

	cfg := config.DNSConfig{
		Enabled: true,
		Servers: []config.DNSServerConfig{
			{Address: serverA.LocalAddr().String(), Type: config.DNSTypeUDP, TimeoutSeconds: 2},
			{Address: serverB.LocalAddr().String(), Type: config.DNSTypeUDP, TimeoutSeconds: 2},
		},
	}
	r, err := NewResolver(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn1, err := r.Dial(ctx, "udp", "")
	require.NoError(t, err)
	defer conn1.Close()
	conn2, err := r.Dial(ctx, "udp", "")
	require.NoError(t, err)
	defer conn2.Close()

	assert.NotEqual(t, conn1.RemoteAddr().String(), "")
	assert.NotEqual(t, conn2.RemoteAddr().String(), "")
	assert.NotEqual(t, conn1.RemoteAddr().String(), conn2.RemoteAddr().String())
}

func TestDialRejectsUnsupportedType(t *testing.T) {
	cfg := config.DNSConfig{Servers: []config.DNSServerConfig{{Address: "127.0.0.1:53", Type: "quic", TimeoutSeconds: 1}}}
	r, err := NewResolver(cfg)
	require.NoError(t, err)

	_, err = r.Dial(context.Background(), "udp", "")
	assert.Error(t, err)
}

func startUDPEchoServer(t *testing.T) *net.UDPConn {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:0")
	require.NoError(t, err)
	conn, err := net.ListenUDP("udp", addr)
	require.NoError(t, err)
	return conn
}

// dotConn must present one-message-per-call semantics over its
// length-prefixed wire format regardless of how many Write/Read calls the
// underlying framing takes, since net.Resolver treats it like a UDP
// socket even though the wire bytes are TCP-framed DNS-over-TLS.
func TestDotConnWriteReadRoundTripsOneMessagePerCall(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()

	go func() {
		var lenBuf [2]byte
		io.ReadFull(serverSide, lenBuf[:]) //nolint:errcheck
		n := binary.BigEndian.Uint16(lenBuf[:])
		msg := make([]byte, n)
		io.ReadFull(serverSide, msg) //nolint:errcheck

		reply := append([]byte{0xAB, 0xCD}, msg...)
		var replyLen [2]byte
		binary.BigEndian.PutUint16(replyLen[:], uint16(len(reply)))
		serverSide.Write(replyLen[:]) //nolint:errcheck
		serverSide.Write(reply)       //nolint:errcheck
	}()

	conn := &dotConn{Conn: clientSide}
	query := []byte{0x00, 0x01, 0x02, 0x03}
	n, err := conn.Write(query)
	require.NoError(t, err)
	assert.Equal(t, len(query), n)

	buf := make([]byte, 512)
	n, err = conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0xAB, 0xCD}, query...), buf[:n])
}

func TestDotConnReadReturnsShortBufferWhenCallerBufferTooSmall(t *testing.T) {
	serverSide, clientSide := net.Pipe()
	defer serverSide.Close()

	go func() {
		msg := []byte{1, 2, 3, 4, 5, 6, 7, 8}
		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(len(msg)))
		serverSide.Write(lenBuf[:]) //nolint:errcheck
		serverSide.Write(msg)       //nolint:errcheck
	}()

	conn := &dotConn{Conn: clientSide}
	buf := make([]byte, 4)
	n, err := conn.Read(buf)
	assert.ErrorIs(t, err, io.ErrShortBuffer)
	assert.Equal(t, 4, n)
}
