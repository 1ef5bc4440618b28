package proxy

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
	"github.com/rhoxy/rhoxy/rhoxy-srv/guard"
)

func newTestDispatcher(t *testing.T, transport http.RoundTripper) *Dispatcher {
	t.Helper()
	dialer := &Dialer{Guard: guard.New(nil), Tunables: config.DefaultTunables()}
	return &Dispatcher{
		Limits:          DefaultLimits,
		Dialer:          dialer,
		Forwarder:       NewForwarder(transport, DefaultLimits, nil),
		RequestDeadline: 2 * time.Second,
	}
}

func TestHandleConnectionServesHealthCheck(t *testing.T) {
	d := newTestDispatcher(t, http.DefaultTransport)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		clientConn.Write([]byte("GET /health HTTP/1.1\r\nHost: proxy.local\r\n\r\n")) //nolint:errcheck
	}()
	go d.HandleConnection(context.Background(), serverConn)

	resp, err := http.ReadResponse(bufio.NewReader(clientConn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleConnectionRejectsMalformedRequest(t *testing.T) {
	d := newTestDispatcher(t, http.DefaultTransport)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		clientConn.Write([]byte("NOTAVERB\r\n\r\n")) //nolint:errcheck
	}()
	go d.HandleConnection(context.Background(), serverConn)

	resp, err := http.ReadResponse(bufio.NewReader(clientConn), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleConnectionForwardsPlainRequest(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream-ok")) //nolint:errcheck
	}))
	defer upstream.Close()

	d := newTestDispatcher(t, http.DefaultTransport)
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		req, _ := http.NewRequest("GET", upstream.URL+"/", nil)
		req.Write(clientConn) //nolint:errcheck
	}()
	go d.HandleConnection(context.Background(), serverConn)

	resp, err := http.ReadResponse(bufio.NewReader(clientConn), nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
