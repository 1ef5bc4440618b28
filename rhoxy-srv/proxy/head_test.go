package proxy

import (
	"bufio"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadHeadParsesRequestLineAndHeaders(t *testing.T) {
	raw := "GET /path?q=1 HTTP/1.1\r\nHost: example.test\r\nX-A: 1\r\n\r\n"
	h, err := readHead(bufio.NewReader(strings.NewReader(raw)), DefaultLimits)
	require.NoError(t, err)
	assert.Equal(t, "GET", h.Method)
	assert.Equal(t, "/path?q=1", h.Target)
	assert.Equal(t, "HTTP/1.1", h.Version)
	v, ok := h.Get("host")
	assert.True(t, ok)
	assert.Equal(t, "example.test", v)
}

func TestReadHeadFoldsObsFoldLines(t *testing.T) {
	raw := "GET / HTTP/1.1\r\nX-A: one\r\n two\r\n\r\n"
	h, err := readHead(bufio.NewReader(strings.NewReader(raw)), DefaultLimits)
	require.NoError(t, err)
	v, _ := h.Get("X-A")
	assert.Equal(t, "one two", v)
}

func TestReadHeadRejectsUnknownMethod(t *testing.T) {
	raw := "TRACE / HTTP/1.1\r\n\r\n"
	_, err := readHead(bufio.NewReader(strings.NewReader(raw)), DefaultLimits)
	assert.Error(t, err)
}

func TestReadHeadRejectsConflictingFraming(t *testing.T) {
	raw := "POST / HTTP/1.1\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n"
	_, err := readHead(bufio.NewReader(strings.NewReader(raw)), DefaultLimits)
	assert.Error(t, err)
}

func TestReadHeadEnforcesHeaderCountCap(t *testing.T) {
	var b strings.Builder
	b.WriteString("GET / HTTP/1.1\r\n")
	for i := 0; i < 5; i++ {
		b.WriteString("X-A: 1\r\n")
	}
	b.WriteString("\r\n")
	limits := DefaultLimits
	limits.MaxHeaders = 3
	_, err := readHead(bufio.NewReader(strings.NewReader(b.String())), limits)
	assert.Error(t, err)
}

func TestReadLineRejectsOverlongLine(t *testing.T) {
	raw := strings.Repeat("a", 100) + "\r\n"
	remaining := 1000
	_, err := readLine(bufio.NewReader(strings.NewReader(raw)), 10, &remaining)
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestReadLineEnforcesHeadCap(t *testing.T) {
	raw := "0123456789\r\n0123456789\r\n"
	remaining := 15
	r := bufio.NewReader(strings.NewReader(raw))
	_, err := readLine(r, 100, &remaining)
	require.NoError(t, err)
	_, err = readLine(r, 100, &remaining)
	assert.ErrorIs(t, err, ErrHeadTooLarge)
}

func TestReadLineUnexpectedEOF(t *testing.T) {
	remaining := 100
	_, err := readLine(bufio.NewReader(strings.NewReader("partial")), 100, &remaining)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}
