package proxy

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
	"github.com/rhoxy/rhoxy/rhoxy-srv/stats"
)

// NewTransport builds the process-wide pooled client every forwarder call
// shares. dialer.DialGuarded is wired in directly as DialContext so the
// pool itself never resolves a host — every connection it opens already
// passed the address guard.
func NewTransport(dialer *Dialer, tunables config.Tunables) *http.Transport {
	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			return dialer.DialGuarded(ctx, host, port)
		},
		MaxIdleConns:          200,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       time.Duration(tunables.IdlePoolTimeoutSeconds) * time.Second,
		ResponseHeaderTimeout: time.Duration(tunables.RequestTimeoutSeconds) * time.Second,
		DisableCompression:    true,
	}
}

// Forwarder issues forwarded HTTP requests through a shared Transport and
// streams the response back without buffering it whole.
type Forwarder struct {
	Transport http.RoundTripper
	Limits    Limits
	Collector stats.Collector
}

func NewForwarder(transport http.RoundTripper, limits Limits, collector stats.Collector) *Forwarder {
	return &Forwarder{Transport: transport, Limits: limits, Collector: collector}
}

var errBodyTooLarge = errors.New("proxy: body exceeds cap")

// Handle forwards one HTTP request described by head, with body read from
// bodyReader (positioned right after the head), and writes the response
// status line, headers and body to w. Redirects are never followed: the
// upstream response is relayed exactly as received.
func (f *Forwarder) Handle(ctx context.Context, head *Head, bodyReader *bufio.Reader, w io.Writer, clientIP string) {
	target, err := deriveTarget(head)
	if err != nil {
		writeError(w, 400, "Bad Request", err.Error())
		return
	}

	length, chunked, err := head.ContentLength()
	if err != nil {
		writeError(w, 400, "Bad Request", err.Error())
		return
	}
	if !chunked && length > f.Limits.MaxBody {
		writeError(w, 413, "Payload Too Large", "request body exceeds cap")
		if f.Collector != nil {
			f.Collector.RecordError(ctx, 0, "http", "request body exceeds cap")
		}
		return
	}

	reqCounter := &countingReader{}
	var body io.Reader
	switch {
	case chunked:
		reqCounter.r = httputil.NewChunkedReader(bodyReader)
		body = &cappedReader{r: reqCounter, limit: f.Limits.MaxBody}
	case length > 0:
		reqCounter.r = io.LimitReader(bodyReader, length)
		body = reqCounter
	default:
		body = http.NoBody
	}

	req, err := http.NewRequestWithContext(ctx, head.Method, target.String(), body)
	if err != nil {
		writeError(w, 400, "Bad Request", "could not build upstream request")
		return
	}
	if !chunked && length > 0 {
		req.ContentLength = length
	}
	applyUpstreamHeaders(req, head)

	var respBody *cappedReader
	if f.Collector != nil {
		if connID, startErr := f.Collector.StartConnection(ctx, clientIP, target.Hostname(), portOf(target), "http"); startErr == nil {
			start := time.Now()
			defer func() {
				var received int64
				if respBody != nil {
					received = respBody.read
				}
				f.Collector.EndConnection(ctx, connID, reqCounter.n, received, time.Since(start), "forwarded") //nolint:errcheck
			}()
		}
	}

	resp, err := f.Transport.RoundTrip(req)
	if err != nil {
		f.writeUpstreamError(ctx, w, err)
		return
	}
	defer resp.Body.Close()

	writeResponseHead(w, resp)

	respBody = &cappedReader{r: resp.Body, limit: f.Limits.MaxBody}
	if resp.ContentLength >= 0 {
		io.CopyN(w, respBody, resp.ContentLength) //nolint:errcheck
		return
	}
	cw := httputil.NewChunkedWriter(w)
	copyBuffer(cw, respBody) //nolint:errcheck
	cw.Close()
	io.WriteString(w, "\r\n") //nolint:errcheck
}

// countingReader wraps r and tracks the number of bytes actually read
// through it, for statistics even when the underlying length is unknown
// up front (chunked) or consumed internally by http.Transport.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func (f *Forwarder) writeUpstreamError(ctx context.Context, w io.Writer, err error) {
	if f.Collector != nil {
		f.Collector.RecordError(ctx, 0, "connection", err.Error())
	}
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		switch proxyErr.Code {
		case ErrCodeAddressDenied:
			writeError(w, 403, "Forbidden", proxyErr.Description)
			return
		case ErrCodeDNSFailed:
			writeError(w, 502, "Bad Gateway", "dns resolution failed")
			return
		}
	}
	netErr, ok := err.(net.Error)
	if ok && netErr.Timeout() {
		writeError(w, 504, "Gateway Timeout", "upstream request timed out")
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, 504, "Gateway Timeout", "upstream request timed out")
		return
	}
	writeError(w, 502, "Bad Gateway", "upstream unreachable")
}

// deriveTarget resolves the absolute URL to forward to, from either an
// absolute-form request-line target or an origin-form target plus Host.
func deriveTarget(head *Head) (*url.URL, error) {
	if strings.Contains(head.Target, "://") {
		u, err := url.Parse(head.Target)
		if err != nil {
			return nil, fmt.Errorf("malformed absolute-form target: %w", err)
		}
		return u, nil
	}
	host, ok := head.Get("Host")
	if !ok || host == "" {
		return nil, fmt.Errorf("origin-form request missing Host header")
	}
	u := &url.URL{Scheme: "http", Host: host, Path: head.Target}
	if i := strings.IndexByte(head.Target, '?'); i >= 0 {
		u.Path = head.Target[:i]
		u.RawQuery = head.Target[i+1:]
	}
	return u, nil
}

func portOf(u *url.URL) int {
	p := u.Port()
	if p == "" {
		if u.Scheme == "https" {
			return 443
		}
		return 80
	}
	n, _ := strconv.Atoi(p)
	return n
}

// applyUpstreamHeaders copies head's headers onto req, stripping hop-by-hop
// fields and the original Host, and merging the Via header.
func applyUpstreamHeaders(req *http.Request, head *Head) {
	extra := connectionTokens(head)
	for _, h := range stripHopByHop(head.Headers, extra) {
		req.Header.Add(h.Name, h.Value)
	}
	existingVia := req.Header.Get("Via")
	req.Header.Set("Via", mergeVia(existingVia))
}

// writeResponseHead writes the status line and filtered headers of resp to
// w. The body is written separately so it can stream.
func writeResponseHead(w io.Writer, resp *http.Response) {
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode)) //nolint:errcheck
	headers := make([]Header, 0, len(resp.Header))
	for name, values := range resp.Header {
		if strings.EqualFold(name, "Content-Length") {
			continue
		}
		for _, v := range values {
			headers = append(headers, Header{Name: name, Value: v})
		}
	}
	headers = stripHopByHop(headers, nil)
	viaSet := false
	for _, h := range headers {
		if strings.EqualFold(h.Name, "via") {
			viaSet = true
		}
		fmt.Fprintf(w, "%s: %s\r\n", h.Name, h.Value) //nolint:errcheck
	}
	if !viaSet {
		fmt.Fprintf(w, "Via: %s\r\n", mergeVia("")) //nolint:errcheck
	}
	// The dispatcher serves exactly one request per connection, so every
	// relayed response closes the client connection too.
	io.WriteString(w, "Connection: close\r\n") //nolint:errcheck
	if resp.ContentLength >= 0 {
		fmt.Fprintf(w, "Content-Length: %d\r\n", resp.ContentLength) //nolint:errcheck
	} else {
		io.WriteString(w, "Transfer-Encoding: chunked\r\n") //nolint:errcheck
	}
	io.WriteString(w, "\r\n") //nolint:errcheck
}

func writeError(w io.Writer, code int, reason, body string) {
	w.Write(buildStatusResponse(code, reason, body)) //nolint:errcheck
}

// cappedReader wraps r and fails once more than limit bytes have been read,
// enforcing the body cap on a stream whose length is not known up front.
type cappedReader struct {
	r     io.Reader
	limit int64
	read  int64
}

func (c *cappedReader) Read(p []byte) (int, error) {
	if c.read > c.limit {
		return 0, errBodyTooLarge
	}
	n, err := c.r.Read(p)
	c.read += int64(n)
	if c.read > c.limit {
		return n, errBodyTooLarge
	}
	return n, err
}
