package proxy

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Limits bounds request-head parsing. Always passed explicitly so tests can
// shrink them; never read from a package global.
type Limits struct {
	MaxLine    int
	MaxHeaders int
	MaxHead    int
	MaxBody    int64
}

// DefaultLimits matches the tunables documented for the proxy.
var DefaultLimits = Limits{
	MaxLine:    8 * 1024,
	MaxHeaders: 100,
	MaxHead:    64 * 1024,
	MaxBody:    10 * 1024 * 1024,
}

var allowedMethods = map[string]bool{
	"GET": true, "HEAD": true, "POST": true, "PUT": true,
	"DELETE": true, "PATCH": true, "OPTIONS": true, "CONNECT": true,
}

// Header is a single (name, value) field that preserves its original
// casing for forwarding while comparing case-insensitively.
type Header struct {
	Name  string
	Value string
}

// Head is a parsed request-line plus header fields.
type Head struct {
	Method  string
	Target  string
	Version string
	Headers []Header
}

// Get returns the first header value matching name, case-insensitively.
func (h *Head) Get(name string) (string, bool) {
	for _, f := range h.Headers {
		if strings.EqualFold(f.Name, name) {
			return f.Value, true
		}
	}
	return "", false
}

// readHead parses the request-line and headers from r, enforcing limits.
// remaining is decremented by every byte consumed and shared across the
// readLine calls so line caps and the overall head cap compose.
func readHead(r *bufio.Reader, limits Limits) (*Head, error) {
	remaining := limits.MaxHead

	reqLine, err := readLine(r, limits.MaxLine, &remaining)
	if err != nil {
		return nil, err
	}
	method, target, version, err := parseRequestLine(reqLine)
	if err != nil {
		return nil, err
	}

	h := &Head{Method: method, Target: target, Version: version}
	for {
		line, err := readLine(r, limits.MaxLine, &remaining)
		if err != nil {
			return nil, err
		}
		if line == "" {
			break
		}
		if len(h.Headers) >= limits.MaxHeaders {
			return nil, fmt.Errorf("proxy: too many headers (max %d)", limits.MaxHeaders)
		}
		if isObsFold(line) && len(h.Headers) > 0 {
			last := &h.Headers[len(h.Headers)-1]
			last.Value = last.Value + " " + strings.TrimSpace(line)
			continue
		}
		name, value, err := parseHeaderLine(line)
		if err != nil {
			return nil, err
		}
		h.Headers = append(h.Headers, Header{Name: name, Value: value})
	}

	if err := validateContentFraming(h); err != nil {
		return nil, err
	}
	return h, nil
}

func parseRequestLine(line string) (method, target, version string, err error) {
	parts := strings.Split(line, " ")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("proxy: malformed request line")
	}
	method, target, version = parts[0], parts[1], parts[2]
	if !isUpperAlpha(method) || !allowedMethods[method] {
		return "", "", "", fmt.Errorf("proxy: unsupported method %q", method)
	}
	if target == "" {
		return "", "", "", fmt.Errorf("proxy: empty request target")
	}
	if !strings.HasPrefix(version, "HTTP/") {
		return "", "", "", fmt.Errorf("proxy: malformed version %q", version)
	}
	return method, target, version, nil
}

func isUpperAlpha(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func isObsFold(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

func parseHeaderLine(line string) (name, value string, err error) {
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", "", fmt.Errorf("proxy: malformed header line")
	}
	name = line[:idx]
	if strings.ContainsAny(name, " \t") {
		return "", "", fmt.Errorf("proxy: malformed header name %q", name)
	}
	value = strings.TrimSpace(line[idx+1:])
	return name, value, nil
}

func validateContentFraming(h *Head) error {
	_, hasCL := h.Get("Content-Length")
	_, hasTE := h.Get("Transfer-Encoding")
	if hasCL && hasTE {
		return fmt.Errorf("proxy: conflicting Content-Length and Transfer-Encoding")
	}
	return nil
}

// ContentLength returns the declared body length, -1 for chunked, 0 for no
// declared body.
func (h *Head) ContentLength() (length int64, chunked bool, err error) {
	if v, ok := h.Get("Transfer-Encoding"); ok && strings.EqualFold(strings.TrimSpace(v), "chunked") {
		return -1, true, nil
	}
	if v, ok := h.Get("Content-Length"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return 0, false, fmt.Errorf("proxy: malformed Content-Length %q", v)
		}
		return n, false, nil
	}
	return 0, false, nil
}

// connectionTokens returns the lower-cased tokens named by a Connection
// header, used to extend hop-by-hop stripping per request.
func connectionTokens(h *Head) []string {
	v, ok := h.Get("Connection")
	if !ok {
		return nil
	}
	parts := strings.Split(v, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		tokens = append(tokens, strings.ToLower(strings.TrimSpace(p)))
	}
	sort.Strings(tokens)
	return tokens
}
