package proxy

import "strings"

const healthResponse = "HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok"

// isHealthCheck reports whether head targets this proxy's own health
// endpoint: GET or HEAD against exactly "/health", origin-form or with a
// leading scheme+authority stripped.
func isHealthCheck(h *Head) bool {
	if h.Method != "GET" && h.Method != "HEAD" {
		return false
	}
	path := h.Target
	if i := strings.Index(path, "://"); i >= 0 {
		rest := path[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			path = rest[j:]
		} else {
			path = "/"
		}
	}
	if q := strings.IndexByte(path, '?'); q >= 0 {
		path = path[:q]
	}
	return path == "/health"
}
