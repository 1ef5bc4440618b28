package proxy

import "strings"

// hopByHop lists headers meaningful only for a single transport hop; they
// are never forwarded in either direction.
var hopByHop = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"transfer-encoding":   true,
	"upgrade":             true,
}

// stripHopByHop returns headers with hop-by-hop fields removed, plus any
// field named in the request's own Connection header, and with Host
// dropped (the upstream client sets its own).
func stripHopByHop(headers []Header, extra []string) []Header {
	extraSet := make(map[string]bool, len(extra))
	for _, e := range extra {
		extraSet[e] = true
	}
	out := make([]Header, 0, len(headers))
	for _, h := range headers {
		lower := strings.ToLower(h.Name)
		if hopByHop[lower] || extraSet[lower] || lower == "host" {
			continue
		}
		out = append(out, h)
	}
	return out
}

// mergeVia appends "1.1 rhoxy" to any existing Via header value.
func mergeVia(existing string) string {
	if existing == "" {
		return "1.1 rhoxy"
	}
	return existing + ", 1.1 rhoxy"
}
