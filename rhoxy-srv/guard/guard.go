// Package guard implements the SSRF / DNS-rebinding address guard: it
// classifies IP addresses and couples resolution with the allow-check so a
// caller connects only to the exact address that was classified.
package guard

import (
	"context"
	"fmt"
	"net"
)

// Reason names why a candidate address was denied.
type Reason string

const (
	ReasonLoopback     Reason = "loopback"
	ReasonPrivate      Reason = "private"
	ReasonLinkLocal    Reason = "link-local"
	ReasonMulticast    Reason = "multicast"
	ReasonUnspecified  Reason = "unspecified"
	ReasonBroadcast    Reason = "broadcast"
	ReasonNoAddresses  Reason = "no-addresses"
	ReasonResolveError Reason = "resolve-error"
)

// Decision is the outcome of Resolve: either Allowed with the exact address
// to connect to, or Denied with a reason.
type Decision struct {
	Allowed bool
	Addr    *net.TCPAddr
	Reason  Reason
}

var privateBlocks []*net.IPNet

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

func init() {
	for _, s := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
	} {
		privateBlocks = append(privateBlocks, mustParseCIDR(s))
	}
}

var broadcastAddr = net.IPv4(255, 255, 255, 255)

// Classify returns the deny Reason for ip, or "" if ip is allowed.
func Classify(ip net.IP) Reason {
	if ip4 := ip.To4(); ip4 != nil && ip4.Equal(broadcastAddr) {
		return ReasonBroadcast
	}
	switch {
	case ip.IsLoopback():
		return ReasonLoopback
	case ip.IsUnspecified():
		return ReasonUnspecified
	case ip.IsLinkLocalUnicast():
		return ReasonLinkLocal
	case ip.IsMulticast():
		return ReasonMulticast
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return ReasonPrivate
		}
	}
	return ""
}

// Resolver looks up the IP addresses for a host. *net.Resolver and
// rhoxy-srv/resolver.Resolver both satisfy it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard resolves hostnames/literal IPs to a single allowed address, rejecting
// anything in a reserved range. It never lets a caller re-resolve: Resolve
// returns the exact net.TCPAddr that was classified.
type Guard struct {
	Resolver Resolver
}

// New returns a Guard backed by the given resolver. A nil resolver falls
// back to net.DefaultResolver.
func New(r Resolver) *Guard {
	if r == nil {
		r = net.DefaultResolver
	}
	return &Guard{Resolver: r}
}

// Resolve looks up host, rejects any candidate outside the allowed ranges,
// and returns the single chosen address (IPv4 preferred) for the caller to
// dial directly. It never returns an address the caller would need to
// re-resolve.
func (g *Guard) Resolve(ctx context.Context, host, port string) (Decision, error) {
	if ip := net.ParseIP(host); ip != nil {
		return g.decide(ip, port)
	}

	addrs, err := g.Resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return Decision{Reason: ReasonResolveError}, fmt.Errorf("resolve %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return Decision{Reason: ReasonNoAddresses}, nil
	}

	var v4, v6 net.IP
	for _, a := range addrs {
		if v4 == nil && a.IP.To4() != nil {
			v4 = a.IP
		}
		if v6 == nil && a.IP.To4() == nil {
			v6 = a.IP
		}
	}
	chosen := v4
	if chosen == nil {
		chosen = v6
	}
	return g.decide(chosen, port)
}

func (g *Guard) decide(ip net.IP, port string) (Decision, error) {
	if reason := Classify(ip); reason != "" {
		return Decision{Reason: reason}, nil
	}
	p, err := net.LookupPort("tcp", port)
	if err != nil {
		return Decision{}, fmt.Errorf("bad port %q: %w", port, err)
	}
	return Decision{Allowed: true, Addr: &net.TCPAddr{IP: ip, Port: p}}, nil
}
