package proxy

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
	"github.com/rhoxy/rhoxy/rhoxy-srv/guard"
	"github.com/rhoxy/rhoxy/rhoxy-srv/logger"
	"golang.org/x/net/proxy"
)

// Dialer resolves host:port through the address guard and, if configured,
// an upstream forward rule, returning a connection to the exact guarded
// address. It is the single choke point every outbound dial goes through.
type Dialer struct {
	Guard     *guard.Guard
	Forwards  []compiledForward
	Allowlist Classifier // nil: no restriction beyond the guard
	Blocklist Classifier // nil: nothing blocked beyond the guard
	Tunables  config.Tunables
}

type compiledForward struct {
	classifier Classifier
	fwd        config.Forward
}

// NewDialer compiles the forward rule table and the allow/block lists
// against the given guard.
func NewDialer(g *guard.Guard, forwards []config.Forward, named map[string]config.Classifier, allowlist, blocklist config.Classifier, tunables config.Tunables) (*Dialer, error) {
	compiled := make([]compiledForward, 0, len(forwards))
	for _, fwd := range forwards {
		c, err := Compile(fwd.Classifier(), named)
		if err != nil {
			return nil, fmt.Errorf("client: compiling forward classifier: %w", err)
		}
		compiled = append(compiled, compiledForward{classifier: c, fwd: fwd})
	}

	var compiledAllow, compiledBlock Classifier
	if allowlist != nil {
		c, err := Compile(allowlist, named)
		if err != nil {
			return nil, fmt.Errorf("client: compiling allowlist: %w", err)
		}
		compiledAllow = c
	}
	if blocklist != nil {
		c, err := Compile(blocklist, named)
		if err != nil {
			return nil, fmt.Errorf("client: compiling blocklist: %w", err)
		}
		compiledBlock = c
	}

	return &Dialer{Guard: g, Forwards: compiled, Allowlist: compiledAllow, Blocklist: compiledBlock, Tunables: tunables}, nil
}

// DialGuarded resolves host through the guard, denies per the guard's
// verdict, consults the allow/block lists (which may only narrow the
// guard's decision further, never widen it), and dials the exact guarded
// address — optionally through a matching forward rule. It never lets
// net.Dial see the original hostname.
func (d *Dialer) DialGuarded(ctx context.Context, host, port string) (net.Conn, error) {
	decision, err := d.Guard.Resolve(ctx, host, port)
	if err != nil {
		return nil, NewProxyError(ErrCodeDNSFailed, "dns resolution failed", err)
	}
	if !decision.Allowed {
		return nil, NewProxyError(ErrCodeAddressDenied, fmt.Sprintf("address denied: %s", decision.Reason), nil)
	}

	remotePort := uint16(decision.Addr.Port)
	input := ClassifierInput{Host: host, RemoteIP: decision.Addr.IP, RemotePort: remotePort}

	if d.Blocklist != nil {
		blocked, err := d.Blocklist.Classify(input)
		if err != nil {
			return nil, NewProxyError(ErrCodeInternal, "blocklist evaluation failed", err)
		}
		if blocked {
			return nil, NewProxyError(ErrCodeAddressDenied, "address denied: blocklist", nil)
		}
	}
	if d.Allowlist != nil {
		allowed, err := d.Allowlist.Classify(input)
		if err != nil {
			return nil, NewProxyError(ErrCodeInternal, "allowlist evaluation failed", err)
		}
		if !allowed {
			return nil, NewProxyError(ErrCodeAddressDenied, "address denied: not in allowlist", nil)
		}
	}

	fwd := d.selectForward(input)
	addr := decision.Addr.String()

	timeout := time.Duration(d.Tunables.ConnectTimeoutSeconds) * time.Second
	switch f := fwd.(type) {
	case nil:
		return dialDirect(ctx, addr, timeout, false)
	case *config.ForwardDefaultNetwork:
		return dialDirect(ctx, addr, timeout, f.ForceIPv4)
	case *config.ForwardSocks5:
		return dialSocks5(ctx, addr, timeout, f)
	case *config.ForwardProxy:
		return dialHTTPProxy(ctx, addr, timeout, f)
	default:
		return nil, NewProxyError(ErrCodeInternal, fmt.Sprintf("unknown forward type %T", fwd), nil)
	}
}

func (d *Dialer) selectForward(input ClassifierInput) config.Forward {
	for _, cf := range d.Forwards {
		ok, err := cf.classifier.Classify(input)
		if err != nil {
			logger.Error("client: forward classifier error: %v", err)
			continue
		}
		if ok {
			return cf.fwd
		}
	}
	return nil
}

func dialDirect(ctx context.Context, addr string, timeout time.Duration, forceIPv4 bool) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: timeout}
	network := "tcp"
	if forceIPv4 {
		network = "tcp4"
		dialer.FallbackDelay = -1
	}
	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, NewProxyError(ErrCodeDialFailed, "direct dial failed", err)
	}
	return conn, nil
}

func dialSocks5(ctx context.Context, addr string, timeout time.Duration, fwd *config.ForwardSocks5) (net.Conn, error) {
	var auth *proxy.Auth
	if fwd.Username != nil {
		auth = &proxy.Auth{User: *fwd.Username}
		if fwd.Password != nil {
			auth.Password = *fwd.Password
		}
	}
	network := "tcp"
	baseDialer := &net.Dialer{Timeout: timeout}
	if fwd.ForceIPv4 {
		network = "tcp4"
		baseDialer.FallbackDelay = -1
	}
	socksDialer, err := proxy.SOCKS5(network, fwd.Address, auth, baseDialer)
	if err != nil {
		return nil, NewProxyError(ErrCodeDialFailed, "socks5 dialer setup failed", err)
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		if ctxDialer, ok := socksDialer.(interface {
			DialContext(context.Context, string, string) (net.Conn, error)
		}); ok {
			conn, err := ctxDialer.DialContext(ctx, network, addr)
			ch <- result{conn, err}
			return
		}
		conn, err := socksDialer.Dial(network, addr)
		ch <- result{conn, err}
	}()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, NewProxyError(ErrCodeDialFailed, "socks5 connect failed", res.err)
		}
		return res.conn, nil
	case <-ctx.Done():
		return nil, NewProxyError(ErrCodeConnectionTimeout, "socks5 connect cancelled", ctx.Err())
	}
}

func dialHTTPProxy(ctx context.Context, addr string, timeout time.Duration, fwd *config.ForwardProxy) (net.Conn, error) {
	network := "tcp"
	dialer := &net.Dialer{Timeout: timeout}
	if fwd.ForceIPv4 {
		network = "tcp4"
		dialer.FallbackDelay = -1
	}
	upstream, err := dialer.DialContext(ctx, network, fwd.Address)
	if err != nil {
		return nil, NewProxyError(ErrCodeDialFailed, "upstream proxy dial failed", err)
	}

	req, err := http.NewRequest(http.MethodConnect, "http://"+addr, http.NoBody)
	if err != nil {
		upstream.Close()
		return nil, NewProxyError(ErrCodeInternal, "building CONNECT request failed", err)
	}
	req.Host = addr
	if fwd.Username != nil && fwd.Password != nil {
		creds := base64.StdEncoding.EncodeToString([]byte(*fwd.Username + ":" + *fwd.Password))
		req.Header.Set("Proxy-Authorization", "Basic "+creds)
	}
	if err := req.Write(upstream); err != nil {
		upstream.Close()
		return nil, NewProxyError(ErrCodeDialFailed, "writing CONNECT request failed", err)
	}

	reader := bufio.NewReader(upstream)
	resp, err := http.ReadResponse(reader, req)
	if err != nil {
		upstream.Close()
		return nil, NewProxyError(ErrCodeUpstreamProtocol, "reading CONNECT response failed", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		upstream.Close()
		return nil, NewProxyError(ErrCodeUpstreamUnreachable, fmt.Sprintf("upstream proxy denied CONNECT: %s: %s", resp.Status, body), nil)
	}
	return upstream, nil
}
