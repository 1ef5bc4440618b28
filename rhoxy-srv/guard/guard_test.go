package guard

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyDeniesEveryReservedClass(t *testing.T) {
	cases := map[string]Reason{
		"127.0.0.1":       ReasonLoopback,
		"::1":             ReasonLoopback,
		"10.1.2.3":        ReasonPrivate,
		"172.16.5.5":      ReasonPrivate,
		"192.168.1.1":     ReasonPrivate,
		"fc00::1":         ReasonPrivate,
		"169.254.1.1":     ReasonLinkLocal,
		"fe80::1":         ReasonLinkLocal,
		"224.0.0.1":       ReasonMulticast,
		"0.0.0.0":         ReasonUnspecified,
		"::":              ReasonUnspecified,
		"255.255.255.255": ReasonBroadcast,
	}
	for s, want := range cases {
		ip := net.ParseIP(s)
		require.NotNil(t, ip, s)
		assert.Equal(t, want, Classify(ip), s)
	}
}

func TestClassifyAllowsPublicAddress(t *testing.T) {
	assert.Empty(t, Classify(net.ParseIP("93.184.216.34")))
}

func TestResolveLiteralIPDenied(t *testing.T) {
	g := New(nil)
	d, err := g.Resolve(context.Background(), "127.0.0.1", "80")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonLoopback, d.Reason)
}

func TestResolveLiteralIPAllowedUsesExactAddress(t *testing.T) {
	g := New(nil)
	d, err := g.Resolve(context.Background(), "93.184.216.34", "443")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, "93.184.216.34", d.Addr.IP.String())
	assert.Equal(t, 443, d.Addr.Port)
}

type stubResolver struct {
	addrs []net.IPAddr
	err   error
}

func (s stubResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return s.addrs, s.err
}

func TestResolvePrefersIPv4OverIPv6(t *testing.T) {
	g := New(stubResolver{addrs: []net.IPAddr{
		{IP: net.ParseIP("2001:db8::1")},
		{IP: net.ParseIP("93.184.216.34")},
	}})
	d, err := g.Resolve(context.Background(), "example.test", "80")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.Equal(t, "93.184.216.34", d.Addr.IP.String())
}

func TestResolveNoAddressesDenied(t *testing.T) {
	g := New(stubResolver{})
	d, err := g.Resolve(context.Background(), "example.test", "80")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNoAddresses, d.Reason)
}

func TestResolveDeniedHostnameThatResolvesToPrivate(t *testing.T) {
	g := New(stubResolver{addrs: []net.IPAddr{{IP: net.ParseIP("10.0.0.5")}}})
	d, err := g.Resolve(context.Background(), "rebind.example.test", "80")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonPrivate, d.Reason)
}
