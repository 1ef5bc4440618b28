package config

import "testing"

func TestLoadJSONForwardsPreservesOrder(t *testing.T) {
	path := writeTempFile(t, "forwards.json", `{
		"forwards": [
			{
				"type": "socks5",
				"address": "127.0.0.1:1080",
				"username": "alice",
				"password": "secret",
				"force-ipv4": true,
				"classifier": {"type": "network", "cidr": "192.168.0.0/16"}
			},
			{
				"type": "proxy",
				"address": "upstream.internal:3128",
				"classifier": {"type": "domain", "op": "is", "domain": "corp.example"}
			},
			{"type": "default-network"}
		]
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Forwards) != 3 {
		t.Fatalf("forwards = %d, want 3", len(cfg.Forwards))
	}

	socks, ok := cfg.Forwards[0].(*ForwardSocks5)
	if !ok {
		t.Fatalf("forward[0] type = %T, want *ForwardSocks5", cfg.Forwards[0])
	}
	if socks.Address != "127.0.0.1:1080" || socks.Username == nil || *socks.Username != "alice" || !socks.ForceIPv4 {
		t.Errorf("socks5 forward = %+v, unexpected fields", socks)
	}

	proxyFwd, ok := cfg.Forwards[1].(*ForwardProxy)
	if !ok {
		t.Fatalf("forward[1] type = %T, want *ForwardProxy", cfg.Forwards[1])
	}
	if proxyFwd.Address != "upstream.internal:3128" {
		t.Errorf("proxy forward address = %q", proxyFwd.Address)
	}

	if _, ok := cfg.Forwards[2].(*ForwardDefaultNetwork); !ok {
		t.Fatalf("forward[2] type = %T, want *ForwardDefaultNetwork", cfg.Forwards[2])
	}
}

func TestForwardTypeMethods(t *testing.T) {
	cases := []struct {
		fwd  Forward
		want ForwardType
	}{
		{&ForwardDefaultNetwork{}, ForwardTypeDefaultNetwork},
		{&ForwardSocks5{}, ForwardTypeSocks5},
		{&ForwardProxy{}, ForwardTypeProxy},
	}
	for _, c := range cases {
		if got := c.fwd.Type(); got != c.want {
			t.Errorf("%T.Type() = %v, want %v", c.fwd, got, c.want)
		}
	}
}
