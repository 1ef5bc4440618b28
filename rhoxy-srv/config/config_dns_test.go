package config

import "testing"

func TestDefaultDNSConfigIsDisabledWithTwoServers(t *testing.T) {
	dns := DefaultDNSConfig()
	if dns.Enabled {
		t.Error("default DNS config should be disabled (system resolver)")
	}
	if len(dns.Servers) != 2 {
		t.Fatalf("default DNS servers = %d, want 2", len(dns.Servers))
	}
	for _, s := range dns.Servers {
		if s.Type != DNSTypeUDP {
			t.Errorf("default server %s type = %q, want udp", s.Address, s.Type)
		}
	}
}

func TestLoadJSONDNSConfig(t *testing.T) {
	path := writeTempFile(t, "dns.json", `{
		"dns": {
			"enabled": true,
			"servers": [
				{"address": "8.8.8.8:53", "type": "udp", "timeout-seconds": 10},
				{"address": "1.1.1.1:853", "type": "dot", "timeout-seconds": 15, "tls-host": "cloudflare-dns.com"}
			]
		}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.DNS.Enabled {
		t.Fatal("DNS.Enabled = false, want true")
	}
	if len(cfg.DNS.Servers) != 2 {
		t.Fatalf("DNS servers = %d, want 2", len(cfg.DNS.Servers))
	}
	if cfg.DNS.Servers[1].Type != DNSTypeDoT || cfg.DNS.Servers[1].TLSHost != "cloudflare-dns.com" {
		t.Errorf("second server = %+v, want DoT with tls-host cloudflare-dns.com", cfg.DNS.Servers[1])
	}
}

func TestGetTimeoutDuration(t *testing.T) {
	s := DNSServerConfig{TimeoutSeconds: 5}
	if got := s.GetTimeoutDuration().Seconds(); got != 5 {
		t.Errorf("timeout duration = %vs, want 5s", got)
	}
}
