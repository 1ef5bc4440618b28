package config

import "testing"

func TestLoadHCLBasicFields(t *testing.T) {
	path := writeTempFile(t, "config.hcl", `
host = "0.0.0.0"
port = 9191
verbose = true
max-concurrent-connections = 512

statistics {
  backend = "sqlite"
  sqlite-path = "/tmp/rhoxy.db"
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Host != "0.0.0.0" || cfg.Port != 9191 || !cfg.Verbose {
		t.Errorf("cfg = %+v, unexpected scalar fields", cfg)
	}
	if cfg.Tunables.MaxConcurrentConnections != 512 {
		t.Errorf("max-concurrent-connections = %d, want 512", cfg.Tunables.MaxConcurrentConnections)
	}
	if cfg.Statistics.Backend != "sqlite" || cfg.Statistics.SQLitePath != "/tmp/rhoxy.db" {
		t.Errorf("statistics = %+v, unexpected fields", cfg.Statistics)
	}
}

func TestLoadHCLClassifiersAndForwards(t *testing.T) {
	path := writeTempFile(t, "config.hcl", `
classifier "private-net" {
  kind = "network"
  cidr = "10.0.0.0/8"
}

forward "socks5" {
  classifier = "private-net"
  address    = "127.0.0.1:1080"
  force-ipv4 = true
}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := cfg.Classifiers["private-net"].(*ClassifierNetwork); !ok {
		t.Fatalf("private-net classifier type = %T, want *ClassifierNetwork", cfg.Classifiers["private-net"])
	}
	if len(cfg.Forwards) != 1 {
		t.Fatalf("forwards = %d, want 1", len(cfg.Forwards))
	}
	socks, ok := cfg.Forwards[0].(*ForwardSocks5)
	if !ok {
		t.Fatalf("forward type = %T, want *ForwardSocks5", cfg.Forwards[0])
	}
	if socks.Address != "127.0.0.1:1080" || !socks.ForceIPv4 {
		t.Errorf("forward = %+v, unexpected fields", socks)
	}
	ref, ok := socks.ClassifierData.(*ClassifierRef)
	if !ok || ref.Id != "private-net" {
		t.Errorf("forward classifier = %+v, want ref to private-net", socks.ClassifierData)
	}
}

func TestLoadHCLDNSServerBlocks(t *testing.T) {
	path := writeTempFile(t, "config.hcl", `
dns {
  enabled = true
  server {
    address         = "8.8.8.8:53"
    type            = "udp"
    timeout-seconds = 10
  }
  server {
    address         = "1.1.1.1:853"
    type            = "dot"
    timeout-seconds = 15
  }
}
`)

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
}

func TestLoadHCLRejectsMalformedSyntax(t *testing.T) {
	path := writeTempFile(t, "config.hcl", `host = `)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed HCL")
	}
}
