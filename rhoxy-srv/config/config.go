// Package config loads rhoxy's configuration from built-in defaults, an
// optional JSON or HCL file, and environment variable overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Tunables holds the proxy's compile-time-constant-by-default knobs, all
// overridable from a config file or the environment.
type Tunables struct {
	MaxLine                  int // bytes, single header/request line cap
	MaxHeaders                int // header field count cap
	MaxHead                   int // bytes, total request head cap
	MaxBody                   int64 // bytes, request/response body cap
	MaxConcurrentConnections int
	ConnectTimeoutSeconds    int
	RequestTimeoutSeconds    int
	IdlePoolTimeoutSeconds   int
	DrainDeadlineSeconds     int
}

// DefaultTunables matches the documented defaults in the external
// interfaces section.
func DefaultTunables() Tunables {
	return Tunables{
		MaxLine:                  8 * 1024,
		MaxHeaders:               100,
		MaxHead:                  64 * 1024,
		MaxBody:                  10 * 1024 * 1024,
		MaxConcurrentConnections: 1024,
		ConnectTimeoutSeconds:    10,
		RequestTimeoutSeconds:    30,
		IdlePoolTimeoutSeconds:   90,
		DrainDeadlineSeconds:     10,
	}
}

// StatisticsConfig selects and configures the optional connection-record
// persistence backend.
type StatisticsConfig struct {
	Backend             string `json:"backend" hcl:"backend,optional"` // memory (default), sqlite, postgres, dummy
	SQLitePath          string `json:"sqlite-path" hcl:"sqlite-path,optional"`
	PostgresDSN         string `json:"postgres-dsn" hcl:"postgres-dsn,optional"`
	FlushIntervalSeconds int   `json:"flush-interval-seconds" hcl:"flush-interval-seconds,optional"`
}

// Config is the fully resolved configuration for one proxy instance.
type Config struct {
	Host    string
	Port    int
	Verbose bool

	Tunables Tunables

	Classifiers map[string]Classifier
	Allowlist   Classifier
	Blocklist   Classifier
	Forwards    []Forward

	DNS        DNSConfig
	Statistics StatisticsConfig
}

// ForwardType names which kind of forward a rule applies.
type ForwardType int

const (
	ForwardTypeDefaultNetwork ForwardType = iota
	ForwardTypeSocks5
	ForwardTypeProxy
)

// Forward is a (classifier, target) forwarding rule; the first matching
// rule in Config.Forwards wins.
type Forward interface {
	Type() ForwardType
	Classifier() Classifier
}

// ForwardDefaultNetwork dials the target directly.
type ForwardDefaultNetwork struct {
	ClassifierData Classifier
	ForceIPv4      bool
}

func (c *ForwardDefaultNetwork) Type() ForwardType { return ForwardTypeDefaultNetwork }
func (c *ForwardDefaultNetwork) Classifier() Classifier {
	if c.ClassifierData == nil {
		return &ClassifierTrue{}
	}
	return c.ClassifierData
}

// ForwardSocks5 dials the target through an upstream SOCKS5 proxy.
type ForwardSocks5 struct {
	ClassifierData Classifier
	Address        string
	Username       *string
	Password       *string
	ForceIPv4      bool
}

func (c *ForwardSocks5) Type() ForwardType { return ForwardTypeSocks5 }
func (c *ForwardSocks5) Classifier() Classifier {
	if c.ClassifierData == nil {
		return &ClassifierTrue{}
	}
	return c.ClassifierData
}

// ForwardProxy dials the target through an upstream HTTP(S) proxy's own
// CONNECT method.
type ForwardProxy struct {
	ClassifierData Classifier
	Address        string
	Username       *string
	Password       *string
	ForceIPv4      bool
}

func (c *ForwardProxy) Type() ForwardType { return ForwardTypeProxy }
func (c *ForwardProxy) Classifier() Classifier {
	if c.ClassifierData == nil {
		return &ClassifierTrue{}
	}
	return c.ClassifierData
}

// Default returns the built-in configuration: listen on 127.0.0.1:8080,
// every tunable at its documented default, no classifiers, no forwards,
// system DNS, in-memory statistics.
func Default() *Config {
	return &Config{
		Host:       "127.0.0.1",
		Port:       8080,
		Tunables:   DefaultTunables(),
		DNS:        DefaultDNSConfig(),
		Statistics: StatisticsConfig{Backend: "memory", FlushIntervalSeconds: 5},
	}
}

// Load builds a Config from defaults, then configPath if non-empty (JSON
// or HCL, chosen by extension), then environment variable overrides.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		ext := strings.ToLower(filepath.Ext(configPath))
		var err error
		switch ext {
		case ".json":
			err = loadJSON(configPath, cfg)
		case ".hcl":
			err = loadHCL(configPath, cfg)
		default:
			return nil, fmt.Errorf("config: unsupported config file format %q", ext)
		}
		if err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the Config for internally inconsistent values that
// would otherwise surface as a confusing runtime failure.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Tunables.MaxConcurrentConnections < 1 {
		return fmt.Errorf("config: max-concurrent-connections must be positive")
	}
	switch c.Statistics.Backend {
	case "", "memory", "sqlite", "postgres", "dummy":
	default:
		return fmt.Errorf("config: unknown statistics backend %q", c.Statistics.Backend)
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RHOXY_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("RHOXY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("RHOXY_VERBOSE"); v != "" {
		cfg.Verbose = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("RHOXY_STATISTICS_BACKEND"); v != "" {
		cfg.Statistics.Backend = v
	}
}

// --- JSON loading -----------------------------------------------------

// jsonDoc mirrors the on-disk JSON shape; keys are hyphenated
// (e.g. "max-concurrent-connections").
type jsonDoc struct {
	Host                     *string                  `json:"host"`
	Port                     *int                     `json:"port"`
	Verbose                  *bool                    `json:"verbose"`
	MaxLine                  *int                     `json:"max-line"`
	MaxHeaders               *int                     `json:"max-headers"`
	MaxHead                  *int                     `json:"max-head"`
	MaxBody                  *int64                   `json:"max-body"`
	MaxConcurrentConnections *int                     `json:"max-concurrent-connections"`
	ConnectTimeoutSeconds    *int                     `json:"connect-timeout-seconds"`
	RequestTimeoutSeconds    *int                     `json:"request-timeout-seconds"`
	IdlePoolTimeoutSeconds   *int                     `json:"idle-pool-timeout-seconds"`
	DrainDeadlineSeconds     *int                     `json:"drain-deadline-seconds"`
	Classifiers              map[string]jsonClassifier `json:"classifiers"`
	Allowlist                *jsonClassifier          `json:"allowlist"`
	Blocklist                *jsonClassifier          `json:"blocklist"`
	Forwards                 []jsonForward            `json:"forwards"`
	DNS                      *DNSConfig               `json:"dns"`
	Statistics               *StatisticsConfig        `json:"statistics"`
}

func loadJSON(path string, cfg *Config) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	var doc jsonDoc
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	applyJSONDoc(cfg, &doc)
	return nil
}

func applyJSONDoc(cfg *Config, doc *jsonDoc) {
	setStr(&cfg.Host, doc.Host)
	setInt(&cfg.Port, doc.Port)
	if doc.Verbose != nil {
		cfg.Verbose = *doc.Verbose
	}
	setInt(&cfg.Tunables.MaxLine, doc.MaxLine)
	setInt(&cfg.Tunables.MaxHeaders, doc.MaxHeaders)
	setInt(&cfg.Tunables.MaxHead, doc.MaxHead)
	if doc.MaxBody != nil {
		cfg.Tunables.MaxBody = *doc.MaxBody
	}
	setInt(&cfg.Tunables.MaxConcurrentConnections, doc.MaxConcurrentConnections)
	setInt(&cfg.Tunables.ConnectTimeoutSeconds, doc.ConnectTimeoutSeconds)
	setInt(&cfg.Tunables.RequestTimeoutSeconds, doc.RequestTimeoutSeconds)
	setInt(&cfg.Tunables.IdlePoolTimeoutSeconds, doc.IdlePoolTimeoutSeconds)
	setInt(&cfg.Tunables.DrainDeadlineSeconds, doc.DrainDeadlineSeconds)

	if doc.Classifiers != nil {
		cfg.Classifiers = make(map[string]Classifier, len(doc.Classifiers))
		for name, jc := range doc.Classifiers {
			cfg.Classifiers[name] = jc.build()
		}
	}
	if doc.Allowlist != nil {
		cfg.Allowlist = doc.Allowlist.build()
	}
	if doc.Blocklist != nil {
		cfg.Blocklist = doc.Blocklist.build()
	}
	if doc.Forwards != nil {
		cfg.Forwards = nil
		for _, jf := range doc.Forwards {
			if fwd := jf.build(); fwd != nil {
				cfg.Forwards = append(cfg.Forwards, fwd)
			}
		}
	}
	if doc.DNS != nil {
		cfg.DNS = *doc.DNS
	}
	if doc.Statistics != nil {
		cfg.Statistics = *doc.Statistics
	}
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// jsonClassifier is the wire shape of a classifier tree; exactly one of
// its fields is populated per node.
type jsonClassifier struct {
	Type        string           `json:"type"`
	Op          string           `json:"op"`
	Domain      string           `json:"domain"`
	IP          string           `json:"ip"`
	CIDR        string           `json:"cidr"`
	Port        int              `json:"port"`
	Id          string           `json:"id"`
	FilePath    string           `json:"file-path"`
	Classifiers []jsonClassifier `json:"classifiers"`
	Classifier  *jsonClassifier  `json:"classifier"`
}

func (jc jsonClassifier) build() Classifier {
	switch jc.Type {
	case "and":
		return &ClassifierAnd{Classifiers: buildAll(jc.Classifiers)}
	case "or":
		return &ClassifierOr{Classifiers: buildAll(jc.Classifiers)}
	case "not":
		if jc.Classifier == nil {
			return &ClassifierFalse{}
		}
		inner := jc.Classifier.build()
		return &ClassifierNot{Classifier: inner}
	case "domain":
		return &ClassifierDomain{Op: parseOp(jc.Op), Domain: jc.Domain}
	case "domains-file":
		return &ClassifierDomainsFile{FilePath: jc.FilePath}
	case "ip":
		return &ClassifierIP{IP: jc.IP}
	case "network":
		return &ClassifierNetwork{CIDR: jc.CIDR}
	case "port":
		return &ClassifierPort{Port: jc.Port}
	case "ref":
		return &ClassifierRef{Id: jc.Id}
	case "false":
		return &ClassifierFalse{}
	default:
		return &ClassifierTrue{}
	}
}

func buildAll(in []jsonClassifier) []Classifier {
	out := make([]Classifier, 0, len(in))
	for _, jc := range in {
		out = append(out, jc.build())
	}
	return out
}

func parseOp(s string) ClassifierOp {
	switch s {
	case "not-equal":
		return ClassifierOpNotEqual
	case "contains":
		return ClassifierOpContains
	case "not-contains":
		return ClassifierOpNotContains
	case "is":
		return ClassifierOpIs
	default:
		return ClassifierOpEqual
	}
}

type jsonForward struct {
	Type       string          `json:"type"`
	Classifier *jsonClassifier `json:"classifier"`
	Address    string          `json:"address"`
	Username   *string         `json:"username"`
	Password   *string         `json:"password"`
	ForceIPv4  bool            `json:"force-ipv4"`
}

func (jf jsonForward) build() Forward {
	var cl Classifier
	if jf.Classifier != nil {
		cl = jf.Classifier.build()
	}
	switch jf.Type {
	case "default-network":
		return &ForwardDefaultNetwork{ClassifierData: cl, ForceIPv4: jf.ForceIPv4}
	case "socks5":
		return &ForwardSocks5{ClassifierData: cl, Address: jf.Address, Username: jf.Username, Password: jf.Password, ForceIPv4: jf.ForceIPv4}
	case "proxy":
		return &ForwardProxy{ClassifierData: cl, Address: jf.Address, Username: jf.Username, Password: jf.Password, ForceIPv4: jf.ForceIPv4}
	default:
		return nil
	}
}
