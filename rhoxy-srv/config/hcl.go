package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

// hclDoc is the decode target for an HCL config file. Classifiers and
// forwards are represented as flat, tagged blocks (HCL's gohcl binding
// does not support decoding into an interface, so the polymorphic
// Classifier/Forward trees used by the JSON loader are expressed here as
// a small closed set of block kinds instead).
type hclDoc struct {
	Host                     *string           `hcl:"host,optional"`
	Port                     *int              `hcl:"port,optional"`
	Verbose                  *bool             `hcl:"verbose,optional"`
	MaxLine                  *int              `hcl:"max-line,optional"`
	MaxHeaders               *int              `hcl:"max-headers,optional"`
	MaxHead                  *int              `hcl:"max-head,optional"`
	MaxBody                  *int              `hcl:"max-body,optional"`
	MaxConcurrentConnections *int              `hcl:"max-concurrent-connections,optional"`
	ConnectTimeoutSeconds    *int              `hcl:"connect-timeout-seconds,optional"`
	RequestTimeoutSeconds    *int              `hcl:"request-timeout-seconds,optional"`
	IdlePoolTimeoutSeconds   *int              `hcl:"idle-pool-timeout-seconds,optional"`
	DrainDeadlineSeconds     *int              `hcl:"drain-deadline-seconds,optional"`
	DNS                      *DNSConfig        `hcl:"dns,block"`
	Statistics               *StatisticsConfig `hcl:"statistics,block"`
	Classifiers              []hclClassifier   `hcl:"classifier,block"`
	Forwards                 []hclForward      `hcl:"forward,block"`
}

// hclClassifier is one named `classifier "name" { ... }` block. Only one
// of its matcher fields is meaningful per block, selected by Kind.
type hclClassifier struct {
	Name     string  `hcl:"name,label"`
	Kind     string  `hcl:"kind"`
	Op       *string `hcl:"op,optional"`
	Domain   *string `hcl:"domain,optional"`
	IP       *string `hcl:"ip,optional"`
	CIDR     *string `hcl:"cidr,optional"`
	Port     *int    `hcl:"port,optional"`
	Ref      *string `hcl:"ref,optional"`
	FilePath *string `hcl:"file-path,optional"`
	Negate   *string `hcl:"negate,optional"` // references another classifier name to negate
}

func (hc hclClassifier) build() Classifier {
	switch hc.Kind {
	case "domain":
		return &ClassifierDomain{Op: parseOp(derefStr(hc.Op)), Domain: derefStr(hc.Domain)}
	case "domains-file":
		return &ClassifierDomainsFile{FilePath: derefStr(hc.FilePath)}
	case "ip":
		return &ClassifierIP{IP: derefStr(hc.IP)}
	case "network":
		return &ClassifierNetwork{CIDR: derefStr(hc.CIDR)}
	case "port":
		return &ClassifierPort{Port: derefInt(hc.Port)}
	case "ref":
		return &ClassifierRef{Id: derefStr(hc.Ref)}
	case "not":
		return &ClassifierNot{Classifier: &ClassifierRef{Id: derefStr(hc.Negate)}}
	case "false":
		return &ClassifierFalse{}
	default:
		return &ClassifierTrue{}
	}
}

type hclForward struct {
	Kind      string  `hcl:"kind,label"`
	Classify  *string `hcl:"classifier,optional"` // references a classifier block by name
	Address   *string `hcl:"address,optional"`
	Username  *string `hcl:"username,optional"`
	Password  *string `hcl:"password,optional"`
	ForceIPv4 *bool   `hcl:"force-ipv4,optional"`
}

func (hf hclForward) build() Forward {
	var cl Classifier
	if hf.Classify != nil {
		cl = &ClassifierRef{Id: *hf.Classify}
	}
	force := false
	if hf.ForceIPv4 != nil {
		force = *hf.ForceIPv4
	}
	switch hf.Kind {
	case "socks5":
		return &ForwardSocks5{ClassifierData: cl, Address: derefStr(hf.Address), Username: hf.Username, Password: hf.Password, ForceIPv4: force}
	case "proxy":
		return &ForwardProxy{ClassifierData: cl, Address: derefStr(hf.Address), Username: hf.Username, Password: hf.Password, ForceIPv4: force}
	default:
		return &ForwardDefaultNetwork{ClassifierData: cl, ForceIPv4: force}
	}
}

func derefStr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func loadHCL(path string, cfg *Config) error {
	var doc hclDoc
	if err := hclsimple.DecodeFile(path, nil, &doc); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}

	setStr(&cfg.Host, doc.Host)
	setInt(&cfg.Port, doc.Port)
	if doc.Verbose != nil {
		cfg.Verbose = *doc.Verbose
	}
	setInt(&cfg.Tunables.MaxLine, doc.MaxLine)
	setInt(&cfg.Tunables.MaxHeaders, doc.MaxHeaders)
	setInt(&cfg.Tunables.MaxHead, doc.MaxHead)
	if doc.MaxBody != nil {
		cfg.Tunables.MaxBody = int64(*doc.MaxBody)
	}
	setInt(&cfg.Tunables.MaxConcurrentConnections, doc.MaxConcurrentConnections)
	setInt(&cfg.Tunables.ConnectTimeoutSeconds, doc.ConnectTimeoutSeconds)
	setInt(&cfg.Tunables.RequestTimeoutSeconds, doc.RequestTimeoutSeconds)
	setInt(&cfg.Tunables.IdlePoolTimeoutSeconds, doc.IdlePoolTimeoutSeconds)
	setInt(&cfg.Tunables.DrainDeadlineSeconds, doc.DrainDeadlineSeconds)
	if doc.DNS != nil {
		cfg.DNS = *doc.DNS
	}
	if doc.Statistics != nil {
		cfg.Statistics = *doc.Statistics
	}

	if len(doc.Classifiers) > 0 {
		cfg.Classifiers = make(map[string]Classifier, len(doc.Classifiers))
		for _, hc := range doc.Classifiers {
			cfg.Classifiers[hc.Name] = hc.build()
		}
	}
	for _, hf := range doc.Forwards {
		cfg.Forwards = append(cfg.Forwards, hf.build())
	}

	return nil
}
