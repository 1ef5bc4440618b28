package proxy

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	ahocorasick "github.com/BobuSumisu/aho-corasick"
	"github.com/rhoxy/rhoxy/rhoxy-srv/config"
)

// ClassifierInput is what a compiled classifier is evaluated against: the
// connection's target host, resolved remote IP, and remote port.
type ClassifierInput struct {
	Host       string
	RemoteIP   net.IP
	RemotePort uint16
}

// Classifier is a compiled, evaluatable node of the config.Classifier tree.
type Classifier interface {
	Classify(input ClassifierInput) (bool, error)
}

// Compile turns a config.Classifier tree into an evaluatable Classifier,
// resolving ClassifierRef against named and optimizing any OR of many
// domain/domains-file classifiers into a single Aho-Corasick trie.
func Compile(c config.Classifier, named map[string]config.Classifier) (Classifier, error) {
	switch v := c.(type) {
	case *config.ClassifierTrue, nil:
		return classifierTrue{}, nil
	case *config.ClassifierFalse:
		return classifierFalse{}, nil
	case *config.ClassifierAnd:
		sub, err := compileAll(v.Classifiers, named)
		if err != nil {
			return nil, err
		}
		return &classifierAnd{sub}, nil
	case *config.ClassifierOr:
		if optimized := tryOptimizeOrDomains(v); optimized != nil {
			return optimized, nil
		}
		sub, err := compileAll(v.Classifiers, named)
		if err != nil {
			return nil, err
		}
		return &classifierOr{sub}, nil
	case *config.ClassifierNot:
		inner, err := Compile(v.Classifier, named)
		if err != nil {
			return nil, err
		}
		return &classifierNot{inner}, nil
	case *config.ClassifierDomain:
		return &classifierDomain{op: v.Op, domain: v.Domain}, nil
	case *config.ClassifierDomainsFile:
		domains, err := loadDomainsFile(v.FilePath)
		if err != nil {
			return nil, err
		}
		return &classifierDomainsFile{domains: domains}, nil
	case *config.ClassifierIP:
		ip := net.ParseIP(v.IP)
		if ip == nil {
			return nil, fmt.Errorf("classifier: invalid IP %q", v.IP)
		}
		return &classifierIP{ip: ip}, nil
	case *config.ClassifierNetwork:
		_, n, err := net.ParseCIDR(v.CIDR)
		if err != nil {
			return nil, fmt.Errorf("classifier: invalid network %q: %w", v.CIDR, err)
		}
		return &classifierNetwork{net: n}, nil
	case *config.ClassifierPort:
		return &classifierPort{port: uint16(v.Port)}, nil
	case *config.ClassifierRef:
		target, ok := named[v.Id]
		if !ok {
			return nil, fmt.Errorf("classifier: unknown reference %q", v.Id)
		}
		return Compile(target, named)
	default:
		return nil, fmt.Errorf("classifier: unsupported type %T", c)
	}
}

func compileAll(in []config.Classifier, named map[string]config.Classifier) ([]Classifier, error) {
	out := make([]Classifier, 0, len(in))
	for _, c := range in {
		compiled, err := Compile(c, named)
		if err != nil {
			return nil, err
		}
		out = append(out, compiled)
	}
	return out, nil
}

func loadDomainsFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("classifier: open domains file %s: %w", path, err)
	}
	defer f.Close()

	var domains []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		domains = append(domains, line)
	}
	return domains, sc.Err()
}

type classifierTrue struct{}

func (classifierTrue) Classify(ClassifierInput) (bool, error) { return true, nil }

type classifierFalse struct{}

func (classifierFalse) Classify(ClassifierInput) (bool, error) { return false, nil }

type classifierAnd struct{ sub []Classifier }

func (c *classifierAnd) Classify(in ClassifierInput) (bool, error) {
	for _, s := range c.sub {
		ok, err := s.Classify(in)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

type classifierOr struct{ sub []Classifier }

func (c *classifierOr) Classify(in ClassifierInput) (bool, error) {
	for _, s := range c.sub {
		ok, err := s.Classify(in)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

type classifierNot struct{ sub Classifier }

func (c *classifierNot) Classify(in ClassifierInput) (bool, error) {
	ok, err := c.sub.Classify(in)
	return !ok, err
}

type classifierDomain struct {
	op     config.ClassifierOp
	domain string
}

func (c *classifierDomain) Classify(in ClassifierInput) (bool, error) {
	switch c.op {
	case config.ClassifierOpEqual:
		return in.Host == c.domain, nil
	case config.ClassifierOpNotEqual:
		return in.Host != c.domain, nil
	case config.ClassifierOpContains:
		return strings.Contains(in.Host, c.domain), nil
	case config.ClassifierOpNotContains:
		return !strings.Contains(in.Host, c.domain), nil
	case config.ClassifierOpIs:
		return in.Host == c.domain || strings.HasSuffix(in.Host, "."+c.domain), nil
	default:
		return false, fmt.Errorf("classifier: unsupported domain op %v", c.op)
	}
}

type classifierDomainsFile struct{ domains []string }

func (c *classifierDomainsFile) Classify(in ClassifierInput) (bool, error) {
	for _, d := range c.domains {
		if in.Host == d || strings.HasSuffix(in.Host, "."+d) {
			return true, nil
		}
	}
	return false, nil
}

type classifierIP struct{ ip net.IP }

func (c *classifierIP) Classify(in ClassifierInput) (bool, error) {
	return in.RemoteIP != nil && in.RemoteIP.Equal(c.ip), nil
}

type classifierNetwork struct{ net *net.IPNet }

func (c *classifierNetwork) Classify(in ClassifierInput) (bool, error) {
	return in.RemoteIP != nil && c.net.Contains(in.RemoteIP), nil
}

type classifierPort struct{ port uint16 }

func (c *classifierPort) Classify(in ClassifierInput) (bool, error) {
	return in.RemotePort == c.port, nil
}

// trieDomains is an Aho-Corasick-backed OR over many domain/domains-file
// rules: one pass over the hostname instead of one comparison per rule.
type trieDomains struct {
	trie    *ahocorasick.Trie
	domains []string
	// subdomainOK allows a "host ends with .domain" match, matching the
	// "is"/domains-file semantics rather than plain equality.
	subdomainOK bool
}

func (c *trieDomains) Classify(in ClassifierInput) (bool, error) {
	if c.trie == nil {
		return false, nil
	}
	for _, m := range c.trie.MatchString(in.Host) {
		d := c.domains[m.Pattern()]
		if in.Host == d {
			return true, nil
		}
		if c.subdomainOK && strings.HasSuffix(in.Host, "."+d) {
			return true, nil
		}
	}
	return false, nil
}

// tryOptimizeOrDomains builds a single trie when every sub-classifier of
// an OR is a domain (equal or is) or domains-file rule; it returns nil
// when the OR contains anything else, or mixes equal rules with is/
// domains-file rules (the trie applies one matching mode to every domain),
// falling back to per-rule evaluation.
func tryOptimizeOrDomains(or *config.ClassifierOr) Classifier {
	var domains []string
	subdomainOK := false
	exactOnly := false
	for _, sub := range or.Classifiers {
		switch c := sub.(type) {
		case *config.ClassifierDomain:
			switch c.Op {
			case config.ClassifierOpEqual:
				domains = append(domains, c.Domain)
				exactOnly = true
			case config.ClassifierOpIs:
				domains = append(domains, c.Domain)
				subdomainOK = true
			default:
				return nil
			}
		case *config.ClassifierDomainsFile:
			loaded, err := loadDomainsFile(c.FilePath)
			if err != nil {
				return nil
			}
			domains = append(domains, loaded...)
			subdomainOK = true
		default:
			return nil
		}
	}
	if len(domains) == 0 || (exactOnly && subdomainOK) {
		return nil
	}
	trie := ahocorasick.NewTrieBuilder().AddStrings(domains).Build()
	return &trieDomains{trie: trie, domains: domains, subdomainOK: subdomainOK}
}
