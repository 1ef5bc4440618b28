package config

import "testing"

func TestLoadJSONClassifierTree(t *testing.T) {
	domainsFile := writeTempFile(t, "domains.txt", "example.com\nfoo.org\n")
	path := writeTempFile(t, "classifiers.json", `{
		"classifiers": {
			"internal": {
				"type": "and",
				"classifiers": [
					{"type": "network", "cidr": "10.0.0.0/8"},
					{"type": "port", "port": 443}
				]
			},
			"known-domains": {"type": "domains-file", "file-path": "`+domainsFile+`"},
			"not-example": {"type": "not", "classifier": {"type": "domain", "op": "equal", "domain": "example.com"}}
		},
		"allowlist": {"type": "ref", "id": "known-domains"}
	}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	and, ok := cfg.Classifiers["internal"].(*ClassifierAnd)
	if !ok {
		t.Fatalf("internal classifier type = %T, want *ClassifierAnd", cfg.Classifiers["internal"])
	}
	if len(and.Classifiers) != 2 {
		t.Fatalf("internal classifier has %d sub-classifiers, want 2", len(and.Classifiers))
	}

	domains, ok := cfg.Classifiers["known-domains"].(*ClassifierDomainsFile)
	if !ok {
		t.Fatalf("known-domains classifier type = %T, want *ClassifierDomainsFile", cfg.Classifiers["known-domains"])
	}
	if domains.FilePath != domainsFile {
		t.Errorf("domains file path = %q, want %q", domains.FilePath, domainsFile)
	}

	not, ok := cfg.Classifiers["not-example"].(*ClassifierNot)
	if !ok {
		t.Fatalf("not-example classifier type = %T, want *ClassifierNot", cfg.Classifiers["not-example"])
	}
	inner, ok := not.Classifier.(*ClassifierDomain)
	if !ok || inner.Domain != "example.com" {
		t.Errorf("not-example inner classifier = %+v, want domain equal example.com", not.Classifier)
	}

	ref, ok := cfg.Allowlist.(*ClassifierRef)
	if !ok || ref.Id != "known-domains" {
		t.Errorf("allowlist = %+v, want ref to known-domains", cfg.Allowlist)
	}
}

func TestDefaultForwardClassifierIsTrue(t *testing.T) {
	fwd := &ForwardDefaultNetwork{}
	if _, ok := fwd.Classifier().(*ClassifierTrue); !ok {
		t.Errorf("nil-classifier forward should default to ClassifierTrue, got %T", fwd.Classifier())
	}
}
