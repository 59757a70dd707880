package pathunpack

import (
	"strings"
	"testing"
)

func TestFormatRulesAreNotShadowed(t *testing.T) {
	for i, earlier := range formatRules {
		for _, later := range formatRules[i+1:] {
			if strings.HasSuffix(later.suffix, earlier.suffix) {
				t.Errorf("rule %q is shadowed by earlier rule %q", later.suffix, earlier.suffix)
			}
		}
	}
}

func TestFormatString(t *testing.T) {
	if got := Unsupported.String(); got != "unsupported" {
		t.Errorf("expected 'unsupported', got %q", got)
	}
	if got := TarGz.String(); got != "tar.gz" {
		t.Errorf("expected 'tar.gz', got %q", got)
	}
}
