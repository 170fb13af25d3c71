package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Secret string
}

// Scrubber detects and redacts secrets. Safe for concurrent use.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Scrubber over the Gitleaks default rules plus allowlist.
func New(allowlist *Allowlist) (*Scrubber, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if !allowlist.Empty() {
		applyAllowlist(&d.Config, allowlist)
	}
	return &Scrubber{detector: d}, nil
}

// Scan returns the secrets found in content.
func (s *Scrubber) Scan(content string) []Finding {
	if content == "" {
		return nil
	}
	s.mu.Lock()
	raw := s.detector.DetectString(content)
	s.mu.Unlock()

	out := make([]Finding, 0, len(raw))
	for _, f := range raw {
		secret := f.Secret
		if secret == "" {
			secret = f.Match
		}
		if secret == "" {
			continue
		}
		out = append(out, Finding{RuleID: f.RuleID, Line: f.StartLine, Secret: secret})
	}
	return out
}

// Scrub replaces every detected secret with a [REDACTED:<rule>] marker
// and returns the redacted text with the number of findings.
func (s *Scrubber) Scrub(content string) (string, int) {
	findings := s.Scan(content)
	if len(findings) == 0 {
		return content, 0
	}
	// Longest first so a secret containing another is replaced whole.
	sort.Slice(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})
	for _, f := range findings {
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}
	return content, len(findings)
}

func applyAllowlist(cfg *gitleaksconfig.Config, allowlist *Allowlist) {
	global := &gitleaksconfig.Allowlist{Description: "reviewd allowlist"}
	for _, p := range allowlist.Paths {
		global.Paths = append(global.Paths, (*gitleaksregexp.Regexp)(regexp.MustCompile(p)))
	}
	for _, p := range allowlist.Regexes {
		global.Regexes = append(global.Regexes, (*gitleaksregexp.Regexp)(regexp.MustCompile(p)))
	}
	cfg.Allowlists = append(cfg.Allowlists, global)
}
