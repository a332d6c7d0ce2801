package clustering

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/alvmarrod/traffic-weaver/internal/graph"
)

// Matcher accepts hostnames equal to one of its domains or any subdomain of them
type Matcher struct {
	domains []string
	re      *regexp.Regexp
}

// NewMatcher builds an anchored suffix matcher for domains.
// Domains are trimmed, lower-cased and taken literally; a leading "*." or "."
// is ignored.
func NewMatcher(domains []string) (*Matcher, error) {
	var cleaned []string
	for _, d := range domains {
		d = strings.ToLower(strings.TrimSpace(d))
		d = strings.TrimPrefix(d, "*")
		d = strings.Trim(d, ".")
		if d == "" {
			continue
		}
		cleaned = append(cleaned, d)
	}
	if len(cleaned) == 0 {
		return nil, errors.WithHint(
			errors.Wrap(graph.ErrValidation, "no domain pattern given"),
			"provide at least one domain, e.g. example.com")
	}

	quoted := make([]string, len(cleaned))
	for i, d := range cleaned {
		quoted[i] = regexp.QuoteMeta(d)
	}
	re, err := regexp.Compile(`^(?:[^.]+\.)*(?:` + strings.Join(quoted, "|") + `)$`)
	if err != nil {
		return nil, errors.Wrapf(graph.ErrValidation, "domain patterns %v: %v", cleaned, err)
	}

	return &Matcher{domains: cleaned, re: re}, nil
}

// Match reports whether hostname belongs to one of the domains
func (m *Matcher) Match(hostname string) bool {
	return m.re.MatchString(strings.ToLower(hostname))
}

// Domains returns the normalised domains
func (m *Matcher) Domains() []string {
	out := make([]string, len(m.domains))
	copy(out, m.domains)
	return out
}
