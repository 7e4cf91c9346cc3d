// Package matcher applies signature rules to service fingerprints.
package matcher

import (
	"strings"
	"time"

	"bytemomo/sonar/internal/entity"

	"github.com/dlclark/regexp2"
	"github.com/sirupsen/logrus"
)

// DefaultMatchTimeout bounds a single regex evaluation.
const DefaultMatchTimeout = 100 * time.Millisecond

type compiledRule struct {
	rule   entity.VulnerabilityRule
	re     *regexp2.Regexp
	header string
}

// Matcher holds a rule set compiled once for repeated use across hosts.
// Rules without a match type or pattern, with an unknown match type, or
// whose pattern does not compile are skipped.
type Matcher struct {
	Log   *logrus.Entry
	rules []compiledRule
}

// New compiles rules with case-insensitive semantics.
func New(log *logrus.Entry, rules []entity.VulnerabilityRule) *Matcher {
	return NewWithTimeout(log, rules, DefaultMatchTimeout)
}

// NewWithTimeout is New with an explicit per-evaluation regex timeout.
func NewWithTimeout(log *logrus.Entry, rules []entity.VulnerabilityRule, timeout time.Duration) *Matcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Matcher{Log: log}
	for _, r := range rules {
		rlog := log.WithFields(logrus.Fields{"rule": r.ID, "type": r.Match.Type})
		if r.Match.Type == "" || r.Match.Pattern == "" {
			rlog.Debug("Skipping rule without match type or pattern")
			continue
		}
		if r.Match.Type != entity.MatchBanner && r.Match.Type != entity.MatchHeader {
			rlog.Debug("Skipping rule with unknown match type")
			continue
		}
		re, err := regexp2.Compile(pythonSyntax(r.Match.Pattern), regexp2.IgnoreCase)
		if err != nil {
			rlog.WithError(err).Debug("Skipping rule with invalid pattern")
			continue
		}
		re.MatchTimeout = timeout

		cr := compiledRule{rule: r, re: re}
		if r.Match.Type == entity.MatchHeader {
			cr.header = strings.ToLower(r.Match.Header)
			if cr.header == "" {
				cr.header = entity.DefaultMatchHeader
			}
		}
		m.rules = append(m.rules, cr)
	}
	return m
}

// pythonSyntax rewrites Python named groups (?P<name>...) and named
// backreferences (?P=name) into the forms regexp2 understands.
func pythonSyntax(p string) string {
	if !strings.Contains(p, "(?P") {
		return p
	}
	var b strings.Builder
	inClass := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == '\\' && i+1 < len(p):
			b.WriteByte(c)
			b.WriteByte(p[i+1])
			i++
			continue
		case inClass:
			if c == ']' {
				inClass = false
			}
		case c == '[':
			inClass = true
		case strings.HasPrefix(p[i:], "(?P<"):
			b.WriteString("(?<")
			i += 3
			continue
		case strings.HasPrefix(p[i:], "(?P="):
			if end := strings.IndexByte(p[i:], ')'); end > 4 {
				b.WriteString(`\k<` + p[i+4:i+end] + ">")
				i += end
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

// Len reports how many rules survived compilation.
func (m *Matcher) Len() int {
	return len(m.rules)
}

// Match evaluates every rule against every fingerprint, fingerprints in
// input order and rules in database order. Each match produces one
// finding; findings are not de-duplicated.
func (m *Matcher) Match(fps []entity.ServiceFingerprint) []entity.Finding {
	findings := []entity.Finding{}
	for _, fp := range fps {
		for _, cr := range m.rules {
			if cr.rule.Service != fp.Service {
				continue
			}
			subject, ok := cr.subject(fp)
			if !ok {
				continue
			}
			hit, err := cr.re.MatchString(subject)
			if err != nil {
				m.Log.WithError(err).WithField("rule", cr.rule.ID).Debug("Rule evaluation aborted")
				continue
			}
			if hit {
				findings = append(findings, newFinding(cr.rule, fp, subject))
			}
		}
	}
	return findings
}

// subject picks the text a rule is evaluated against. A header rule has
// nothing to evaluate when the fingerprint lacks that header.
func (cr compiledRule) subject(fp entity.ServiceFingerprint) (string, bool) {
	switch cr.rule.Match.Type {
	case entity.MatchBanner:
		return fp.Evidence, true
	case entity.MatchHeader:
		v, ok := fp.Headers()[cr.header]
		return v, ok && v != ""
	}
	return "", false
}

func newFinding(r entity.VulnerabilityRule, fp entity.ServiceFingerprint, evidence string) entity.Finding {
	f := entity.Finding{
		ID:          r.ID,
		Severity:    r.Severity,
		Description: r.Description,
		References:  r.References,
		Service:     fp.Service,
		Port:        fp.Port,
		Evidence:    evidence,
	}
	if f.Severity == "" {
		f.Severity = entity.SeverityInfo
	}
	if f.References == nil {
		f.References = []string{}
	}
	return f
}

// Match compiles rules and applies them to fps in one call.
func Match(log *logrus.Entry, fps []entity.ServiceFingerprint, rules []entity.VulnerabilityRule) []entity.Finding {
	return New(log, rules).Match(fps)
}
