package entity

// Severity is the impact rating attached to a rule.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Severities lists every severity from most to least severe.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// MatchType selects which piece of evidence a rule inspects.
type MatchType string

const (
	MatchBanner MatchType = "banner_regex"
	MatchHeader MatchType = "header_regex"
)

// DefaultMatchHeader is used by header rules that do not name a header.
const DefaultMatchHeader = "server"

// Match describes how a rule recognises vulnerable evidence.
type Match struct {
	Type    MatchType `json:"type" yaml:"type"`
	Pattern string    `json:"pattern" yaml:"pattern"`
	Header  string    `json:"header,omitempty" yaml:"header,omitempty"`
}

// VulnerabilityRule is one record of the signature database.
type VulnerabilityRule struct {
	ID          string   `json:"id" yaml:"id"`
	Service     Service  `json:"service" yaml:"service"`
	Severity    Severity `json:"severity" yaml:"severity"`
	Match       Match    `json:"match" yaml:"match"`
	Description string   `json:"description" yaml:"description"`
	References  []string `json:"references" yaml:"references"`
}

// Finding is a candidate vulnerability produced by a rule firing on a fingerprint.
type Finding struct {
	ID          string   `json:"id"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	References  []string `json:"references"`
	Service     Service  `json:"service"`
	Port        int      `json:"port"`
	Evidence    string   `json:"evidence"`
}
