// Package reporter renders scan results for people.
package reporter

import (
	"fmt"
	"io"
	"strings"

	"bytemomo/sonar/internal/entity"
)

// Summary aggregates a finished scan.
type Summary struct {
	TotalHosts     int `json:"total_hosts"`
	HostsWithOpen  int `json:"hosts_with_open_ports"`
	TotalOpenPorts int `json:"total_open_ports"`
	TotalFindings  int `json:"total_findings"`
	CriticalCount  int `json:"critical"`
	HighCount      int `json:"high"`
	MediumCount    int `json:"medium"`
	LowCount       int `json:"low"`
	InfoCount      int `json:"info"`
}

// Count returns the number of findings with severity s.
func (s Summary) Count(sev entity.Severity) int {
	switch sev {
	case entity.SeverityCritical:
		return s.CriticalCount
	case entity.SeverityHigh:
		return s.HighCount
	case entity.SeverityMedium:
		return s.MediumCount
	case entity.SeverityLow:
		return s.LowCount
	case entity.SeverityInfo:
		return s.InfoCount
	}
	return 0
}

// Summarize counts hosts, open ports and findings by severity. Findings
// with a severity outside the known scale count toward the total only.
func Summarize(hosts []entity.HostReport) Summary {
	var s Summary
	s.TotalHosts = len(hosts)
	for _, h := range hosts {
		if len(h.OpenPorts) > 0 {
			s.HostsWithOpen++
		}
		s.TotalOpenPorts += len(h.OpenPorts)
		s.TotalFindings += len(h.Findings)

		for _, f := range h.Findings {
			switch f.Severity {
			case entity.SeverityCritical:
				s.CriticalCount++
			case entity.SeverityHigh:
				s.HighCount++
			case entity.SeverityMedium:
				s.MediumCount++
			case entity.SeverityLow:
				s.LowCount++
			case entity.SeverityInfo:
				s.InfoCount++
			}
		}
	}
	return s
}

// TextReporter writes plain-text reports.
type TextReporter struct {
	Out io.Writer
	// Summary appends a totals block after the per-host listing.
	Summary bool
}

// New returns a TextReporter writing to out.
func New(out io.Writer) *TextReporter {
	return &TextReporter{Out: out, Summary: true}
}

// WriteNet lists each host's open ports.
func (r *TextReporter) WriteNet(results []entity.PortScanResult) error {
	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "Host: %s\n", res.Host)
		if len(res.OpenPorts) == 0 {
			b.WriteString("  No open ports found\n")
			continue
		}
		for _, p := range res.OpenPorts {
			fmt.Fprintf(&b, "  Port %d\n", p)
		}
	}
	if r.Summary {
		hosts := make([]entity.HostReport, len(results))
		for i, res := range results {
			hosts[i] = entity.HostReport{Host: res.Host, OpenPorts: res.OpenPorts}
		}
		s := Summarize(hosts)
		fmt.Fprintf(&b, "\n%d host(s) scanned, %d with open ports, %d open port(s)\n",
			s.TotalHosts, s.HostsWithOpen, s.TotalOpenPorts)
	}
	_, err := io.WriteString(r.Out, b.String())
	return err
}

// WriteVuln lists each host's findings.
func (r *TextReporter) WriteVuln(hosts []entity.HostReport) error {
	var b strings.Builder
	for _, h := range hosts {
		fmt.Fprintf(&b, "Host: %s\n", h.Host)
		if len(h.Findings) == 0 {
			b.WriteString("  No vulnerabilities found (based on local signatures)\n")
			continue
		}
		for _, f := range h.Findings {
			fmt.Fprintf(&b, "  [%s] %s on %s/%d\n", strings.ToUpper(string(f.Severity)), f.ID, f.Service, f.Port)
			fmt.Fprintf(&b, "    Evidence: %s\n", f.Evidence)
			fmt.Fprintf(&b, "    Description: %s\n", f.Description)
			for _, ref := range f.References {
				fmt.Fprintf(&b, "    Reference: %s\n", ref)
			}
		}
	}
	if r.Summary {
		s := Summarize(hosts)
		fmt.Fprintf(&b, "\n%d host(s) scanned, %d finding(s)", s.TotalHosts, s.TotalFindings)
		if s.TotalFindings > 0 {
			parts := make([]string, 0, len(entity.Severities))
			for _, sev := range entity.Severities {
				if n := s.Count(sev); n > 0 {
					parts = append(parts, fmt.Sprintf("%s: %d", sev, n))
				}
			}
			if len(parts) > 0 {
				fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
			}
		}
		b.WriteString("\n")
	}
	_, err := io.WriteString(r.Out, b.String())
	return err
}
