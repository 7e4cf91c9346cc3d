package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bytemomo/sonar/internal/config"
	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/pipeline/matcher"
	"bytemomo/sonar/internal/pipeline/scanner"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/sirupsen/logrus"
)

// Expander turns raw targets into hosts.
type Expander interface {
	Expand(ctx context.Context, targets []string) ([]entity.Host, error)
}

// Fingerprinter extracts service evidence from a host's open ports.
type Fingerprinter interface {
	Fingerprint(ctx context.Context, host entity.Host, open entity.PortSet) []entity.ServiceFingerprint
}

// RuleSource loads the signature database.
type RuleSource func() ([]entity.VulnerabilityRule, error)

// ScanResult is the outcome of one invocation.
type ScanResult struct {
	RunID     string              `json:"run_id"`
	Mode      config.Mode         `json:"mode"`
	StartTime time.Time           `json:"start_time"`
	EndTime   time.Time           `json:"end_time"`
	Hosts     []entity.HostReport `json:"hosts"`
}

// PortScanResults drops findings, giving the net mode document.
func (r *ScanResult) PortScanResults() []entity.PortScanResult {
	out := make([]entity.PortScanResult, len(r.Hosts))
	for i, h := range r.Hosts {
		out[i] = h.ScanResult()
	}
	return out
}

// ScanOrchestrator runs Expand, Probe, Fingerprint, Match and Assemble.
// Hosts are processed independently on a worker pool; every network
// operation they issue shares the limiter held by Prober and
// Fingerprinter.
type ScanOrchestrator struct {
	Log           *logrus.Entry
	Expander      Expander
	Prober        scanner.Prober
	Fingerprinter Fingerprinter
	Rules         RuleSource
	// MaxHosts caps hosts in flight. Zero means one worker per host.
	MaxHosts int
}

// Execute runs the pipeline for mode. The reports follow expansion order.
// Errors are limited to configuration and database failures, plus the
// context error when the run was cancelled; per-host network trouble only
// shows up as missing ports or findings.
func (o *ScanOrchestrator) Execute(ctx context.Context, mode config.Mode, targets []string, ports entity.PortSet) (*ScanResult, error) {
	result := &ScanResult{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartTime: time.Now(),
		Hosts:     []entity.HostReport{},
	}
	log := o.log().WithFields(logrus.Fields{"run_id": result.RunID, "mode": mode})

	if mode != config.ModeNet && mode != config.ModeVuln {
		return nil, fmt.Errorf("unknown mode %q", mode)
	}

	// The database is loaded before any host is touched so a bad file
	// fails the run without network activity.
	var m *matcher.Matcher
	if mode == config.ModeVuln {
		rules, err := o.Rules()
		if err != nil {
			return nil, err
		}
		m = matcher.New(log, rules)
		log.WithFields(logrus.Fields{"rules": len(rules), "usable": m.Len()}).Debug("Signature database loaded")
	}

	hosts, err := o.Expander.Expand(ctx, targets)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"hosts": len(hosts), "ports": len(ports)}).Info("Starting scan")

	reports, err := o.scanHosts(ctx, log, hosts, ports, m)
	result.Hosts = reports
	result.EndTime = time.Now()
	if err != nil {
		return result, err
	}

	log.WithField("duration", result.EndTime.Sub(result.StartTime)).Info("Scan complete")
	return result, ctx.Err()
}

func (o *ScanOrchestrator) scanHosts(ctx context.Context, log *logrus.Entry, hosts []entity.Host, ports entity.PortSet, m *matcher.Matcher) ([]entity.HostReport, error) {
	reports := make([]entity.HostReport, len(hosts))
	if len(hosts) == 0 {
		return reports, nil
	}

	size := o.MaxHosts
	if size <= 0 || size > len(hosts) {
		size = len(hosts)
	}

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(size, func(item any) {
		defer wg.Done()
		i := item.(int)
		reports[i] = o.scanHost(ctx, log, hosts[i], ports, m)
	}, ants.WithPanicHandler(func(p any) {
		log.WithField("panic", p).Error("Host worker panicked")
	}))
	if err != nil {
		return nil, fmt.Errorf("create host pool: %w", err)
	}
	defer pool.Release()

	for i := range hosts {
		// Kept as is if the worker panics.
		reports[i] = entity.HostReport{Host: hosts[i], OpenPorts: entity.PortSet{}, Findings: []entity.Finding{}}
		wg.Add(1)
		if err := pool.Invoke(i); err != nil {
			wg.Done()
			log.WithError(err).WithField("host", hosts[i]).Warn("Could not schedule host")
		}
	}
	wg.Wait()
	return reports, nil
}

// scanHost runs the per-host stages in order. Fingerprinting and matching
// are skipped, not run empty, when nothing is open.
func (o *ScanOrchestrator) scanHost(ctx context.Context, log *logrus.Entry, host entity.Host, ports entity.PortSet, m *matcher.Matcher) entity.HostReport {
	hlog := log.WithField("host", host)

	scan := o.Prober.Scan(ctx, host, ports)
	report := entity.HostReport{
		Host:      host,
		OpenPorts: scan.OpenPorts,
		Findings:  []entity.Finding{},
	}
	if report.OpenPorts == nil {
		report.OpenPorts = entity.PortSet{}
	}
	hlog.WithField("open", len(report.OpenPorts)).Debug("Probe finished")

	if m == nil || len(report.OpenPorts) == 0 {
		return report
	}

	fps := o.Fingerprinter.Fingerprint(ctx, host, report.OpenPorts)
	report.Findings = m.Match(fps)
	hlog.WithFields(logrus.Fields{
		"fingerprints": len(fps),
		"findings":     len(report.Findings),
	}).Debug("Host assessed")
	return report
}

func (o *ScanOrchestrator) log() *logrus.Entry {
	if o.Log == nil {
		return logrus.NewEntry(logrus.StandardLogger())
	}
	return o.Log
}
