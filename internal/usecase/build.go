package usecase

import (
	"context"
	"time"

	"bytemomo/sonar/internal/config"
	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/limiter"
	"bytemomo/sonar/internal/pipeline/fingerprint"
	"bytemomo/sonar/internal/pipeline/scanner"
	"bytemomo/sonar/internal/pipeline/target"
	"bytemomo/sonar/internal/sigdb"

	"github.com/sirupsen/logrus"
)

// NewScanOrchestrator wires every stage from cfg around one shared
// connection limiter. cfg must already be validated.
func NewScanOrchestrator(log *logrus.Entry, cfg *config.Config) (*ScanOrchestrator, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	lim, err := limiter.New(cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	log.WithField("concurrency", lim.Size()).Debug("Connection limiter ready")

	prober, err := scanner.NewScanner(log.WithField("component", "scanner"), cfg.Scanner, lim, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	fp, err := fingerprint.New(log.WithField("component", "fingerprint"), lim, cfg.Timeout)
	if err != nil {
		return nil, err
	}

	expander := target.NewExpander(log.WithField("component", "target"), cfg.Timeout)
	if cfg.Resolver != "" {
		expander.Resolver = target.NewDNSResolver(cfg.Resolver, cfg.Timeout)
	}

	maxHosts := cfg.MaxHosts
	if maxHosts == 0 {
		maxHosts = cfg.Concurrency
	}

	dbPath := cfg.Database
	return &ScanOrchestrator{
		Log:           log,
		Expander:      expander,
		Prober:        prober,
		Fingerprinter: fp,
		Rules:         func() ([]entity.VulnerabilityRule, error) { return sigdb.Load(dbPath) },
		MaxHosts:      maxHosts,
	}, nil
}

// Run performs a full vulnerability scan with the connect prober, the
// system resolver and the bundled signature database.
func Run(ctx context.Context, log *logrus.Entry, targets []string, ports entity.PortSet, timeout time.Duration, concurrency int) ([]entity.HostReport, error) {
	cfg := config.Default(config.ModeVuln)
	cfg.Timeout = timeout
	cfg.Concurrency = concurrency
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o, err := NewScanOrchestrator(log, cfg)
	if err != nil {
		return nil, err
	}
	res, err := o.Execute(ctx, config.ModeVuln, targets, ports)
	if res == nil {
		return nil, err
	}
	return res.Hosts, err
}
