package scanner

import (
	"fmt"
	"time"

	"bytemomo/sonar/internal/limiter"
	"bytemomo/sonar/internal/sonarerr"

	"github.com/sirupsen/logrus"
)

// Config selects and tunes the prober backend.
type Config struct {
	Type string     `yaml:"type"` // "connect" (default) or "nmap"
	Nmap NmapConfig `yaml:"nmap,omitempty"`
}

// NewScanner creates a prober from configuration. timeout is the
// per-connection budget of the connect backend.
func NewScanner(log *logrus.Entry, cfg Config, lim *limiter.Limiter, timeout time.Duration) (Prober, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	switch cfg.Type {
	case TypeConnect, "":
		return NewConnectScanner(log.WithField("scanner", TypeConnect), lim, timeout)

	case TypeNmap:
		if lim == nil {
			return nil, sonarerr.Config("scanner.NewScanner", "limiter is required", nil)
		}
		if cfg.Nmap.Timing != "" {
			if _, ok := timingTemplates[cfg.Nmap.Timing]; !ok {
				return nil, sonarerr.Config("scanner.NewScanner", fmt.Sprintf("unknown nmap timing %q", cfg.Nmap.Timing), nil)
			}
		}
		return &NmapScanner{
			Log:     log.WithField("scanner", TypeNmap),
			Limiter: lim,
			Config:  cfg.Nmap,
		}, nil

	default:
		return nil, sonarerr.Config("scanner.NewScanner", fmt.Sprintf("unknown scanner type %q", cfg.Type), nil)
	}
}
