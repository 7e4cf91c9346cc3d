package scanner

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/limiter"
	"bytemomo/sonar/internal/pipeline/ports"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/sirupsen/logrus"
)

// NmapConfig tunes the nmap backend.
type NmapConfig struct {
	BinaryPath string        `yaml:"binary_path,omitempty"`
	Timing     string        `yaml:"timing,omitempty"`   // T0..T5
	Timeout    time.Duration `yaml:"timeout,omitempty"`  // whole invocation, per host
	MinRate    int           `yaml:"min_rate,omitempty"` // packets per second
}

// NmapScanner delegates connect probing of one host to an nmap -sT run.
// A run holds a single Limiter slot; nmap paces its own sockets.
type NmapScanner struct {
	Log     *logrus.Entry
	Limiter *limiter.Limiter
	Config  NmapConfig
}

func (s *NmapScanner) Type() string { return TypeNmap }

// Scan never fails: a missing binary or a failed run yields no open ports.
func (s *NmapScanner) Scan(ctx context.Context, host entity.Host, ports entity.PortSet) entity.PortScanResult {
	res := entity.PortScanResult{Host: host, OpenPorts: entity.PortSet{}}
	if len(ports) == 0 {
		return res
	}

	log := s.Log.WithField("host", host)
	err := s.Limiter.Do(ctx, func() error {
		open, err := s.run(ctx, host, ports)
		if err != nil {
			return err
		}
		res.OpenPorts = open
		return nil
	})
	if err != nil {
		log.WithError(err).Debug("Nmap scan failed")
	}
	return res
}

func (s *NmapScanner) run(ctx context.Context, host entity.Host, ports entity.PortSet) (entity.PortSet, error) {
	if s.Config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Config.Timeout)
		defer cancel()
	}

	opts := []nmap.Option{
		nmap.WithTargets(host),
		nmap.WithPorts(joinPorts(ports)),
		nmap.WithConnectScan(),       // -sT
		nmap.WithSkipHostDiscovery(), // -Pn
		nmap.WithOpenOnly(),          // --open
		nmap.WithDisabledDNSResolution(),
	}
	if strings.Contains(host, ":") {
		opts = append(opts, nmap.WithIPv6Scanning())
	}
	if s.Config.BinaryPath != "" {
		opts = append(opts, nmap.WithBinaryPath(s.Config.BinaryPath))
	}
	if s.Config.MinRate > 0 {
		opts = append(opts, nmap.WithMinRate(s.Config.MinRate))
	}
	if t, ok := timingTemplates[s.Config.Timing]; ok {
		opts = append(opts, nmap.WithTimingTemplate(t))
	}

	scanner, err := nmap.NewScanner(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("run nmap: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		s.Log.WithField("warnings", *warnings).Debug("Nmap scan produced warnings")
	}

	return openPorts(result, ports), nil
}

var timingTemplates = map[string]nmap.Timing{
	"T0": nmap.TimingSlowest,
	"T1": nmap.TimingSneaky,
	"T2": nmap.TimingPolite,
	"T3": nmap.TimingNormal,
	"T4": nmap.TimingAggressive,
	"T5": nmap.TimingFastest,
}

// openPorts extracts open TCP ports from an nmap run, keeping only ports
// that were asked for.
func openPorts(result *nmap.Run, requested entity.PortSet) entity.PortSet {
	if result == nil {
		return entity.PortSet{}
	}
	var found []int
	for _, h := range result.Hosts {
		for _, p := range h.Ports {
			if !strings.EqualFold(p.Protocol, "tcp") {
				continue
			}
			if !strings.HasPrefix(strings.ToLower(p.State.State), "open") {
				continue
			}
			if !requested.Contains(int(p.ID)) {
				continue
			}
			found = append(found, int(p.ID))
		}
	}
	open, err := ports.FromInts(found)
	if err != nil {
		return entity.PortSet{}
	}
	return open
}

// joinPorts renders a port set compactly, collapsing consecutive runs.
func joinPorts(ports entity.PortSet) string {
	var b strings.Builder
	for i := 0; i < len(ports); {
		j := i
		for j+1 < len(ports) && ports[j+1] == ports[j]+1 {
			j++
		}
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(ports[i]))
		if j > i {
			b.WriteByte('-')
			b.WriteString(strconv.Itoa(ports[j]))
		}
		i = j + 1
	}
	return b.String()
}
