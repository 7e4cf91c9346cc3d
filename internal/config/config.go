package config

import (
	"strconv"
	"strings"
	"time"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/pipeline/ports"
	"bytemomo/sonar/internal/pipeline/scanner"
	"bytemomo/sonar/internal/sonarerr"

	"github.com/sirupsen/logrus"
)

// Mode selects how far down the pipeline a run goes.
type Mode string

const (
	// ModeNet stops after port probing.
	ModeNet Mode = "net"
	// ModeVuln fingerprints open ports and matches signatures.
	ModeVuln Mode = "vuln"
)

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

const (
	DefaultPorts       = "22,80,443"
	DefaultConcurrency = 200
	DefaultNetTimeout  = 500 * time.Millisecond
	DefaultVulnTimeout = 800 * time.Millisecond
	DefaultLogLevel    = "info"
)

// Config is the full set of knobs for one run.
type Config struct {
	Mode        Mode          `yaml:"mode"`
	Targets     []string      `yaml:"targets"`
	Ports       string        `yaml:"ports"`
	// Timeout is read from the "timeout" key by the loader, which also
	// accepts a bare number of seconds.
	Timeout     time.Duration `yaml:"-"`
	Concurrency int           `yaml:"concurrency"`
	// MaxHosts caps hosts in flight at once; 0 means no cap beyond
	// Concurrency.
	MaxHosts int            `yaml:"max_hosts,omitempty"`
	Scanner  scanner.Config `yaml:"scanner,omitempty"`
	// Resolver is a DNS server address; empty uses the system resolver.
	Resolver string `yaml:"resolver,omitempty"`
	// Database overrides the bundled signature database.
	Database string      `yaml:"database,omitempty"`
	Log      LoggingOpts `yaml:"log,omitempty"`
	Output   OutputOpts  `yaml:"output,omitempty"`
}

// LoggingOpts configures the logger.
type LoggingOpts struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// OutputOpts configures where results go.
type OutputOpts struct {
	// Path writes the JSON report to a file.
	Path string `yaml:"path,omitempty"`
	// Format is the stdout rendering, text or json.
	Format string `yaml:"format,omitempty"`
}

// Default returns the defaults for mode.
func Default(mode Mode) *Config {
	c := &Config{
		Mode:        mode,
		Ports:       DefaultPorts,
		Concurrency: DefaultConcurrency,
		Scanner:     scanner.Config{Type: scanner.TypeConnect},
		Log:         LoggingOpts{Level: DefaultLogLevel},
		Output:      OutputOpts{Format: FormatText},
	}
	c.Timeout = DefaultTimeout(mode)
	return c
}

// DefaultTimeout is the per-operation timeout used when none is set.
func DefaultTimeout(mode Mode) time.Duration {
	if mode == ModeNet {
		return DefaultNetTimeout
	}
	return DefaultVulnTimeout
}

// PortSet parses the configured port specification.
func (c *Config) PortSet() (entity.PortSet, error) {
	return ports.Parse(c.Ports)
}

// LogLevel parses the configured log level.
func (c *Config) LogLevel() (logrus.Level, error) {
	if c.Log.Level == "" {
		return logrus.InfoLevel, nil
	}
	lvl, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return 0, sonarerr.Config("config.LogLevel", "invalid log level", err)
	}
	return lvl, nil
}

// Validate rejects settings that would make a run meaningless. It never
// touches the network.
func (c *Config) Validate() error {
	const op = "config.Validate"

	switch c.Mode {
	case ModeNet, ModeVuln:
	default:
		return sonarerr.Config(op, "mode must be 'net' or 'vuln', got '"+string(c.Mode)+"'", nil)
	}
	if c.Timeout <= 0 {
		return sonarerr.Config(op, "timeout must be positive", nil)
	}
	if c.Concurrency < 1 {
		return sonarerr.Config(op, "concurrency must be at least 1", nil)
	}
	if c.MaxHosts < 0 {
		return sonarerr.Config(op, "max_hosts must not be negative", nil)
	}
	switch c.Scanner.Type {
	case "", scanner.TypeConnect, scanner.TypeNmap:
	default:
		return sonarerr.Config(op, "unknown scanner type '"+c.Scanner.Type+"'", nil)
	}
	switch c.Output.Format {
	case "", FormatText, FormatJSON:
	default:
		return sonarerr.Config(op, "output format must be 'text' or 'json'", nil)
	}
	if _, err := c.PortSet(); err != nil {
		return err
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// ParseTimeout accepts a Go duration ("750ms") or a number of seconds
// ("0.5").
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, sonarerr.Config("config.ParseTimeout", "invalid timeout '"+s+"'", err)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
