package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"bytemomo/sonar/internal/adapter/jsonreport"
	"bytemomo/sonar/internal/adapter/logger"
	"bytemomo/sonar/internal/config"
	"bytemomo/sonar/internal/pipeline/reporter"
	"bytemomo/sonar/internal/sonarerr"
	"bytemomo/sonar/internal/usecase"

	"github.com/sirupsen/logrus"
)

var (
	version = "1.0.0"
	commit  = "dev"
)

const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	fmt.Fprint(w, `Usage:
  sonar net scan [flags] TARGET...    TCP connect scan
  sonar vuln scan [flags] TARGET...   connect scan, fingerprinting and signature matching
  sonar version

TARGET is an IP address, a hostname or a CIDR block.
Run "sonar net scan -h" for flags.
`)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitConfig
	}

	switch args[0] {
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "sonar %s (%s)\n", version, commit)
		return exitOK
	case "help", "-h", "-help", "--help":
		usage(stdout)
		return exitOK
	case "net", "vuln":
		if len(args) < 2 || args[1] != "scan" {
			usage(stderr)
			return exitConfig
		}
		return scan(ctx, config.Mode(args[0]), args[2:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return exitConfig
	}
}

type scanFlags struct {
	fs *flag.FlagSet

	configPath  string
	envFile     string
	ports       string
	timeout     string
	concurrency int
	maxHosts    int
	scannerType string
	nmapPath    string
	resolver    string
	database    string
	output      string
	asJSON      bool
	logLevel    string
	logFile     string
}

func newScanFlags(mode config.Mode, stderr io.Writer) *scanFlags {
	f := &scanFlags{fs: flag.NewFlagSet(string(mode)+" scan", flag.ContinueOnError)}
	f.fs.SetOutput(stderr)

	defaultTimeout := config.DefaultTimeout(mode).Seconds()
	f.fs.StringVar(&f.configPath, "config", "", "Path to a YAML config file")
	f.fs.StringVar(&f.envFile, "env-file", "", "Load SONAR_* variables from this file (default .env if present)")
	f.fs.StringVar(&f.ports, "ports", config.DefaultPorts, "Ports and ranges, e.g. 22,80,8000-8100")
	f.fs.StringVar(&f.ports, "p", config.DefaultPorts, "Shorthand for -ports")
	f.fs.StringVar(&f.timeout, "timeout", fmt.Sprint(defaultTimeout), "Per-operation timeout, seconds or Go duration")
	f.fs.IntVar(&f.concurrency, "concurrency", config.DefaultConcurrency, "Max concurrent connections")
	f.fs.IntVar(&f.maxHosts, "max-hosts", 0, "Max hosts in flight (0 = concurrency)")
	f.fs.StringVar(&f.scannerType, "scanner", "connect", "Port prober: connect or nmap")
	f.fs.StringVar(&f.nmapPath, "nmap-path", "", "Path to the nmap binary")
	f.fs.StringVar(&f.resolver, "resolver", "", "DNS server (host[:port]) used instead of the system resolver")
	f.fs.StringVar(&f.output, "output", "", "Write JSON results to this file")
	f.fs.StringVar(&f.output, "o", "", "Shorthand for -output")
	f.fs.BoolVar(&f.asJSON, "json", false, "Print JSON to stdout")
	f.fs.StringVar(&f.logLevel, "log-level", config.DefaultLogLevel, "Log level")
	f.fs.StringVar(&f.logFile, "log-file", "", "Also append logs to this file")
	if mode == config.ModeVuln {
		f.fs.StringVar(&f.database, "db", "", "Signature database (JSON or YAML), default is the bundled one")
	}
	return f
}

// parse accepts flags before, between and after positional targets.
func (f *scanFlags) parse(args []string) ([]string, error) {
	var targets []string
	for {
		if err := f.fs.Parse(args); err != nil {
			return nil, err
		}
		rest := f.fs.Args()
		if len(rest) == 0 {
			return targets, nil
		}
		targets = append(targets, rest[0])
		args = rest[1:]
	}
}

// apply copies explicitly set flags onto cfg.
func (f *scanFlags) apply(cfg *config.Config) error {
	var err error
	f.fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "ports", "p":
			cfg.Ports = f.ports
		case "timeout":
			d, perr := config.ParseTimeout(f.timeout)
			if perr != nil {
				err = perr
				return
			}
			cfg.Timeout = d
		case "concurrency":
			cfg.Concurrency = f.concurrency
		case "max-hosts":
			cfg.MaxHosts = f.maxHosts
		case "scanner":
			cfg.Scanner.Type = f.scannerType
		case "nmap-path":
			cfg.Scanner.Nmap.BinaryPath = f.nmapPath
		case "resolver":
			cfg.Resolver = f.resolver
		case "db":
			cfg.Database = f.database
		case "output", "o":
			cfg.Output.Path = f.output
		case "json":
			if f.asJSON {
				cfg.Output.Format = config.FormatJSON
			} else {
				cfg.Output.Format = config.FormatText
			}
		case "log-level":
			cfg.Log.Level = f.logLevel
		case "log-file":
			cfg.Log.File = f.logFile
		}
	})
	return err
}

func scan(ctx context.Context, mode config.Mode, args []string, stdout, stderr io.Writer) int {
	flags := newScanFlags(mode, stderr)
	targets, err := flags.parse(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitConfig
	}

	cfg, err := loadConfig(flags, mode)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	if len(targets) > 0 {
		cfg.Targets = targets
	}
	if len(cfg.Targets) == 0 {
		fmt.Fprintln(stderr, "Error: at least one target is required")
		flags.fs.Usage()
		return exitConfig
	}

	level, _ := cfg.LogLevel()
	l := logrus.New()
	closeLog := logger.Configure(l, stderr, level, cfg.Log.File)
	defer closeLog()
	log := logrus.NewEntry(l).WithField("version", version)

	o, err := usecase.NewScanOrchestrator(log, cfg)
	if err != nil {
		log.WithError(err).Error("Could not set up scan")
		return exitCode(err)
	}

	ports, _ := cfg.PortSet()
	res, err := o.Execute(ctx, mode, cfg.Targets, ports)
	if err != nil && res == nil {
		log.WithError(err).Error("Scan failed")
		return exitCode(err)
	}
	if err != nil {
		log.WithError(err).Warn("Scan interrupted, reporting partial results")
	}

	if werr := emit(cfg, mode, res, stdout); werr != nil {
		log.WithError(werr).Error("Could not write results")
		return exitFailed
	}
	if err != nil {
		return exitFailed
	}
	return exitOK
}

func loadConfig(flags *scanFlags, mode config.Mode) (*config.Config, error) {
	loader := config.NewLoader("")
	var envFiles []string
	if flags.envFile != "" {
		envFiles = append(envFiles, flags.envFile)
	}
	if err := loader.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	cfg, err := loader.Load(flags.configPath, mode)
	if err != nil {
		return nil, err
	}
	// The subcommand decides the mode.
	cfg.Mode = mode
	if err := flags.apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func emit(cfg *config.Config, mode config.Mode, res *usecase.ScanResult, stdout io.Writer) error {
	var doc any = res.Hosts
	if mode == config.ModeNet {
		doc = res.PortScanResults()
	}

	asJSON := cfg.Output.Format == config.FormatJSON
	if cfg.Output.Path != "" || asJSON {
		w := jsonreport.New(cfg.Output.Path, nil)
		if asJSON {
			w.Stdout = stdout
		}
		return w.Write(doc)
	}

	text := reporter.New(stdout)
	if mode == config.ModeNet {
		return text.WriteNet(res.PortScanResults())
	}
	return text.WriteVuln(res.Hosts)
}

func exitCode(err error) int {
	if sonarerr.IsConfig(err) {
		return exitConfig
	}
	return exitFailed
}
