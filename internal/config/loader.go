package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"bytemomo/sonar/internal/pipeline/scanner"
	"bytemomo/sonar/internal/sonarerr"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "SONAR_"

// Loader builds a Config from defaults, an optional YAML file and the
// environment, in that order of precedence.
type Loader struct {
	basePath string
	lookup   func(string) (string, bool)
}

// NewLoader creates a loader resolving relative paths against basePath.
func NewLoader(basePath string) *Loader {
	if basePath == "" {
		basePath = "."
	}
	return &Loader{
		basePath: basePath,
		lookup:   os.LookupEnv,
	}
}

// WithLookup replaces the environment source, mainly for tests.
func (l *Loader) WithLookup(lookup func(string) (string, bool)) *Loader {
	l.lookup = lookup
	return l
}

// LoadDotEnv loads variables from files into the process environment
// without overriding ones already set. With no files it tries ".env" and
// ignores its absence.
func (l *Loader) LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		err := godotenv.Load(l.resolvePath(".env"))
		if err != nil && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return sonarerr.Config("config.LoadDotEnv", "failed to load .env", err)
		}
		return nil
	}
	resolved := make([]string, len(files))
	for i, f := range files {
		resolved[i] = l.resolvePath(f)
	}
	if err := godotenv.Load(resolved...); err != nil {
		return sonarerr.Config("config.LoadDotEnv", "failed to load env files", err)
	}
	return nil
}

// Load returns the configuration for mode. path may be empty. The result
// is not validated; callers apply flag overrides first.
func (l *Loader) Load(path string, mode Mode) (*Config, error) {
	cfg := Default(mode)
	timeoutSet := false

	if path != "" {
		fullPath := l.resolvePath(path)
		data, err := l.readFile(fullPath)
		if err != nil {
			return nil, sonarerr.Config("config.Load", "failed to read config file "+fullPath, err)
		}
		data = l.expandEnvVars(data)

		var fileCfg fileConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, sonarerr.Config("config.Load", "failed to parse config file "+fullPath, err)
		}
		fileCfg.Config.Timeout = time.Duration(fileCfg.Timeout)
		timeoutSet = fileCfg.Timeout != 0
		merge(cfg, &fileCfg.Config)
	}

	envTimeout, err := l.applyEnv(cfg)
	if err != nil {
		return nil, err
	}
	timeoutSet = timeoutSet || envTimeout

	if !timeoutSet {
		cfg.Timeout = DefaultTimeout(cfg.Mode)
	}
	return cfg, nil
}

// fileConfig is the on-disk shape of a Config.
type fileConfig struct {
	Config  `yaml:",inline"`
	Timeout yamlTimeout `yaml:"timeout"`
}

// yamlTimeout decodes "750ms" as well as a bare number of seconds (0.5).
type yamlTimeout time.Duration

func (t *yamlTimeout) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: timeout must be a scalar", value.Line)
	}
	d, err := ParseTimeout(value.Value)
	if err != nil {
		return err
	}
	*t = yamlTimeout(d)
	return nil
}

// merge copies every non-zero field of src onto dst.
func merge(dst, src *Config) {
	if src.Mode != "" {
		dst.Mode = src.Mode
	}
	if len(src.Targets) > 0 {
		dst.Targets = src.Targets
	}
	if src.Ports != "" {
		dst.Ports = src.Ports
	}
	if src.Timeout != 0 {
		dst.Timeout = src.Timeout
	}
	if src.Concurrency != 0 {
		dst.Concurrency = src.Concurrency
	}
	if src.MaxHosts != 0 {
		dst.MaxHosts = src.MaxHosts
	}
	if src.Scanner.Type != "" {
		dst.Scanner.Type = src.Scanner.Type
	}
	if src.Scanner.Nmap != (scanner.NmapConfig{}) {
		dst.Scanner.Nmap = src.Scanner.Nmap
	}
	if src.Resolver != "" {
		dst.Resolver = src.Resolver
	}
	if src.Database != "" {
		dst.Database = src.Database
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	if src.Log.File != "" {
		dst.Log.File = src.Log.File
	}
	if src.Output.Path != "" {
		dst.Output.Path = src.Output.Path
	}
	if src.Output.Format != "" {
		dst.Output.Format = src.Output.Format
	}
}

// applyEnv overlays SONAR_* variables. It reports whether the timeout was
// set explicitly.
func (l *Loader) applyEnv(cfg *Config) (bool, error) {
	get := func(name string) (string, bool) {
		v, ok := l.lookup(EnvPrefix + name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}
	atoi := func(name, v string) (int, error) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, sonarerr.Config("config.Load", fmt.Sprintf("invalid %s%s '%s'", EnvPrefix, name, v), err)
		}
		return n, nil
	}

	if v, ok := get("MODE"); ok {
		cfg.Mode = Mode(v)
	}
	if v, ok := get("TARGETS"); ok {
		cfg.Targets = SplitList(v)
	}
	if v, ok := get("PORTS"); ok {
		cfg.Ports = v
	}
	timeoutSet := false
	if v, ok := get("TIMEOUT"); ok {
		d, err := ParseTimeout(v)
		if err != nil {
			return false, err
		}
		cfg.Timeout = d
		timeoutSet = true
	}
	if v, ok := get("CONCURRENCY"); ok {
		n, err := atoi("CONCURRENCY", v)
		if err != nil {
			return false, err
		}
		cfg.Concurrency = n
	}
	if v, ok := get("MAX_HOSTS"); ok {
		n, err := atoi("MAX_HOSTS", v)
		if err != nil {
			return false, err
		}
		cfg.MaxHosts = n
	}
	if v, ok := get("SCANNER"); ok {
		cfg.Scanner.Type = v
	}
	if v, ok := get("NMAP_PATH"); ok {
		cfg.Scanner.Nmap.BinaryPath = v
	}
	if v, ok := get("RESOLVER"); ok {
		cfg.Resolver = v
	}
	if v, ok := get("DB"); ok {
		cfg.Database = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := get("LOG_FILE"); ok {
		cfg.Log.File = v
	}
	if v, ok := get("OUTPUT"); ok {
		cfg.Output.Path = v
	}
	if v, ok := get("FORMAT"); ok {
		cfg.Output.Format = v
	}
	return timeoutSet, nil
}

// SplitList splits a comma or whitespace separated list, dropping blanks.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// resolvePath resolves a path relative to the loader's base path
func (l *Loader) resolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(l.basePath, path)
}

// readFile reads a file and returns its contents
func (l *Loader) readFile(path string) ([]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("file does not exist: %s", path)
	}

	return os.ReadFile(path)
}

// expandEnvVars expands ${VAR} references in the configuration data
func (l *Loader) expandEnvVars(data []byte) []byte {
	return []byte(os.Expand(string(data), func(name string) string {
		v, _ := l.lookup(name)
		return v
	}))
}
