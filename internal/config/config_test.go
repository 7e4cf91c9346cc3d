package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/pipeline/scanner"
	"bytemomo/sonar/internal/sonarerr"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestDefaults(t *testing.T) {
	net := Default(ModeNet)
	assert.Equal(t, DefaultPorts, net.Ports)
	assert.Equal(t, 500*time.Millisecond, net.Timeout)
	assert.Equal(t, 200, net.Concurrency)
	assert.Equal(t, scanner.TypeConnect, net.Scanner.Type)
	require.NoError(t, net.Validate())

	vuln := Default(ModeVuln)
	assert.Equal(t, 800*time.Millisecond, vuln.Timeout)
	require.NoError(t, vuln.Validate())

	ps, err := vuln.PortSet()
	require.NoError(t, err)
	assert.Equal(t, entity.PortSet{22, 80, 443}, ps)
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := NewLoader(t.TempDir()).WithLookup(envMap(nil)).Load("", ModeVuln)
	require.NoError(t, err)
	assert.Equal(t, Default(ModeVuln), cfg)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "sonar.yaml", `
mode: vuln
targets: [10.0.0.0/30, ${SCAN_HOST}]
ports: "21-25,80"
timeout: 1500ms
concurrency: 50
max_hosts: 8
scanner:
  type: nmap
  nmap:
    timing: T4
resolver: 127.0.0.1:5353
database: rules.yaml
log:
  level: debug
output:
  path: out.json
  format: json
`)

	cfg, err := NewLoader(dir).WithLookup(envMap(map[string]string{"SCAN_HOST": "scanme.example"})).Load("sonar.yaml", ModeNet)
	require.NoError(t, err)

	assert.Equal(t, ModeVuln, cfg.Mode)
	assert.Equal(t, []string{"10.0.0.0/30", "scanme.example"}, cfg.Targets)
	assert.Equal(t, "21-25,80", cfg.Ports)
	assert.Equal(t, 1500*time.Millisecond, cfg.Timeout)
	assert.Equal(t, 50, cfg.Concurrency)
	assert.Equal(t, 8, cfg.MaxHosts)
	assert.Equal(t, scanner.TypeNmap, cfg.Scanner.Type)
	assert.Equal(t, "T4", cfg.Scanner.Nmap.Timing)
	assert.Equal(t, "127.0.0.1:5353", cfg.Resolver)
	assert.Equal(t, "rules.yaml", cfg.Database)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, FormatJSON, cfg.Output.Format)
	require.NoError(t, cfg.Validate())
}

func TestTimeoutDefaultFollowsMode(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "net.yaml", "mode: net\n")

	cfg, err := NewLoader(dir).WithLookup(envMap(nil)).Load("net.yaml", ModeVuln)
	require.NoError(t, err)
	assert.Equal(t, ModeNet, cfg.Mode)
	assert.Equal(t, DefaultNetTimeout, cfg.Timeout)
}

func TestLoadFileTimeoutForms(t *testing.T) {
	cases := map[string]time.Duration{
		"timeout: 0.5\n":   500 * time.Millisecond,
		"timeout: 2\n":     2 * time.Second,
		"timeout: 1.25\n":  1250 * time.Millisecond,
		"timeout: 750ms\n": 750 * time.Millisecond,
	}

	for content, want := range cases {
		t.Run(content, func(t *testing.T) {
			dir := t.TempDir()
			writeConfig(t, dir, "sonar.yaml", content)

			cfg, err := NewLoader(dir).WithLookup(envMap(nil)).Load("sonar.yaml", ModeVuln)
			require.NoError(t, err)
			assert.Equal(t, want, cfg.Timeout)
		})
	}
}

func TestLoadFileRejectsBadTimeout(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "sonar.yaml", "timeout: soon\n")

	_, err := NewLoader(dir).WithLookup(envMap(nil)).Load("sonar.yaml", ModeNet)
	require.Error(t, err)
	assert.True(t, sonarerr.IsConfig(err))
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "sonar.yaml", "ports: \"80\"\nconcurrency: 10\n")

	env := envMap(map[string]string{
		"SONAR_PORTS":       "443,8443",
		"SONAR_CONCURRENCY": "25",
		"SONAR_TIMEOUT":     "0.25",
		"SONAR_TARGETS":     "a.example, b.example",
		"SONAR_FORMAT":      "json",
		"SONAR_LOG_LEVEL":   "warn",
		"SONAR_RESOLVER":    "",
	})
	cfg, err := NewLoader(dir).WithLookup(env).Load("sonar.yaml", ModeNet)
	require.NoError(t, err)

	assert.Equal(t, "443,8443", cfg.Ports)
	assert.Equal(t, 25, cfg.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, []string{"a.example", "b.example"}, cfg.Targets)
	assert.Equal(t, FormatJSON, cfg.Output.Format)
	assert.Empty(t, cfg.Resolver)

	lvl, err := cfg.LogLevel()
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, lvl)
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "bad.yaml", "ports: [unterminated\n")

	_, err := NewLoader(dir).WithLookup(envMap(nil)).Load("missing.yaml", ModeNet)
	require.Error(t, err)
	assert.True(t, sonarerr.IsConfig(err))

	_, err = NewLoader(dir).WithLookup(envMap(nil)).Load("bad.yaml", ModeNet)
	require.Error(t, err)
	assert.True(t, sonarerr.IsConfig(err))

	_, err = NewLoader(dir).WithLookup(envMap(map[string]string{"SONAR_CONCURRENCY": "many"})).Load("", ModeNet)
	require.Error(t, err)
	assert.True(t, sonarerr.IsConfig(err))

	_, err = NewLoader(dir).WithLookup(envMap(map[string]string{"SONAR_TIMEOUT": "soon"})).Load("", ModeNet)
	require.Error(t, err)
	assert.True(t, sonarerr.IsConfig(err))
}

func TestValidate(t *testing.T) {
	cases := map[string]func(c *Config){
		"mode":             func(c *Config) { c.Mode = "stealth" },
		"zero timeout":     func(c *Config) { c.Timeout = 0 },
		"negative timeout": func(c *Config) { c.Timeout = -time.Second },
		"zero concurrency": func(c *Config) { c.Concurrency = 0 },
		"max hosts":        func(c *Config) { c.MaxHosts = -1 },
		"scanner":          func(c *Config) { c.Scanner.Type = "syn" },
		"format":           func(c *Config) { c.Output.Format = "xml" },
		"port range":       func(c *Config) { c.Ports = "0-10" },
		"port text":        func(c *Config) { c.Ports = "http" },
		"log level":        func(c *Config) { c.Log.Level = "chatty" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := Default(ModeVuln)
			mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Equal(t, sonarerr.KindConfig, sonarerr.KindOf(err))
		})
	}
}

func TestParseTimeout(t *testing.T) {
	cases := map[string]time.Duration{
		"0.5":   500 * time.Millisecond,
		"2":     2 * time.Second,
		"750ms": 750 * time.Millisecond,
		" 1s ":  time.Second,
	}
	for in, want := range cases {
		got, err := ParseTimeout(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseTimeout("later")
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewLoader(dir).LoadDotEnv())

	writeConfig(t, dir, "scan.env", "SONAR_TEST_DOTENV_PORTS=8080\n")
	t.Cleanup(func() { os.Unsetenv("SONAR_TEST_DOTENV_PORTS") })

	require.NoError(t, NewLoader(dir).LoadDotEnv("scan.env"))
	assert.Equal(t, "8080", os.Getenv("SONAR_TEST_DOTENV_PORTS"))

	assert.Error(t, NewLoader(dir).LoadDotEnv("absent.env"))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList(" a,b  c,,"))
	assert.Empty(t, SplitList(""))
}
