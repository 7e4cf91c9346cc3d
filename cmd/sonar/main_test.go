package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	// Keep a stray .env in the working directory out of the way.
	t.Chdir(t.TempDir())
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersion(t *testing.T) {
	code, out, _ := runCLI(t, "version")
	assert.Equal(t, exitOK, code)
	assert.Contains(t, out, "sonar "+version)
}

func TestUsageErrors(t *testing.T) {
	cases := [][]string{
		{},
		{"scan"},
		{"net"},
		{"net", "probe"},
		{"net", "scan"},
		{"net", "scan", "-bogus", "127.0.0.1"},
	}
	for _, args := range cases {
		code, _, _ := runCLI(t, args...)
		assert.Equal(t, exitConfig, code, "%v", args)
	}
}

func TestConfigErrorsExitTwo(t *testing.T) {
	cases := [][]string{
		{"net", "scan", "-p", "0-5", "127.0.0.1"},
		{"net", "scan", "-p", "http", "127.0.0.1"},
		{"net", "scan", "-timeout", "0", "127.0.0.1"},
		{"net", "scan", "-concurrency", "0", "127.0.0.1"},
		{"net", "scan", "-scanner", "syn", "127.0.0.1"},
		{"vuln", "scan", "-db", "/nonexistent/rules.json", "127.0.0.1"},
		{"net", "scan", "10.0.0.0/4"},
	}
	for _, args := range cases {
		code, _, stderr := runCLI(t, args...)
		assert.Equal(t, exitConfig, code, "%v: %s", args, stderr)
	}
}

func TestNetScanJSON(t *testing.T) {
	srv := testutil.NewSilentServer()
	require.NoError(t, srv.Start())
	defer srv.Stop()
	closed, err := testutil.ClosedPort()
	require.NoError(t, err)

	ports := strconv.Itoa(srv.Port()) + "," + strconv.Itoa(closed)
	code, out, stderr := runCLI(t, "net", "scan", "127.0.0.1", "--json", "-p", ports, "-timeout", "1")
	require.Equal(t, exitOK, code, stderr)

	var results []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "127.0.0.1", results[0]["host"])
	assert.Equal(t, []any{float64(srv.Port())}, results[0]["open_ports"])
	_, hasFindings := results[0]["findings"]
	assert.False(t, hasFindings)
}

func TestNetScanText(t *testing.T) {
	closed, err := testutil.ClosedPort()
	require.NoError(t, err)

	code, out, _ := runCLI(t, "net", "scan", "-p", strconv.Itoa(closed), "127.0.0.1")
	require.Equal(t, exitOK, code)
	assert.Contains(t, out, "Host: 127.0.0.1\n  No open ports found\n")
}

func TestVulnScanWritesFile(t *testing.T) {
	web := testutil.NewHTTPServer("HTTP/1.0 200 OK", map[string]string{"Server": "Apache/2.4.49"})
	require.NoError(t, web.Start())
	defer web.Stop()

	dir := t.TempDir()
	out := filepath.Join(dir, "report.json")
	code, stdout, stderr := runCLI(t, "vuln", "scan", "-p", strconv.Itoa(web.Port()), "-o", out, "127.0.0.1")
	require.Equal(t, exitOK, code, stderr)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	var hosts []entity.HostReport
	require.NoError(t, json.Unmarshal(data, &hosts))
	require.Len(t, hosts, 1)
	assert.Equal(t, entity.PortSet{web.Port()}, hosts[0].OpenPorts)
	// The random port has no fingerprint probe, so nothing can match.
	assert.NotNil(t, hosts[0].Findings)
	assert.Empty(t, hosts[0].Findings)
}
