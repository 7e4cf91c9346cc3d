package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureNonTerminalUsesJSON(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	closeFn := Configure(l, &buf, logrus.DebugLevel, "")
	defer closeFn()

	l.WithField("host", "10.0.0.1").Debug("probe")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "probe", entry["msg"])
	assert.Equal(t, "10.0.0.1", entry["host"])
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
}

func TestConfigureTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sonar.log")
	l := logrus.New()
	var buf bytes.Buffer
	closeFn := Configure(l, &buf, logrus.InfoLevel, path)

	l.Info("scan started")
	l.Debug("hidden")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, buf.String(), string(data))
	assert.Contains(t, string(data), "scan started")
	assert.NotContains(t, string(data), "hidden")
}

func TestConfigureBadFileFallsBack(t *testing.T) {
	l := logrus.New()
	var buf bytes.Buffer
	closeFn := Configure(l, &buf, logrus.InfoLevel, filepath.Join(t.TempDir(), "missing", "dir", "x.log"))
	defer closeFn()

	assert.True(t, strings.Contains(buf.String(), "Could not create file for logging"))
	l.Info("still logging")
	assert.Contains(t, buf.String(), "still logging")
}
