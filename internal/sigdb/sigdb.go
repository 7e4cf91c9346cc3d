// Package sigdb loads the vulnerability signature database.
package sigdb

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bytemomo/sonar/internal/entity"
	"bytemomo/sonar/internal/sonarerr"

	"gopkg.in/yaml.v3"
)

//go:embed data/vuln_db.json
var defaultDB []byte

// Default returns the database bundled with the binary.
func Default() ([]entity.VulnerabilityRule, error) {
	return Parse(defaultDB, FormatJSON)
}

// Format is the encoding of a database file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

// FormatFor picks the format from a file extension. Anything that is not
// .yaml or .yml is read as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads rules from path, or the bundled database when path is empty.
// Rules are returned as stored; invalid ones are left for the matcher to
// skip.
func Load(path string) ([]entity.VulnerabilityRule, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, sonarerr.E("sigdb.Load", sonarerr.KindDatabase, fmt.Sprintf("read %s", path), err)
	}
	rules, err := Parse(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Parse decodes a database document. The top level must be a list.
func Parse(data []byte, format Format) ([]entity.VulnerabilityRule, error) {
	var (
		rules []entity.VulnerabilityRule
		err   error
	)
	switch format {
	case FormatYAML:
		rules, err = parseYAML(data)
	default:
		rules, err = parseJSON(data)
	}
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []entity.VulnerabilityRule{}
	}
	return rules, nil
}

func parseJSON(data []byte) ([]entity.VulnerabilityRule, error) {
	var raw json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, sonarerr.E("sigdb.Parse", sonarerr.KindDatabase, "invalid JSON", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "[") {
		return nil, sonarerr.E("sigdb.Parse", sonarerr.KindDatabase, "top level must be a list of rules", nil)
	}
	var rules []entity.VulnerabilityRule
	if err := json.Unmarshal(raw, &rules); err != nil {
		return nil, sonarerr.E("sigdb.Parse", sonarerr.KindDatabase, "invalid rule record", err)
	}
	return rules, nil
}

func parseYAML(data []byte) ([]entity.VulnerabilityRule, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, sonarerr.E("sigdb.Parse", sonarerr.KindDatabase, "invalid YAML", err)
	}
	if len(doc.Content) == 0 {
		return nil, sonarerr.E("sigdb.Parse", sonarerr.KindDatabase, "empty document", nil)
	}
	root := doc.Content[0]
	if root.Kind != yaml.SequenceNode {
		return nil, sonarerr.E("sigdb.Parse", sonarerr.KindDatabase, "top level must be a list of rules", nil)
	}
	var rules []entity.VulnerabilityRule
	if err := root.Decode(&rules); err != nil {
		return nil, sonarerr.E("sigdb.Parse", sonarerr.KindDatabase, "invalid rule record", err)
	}
	return rules, nil
}
