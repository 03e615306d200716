// Package ruleset reads and writes rule files and keeps the engine in step
// with them.
//
// A rule file is a document {"rules": {"<id>": <rule>, ...}} in JSON or
// YAML. The map key is the rule id. A bare array of rules is also accepted
// on import; those rules get ids when they are saved.
package ruleset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/arbiter/internal/domain"
)

// Format is a rule file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ErrUnknownFormat is returned for file extensions other than .json, .yaml
// and .yml.
var ErrUnknownFormat = errors.New("unknown rule file format")

// File is the on-disk document.
type File struct {
	Rules map[string]*domain.Rule `json:"rules"`
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

// Decode parses a rule file. Rules are returned sorted by id.
func Decode(data []byte, format Format) ([]*domain.Rule, error) {
	if format == FormatYAML {
		var err error
		if data, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var list []*domain.Rule
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("failed to parse rule list: %w", err)
		}
		return compact(list), nil
	}

	var f File
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rule file: %w", err)
	}

	rules := make([]*domain.Rule, 0, len(f.Rules))
	for id, r := range f.Rules {
		if r == nil {
			continue
		}
		r.ID = id
		rules = append(rules, r)
	}
	sortByID(rules)
	return rules, nil
}

// Encode renders rules as a rule file.
func Encode(rules []*domain.Rule, format Format) ([]byte, error) {
	f := File{Rules: make(map[string]*domain.Rule, len(rules))}
	for _, r := range rules {
		if r == nil || r.ID == "" {
			return nil, fmt.Errorf("rule %q: id is required for export", ruleName(r))
		}
		f.Rules[r.ID] = r
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, err
	}
	if format == FormatJSON {
		return append(data, '\n'), nil
	}

	// Round-trip through a generic value so YAML output uses the same field
	// names and condition value shapes as JSON.
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}

// ReadFile reads and decodes a rule file, choosing the format by extension.
func ReadFile(path string) ([]*domain.Rule, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rules, err := Decode(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// WriteFile encodes rules to path, choosing the format by extension.
func WriteFile(path string, rules []*domain.Rule) error {
	format, err := FormatFromPath(path)
	if err != nil {
		return err
	}
	data, err := Encode(rules, format)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadRule decodes a single rule document, as used by the CLI.
func ReadRule(path string) (*domain.Rule, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if format == FormatYAML {
		if data, err = yamlToJSON(data); err != nil {
			return nil, err
		}
	}
	var r domain.Rule
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &r, nil
}

func yamlToJSON(data []byte) ([]byte, error) {
	var generic any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return nil, fmt.Errorf("failed to convert YAML: %w", err)
	}
	return out, nil
}

func compact(rules []*domain.Rule) []*domain.Rule {
	out := rules[:0]
	for _, r := range rules {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func sortByID(rules []*domain.Rule) {
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
}

func ruleName(r *domain.Rule) string {
	if r == nil {
		return ""
	}
	return r.Name
}
