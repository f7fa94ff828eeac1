package rules

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"negotiation-scoring-go/internal/types"
)

//go:embed rules.yaml
var defaultTableYAML []byte

// Rule is one entry of the versioned rule table. The table carries the
// tunable parts (dimension, cap/penalty value, thresholds); the pattern
// logic itself lives in the evaluator keyed by rule name.
type Rule struct {
	Name      string          `yaml:"name"`
	Kind      string          `yaml:"kind"` // "cap" or "penalty"
	Dimension types.Dimension `yaml:"dimension"`
	Value     int             `yaml:"value"`
	MinCount  int             `yaml:"min_count,omitempty"`
}

// Table is a versioned deterministic rule set.
type Table struct {
	RulesVersion string `yaml:"rules_version"`
	Rules        []Rule `yaml:"rules"`
}

// DefaultTable parses the embedded rule table. The embedded document is part
// of the build, so a parse failure is a programming error.
func DefaultTable() Table {
	t, err := parseTable(defaultTableYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded rule table invalid: %v", err))
	}
	return t
}

// LoadTable reads a rule table override from disk; an empty path returns the
// embedded default.
func LoadTable(path string) (Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, fmt.Errorf("read rule table: %w", err)
	}
	return parseTable(data)
}

func parseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, fmt.Errorf("parse rule table: %w", err)
	}
	if t.RulesVersion == "" {
		return Table{}, fmt.Errorf("rule table missing rules_version")
	}
	for _, r := range t.Rules {
		if r.Kind != "cap" && r.Kind != "penalty" {
			return Table{}, fmt.Errorf("rule %q has unknown kind %q", r.Name, r.Kind)
		}
		if !r.Dimension.Valid() {
			return Table{}, fmt.Errorf("rule %q targets unknown dimension %q", r.Name, r.Dimension)
		}
	}
	return t, nil
}
