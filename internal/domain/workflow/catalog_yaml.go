package workflow

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// catalogFile is the on-disk layout of a transition table
type catalogFile struct {
	Initial State            `yaml:"initial"`
	Rules   []TransitionRule `yaml:"rules"`
}

// LoadCatalogYAML builds a validated catalog from a YAML rule table
func LoadCatalogYAML(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file catalogFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrInvalidCatalog, err)
	}

	initial := file.Initial
	if initial == "" {
		initial = StatePending
	}

	builder := NewBuilder(initial)
	for _, rule := range file.Rules {
		config := builder.Configure(rule.From)
		if rule.RequiresNote {
			config.PermitWithNote(rule.Action, rule.To, rule.AllowedRoles...)
		} else {
			config.Permit(rule.Action, rule.To, rule.AllowedRoles...)
		}
		if rule.Description != "" {
			config.Describe(rule.Action, rule.Description)
		}
	}

	return builder.Build()
}
