package mapping

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultIDField is used when a type does not name its identifier field.
const DefaultIDField = "id"

// Config describes every entity type known to the indexer.
type Config struct {
	Types []TypeConfig `yaml:"types"`
}

// TypeConfig maps one record type.
type TypeConfig struct {
	Name    string `yaml:"name"`
	Indexed bool   `yaml:"indexed"`
	// ID names the identifier field. Defaults to "id".
	ID string `yaml:"id,omitempty"`
	// Routing names the field holding the routing key. Empty means the
	// type always lives in the default partition.
	Routing string `yaml:"routing,omitempty"`
	// PreviousRouting names a field listing routing keys the record may
	// have been indexed at before.
	PreviousRouting string `yaml:"previous_routing,omitempty"`
	// If names a boolean field; records where it is false are not indexed.
	If string `yaml:"if,omitempty"`
	// Display names the field used in failure reports.
	Display string `yaml:"display,omitempty"`

	// Paths lists the dirty-checkable paths. Nested fields use dots.
	Paths []string `yaml:"paths"`
	// Fields are glob patterns selecting the paths copied into the
	// document. Empty means every path.
	Fields []string `yaml:"fields,omitempty"`

	Containing []ContainingRule `yaml:"containing,omitempty"`
}

// ContainingRule declares that documents of Type embed this record.
type ContainingRule struct {
	Type string `yaml:"type"`
	// Via names a field of this record holding the identifiers of the
	// containing records.
	Via string `yaml:"via,omitempty"`
	// By names a field of the containing records referencing this record.
	By string `yaml:"by,omitempty"`
	// When are glob patterns over paths that the containing documents
	// embed. Empty means every path.
	When []string `yaml:"when,omitempty"`
}

func (t TypeConfig) idField() string {
	if t.ID == "" {
		return DefaultIDField
	}
	return t.ID
}

// Parse decodes a YAML mapping.
func Parse(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if err == io.EOF {
			return &cfg, nil
		}
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads a YAML mapping from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks names and rule targets.
func (c *Config) Validate() error {
	names := make(map[string]bool, len(c.Types))
	for _, t := range c.Types {
		if t.Name == "" {
			return fmt.Errorf("type without name")
		}
		if names[t.Name] {
			return fmt.Errorf("type %q declared twice", t.Name)
		}
		names[t.Name] = true
	}
	for _, t := range c.Types {
		for _, r := range t.Containing {
			if !names[r.Type] {
				return fmt.Errorf("type %q: containing type %q is not declared", t.Name, r.Type)
			}
			if (r.Via == "") == (r.By == "") {
				return fmt.Errorf("type %q: containing rule for %q needs exactly one of via or by", t.Name, r.Type)
			}
		}
	}
	return nil
}

// Type returns the configuration of name.
func (c *Config) Type(name string) (TypeConfig, bool) {
	for _, t := range c.Types {
		if t.Name == name {
			return t, true
		}
	}
	return TypeConfig{}, false
}
