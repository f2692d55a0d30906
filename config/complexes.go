package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ComplexEntry is one tracked complex in the YAML watch list.
type ComplexEntry struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

type complexesFile struct {
	Complexes []ComplexEntry `yaml:"complexes"`
}

// LoadComplexesFile reads a YAML watch list of the form
//
//	complexes:
//	  - id: "8928"
//	    name: Some Complex
//
// Entries without an id are dropped.
func LoadComplexesFile(path string) ([]ComplexEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read complexes file %q: %w", path, err)
	}

	var f complexesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse complexes file %q: %w", path, err)
	}

	entries := make([]ComplexEntry, 0, len(f.Complexes))
	for _, e := range f.Complexes {
		e.ID = strings.TrimSpace(e.ID)
		if e.ID == "" {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ComplexNames maps ids from the YAML watch list to their configured names.
// Entries without a name are left out.
func (c *Config) ComplexNames() (map[string]string, error) {
	names := make(map[string]string)
	if c.ComplexesFile == "" {
		return names, nil
	}
	entries, err := LoadComplexesFile(c.ComplexesFile)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			continue
		}
		if _, ok := names[e.ID]; !ok {
			names[e.ID] = name
		}
	}
	return names, nil
}

// TrackedComplexes merges the COMPLEXES env list with the YAML watch list,
// keeping first occurrence order and dropping duplicates.
func (c *Config) TrackedComplexes() ([]string, error) {
	ids := append([]string(nil), c.Complexes...)

	if c.ComplexesFile != "" {
		entries, err := LoadComplexesFile(c.ComplexesFile)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}

	seen := make(map[string]struct{}, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}
