// Package reference loads the read-only lookup tables used by the pipeline:
// region names and codes, region coordinates, capital-city fallbacks and the
// closed classification taxonomies.
package reference

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"jobpipe/internal/models"
)

//go:embed default.yaml
var defaultTable []byte

// Reference table errors.
var (
	ErrUnreadable        = errors.New("reference table is unreadable")
	ErrEmptyRegion       = errors.New("region entry requires code and name")
	ErrUnknownCoordinate = errors.New("coordinates reference an unknown region code")
	ErrTaxonomyName      = errors.New("taxonomy requires a unique name")
	ErrTaxonomyLabels    = errors.New("taxonomy requires at least one label")
	ErrUnknownTaxonomy   = errors.New("unknown taxonomy")
)

// Region is one region-name/region-code pair.
type Region struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
}

// Taxonomy is a closed set of labels for one classification field.
type Taxonomy struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Labels      []string `yaml:"labels"`
	Multi       bool     `yaml:"multi"`
}

// Table holds all reference data. It is loaded once and never mutated.
type Table struct {
	Coordinates map[string]models.Coordinates `yaml:"coordinates"`
	Capitals    map[string]string             `yaml:"capitals"`
	Regions     []Region                      `yaml:"regions"`
	Taxonomies  []Taxonomy                    `yaml:"taxonomies"`
}

// Default returns the embedded reference table.
func Default() (*Table, error) {
	return Parse(defaultTable)
}

// Load reads a reference table from path, or the embedded table when path is empty.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	return Parse(data)
}

// Parse decodes and validates a YAML reference table.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}

	if err := t.Validate(); err != nil {
		return nil, err
	}

	normalized := make(map[string]string, len(t.Capitals))
	for cc, city := range t.Capitals {
		normalized[strings.ToUpper(strings.TrimSpace(cc))] = city
	}

	t.Capitals = normalized

	return &t, nil
}

// Validate checks structural consistency of the table.
func (t *Table) Validate() error {
	codes := make(map[string]struct{}, len(t.Regions))

	for i, r := range t.Regions {
		if strings.TrimSpace(r.Code) == "" || strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("%w: regions[%d]", ErrEmptyRegion, i)
		}

		codes[r.Code] = struct{}{}
	}

	for code := range t.Coordinates {
		if _, ok := codes[code]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownCoordinate, code)
		}
	}

	names := make(map[string]struct{}, len(t.Taxonomies))

	for i, tx := range t.Taxonomies {
		if tx.Name == "" {
			return fmt.Errorf("%w: taxonomies[%d]", ErrTaxonomyName, i)
		}

		if _, dup := names[tx.Name]; dup {
			return fmt.Errorf("%w: %s", ErrTaxonomyName, tx.Name)
		}

		names[tx.Name] = struct{}{}

		if len(tx.Labels) == 0 {
			return fmt.Errorf("%w: %s", ErrTaxonomyLabels, tx.Name)
		}
	}

	return nil
}

// Capital returns the capital city for an ISO-2 country code.
func (t *Table) Capital(countryCode string) (string, bool) {
	city, ok := t.Capitals[strings.ToUpper(strings.TrimSpace(countryCode))]

	return city, ok
}

// Taxonomy returns the taxonomy with the given name.
func (t *Table) Taxonomy(name string) (Taxonomy, bool) {
	for _, tx := range t.Taxonomies {
		if tx.Name == name {
			return tx, true
		}
	}

	return Taxonomy{}, false
}

// Select returns the named taxonomies in the requested order.
func (t *Table) Select(names []string) ([]Taxonomy, error) {
	selected := make([]Taxonomy, 0, len(names))

	for _, name := range names {
		tx, ok := t.Taxonomy(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownTaxonomy, name)
		}

		selected = append(selected, tx)
	}

	return selected, nil
}

// Canonical maps a label onto its spelling in the taxonomy. Matching ignores
// case and surrounding whitespace; labels outside the taxonomy are rejected.
func (tx Taxonomy) Canonical(label string) (string, bool) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", false
	}

	for _, l := range tx.Labels {
		if strings.EqualFold(l, label) {
			return l, true
		}
	}

	return "", false
}

// Filter keeps the labels that belong to the taxonomy, in order, without
// repeats. A single-valued taxonomy keeps at most the first valid label.
func (tx Taxonomy) Filter(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	kept := make([]string, 0, len(labels))

	for _, l := range labels {
		canonical, ok := tx.Canonical(l)
		if !ok {
			continue
		}

		if _, dup := seen[canonical]; dup {
			continue
		}

		seen[canonical] = struct{}{}
		kept = append(kept, canonical)

		if !tx.Multi {
			break
		}
	}

	return kept
}
