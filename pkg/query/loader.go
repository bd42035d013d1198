package query

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Sumatoshi-tech/sluice/pkg/schema"
)

// queryFile is the YAML shape of an operator-supplied query set.
type queryFile struct {
	Queries []querySpec `yaml:"queries"`
}

type querySpec struct {
	ID         string         `yaml:"id"`
	Mode       string         `yaml:"mode"`
	Filter     *predicateSpec `yaml:"filter"`
	GroupBy    []string       `yaml:"group_by"`
	Aggregates []aggSpec      `yaml:"aggregates"`
	OrderBy    *orderSpec     `yaml:"order_by"`
}

type predicateSpec struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"`
	Value string `yaml:"value"`
}

type aggSpec struct {
	Name  string `yaml:"name"`
	Op    string `yaml:"op"`
	Field string `yaml:"field"`
}

type orderSpec struct {
	Key        string `yaml:"key"`
	Descending bool   `yaml:"descending"`
}

// LoadDefinitions reads and validates a YAML query file against the
// configured schema variant. The file replaces the built-in query set.
func LoadDefinitions(path string, v *schema.Variant) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read query file: %w", err)
	}

	var file queryFile

	unmarshalErr := yaml.Unmarshal(data, &file)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("parse query file %s: %w", path, unmarshalErr)
	}

	defs := make([]Definition, 0, len(file.Queries))

	for _, spec := range file.Queries {
		def, buildErr := spec.toDefinition()
		if buildErr != nil {
			return nil, fmt.Errorf("query file %s: %w", path, buildErr)
		}

		defs = append(defs, def)
	}

	validateErr := ValidateSet(defs, v)
	if validateErr != nil {
		return nil, fmt.Errorf("query file %s: %w", path, validateErr)
	}

	return defs, nil
}

// toDefinition converts the YAML spec into a typed definition.
func (s querySpec) toDefinition() (Definition, error) {
	mode, err := ParseOutputMode(s.Mode)
	if err != nil {
		return Definition{}, fmt.Errorf("query %q: %w", s.ID, err)
	}

	def := Definition{
		ID:      s.ID,
		Mode:    mode,
		GroupBy: s.GroupBy,
	}

	if s.Filter != nil {
		op, opErr := ParseCompareOp(s.Filter.Op)
		if opErr != nil {
			return Definition{}, fmt.Errorf("query %q filter: %w", s.ID, opErr)
		}

		def.Filter = &Predicate{Field: s.Filter.Field, Op: op, Value: s.Filter.Value}
	}

	for _, agg := range s.Aggregates {
		op, opErr := ParseAggregateOp(agg.Op)
		if opErr != nil {
			return Definition{}, fmt.Errorf("query %q aggregate %q: %w", s.ID, agg.Name, opErr)
		}

		def.Aggregates = append(def.Aggregates, Aggregate{Name: agg.Name, Op: op, Field: agg.Field})
	}

	if s.OrderBy != nil {
		def.OrderBy = &Ordering{Key: s.OrderBy.Key, Descending: s.OrderBy.Descending}
	}

	return def, nil
}
