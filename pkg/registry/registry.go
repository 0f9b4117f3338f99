// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
)

func LoadRegistry(path string) (*FormRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg FormRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	if err := Validate(&reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks the structural invariants of a loaded registry: contiguous
// stage numbers, unique question/document/category codes and category weights
// summing to 100 (within rounding tolerance) for category-scored stages.
func Validate(reg *FormRegistry) error {
	if len(reg.Stages) == 0 {
		return fmt.Errorf("registry has no stages")
	}

	seen := make(map[int]bool)
	for _, stage := range reg.Stages {
		if stage.Number < 1 {
			return fmt.Errorf("stage %q has invalid number %d", stage.FormCode, stage.Number)
		}
		if seen[stage.Number] {
			return fmt.Errorf("duplicate stage number %d", stage.Number)
		}
		seen[stage.Number] = true

		if stage.AuthoringRole == "" {
			return fmt.Errorf("stage %d is missing an authoring role", stage.Number)
		}

		codes := make(map[string]bool)
		for _, q := range stage.Questions {
			if q.Code == "" {
				return fmt.Errorf("stage %d has a question without a code", stage.Number)
			}
			if codes[q.Code] {
				return fmt.Errorf("stage %d has duplicate question code %q", stage.Number, q.Code)
			}
			codes[q.Code] = true
		}

		docs := make(map[string]bool)
		for _, d := range stage.Documents {
			if d.ID == "" {
				return fmt.Errorf("stage %d has a document without an id", stage.Number)
			}
			if docs[d.ID] {
				return fmt.Errorf("stage %d has duplicate document id %q", stage.Number, d.ID)
			}
			docs[d.ID] = true
		}

		if stage.CategoryScored {
			if len(stage.Categories) == 0 {
				return fmt.Errorf("stage %d is category-scored but defines no categories", stage.Number)
			}
			var total float64
			cats := make(map[string]bool)
			for _, c := range stage.Categories {
				if c.Code == "" {
					return fmt.Errorf("stage %d has a category without a code", stage.Number)
				}
				if cats[c.Code] {
					return fmt.Errorf("stage %d has duplicate category code %q", stage.Number, c.Code)
				}
				cats[c.Code] = true
				total += c.Weight
			}
			if total < 99.5 || total > 100.5 {
				return fmt.Errorf("stage %d category weights sum to %.1f, expected 100", stage.Number, total)
			}
		}
	}

	return nil
}
