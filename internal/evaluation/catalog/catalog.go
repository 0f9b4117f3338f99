// Package catalog exposes the versioned form registry (stages, questions,
// weighted categories, document checklists) to the evaluation core.
package catalog

import (
	"fmt"
	"sort"

	"compliance-workers/pkg/registry"

	"github.com/xeipuuv/gojsonschema"
)

// Roles that author or review stages.
const (
	RoleContractorAdmin = "contractor_admin"
	RoleSupervisor      = "supervisor"
)

type Catalog struct {
	stages map[int]registry.StageDefinition
}

// Load reads the form registry from disk and wraps it in a Catalog.
func Load(path string) (*Catalog, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load form registry: %w", err)
	}
	return New(reg), nil
}

// New builds a Catalog from an already-validated registry.
func New(reg *registry.FormRegistry) *Catalog {
	stages := make(map[int]registry.StageDefinition, len(reg.Stages))
	for _, s := range reg.Stages {
		stages[s.Number] = s
	}
	return &Catalog{stages: stages}
}

// StageCount returns the number of stages in the pipeline.
func (c *Catalog) StageCount() int {
	return len(c.stages)
}

// Stage returns the definition for a stage number.
func (c *Catalog) Stage(number int) (registry.StageDefinition, error) {
	s, ok := c.stages[number]
	if !ok {
		return registry.StageDefinition{}, fmt.Errorf("unknown stage %d", number)
	}
	return s, nil
}

// ListQuestions returns the questionnaire items for a stage.
func (c *Catalog) ListQuestions(stage int) ([]registry.QuestionDefinition, error) {
	s, err := c.Stage(stage)
	if err != nil {
		return nil, err
	}
	return s.Questions, nil
}

// Documents returns the document checklist for a stage.
func (c *Catalog) Documents(stage int) ([]registry.DocumentDefinition, error) {
	s, err := c.Stage(stage)
	if err != nil {
		return nil, err
	}
	return s.Documents, nil
}

// Categories returns the weighted K2 categories for a stage.
func (c *Catalog) Categories(stage int) ([]registry.CategoryDefinition, error) {
	s, err := c.Stage(stage)
	if err != nil {
		return nil, err
	}
	return s.Categories, nil
}

// AuthoringRole returns the role allowed to author a stage.
func (c *Catalog) AuthoringRole(stage int) (string, error) {
	s, err := c.Stage(stage)
	if err != nil {
		return "", err
	}
	return s.AuthoringRole, nil
}

// MissingRequiredQuestions returns the codes of required questions without a
// non-empty answer, sorted for stable error output.
func (c *Catalog) MissingRequiredQuestions(stage int, answers map[string]interface{}) ([]string, error) {
	s, err := c.Stage(stage)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, q := range s.Questions {
		if !q.Required {
			continue
		}
		if isEmptyAnswer(answers[q.Code]) {
			missing = append(missing, q.Code)
		}
	}
	sort.Strings(missing)
	return missing, nil
}

// RequiredQuestionCount returns the number of required questions for a stage.
func (c *Catalog) RequiredQuestionCount(stage int) (int, error) {
	s, err := c.Stage(stage)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, q := range s.Questions {
		if q.Required {
			count++
		}
	}
	return count, nil
}

// Progress computes answered-required / total-required as a percentage.
// A stage with no required questions reports 100.
func (c *Catalog) Progress(stage int, answers map[string]interface{}) (float64, error) {
	total, err := c.RequiredQuestionCount(stage)
	if err != nil {
		return 0, err
	}
	if total == 0 {
		return 100, nil
	}

	missing, err := c.MissingRequiredQuestions(stage, answers)
	if err != nil {
		return 0, err
	}
	answered := total - len(missing)
	return float64(answered) / float64(total) * 100, nil
}

// ValidateAnswer checks an answer value against the question's JSON schema,
// when the registry defines one. Questions without a schema accept any value.
func (c *Catalog) ValidateAnswer(stage int, questionCode string, value interface{}) error {
	s, err := c.Stage(stage)
	if err != nil {
		return err
	}

	var question *registry.QuestionDefinition
	for i := range s.Questions {
		if s.Questions[i].Code == questionCode {
			question = &s.Questions[i]
			break
		}
	}
	if question == nil {
		return fmt.Errorf("stage %d has no question %q", stage, questionCode)
	}

	if len(question.AnswerSchema) == 0 {
		return nil
	}

	schemaLoader := gojsonschema.NewGoLoader(question.AnswerSchema)
	documentLoader := gojsonschema.NewGoLoader(value)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("answer validation error: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, len(result.Errors()))
		for i, desc := range result.Errors() {
			errs[i] = desc.String()
		}
		return fmt.Errorf("answer for %q rejected: %v", questionCode, errs)
	}

	return nil
}

func isEmptyAnswer(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []interface{}:
		return len(val) == 0
	case map[string]interface{}:
		return len(val) == 0
	default:
		return false
	}
}
