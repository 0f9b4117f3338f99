// Package scoring computes weighted stage scores, the final compliance score
// and the risk classification, and merges advisory AI suggestions.
package scoring

import (
	"fmt"
	"sort"
	"time"

	"compliance-workers/internal/common/config"
	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/evaluation/submission"
)

// Discrete score levels a supervisor can select for a category.
var ValidLevels = []int{0, 3, 6, 10}

// IsValidLevel reports whether a level is on the discrete scale.
func IsValidLevel(level int) bool {
	for _, l := range ValidLevels {
		if level == l {
			return true
		}
	}
	return false
}

// Risk classification bands.
const (
	RiskGreen  = "green"
	RiskYellow = "yellow"
	RiskRed    = "red"
)

// Suggestion is one AI-proposed category level with its rationale.
type Suggestion struct {
	CategoryCode   string `json:"categoryCode"`
	SuggestedLevel int    `json:"suggestedLevel"`
	Reasoning      string `json:"reasoning"`
}

// Engine holds the tenant-level scoring policy: which stages contribute to
// the final score, with what weight, and the risk thresholds. All scores are
// on a 0-100 scale.
type Engine struct {
	stageWeights map[int]float64
	greenMin     float64
	yellowMin    float64
}

func NewEngine(cfg config.EvaluationConfig) *Engine {
	weights := make(map[int]float64, len(cfg.Final.StageWeights))
	for stage, w := range cfg.Final.StageWeights {
		weights[stage] = w
	}
	return &Engine{
		stageWeights: weights,
		greenMin:     cfg.Risk.GreenMin,
		yellowMin:    cfg.Risk.YellowMin,
	}
}

// ContributingStages returns the stage numbers that factor into the final
// score, in ascending order.
func (e *Engine) ContributingStages() []int {
	stages := make([]int, 0, len(e.stageWeights))
	for stage := range e.stageWeights {
		stages = append(stages, stage)
	}
	sort.Ints(stages)
	return stages
}

// StageScore computes the weighted category score for one stage on the 0-100
// scale: sum(weight/100 * level) * 10 with levels in {0,3,6,10}. Every
// category must carry a human-selected level.
func (e *Engine) StageScore(scores []submission.CategoryScore) (float64, error) {
	if len(scores) == 0 {
		return 0, errors.NewIncompleteScoringError(nil)
	}

	var unscored []string
	var total float64
	for _, cs := range scores {
		if cs.Level == nil {
			unscored = append(unscored, cs.CategoryCode)
			continue
		}
		if !IsValidLevel(*cs.Level) {
			return 0, errors.NewInvalidScoreLevelError(*cs.Level)
		}
		total += cs.Weight / 100 * float64(*cs.Level)
	}
	if len(unscored) > 0 {
		return 0, errors.NewIncompleteScoringError(unscored)
	}

	score := total * 10
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}

// FinalScore combines the contributing stage scores per the configured stage
// weights. A missing contributing stage yields ScoreIncomplete, never a
// zero-filled default.
func (e *Engine) FinalScore(stageScores map[int]float64) (float64, error) {
	var final float64
	for stage, weight := range e.stageWeights {
		score, ok := stageScores[stage]
		if !ok {
			return 0, errors.NewScoreIncompleteError(stage, "stage score not available")
		}
		final += weight * score
	}
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	return final, nil
}

// Risk classifies a final score against the configured thresholds.
func (e *Engine) Risk(finalScore float64) string {
	switch {
	case finalScore >= e.greenMin:
		return RiskGreen
	case finalScore >= e.yellowMin:
		return RiskYellow
	default:
		return RiskRed
	}
}

// SetLevel applies a supervisor's level selection to the matching category.
// The level must be on the discrete scale.
func SetLevel(scores []submission.CategoryScore, categoryCode string, level int, scoredBy string) error {
	if !IsValidLevel(level) {
		return errors.NewInvalidScoreLevelError(level)
	}

	for i := range scores {
		if scores[i].CategoryCode == categoryCode {
			now := time.Now().UTC()
			scores[i].Level = &level
			scores[i].ScoredBy = scoredBy
			scores[i].ScoredAt = &now
			return nil
		}
	}

	return fmt.Errorf("unknown category %q", categoryCode)
}

// MergeSuggestions applies AI suggestions onto the category scores.
// Suggestions are advisory: a category whose level was already selected by a
// human is left untouched, including its prior suggestion fields.
func MergeSuggestions(scores []submission.CategoryScore, suggestions []Suggestion) []submission.CategoryScore {
	byCode := make(map[string]Suggestion, len(suggestions))
	for _, s := range suggestions {
		byCode[s.CategoryCode] = s
	}

	for i := range scores {
		if scores[i].Level != nil {
			continue
		}
		s, ok := byCode[scores[i].CategoryCode]
		if !ok || !IsValidLevel(s.SuggestedLevel) {
			continue
		}
		level := s.SuggestedLevel
		scores[i].AISuggestedLevel = &level
		scores[i].AIReasoning = s.Reasoning
	}

	return scores
}
