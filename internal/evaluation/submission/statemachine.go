// internal/evaluation/submission/statemachine.go
package submission

import (
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/catalog"

	"compliance-workers/pkg/registry"
)

// StateMachine owns the draft -> submitted -> under_review -> completed
// lifecycle of a stage submission and the role and validation gates on each
// transition. It mutates the in-memory record; persistence is the caller's job.
type StateMachine struct {
	catalog *catalog.Catalog
	logger  logger.Logger
}

func NewStateMachine(cat *catalog.Catalog, log logger.Logger) *StateMachine {
	return &StateMachine{
		catalog: cat,
		logger:  log.WithFields(map[string]interface{}{"component": "stateMachine"}),
	}
}

// InitialStatus returns the state a freshly created submission starts in:
// draft for self-authored stages, under_review for supervisor-scored stages.
func InitialStatus(stage registry.StageDefinition) Status {
	if stage.HasDraftPhase {
		return StatusDraft
	}
	return StatusUnderReview
}

var allowedTransitions = map[Status][]Status{
	StatusDraft:       {StatusSubmitted},
	StatusSubmitted:   {StatusUnderReview, StatusCompleted},
	StatusUnderReview: {StatusCompleted},
	StatusCompleted:   {},
}

func canTransition(from, to Status) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Submit moves a draft submission forward. The gate requires the stage's
// authoring role, every required question answered and every required
// document attached. Stages without a review phase complete immediately;
// review stages land in under_review the instant submitted is reached.
func (m *StateMachine) Submit(sub *StageSubmission, callerRole string, missingDocuments []string) error {
	stage, err := m.catalog.Stage(sub.Stage)
	if err != nil {
		return errors.NewSubmissionNotFoundError(sub.ID)
	}

	if !canTransition(sub.Status, StatusSubmitted) {
		return errors.NewInvalidTransitionError(string(sub.Status), string(StatusSubmitted))
	}

	if callerRole != stage.AuthoringRole {
		return errors.NewRoleNotAllowedError(stage.AuthoringRole, callerRole)
	}

	missingQuestions, err := m.catalog.MissingRequiredQuestions(sub.Stage, sub.Answers)
	if err != nil {
		return errors.NewSubmissionNotFoundError(sub.ID)
	}

	if len(missingQuestions) > 0 || len(missingDocuments) > 0 {
		return errors.NewValidationFailedError(missingQuestions, missingDocuments)
	}

	now := time.Now().UTC()
	sub.Status = StatusSubmitted
	sub.SubmittedAt = &now
	sub.UpdatedAt = now

	if stage.RequiresReview {
		sub.Status = StatusUnderReview
	} else {
		sub.Status = StatusCompleted
		sub.CompletedAt = &now
	}

	m.logger.Info("submission advanced", map[string]interface{}{
		"submissionId": sub.ID,
		"stage":        sub.Stage,
		"status":       string(sub.Status),
	})

	return nil
}

// CompleteReview moves an under_review submission to completed. Only the
// supervisor role may complete a review. Category-scored stages require every
// category to carry a human-selected level; answer-gated stages require every
// required question answered.
func (m *StateMachine) CompleteReview(sub *StageSubmission, callerRole string) error {
	stage, err := m.catalog.Stage(sub.Stage)
	if err != nil {
		return errors.NewSubmissionNotFoundError(sub.ID)
	}

	if !canTransition(sub.Status, StatusCompleted) || sub.Status == StatusSubmitted {
		return errors.NewInvalidTransitionError(string(sub.Status), string(StatusCompleted))
	}

	if callerRole != catalog.RoleSupervisor {
		return errors.NewRoleNotAllowedError(catalog.RoleSupervisor, callerRole)
	}

	if stage.CategoryScored {
		if unscored := sub.UnscoredCategories(); len(unscored) > 0 {
			return errors.NewIncompleteScoringError(unscored)
		}
	} else {
		missing, err := m.catalog.MissingRequiredQuestions(sub.Stage, sub.Answers)
		if err != nil {
			return errors.NewSubmissionNotFoundError(sub.ID)
		}
		if len(missing) > 0 {
			return errors.NewValidationFailedError(missing, nil)
		}
	}

	now := time.Now().UTC()
	sub.Status = StatusCompleted
	sub.CompletedAt = &now
	sub.UpdatedAt = now

	m.logger.Info("review completed", map[string]interface{}{
		"submissionId": sub.ID,
		"stage":        sub.Stage,
	})

	return nil
}

// CanEditAnswers reports whether answer edits are accepted for the submission.
func CanEditAnswers(sub *StageSubmission) bool {
	return sub.Status == StatusDraft
}

// CanEditCategoryScores reports whether a supervisor may set category levels.
// Scores are editable while the stage is under review and stay editable after
// completion (re-scoring), which invalidates any downstream final score.
func CanEditCategoryScores(sub *StageSubmission) bool {
	return sub.Status == StatusUnderReview || sub.Status == StatusCompleted
}
