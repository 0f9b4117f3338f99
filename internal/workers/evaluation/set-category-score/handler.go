// internal/workers/evaluation/set-category-score/handler.go
package setcategoryscore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/scoring"
	"compliance-workers/internal/evaluation/session"
	"compliance-workers/internal/evaluation/store"
	"compliance-workers/internal/evaluation/submission"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "evaluation-set-category-score"
)

type Handler struct {
	config       *Config
	store        *store.Store
	orchestrator *session.Orchestrator
	logger       logger.Logger
}

func NewHandler(config *Config, st *store.Store, orchestrator *session.Orchestrator, log logger.Logger) *Handler {
	return &Handler{
		config:       config,
		store:        st,
		orchestrator: orchestrator,
		logger:       log.WithFields(map[string]interface{}{"taskType": TaskType}),
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.failJob(client, job, "PARSE_ERROR", fmt.Sprintf("parse input: %v", err), 0)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	output, err := h.execute(ctx, &input)
	if err != nil {
		code, retries := mapError(err)
		h.failJob(client, job, code, err.Error(), retries)
		return
	}

	h.completeJob(client, job, output)
}

// execute records a supervisor's level selection for one category. Setting a
// level on an already-completed stage is a re-score and triggers a final
// score recomputation for the contractor.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	sub, err := h.store.GetSubmission(ctx, input.SubmissionID)
	if err != nil {
		return nil, err
	}

	if input.CallerRole != catalog.RoleSupervisor {
		return nil, errors.NewRoleNotAllowedError(catalog.RoleSupervisor, input.CallerRole)
	}
	if !submission.CanEditCategoryScores(sub) {
		return nil, errors.NewSubmissionNotEditableError(sub.ID, string(sub.Status))
	}

	if err := scoring.SetLevel(sub.CategoryScores, input.CategoryCode, input.Level, input.UserID); err != nil {
		return nil, err
	}

	scoredAt := time.Now().UTC()
	if err := h.store.SetCategoryLevel(ctx, sub.ID, input.CategoryCode, input.Level, input.UserID, scoredAt); err != nil {
		return nil, err
	}

	rescored := sub.Status == submission.StatusCompleted
	if rescored {
		if err := h.orchestrator.RecomputeFinal(ctx, sub.SessionID, sub.ContractorID); err != nil {
			h.logger.Warn("final score recompute deferred", map[string]interface{}{
				"submissionId": sub.ID,
				"error":        err.Error(),
			})
		}
	}

	h.logger.Info("category level set", map[string]interface{}{
		"submissionId": sub.ID,
		"categoryCode": input.CategoryCode,
		"level":        input.Level,
		"rescored":     rescored,
	})

	return &Output{
		SubmissionID: sub.ID,
		CategoryCode: input.CategoryCode,
		Level:        input.Level,
		ScoredAt:     scoredAt.Format(time.RFC3339),
		Rescored:     rescored,
	}, nil
}

func mapError(err error) (string, int32) {
	var stdErr *errors.StandardError
	if stderrors.As(err, &stdErr) {
		return string(stdErr.Code), int32(errors.GetRetryCount(stdErr.Code))
	}
	return "UNKNOWN_ERROR", 0
}

func (h *Handler) completeJob(client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err,
		})
		return
	}
	_, err = cmd.Send(context.Background())
	if err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err,
		})
	} else {
		h.logger.Info("job completed successfully", map[string]interface{}{
			"jobKey": job.Key,
		})
	}
}

func (h *Handler) failJob(client worker.JobClient, job entities.Job, errorCode, errorMessage string, retries int32) {
	h.logger.Error("job failed", map[string]interface{}{
		"jobKey":       job.Key,
		"errorCode":    errorCode,
		"errorMessage": errorMessage,
		"retries":      retries,
	})

	_, err := client.NewThrowErrorCommand().
		JobKey(job.Key).
		ErrorCode(errorCode).
		ErrorMessage(errorMessage).
		Send(context.Background())
	if err != nil {
		h.logger.Error("failed to throw error", map[string]interface{}{
			"error": err,
		})
	}
}

func (h *Handler) Execute(ctx context.Context, input *Input) (*Output, error) {
	return h.execute(ctx, input)
}
