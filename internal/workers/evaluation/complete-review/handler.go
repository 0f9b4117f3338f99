// internal/workers/evaluation/complete-review/handler.go
package completereview

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/common/metrics"
	"compliance-workers/internal/evaluation/session"
	"compliance-workers/internal/evaluation/store"
	"compliance-workers/internal/evaluation/submission"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "evaluation-complete-review"
)

type Handler struct {
	config       *Config
	store        *store.Store
	stateMachine *submission.StateMachine
	orchestrator *session.Orchestrator
	logger       logger.Logger
}

func NewHandler(
	config *Config,
	st *store.Store,
	sm *submission.StateMachine,
	orchestrator *session.Orchestrator,
	log logger.Logger,
) *Handler {
	return &Handler{
		config:       config,
		store:        st,
		stateMachine: sm,
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

// execute completes a supervisor review and hands the finished stage to the
// session orchestrator, which either opens the next stage or computes the
// contractor's final score.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	sub, err := h.store.GetSubmission(ctx, input.SubmissionID)
	if err != nil {
		return nil, err
	}

	if sub.Status == submission.StatusCompleted {
		// Redelivered job: the status write already landed on an earlier
		// delivery that died before its side effects finished. Replaying
		// OnStageCompleted is idempotent and resumes the stage chain.
		if err := h.orchestrator.OnStageCompleted(ctx, sub.SessionID, sub.ContractorID, sub.Stage); err != nil {
			return nil, err
		}
		h.logger.Info("replayed completion side effects", map[string]interface{}{
			"submissionId": sub.ID,
			"stage":        sub.Stage,
		})
		return newOutput(sub), nil
	}

	if err := h.stateMachine.CompleteReview(sub, input.CallerRole); err != nil {
		return nil, err
	}

	if err := h.store.UpdateStatus(ctx, sub); err != nil {
		return nil, err
	}
	metrics.StageTransitions.WithLabelValues(fmt.Sprintf("%d", sub.Stage), string(sub.Status)).Inc()

	if err := h.orchestrator.OnStageCompleted(ctx, sub.SessionID, sub.ContractorID, sub.Stage); err != nil {
		return nil, err
	}

	h.logger.Info("review completed", map[string]interface{}{
		"submissionId": sub.ID,
		"stage":        sub.Stage,
	})

	return newOutput(sub), nil
}

func newOutput(sub *submission.StageSubmission) *Output {
	output := &Output{
		SubmissionID: sub.ID,
		Stage:        sub.Stage,
		Status:       string(sub.Status),
	}
	if sub.CompletedAt != nil {
		output.CompletedAt = sub.CompletedAt.UTC().Format(time.RFC3339)
	}
	return output
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
