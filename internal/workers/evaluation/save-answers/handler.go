// internal/workers/evaluation/save-answers/handler.go
package saveanswers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/autosave"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "evaluation-save-answers"
)

type Handler struct {
	config   *Config
	autosave *autosave.Coordinator
	logger   logger.Logger
}

func NewHandler(config *Config, coordinator *autosave.Coordinator, log logger.Logger) *Handler {
	return &Handler{
		config:   config,
		autosave: coordinator,
		logger:   log.WithFields(map[string]interface{}{"taskType": TaskType}),
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

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input.SubmissionID == "" {
		return nil, errors.NewSubmissionNotFoundError("")
	}
	if len(input.Edits) == 0 {
		return &Output{
			SubmissionID: input.SubmissionID,
			Buffered:     0,
			SaveStatus:   "noop",
		}, nil
	}

	if err := h.autosave.SaveEdits(ctx, input.SubmissionID, input.Edits); err != nil {
		return nil, err
	}

	h.logger.Debug("answer edits buffered", map[string]interface{}{
		"submissionId": input.SubmissionID,
		"edits":        len(input.Edits),
	})

	return &Output{
		SubmissionID: input.SubmissionID,
		Buffered:     len(input.Edits),
		SaveStatus:   "buffered",
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
