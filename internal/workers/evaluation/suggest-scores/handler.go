// internal/workers/evaluation/suggest-scores/handler.go
package suggestscores

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/ai"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/scoring"
	"compliance-workers/internal/evaluation/store"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "evaluation-suggest-scores"
)

type Handler struct {
	config      *Config
	store       *store.Store
	catalog     *catalog.Catalog
	suggestions ai.SuggestionService
	logger      logger.Logger
}

func NewHandler(config *Config, st *store.Store, cat *catalog.Catalog, suggestions ai.SuggestionService, log logger.Logger) *Handler {
	return &Handler{
		config:      config,
		store:       st,
		catalog:     cat,
		suggestions: suggestions,
		logger:      log.WithFields(map[string]interface{}{"taskType": TaskType}),
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

// execute fetches advisory score suggestions from the external service and
// merges them onto the submission's categories. Categories already scored by
// a human are never touched, in memory or in the database.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	sub, err := h.store.GetSubmission(ctx, input.SubmissionID)
	if err != nil {
		return nil, err
	}

	stage, err := h.catalog.Stage(sub.Stage)
	if err != nil {
		return nil, err
	}
	if !stage.CategoryScored {
		return nil, fmt.Errorf("stage %d carries no category scores", sub.Stage)
	}

	req := &ai.SuggestRequest{
		SubmissionID: sub.ID,
		Stage:        sub.Stage,
		Answers:      sub.Answers,
	}
	for _, cs := range sub.CategoryScores {
		req.Categories = append(req.Categories, ai.CategoryContext{
			Code:   cs.CategoryCode,
			Scope:  cs.Scope,
			Weight: cs.Weight,
		})
	}

	resp, err := h.suggestions.SuggestScores(ctx, req)
	if err != nil {
		return nil, err
	}

	merged := scoring.MergeSuggestions(sub.CategoryScores, resp.Suggestions)

	applied := 0
	for _, cs := range merged {
		if cs.Level != nil || cs.AISuggestedLevel == nil {
			continue
		}
		if err := h.store.UpdateSuggestion(ctx, sub.ID, cs.CategoryCode, *cs.AISuggestedLevel, cs.AIReasoning); err != nil {
			return nil, err
		}
		applied++
	}

	if resp.Summary != "" {
		if err := h.store.UpdateAISummary(ctx, sub.SessionID, sub.ContractorID, resp.Summary); err != nil {
			h.logger.Warn("ai summary not persisted", map[string]interface{}{
				"submissionId": sub.ID,
				"error":        err.Error(),
			})
		}
	}

	h.logger.Info("score suggestions merged", map[string]interface{}{
		"submissionId": sub.ID,
		"suggestions":  len(resp.Suggestions),
		"applied":      applied,
	})

	return &Output{
		SubmissionID: sub.ID,
		Suggestions:  resp.Suggestions,
		Summary:      resp.Summary,
		Applied:      applied,
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
