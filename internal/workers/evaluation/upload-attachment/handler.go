// internal/workers/evaluation/upload-attachment/handler.go
package uploadattachment

import (
	"context"
	"encoding/base64"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/attachments"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/store"
	"compliance-workers/internal/evaluation/submission"

	"compliance-workers/pkg/registry"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "evaluation-upload-attachment"
)

type Handler struct {
	config    *Config
	store     *store.Store
	catalog   *catalog.Catalog
	validator *attachments.Validator
	blobStore attachments.BlobStore
	logger    logger.Logger
}

func NewHandler(
	config *Config,
	st *store.Store,
	cat *catalog.Catalog,
	validator *attachments.Validator,
	blobStore attachments.BlobStore,
	log logger.Logger,
) *Handler {
	return &Handler{
		config:    config,
		store:     st,
		catalog:   cat,
		validator: validator,
		blobStore: blobStore,
		logger:    log.WithFields(map[string]interface{}{"taskType": TaskType}),
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

// execute validates the upload against the stage's document checklist and
// upload policy, streams the decoded payload to the blob store and records
// the attachment. Re-uploading a document id replaces the prior attachment.
func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	sub, err := h.store.GetSubmission(ctx, input.SubmissionID)
	if err != nil {
		return nil, err
	}
	if sub.Status.IsTerminal() {
		return nil, errors.NewSubmissionNotEditableError(sub.ID, string(sub.Status))
	}

	docs, err := h.catalog.Documents(sub.Stage)
	if err != nil {
		return nil, err
	}
	var doc *registry.DocumentDefinition
	for i := range docs {
		if docs[i].ID == input.DocumentID {
			doc = &docs[i]
			break
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("stage %d has no document %q", sub.Stage, input.DocumentID)
	}

	decoder := base64.NewDecoder(base64.StdEncoding, strings.NewReader(input.ContentBase64))
	data, size, err := h.validator.ValidateAndRead(*doc, input.ContentType, decoder)
	if err != nil {
		return nil, err
	}

	url, err := h.blobStore.PutAttachment(ctx, sub.ID, input.DocumentID, data, input.ContentType)
	if err != nil {
		return nil, err
	}

	uploadedAt := time.Now().UTC()
	att := submission.Attachment{
		DocumentID:  input.DocumentID,
		Filename:    input.Filename,
		URL:         url,
		ContentType: input.ContentType,
		SizeBytes:   size,
		UploadedAt:  uploadedAt,
	}
	if err := h.store.UpsertAttachment(ctx, sub.ID, att); err != nil {
		return nil, err
	}

	h.logger.Info("attachment uploaded", map[string]interface{}{
		"submissionId": sub.ID,
		"documentId":   input.DocumentID,
		"sizeBytes":    size,
	})

	return &Output{
		SubmissionID: sub.ID,
		DocumentID:   input.DocumentID,
		URL:          url,
		SizeBytes:    size,
		UploadedAt:   uploadedAt.Format(time.RFC3339),
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
