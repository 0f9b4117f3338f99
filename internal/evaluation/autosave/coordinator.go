// Package autosave buffers in-progress answer edits in Redis and flushes
// debounced snapshots to the durable store.
package autosave

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/common/metrics"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/store"
	"compliance-workers/internal/evaluation/submission"

	"github.com/redis/go-redis/v9"
)

const bufferKeyPrefix = "autosave:buffer:"

// Coordinator accepts single-writer answer edits while a submission is in
// draft. Edits land in a Redis hash immediately; a debounce timer flushes the
// buffered snapshot into Postgres once no further edit arrives within the
// quiescence window. Submit must call ForceFlush first so validation never
// races ahead of unsaved edits.
type Coordinator struct {
	redis    *redis.Client
	store    *store.Store
	catalog  *catalog.Catalog
	logger   logger.Logger
	debounce time.Duration
	ttl      time.Duration

	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewCoordinator(rdb *redis.Client, st *store.Store, cat *catalog.Catalog, debounce, ttl time.Duration, log logger.Logger) *Coordinator {
	return &Coordinator{
		redis:    rdb,
		store:    st,
		catalog:  cat,
		logger:   log.WithFields(map[string]interface{}{"component": "autosave"}),
		debounce: debounce,
		ttl:      ttl,
		timers:   make(map[string]*time.Timer),
	}
}

// Edit is one (question, value) change from the authoring user.
type Edit struct {
	QuestionCode string      `json:"questionCode"`
	Value        interface{} `json:"value"`
}

// SaveEdits buffers a batch of edits for a draft submission and (re)arms the
// debounce timer. Each value is validated against the question's answer
// schema before it enters the buffer.
func (c *Coordinator) SaveEdits(ctx context.Context, submissionID string, edits []Edit) error {
	sub, err := c.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if !submission.CanEditAnswers(sub) {
		return errors.NewSubmissionNotEditableError(submissionID, string(sub.Status))
	}

	fields := make(map[string]interface{}, len(edits))
	for _, edit := range edits {
		if err := c.catalog.ValidateAnswer(sub.Stage, edit.QuestionCode, edit.Value); err != nil {
			return errors.NewValidationFailedError([]string{edit.QuestionCode}, nil)
		}
		encoded, err := json.Marshal(edit.Value)
		if err != nil {
			return fmt.Errorf("encode edit value: %w", err)
		}
		fields[edit.QuestionCode] = string(encoded)
	}

	key := bufferKeyPrefix + submissionID
	if err := c.redis.HSet(ctx, key, fields).Err(); err != nil {
		return errors.NewQueryExecutionFailedError("buffer edits", err)
	}
	_ = c.redis.Expire(ctx, key, c.ttl).Err()

	c.armTimer(submissionID)
	return nil
}

// ForceFlush cancels any pending debounce timer and flushes the buffered
// edits synchronously. Safe to call when the buffer is empty.
func (c *Coordinator) ForceFlush(ctx context.Context, submissionID string) error {
	c.disarmTimer(submissionID)
	return c.flush(ctx, submissionID, "force")
}

func (c *Coordinator) armTimer(submissionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timer, ok := c.timers[submissionID]; ok {
		timer.Stop()
	}
	c.timers[submissionID] = time.AfterFunc(c.debounce, func() {
		c.mu.Lock()
		delete(c.timers, submissionID)
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.flush(ctx, submissionID, "debounce"); err != nil {
			c.logger.Error("debounced flush failed", map[string]interface{}{
				"submissionId": submissionID,
				"error":        err.Error(),
			})
		}
	})
}

func (c *Coordinator) disarmTimer(submissionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if timer, ok := c.timers[submissionID]; ok {
		timer.Stop()
		delete(c.timers, submissionID)
	}
}

// flush merges the buffered edits into the durable answer map, recomputes the
// progress percentage and clears the buffer.
func (c *Coordinator) flush(ctx context.Context, submissionID, trigger string) error {
	key := bufferKeyPrefix + submissionID

	buffered, err := c.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return errors.NewQueryExecutionFailedError("read buffer", err)
	}
	if len(buffered) == 0 {
		return nil
	}

	sub, err := c.store.GetSubmission(ctx, submissionID)
	if err != nil {
		return err
	}
	if !submission.CanEditAnswers(sub) {
		// The submission advanced while edits sat in the buffer; drop them.
		_ = c.redis.Del(ctx, key).Err()
		return errors.NewSubmissionNotEditableError(submissionID, string(sub.Status))
	}

	answers := sub.Answers
	if answers == nil {
		answers = map[string]interface{}{}
	}
	for code, encoded := range buffered {
		var value interface{}
		if err := json.Unmarshal([]byte(encoded), &value); err != nil {
			c.logger.Warn("dropping undecodable buffered edit", map[string]interface{}{
				"submissionId": submissionID,
				"questionCode": code,
			})
			continue
		}
		answers[code] = value
	}

	progress, err := c.catalog.Progress(sub.Stage, answers)
	if err != nil {
		return err
	}

	if err := c.store.UpdateAnswers(ctx, submissionID, answers, progress); err != nil {
		return err
	}

	// Remove only the fields this flush read. An edit that landed after the
	// HGetAll stays buffered for the next flush instead of being dropped.
	flushed := make([]string, 0, len(buffered))
	for code := range buffered {
		flushed = append(flushed, code)
	}
	if err := c.redis.HDel(ctx, key, flushed...).Err(); err != nil {
		c.logger.Warn("failed to clear autosave buffer", map[string]interface{}{
			"submissionId": submissionID,
			"error":        err.Error(),
		})
	}

	metrics.AutosaveFlushes.WithLabelValues(trigger).Inc()
	c.logger.Debug("autosave flushed", map[string]interface{}{
		"submissionId": submissionID,
		"trigger":      trigger,
		"edits":        len(buffered),
		"progress":     progress,
	})
	return nil
}

// PendingEditCount reports how many edits sit in the buffer, for reads that
// want to surface unsaved state.
func (c *Coordinator) PendingEditCount(ctx context.Context, submissionID string) (int64, error) {
	return c.redis.HLen(ctx, bufferKeyPrefix+submissionID).Result()
}
