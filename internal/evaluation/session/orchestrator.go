// Package session coordinates evaluation sessions: it creates the stage
// chain for each contractor, reacts to stage completion, computes the final
// score and runs the reminder sweep.
package session

import (
	"context"
	"fmt"
	"time"

	"compliance-workers/internal/common/config"
	"compliance-workers/internal/common/errors"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/common/metrics"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/notify"
	"compliance-workers/internal/evaluation/scoring"
	"compliance-workers/internal/evaluation/search"
	"compliance-workers/internal/evaluation/store"
	"compliance-workers/internal/evaluation/submission"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const reminderDedupePrefix = "reminder:sent:"

// Notifier dispatches a rendered notification. Failures are advisory.
type Notifier interface {
	Notify(ctx context.Context, recipient notify.Recipient, template string, payload map[string]interface{}) (string, error)
}

// Orchestrator is the top-level evaluation coordinator.
type Orchestrator struct {
	store    *store.Store
	catalog  *catalog.Catalog
	engine   *scoring.Engine
	notifier Notifier
	index    *search.Index
	redis    *redis.Client
	logger   logger.Logger
	reminder config.ReminderConfig
}

func NewOrchestrator(
	st *store.Store,
	cat *catalog.Catalog,
	engine *scoring.Engine,
	notifier Notifier,
	index *search.Index,
	rdb *redis.Client,
	reminder config.ReminderConfig,
	log logger.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    st,
		catalog:  cat,
		engine:   engine,
		notifier: notifier,
		index:    index,
		redis:    rdb,
		logger:   log.WithFields(map[string]interface{}{"component": "orchestrator"}),
		reminder: reminder,
	}
}

// StartInput is the start-process request.
type StartInput struct {
	TenantID      string
	ContractorIDs []string
	Cycle         int
	CustomMessage string
}

// ContractorOutcome is the per-contractor result of a session start.
type ContractorOutcome struct {
	ContractorID string `json:"contractorId"`
	SubmissionID string `json:"submissionId,omitempty"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

// StartResult is returned synchronously from StartSession.
type StartResult struct {
	SessionID string              `json:"sessionId"`
	Cycle     int                 `json:"cycle"`
	Outcomes  []ContractorOutcome `json:"outcomes"`
}

// StartSession creates an evaluation session and the stage-1 draft for every
// contractor. Creation per contractor is independent: one failure never rolls
// back the others, and the caller receives a per-contractor outcome list.
func (o *Orchestrator) StartSession(ctx context.Context, input StartInput) (*StartResult, error) {
	if input.TenantID == "" {
		return nil, errors.NewMissingTenantError()
	}
	if len(input.ContractorIDs) == 0 {
		return nil, errors.NewEmptyContractorSetError()
	}

	cycle := input.Cycle
	if cycle == 0 {
		next, err := o.store.NextCycleNumber(ctx, input.TenantID)
		if err != nil {
			return nil, err
		}
		cycle = next
	}

	session := &store.Session{
		ID:            uuid.New().String(),
		TenantID:      input.TenantID,
		Cycle:         cycle,
		CustomMessage: input.CustomMessage,
		CreatedAt:     time.Now().UTC(),
	}
	if err := o.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	result := &StartResult{SessionID: session.ID, Cycle: cycle}
	for _, contractorID := range input.ContractorIDs {
		outcome := o.startContractor(ctx, session, contractorID, input.CustomMessage)
		result.Outcomes = append(result.Outcomes, outcome)
	}

	o.logger.Info("session started", map[string]interface{}{
		"sessionId":   session.ID,
		"tenantId":    input.TenantID,
		"cycle":       cycle,
		"contractors": len(input.ContractorIDs),
	})
	return result, nil
}

func (o *Orchestrator) startContractor(ctx context.Context, session *store.Session, contractorID, customMessage string) ContractorOutcome {
	contractor, err := o.store.GetContractor(ctx, contractorID)
	if err != nil {
		return ContractorOutcome{ContractorID: contractorID, Status: "failed", Error: "contractor not found"}
	}
	if contractor.TenantID != session.TenantID {
		return ContractorOutcome{ContractorID: contractorID, Status: "failed", Error: "contractor not bound to tenant"}
	}

	if err := o.store.AddSessionContractor(ctx, session.ID, contractorID); err != nil {
		return ContractorOutcome{ContractorID: contractorID, Status: "failed", Error: err.Error()}
	}

	sub, created, err := o.createStageSubmission(ctx, session.ID, contractorID, session.TenantID, 1)
	if err != nil {
		return ContractorOutcome{ContractorID: contractorID, Status: "failed", Error: err.Error()}
	}

	if created {
		o.notifyContractor(ctx, contractor, notify.TemplateInvitation, map[string]interface{}{
			"cycle":         session.Cycle,
			"customMessage": customMessage,
		})
		o.indexSubmission(ctx, session, contractor, sub)
	}

	return ContractorOutcome{ContractorID: contractorID, SubmissionID: sub.ID, Status: "created"}
}

// createStageSubmission builds and persists a submission for the stage, with
// category score rows seeded from the registry. Returns created=false when a
// non-terminal submission for the stage already exists (idempotent no-op),
// along with the existing record.
func (o *Orchestrator) createStageSubmission(ctx context.Context, sessionID, contractorID, tenantID string, stage int) (*submission.StageSubmission, bool, error) {
	stageDef, err := o.catalog.Stage(stage)
	if err != nil {
		return nil, false, err
	}

	sub := &submission.StageSubmission{
		ID:           uuid.New().String(),
		SessionID:    sessionID,
		ContractorID: contractorID,
		TenantID:     tenantID,
		Stage:        stage,
		Status:       submission.InitialStatus(stageDef),
		Answers:      map[string]interface{}{},
		Progress:     0,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	for _, cat := range stageDef.Categories {
		sub.CategoryScores = append(sub.CategoryScores, submission.CategoryScore{
			CategoryCode: cat.Code,
			Scope:        cat.Scope,
			Weight:       cat.Weight,
		})
	}

	created, err := o.store.CreateSubmission(ctx, sub)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := o.store.GetStageSubmission(ctx, sessionID, contractorID, stage)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	metrics.StageTransitions.WithLabelValues(fmt.Sprintf("%d", stage), string(sub.Status)).Inc()
	return sub, true, nil
}

// OnStageCompleted reacts to a stage reaching completed. Delivery is
// at-least-once: re-delivery is a no-op because duplicate stage creation is
// suppressed by the single-non-terminal-submission invariant.
func (o *Orchestrator) OnStageCompleted(ctx context.Context, sessionID, contractorID string, stage int) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	contractor, err := o.store.GetContractor(ctx, contractorID)
	if err != nil {
		return err
	}

	if stage < o.catalog.StageCount() {
		next := stage + 1
		sub, created, err := o.createStageSubmission(ctx, sessionID, contractorID, session.TenantID, next)
		if err != nil {
			return err
		}
		if created {
			o.notifyContractor(ctx, contractor, notify.TemplateNextStageReady, map[string]interface{}{
				"stage": next,
			})
			o.indexSubmission(ctx, session, contractor, sub)
		}
		return nil
	}

	return o.finalizeContractor(ctx, session, contractor)
}

// RecomputeFinal re-runs the final-score computation, used when a supervisor
// re-scores a category on a completed stage.
func (o *Orchestrator) RecomputeFinal(ctx context.Context, sessionID, contractorID string) error {
	session, err := o.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	contractor, err := o.store.GetContractor(ctx, contractorID)
	if err != nil {
		return err
	}
	return o.finalizeContractor(ctx, session, contractor)
}

func (o *Orchestrator) finalizeContractor(ctx context.Context, session *store.Session, contractor *store.Contractor) error {
	stageScores := make(map[int]float64)
	var lastSub *submission.StageSubmission

	for _, stage := range o.engine.ContributingStages() {
		sub, err := o.store.GetStageSubmission(ctx, session.ID, contractor.ID, stage)
		if err != nil {
			return errors.NewScoreIncompleteError(stage, "submission not found")
		}
		if sub.Status != submission.StatusCompleted {
			return errors.NewScoreIncompleteError(stage, "stage not completed")
		}
		score, err := o.engine.StageScore(sub.CategoryScores)
		if err != nil {
			return errors.NewScoreIncompleteError(stage, "categories not fully scored")
		}
		stageScores[stage] = score
		lastSub = sub
	}

	final, err := o.engine.FinalScore(stageScores)
	if err != nil {
		return err
	}
	risk := o.engine.Risk(final)
	now := time.Now().UTC()

	if err := o.store.MarkContractorComplete(ctx, session.ID, contractor.ID, final, risk, ""); err != nil {
		return err
	}
	if err := o.store.UpdateContractorEvaluation(ctx, contractor.ID, final, risk, now); err != nil {
		return err
	}

	metrics.FinalScoresComputed.WithLabelValues(risk).Inc()

	o.notifyContractor(ctx, contractor, notify.TemplateEvaluationCompleted, map[string]interface{}{
		"finalScore": fmt.Sprintf("%.1f", final),
		"risk":       risk,
	})

	if lastSub != nil {
		doc := o.buildDoc(session, contractor, lastSub)
		doc.FinalScore = &final
		doc.Risk = risk
		if err := o.index.Upsert(ctx, doc); err != nil {
			o.logger.Warn("read model update failed", map[string]interface{}{
				"sessionId":    session.ID,
				"contractorId": contractor.ID,
				"error":        err.Error(),
			})
		}
	}

	o.logger.Info("final score computed", map[string]interface{}{
		"sessionId":    session.ID,
		"contractorId": contractor.ID,
		"finalScore":   final,
		"risk":         risk,
	})
	return nil
}

// ReminderResult summarizes a reminder sweep.
type ReminderResult struct {
	Scanned int `json:"scanned"`
	Sent    int `json:"sent"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// SendReminders scans stage-1 drafts older than the configured age and emits
// reminder notifications. Read-only apart from the Redis dedupe markers; a
// draft reminded within the dedupe window is skipped.
func (o *Orchestrator) SendReminders(ctx context.Context) (*ReminderResult, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(o.reminder.DraftAgeHours) * time.Hour)
	drafts, err := o.store.ListStaleStageOneDrafts(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	result := &ReminderResult{Scanned: len(drafts)}
	dedupeTTL := time.Duration(o.reminder.DedupeHours) * time.Hour

	for _, draft := range drafts {
		key := reminderDedupePrefix + draft.SubmissionID
		set, err := o.redis.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), dedupeTTL).Result()
		if err != nil {
			o.logger.Warn("reminder dedupe check failed", map[string]interface{}{
				"submissionId": draft.SubmissionID,
				"error":        err.Error(),
			})
		}
		if err == nil && !set {
			result.Skipped++
			continue
		}

		contractor, err := o.store.GetContractor(ctx, draft.ContractorID)
		if err != nil {
			// Release the marker so the next sweep retries this draft.
			_ = o.redis.Del(ctx, key).Err()
			result.Failed++
			continue
		}

		if _, err := o.notifier.Notify(ctx, recipientFor(contractor), notify.TemplateReminder, map[string]interface{}{
			"createdAt": draft.CreatedAt.Format("2006-01-02"),
		}); err != nil {
			_ = o.redis.Del(ctx, key).Err()
			result.Failed++
			continue
		}
		result.Sent++
	}

	o.logger.Info("reminder sweep finished", map[string]interface{}{
		"scanned": result.Scanned,
		"sent":    result.Sent,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	})
	return result, nil
}

// IndexSubmission refreshes the read model document for a submission.
func (o *Orchestrator) IndexSubmission(ctx context.Context, sub *submission.StageSubmission) error {
	session, err := o.store.GetSession(ctx, sub.SessionID)
	if err != nil {
		return err
	}
	contractor, err := o.store.GetContractor(ctx, sub.ContractorID)
	if err != nil {
		return err
	}
	return o.index.Upsert(ctx, o.buildDoc(session, contractor, sub))
}

func (o *Orchestrator) indexSubmission(ctx context.Context, session *store.Session, contractor *store.Contractor, sub *submission.StageSubmission) {
	if err := o.index.Upsert(ctx, o.buildDoc(session, contractor, sub)); err != nil {
		o.logger.Warn("read model update failed", map[string]interface{}{
			"submissionId": sub.ID,
			"error":        err.Error(),
		})
	}
}

func (o *Orchestrator) buildDoc(session *store.Session, contractor *store.Contractor, sub *submission.StageSubmission) *search.EvaluationDoc {
	return &search.EvaluationDoc{
		SubmissionID:   sub.ID,
		SessionID:      session.ID,
		ContractorID:   contractor.ID,
		ContractorName: contractor.Name,
		TenantID:       session.TenantID,
		Cycle:          session.Cycle,
		Stage:          sub.Stage,
		Status:         string(sub.Status),
		Progress:       sub.Progress,
		UpdatedAt:      sub.UpdatedAt,
		SubmittedAt:    sub.SubmittedAt,
		CompletedAt:    sub.CompletedAt,
	}
}

// notifyContractor dispatches fire-and-forget: a failed send is logged by the
// dispatcher and never fails the transition that emitted it.
func (o *Orchestrator) notifyContractor(ctx context.Context, contractor *store.Contractor, template string, payload map[string]interface{}) {
	if _, err := o.notifier.Notify(ctx, recipientFor(contractor), template, payload); err != nil {
		o.logger.Warn("notification dispatch failed", map[string]interface{}{
			"contractorId": contractor.ID,
			"template":     template,
			"error":        err.Error(),
		})
	}
}

func recipientFor(c *store.Contractor) notify.Recipient {
	return notify.Recipient{
		ContractorID: c.ID,
		Name:         c.Name,
		Email:        c.Email,
		Phone:        c.Phone,
	}
}
