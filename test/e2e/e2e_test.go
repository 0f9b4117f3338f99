// test/e2e/e2e_test.go
//
// End-to-end tests for the evaluation pipeline against real infrastructure
// (PostgreSQL, Redis, Elasticsearch). The workers are driven through their
// Execute entrypoints, so no Zeebe broker is required.
//
// Requires the migrations under migrations/ to be applied. Enable with:
//
//	E2E_TESTS=true go test ./test/e2e/...
package e2e

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"compliance-workers/internal/common/config"
	"compliance-workers/internal/common/database"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/evaluation/attachments"
	"compliance-workers/internal/evaluation/autosave"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/notify"
	"compliance-workers/internal/evaluation/scoring"
	"compliance-workers/internal/evaluation/search"
	"compliance-workers/internal/evaluation/session"
	"compliance-workers/internal/evaluation/store"
	"compliance-workers/internal/evaluation/submission"

	cr "compliance-workers/internal/workers/evaluation/complete-review"
	gs "compliance-workers/internal/workers/evaluation/get-submission"
	le "compliance-workers/internal/workers/evaluation/list-evaluations"
	sa "compliance-workers/internal/workers/evaluation/save-answers"
	sr "compliance-workers/internal/workers/evaluation/send-reminders"
	scs "compliance-workers/internal/workers/evaluation/set-category-score"
	ss "compliance-workers/internal/workers/evaluation/start-session"
	sgs "compliance-workers/internal/workers/evaluation/submit-stage"

	"compliance-workers/pkg/registry"
)

var (
	pg       *database.PostgresClient
	redisCli *database.RedisClient
	esCli    *database.ElasticsearchClient
	zapLog   *zap.Logger
	log      logger.Logger
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func TestMain(m *testing.M) {
	if os.Getenv("E2E_TESTS") != "true" {
		fmt.Println("Skipping e2e tests (set E2E_TESTS=true to run)")
		os.Exit(0)
	}

	zapLog, _ = zap.NewProduction()
	log = logger.NewZapAdapter(zapLog)

	var err error
	pg, err = database.NewPostgres(config.PostgresConfig{
		Host:     envOr("E2E_PG_HOST", "localhost"),
		Port:     5432,
		Database: envOr("E2E_PG_DATABASE", "compliance"),
		User:     envOr("E2E_PG_USER", "postgres"),
		Password: envOr("E2E_PG_PASSWORD", "postgres"),
		SSLMode:  "disable",
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}

	redisCli, err = database.NewRedis(config.RedisConfig{
		Address: envOr("E2E_REDIS_ADDR", "localhost:6379"),
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to Redis: %v", err))
	}

	esCli, err = database.NewElasticsearch(config.ElasticsearchConfig{
		Addresses: []string{envOr("E2E_ES_URL", "http://localhost:9200")},
		Index:     "evaluations-e2e",
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to connect to Elasticsearch: %v", err))
	}

	code := m.Run()

	pg.Close()
	redisCli.Close()
	os.Exit(code)
}

// ==========================
// Fixtures
// ==========================

type recordingNotifier struct {
	templates []string
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient notify.Recipient, template string, payload map[string]interface{}) (string, error) {
	n.templates = append(n.templates, template)
	return uuid.NewString(), nil
}

// Two-stage cycle: a contractor self-assessment draft followed by a
// supervisor review, each carrying one scoring category.
func e2eCatalog() *catalog.Catalog {
	return catalog.New(&registry.FormRegistry{
		Version: "e2e",
		Stages: []registry.StageDefinition{
			{
				Number:         1,
				FormCode:       "FRM32",
				AuthoringRole:  catalog.RoleContractorAdmin,
				HasDraftPhase:  true,
				CategoryScored: true,
				Questions: []registry.QuestionDefinition{
					{Code: "q_policy", Required: true, AnswerSchema: map[string]interface{}{"type": "boolean"}},
					{Code: "q_notes"},
				},
				Categories: []registry.CategoryDefinition{{Code: "k2_self", Weight: 100}},
			},
			{
				Number:         2,
				FormCode:       "FRM35",
				AuthoringRole:  catalog.RoleSupervisor,
				RequiresReview: true,
				CategoryScored: true,
				Categories: []registry.CategoryDefinition{{Code: "k2_final", Weight: 100}},
			},
		},
	})
}

type pipeline struct {
	startSession  *ss.Handler
	saveAnswers   *sa.Handler
	getSubmission *gs.Handler
	submitStage   *sgs.Handler
	setScore      *scs.Handler
	review        *cr.Handler
	list          *le.Handler
	reminders     *sr.Handler
	notifier      *recordingNotifier
}

func buildPipeline(t *testing.T) *pipeline {
	t.Helper()

	cat := e2eCatalog()
	st := store.New(pg.DB, log)
	stateMachine := submission.NewStateMachine(cat, log)
	index := search.NewIndex(esCli.Client, "evaluations-e2e", log)

	var evalCfg config.EvaluationConfig
	evalCfg.Final.StageWeights = map[int]float64{1: 0.5, 2: 0.5}
	evalCfg.Risk.GreenMin = 75
	evalCfg.Risk.YellowMin = 50
	evalCfg.Upload.MaxSizeBytes = 10 << 20
	engine := scoring.NewEngine(evalCfg)

	notifier := &recordingNotifier{}
	orchestrator := session.NewOrchestrator(
		st, cat, engine, notifier, index, redisCli.Client,
		config.ReminderConfig{DraftAgeHours: 72, DedupeHours: 24}, log,
	)

	coordinator := autosave.NewCoordinator(
		redisCli.Client, st, cat, 50*time.Millisecond, time.Hour, log,
	)
	uploadValidator := attachments.NewValidator(evalCfg.Upload)

	return &pipeline{
		startSession:  ss.NewHandler(ss.LoadConfig(), orchestrator, log),
		saveAnswers:   sa.NewHandler(sa.LoadConfig(), coordinator, log),
		getSubmission: gs.NewHandler(gs.LoadConfig(), st, coordinator, log),
		submitStage:   sgs.NewHandler(sgs.LoadConfig(), st, coordinator, stateMachine, uploadValidator, cat, orchestrator, log),
		setScore:      scs.NewHandler(scs.LoadConfig(), st, orchestrator, log),
		review:        cr.NewHandler(cr.LoadConfig(), st, stateMachine, orchestrator, log),
		list:          le.NewHandler(le.LoadConfig(), index, log),
		reminders:     sr.NewHandler(sr.LoadConfig(), orchestrator, log),
		notifier:      notifier,
	}
}

func insertContractor(t *testing.T, tenantID string) string {
	t.Helper()
	id := uuid.NewString()
	_, err := pg.DB.Exec(
		`INSERT INTO contractors (id, tenant_id, name, email, phone, status) VALUES ($1, $2, $3, $4, $5, 'active')`,
		id, tenantID, "Acme Scaffolding", "safety@acme.example", "",
	)
	require.NoError(t, err)
	return id
}

// ==========================
// Full Pipeline
// ==========================

func TestEvaluationPipelineE2E(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	p := buildPipeline(t)
	tenantID := uuid.NewString()
	contractorID := insertContractor(t, tenantID)

	// 1. Start a session: stage 1 opens as a draft and the invitation goes out.
	started, err := p.startSession.Execute(ctx, &ss.Input{
		TenantID:      tenantID,
		ContractorIDs: []string{contractorID},
		CustomMessage: "Annual safety review",
	})
	require.NoError(t, err)
	require.Len(t, started.Outcomes, 1)
	require.Equal(t, "created", started.Outcomes[0].Status)
	stageOneID := started.Outcomes[0].SubmissionID
	require.NotEmpty(t, stageOneID)
	assert.Contains(t, p.notifier.templates, notify.TemplateInvitation)

	// 2. Buffer answers; they stay in Redis until flushed.
	saved, err := p.saveAnswers.Execute(ctx, &sa.Input{
		SubmissionID: stageOneID,
		Edits: []autosave.Edit{
			{QuestionCode: "q_policy", Value: true},
			{QuestionCode: "q_notes", Value: "reviewed on site"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, saved.Buffered)

	got, err := p.getSubmission.Execute(ctx, &gs.Input{SubmissionID: stageOneID})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.PendingEdits)
	assert.Equal(t, submission.StatusDraft, got.Submission.Status)

	// 3. Submit stage 1: buffered edits are flushed, validation passes and the
	// stage auto-completes, which opens the stage 2 review.
	submitted, err := p.submitStage.Execute(ctx, &sgs.Input{
		SubmissionID: stageOneID,
		CallerRole:   catalog.RoleContractorAdmin,
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", submitted.Status)

	var stageTwoID string
	err = pg.DB.QueryRow(
		`SELECT id FROM stage_submissions WHERE session_id = $1 AND stage = 2`,
		started.SessionID,
	).Scan(&stageTwoID)
	require.NoError(t, err)

	// 4. Supervisor scores both stages. Stage 1 is already completed, so the
	// second write is a rescore.
	_, err = p.setScore.Execute(ctx, &scs.Input{
		SubmissionID: stageTwoID,
		CategoryCode: "k2_final",
		Level:        6,
		CallerRole:   catalog.RoleSupervisor,
		UserID:       "supervisor-007",
	})
	require.NoError(t, err)

	rescored, err := p.setScore.Execute(ctx, &scs.Input{
		SubmissionID: stageOneID,
		CategoryCode: "k2_self",
		Level:        10,
		CallerRole:   catalog.RoleSupervisor,
		UserID:       "supervisor-007",
	})
	require.NoError(t, err)
	assert.True(t, rescored.Rescored)

	// 5. Completing the final review computes the weighted score:
	// 0.5*100 + 0.5*60 = 80 -> green.
	reviewed, err := p.review.Execute(ctx, &cr.Input{
		SubmissionID: stageTwoID,
		CallerRole:   catalog.RoleSupervisor,
	})
	require.NoError(t, err)
	assert.Equal(t, "completed", reviewed.Status)
	assert.Contains(t, p.notifier.templates, notify.TemplateEvaluationCompleted)

	var finalScore float64
	var risk string
	err = pg.DB.QueryRow(
		`SELECT final_score, risk FROM session_contractors WHERE session_id = $1 AND contractor_id = $2`,
		started.SessionID, contractorID,
	).Scan(&finalScore, &risk)
	require.NoError(t, err)
	assert.Equal(t, 80.0, finalScore)
	assert.Equal(t, "green", risk)

	// 6. The read model catches up asynchronously.
	deadline := time.Now().Add(10 * time.Second)
	for {
		listed, err := p.list.Execute(ctx, &le.Input{TenantID: tenantID, Size: 10})
		if err == nil && listed.TotalHits >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("evaluations never appeared in the index (err=%v)", err)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// ==========================
// Reminder Sweep
// ==========================

func TestReminderSweepE2E(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	p := buildPipeline(t)
	tenantID := uuid.NewString()
	contractorID := insertContractor(t, tenantID)

	started, err := p.startSession.Execute(ctx, &ss.Input{
		TenantID:      tenantID,
		ContractorIDs: []string{contractorID},
	})
	require.NoError(t, err)
	stageOneID := started.Outcomes[0].SubmissionID

	// Age the draft past the reminder cutoff.
	_, err = pg.DB.Exec(
		`UPDATE stage_submissions SET created_at = NOW() - INTERVAL '96 hours' WHERE id = $1`,
		stageOneID,
	)
	require.NoError(t, err)

	first, err := p.reminders.Execute(ctx, &sr.Input{TriggeredBy: "timer"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first.Sent, 1)
	assert.Contains(t, p.notifier.templates, notify.TemplateReminder)

	// The dedupe key suppresses a second reminder within the window.
	second, err := p.reminders.Execute(ctx, &sr.Input{TriggeredBy: "timer"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.Skipped, 1)
}
