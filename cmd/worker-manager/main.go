// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"compliance-workers/internal/common/camunda"
	"compliance-workers/internal/common/config"
	"compliance-workers/internal/common/database"
	"compliance-workers/internal/common/httpclient"
	"compliance-workers/internal/common/logger"
	"compliance-workers/internal/common/observability"
	"compliance-workers/internal/evaluation/ai"
	"compliance-workers/internal/evaluation/attachments"
	"compliance-workers/internal/evaluation/autosave"
	"compliance-workers/internal/evaluation/catalog"
	"compliance-workers/internal/evaluation/notify"
	"compliance-workers/internal/evaluation/scoring"
	"compliance-workers/internal/evaluation/search"
	"compliance-workers/internal/evaluation/session"
	"compliance-workers/internal/evaluation/store"
	"compliance-workers/internal/evaluation/submission"

	// Evaluation pipeline workers (10)
	cr "compliance-workers/internal/workers/evaluation/complete-review"
	gs "compliance-workers/internal/workers/evaluation/get-submission"
	le "compliance-workers/internal/workers/evaluation/list-evaluations"
	sa "compliance-workers/internal/workers/evaluation/save-answers"
	sr "compliance-workers/internal/workers/evaluation/send-reminders"
	scs "compliance-workers/internal/workers/evaluation/set-category-score"
	ss "compliance-workers/internal/workers/evaluation/start-session"
	sgs "compliance-workers/internal/workers/evaluation/submit-stage"
	sug "compliance-workers/internal/workers/evaluation/suggest-scores"
	ua "compliance-workers/internal/workers/evaluation/upload-attachment"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	zapLog := logger.New("info", "console")
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...")

	cfg, err := config.Load()
	if err != nil {
		zapLog.Fatal("config load failed", zap.Error(err))
	}

	obs := observability.New("worker-manager")
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init Zeebe Client with retry ---
	var zeebeClient *camunda.Client
	err = retryWithBackoff(func() error {
		var err error
		zeebeClient, err = camunda.NewClient(cfg.Camunda.BrokerAddress)
		return err
	}, 10, 2*time.Second, zapLog, "Zeebe client initialization")

	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zeebeClient.WithObservability(obs)
	zapLog.Info("Zeebe client connected successfully")

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		// Test the connection with context
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Elasticsearch with retry ---
	var esClient *database.ElasticsearchClient
	err = retryWithBackoff(func() error {
		var err error
		esClient, err = database.NewElasticsearch(cfg.Database.Elasticsearch)
		if err != nil {
			return err
		}
		// Test the connection
		return esClient.Ping()
	}, 15, 2*time.Second, zapLog, "Elasticsearch connection")

	if err != nil {
		zapLog.Fatal("elasticsearch failed after retries", zap.Error(err))
	}
	zapLog.Info("Elasticsearch connected successfully")

	// --- Init Redis with retry ---
	var redis *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redis, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		// Test the connection with context
		return redis.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redis.Close()
	zapLog.Info("Redis connected successfully")

	// --- Load Form Registry ---
	cat, err := catalog.Load(cfg.Catalog.RegistryPath)
	if err != nil {
		zapLog.Fatal("form registry load failed", zap.Error(err))
	}
	zapLog.Info("Form registry loaded", zap.Int("stages", cat.StageCount()))

	// --- Build Evaluation Core ---
	evalStore := store.New(pg.DB, log)
	engine := scoring.NewEngine(cfg.Evaluation)
	stateMachine := submission.NewStateMachine(cat, log)
	index := search.NewIndex(esClient.Client, cfg.Database.Elasticsearch.Index, log)

	dispatcher, err := notify.NewDispatcher(cfg.Notifications, log)
	if err != nil {
		zapLog.Fatal("notification dispatcher init failed", zap.Error(err))
	}

	coordinator := autosave.NewCoordinator(
		redis.Client, evalStore, cat,
		time.Duration(cfg.Evaluation.Autosave.DebounceMS)*time.Millisecond,
		time.Duration(cfg.Evaluation.Autosave.BufferTTL)*time.Second,
		log,
	)

	orchestrator := session.NewOrchestrator(
		evalStore, cat, engine, dispatcher, index, redis.Client, cfg.Evaluation.Reminder, log,
	)

	uploadValidator := attachments.NewValidator(cfg.Evaluation.Upload)
	blobStore := attachments.NewHTTPBlobStore(
		cfg.APIs.BlobStore.BaseURL,
		cfg.APIs.BlobStore.APIKey,
		httpclient.NewClient(time.Duration(cfg.APIs.BlobStore.Timeout)*time.Millisecond),
	)

	suggestionClient := ai.NewClient(
		cfg.APIs.Suggestions.BaseURL,
		cfg.APIs.Suggestions.APIKey,
		httpclient.NewClient(time.Duration(cfg.APIs.Suggestions.Timeout)*time.Millisecond),
	)

	zapLog.Info("Evaluation core initialized")

	// --- START: Register ALL 10 Workers ---

	// --- 1. Session Lifecycle Workers (2) ---
	if cfg.Workers[ss.TaskType].Enabled {
		handler := ss.NewHandler(ss.LoadConfig(), orchestrator, log)
		zeebeClient.StartWorker(ss.TaskType, cfg.Workers[ss.TaskType], handler.Handle, zapLog)
	}

	if cfg.Workers[sr.TaskType].Enabled {
		handler := sr.NewHandler(sr.LoadConfig(), orchestrator, log)
		zeebeClient.StartWorker(sr.TaskType, cfg.Workers[sr.TaskType], handler.Handle, zapLog)
	}

	// --- 2. Submission Authoring Workers (3) ---
	if cfg.Workers[sa.TaskType].Enabled {
		handler := sa.NewHandler(sa.LoadConfig(), coordinator, log)
		zeebeClient.StartWorker(sa.TaskType, cfg.Workers[sa.TaskType], handler.Handle, zapLog)
	}

	if cfg.Workers[ua.TaskType].Enabled {
		handler := ua.NewHandler(ua.LoadConfig(), evalStore, cat, uploadValidator, blobStore, log)
		zeebeClient.StartWorker(ua.TaskType, cfg.Workers[ua.TaskType], handler.Handle, zapLog)
	}

	if cfg.Workers[sgs.TaskType].Enabled {
		handler := sgs.NewHandler(sgs.LoadConfig(), evalStore, coordinator, stateMachine, uploadValidator, cat, orchestrator, log)
		zeebeClient.StartWorker(sgs.TaskType, cfg.Workers[sgs.TaskType], handler.Handle, zapLog)
	}

	// --- 3. Review & Scoring Workers (3) ---
	if cfg.Workers[scs.TaskType].Enabled {
		handler := scs.NewHandler(scs.LoadConfig(), evalStore, orchestrator, log)
		zeebeClient.StartWorker(scs.TaskType, cfg.Workers[scs.TaskType], handler.Handle, zapLog)
	}

	if cfg.Workers[cr.TaskType].Enabled {
		handler := cr.NewHandler(cr.LoadConfig(), evalStore, stateMachine, orchestrator, log)
		zeebeClient.StartWorker(cr.TaskType, cfg.Workers[cr.TaskType], handler.Handle, zapLog)
	}

	if cfg.Workers[sug.TaskType].Enabled {
		handler := sug.NewHandler(sug.LoadConfig(), evalStore, cat, suggestionClient, log)
		zeebeClient.StartWorker(sug.TaskType, cfg.Workers[sug.TaskType], handler.Handle, zapLog)
	}

	// --- 4. Read Model Workers (2) ---
	if cfg.Workers[gs.TaskType].Enabled {
		handler := gs.NewHandler(gs.LoadConfig(), evalStore, coordinator, log)
		zeebeClient.StartWorker(gs.TaskType, cfg.Workers[gs.TaskType], handler.Handle, zapLog)
	}

	if cfg.Workers[le.TaskType].Enabled {
		handler := le.NewHandler(le.LoadConfig(), index, log)
		zeebeClient.StartWorker(le.TaskType, cfg.Workers[le.TaskType], handler.Handle, zapLog)
	}

	zapLog.Info("All 10 workers registered successfully")

	// --- Health & Metrics Server ---
	go func() {
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "healthy",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := zeebeClient.HealthCheck(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{
					"status": "not_ready",
					"error":  err.Error(),
				})
				return
			}
			w.WriteHeader(http.StatusOK)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "ready",
				"time":   time.Now().Format(time.RFC3339),
			})
		})
		http.Handle("/metrics", promhttp.Handler())
		zapLog.Info("Health/Metrics server listening on :8080")
		if err := http.ListenAndServe(":8080", nil); err != nil {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	zapLog.Info("Shutdown signal received, stopping workers...")

	if err := zeebeClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Worker manager stopped gracefully")
}

