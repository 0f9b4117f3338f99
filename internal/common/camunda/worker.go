// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"go.uber.org/zap"

	"compliance-workers/internal/common/config"
)

// JobHandlerFunc is the signature every worker handler exposes. Handlers
// complete or fail the job themselves through the JobClient.
type JobHandlerFunc func(client worker.JobClient, job entities.Job)

// Worker is a single registered Zeebe job worker.
type Worker struct {
	taskType string
	worker   worker.JobWorker
	logger   *zap.Logger
}

// StartWorker registers a job worker for taskType and opens it. Disabled
// workers are skipped and nil is returned. Registered workers are closed
// by Client.Close.
func (c *Client) StartWorker(taskType string, wcfg config.WorkerConfig, handler JobHandlerFunc, log *zap.Logger) *Worker {
	if !wcfg.Enabled {
		log.Info("worker disabled", zap.String("taskType", taskType))
		return nil
	}

	jobWorker := c.client.NewJobWorker().
		JobType(taskType).
		Handler(func(client worker.JobClient, job entities.Job) {
			start := time.Now()
			handler(client, job)
			if c.obs != nil {
				c.obs.RecordJob(context.Background(), taskType, time.Since(start))
			}
		}).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(time.Duration(wcfg.Timeout) * time.Millisecond).
		Open()

	w := &Worker{
		taskType: taskType,
		worker:   jobWorker,
		logger:   log,
	}
	c.workers = append(c.workers, w)

	log.Info("worker started",
		zap.String("taskType", taskType),
		zap.Int("maxJobsActive", wcfg.MaxJobsActive),
		zap.Int("timeout_ms", wcfg.Timeout),
	)
	return w
}

// Close stops polling for new jobs on this worker.
func (w *Worker) Close() {
	w.logger.Info("stopping worker", zap.String("taskType", w.taskType))
	w.worker.Close()
}
