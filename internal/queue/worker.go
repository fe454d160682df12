// internal/queue/worker.go
package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"tinko-recovery/internal/common/config"
	"tinko-recovery/internal/common/errors"
	"tinko-recovery/internal/common/logger"
	"tinko-recovery/internal/common/metrics"
	"tinko-recovery/internal/common/observability"
	"tinko-recovery/internal/common/validation"
	"tinko-recovery/internal/models"
)

// jobStore is the subset of Store the worker needs.
type jobStore interface {
	ClaimDue(ctx context.Context, limit int, lease time.Duration) ([]*models.Job, error)
	Complete(ctx context.Context, jobID int64) error
	Fail(ctx context.Context, jobID int64, errMsg string) error
	ReapExpiredLeases(ctx context.Context) (int64, error)
}

// Worker polls the queue, claims due jobs, and dispatches them to the
// registry. A second ticker reaps expired leases left behind by crashed
// workers.
type Worker struct {
	store    jobStore
	registry *Registry
	cfg      config.QueueConfig
	logger   logger.Logger
	obs      *observability.Observability

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

type WorkerOptions struct {
	Store         *Store
	Registry      *Registry
	Config        config.QueueConfig
	Logger        logger.Logger
	Observability *observability.Observability
}

func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Store == nil {
		return nil, errors.NewValidationError("store is required")
	}
	if opts.Registry == nil {
		return nil, errors.NewValidationError("registry is required")
	}
	if opts.Config.BatchSize <= 0 {
		return nil, errors.NewValidationError("batch_size must be positive")
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewStructured("info", "json")
	}

	return &Worker{
		store:    opts.Store,
		registry: opts.Registry,
		cfg:      opts.Config,
		logger:   opts.Logger,
		obs:      opts.Observability,
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the poll and reap loops. It returns immediately; call
// Stop to shut down.
func (w *Worker) Start() {
	w.wg.Add(2)
	go w.pollLoop()
	go w.reapLoop()

	w.logger.Info("Queue worker started", map[string]interface{}{
		"pollIntervalSeconds": w.cfg.PollIntervalSeconds,
		"batchSize":           w.cfg.BatchSize,
		"tasks":               w.registry.TaskNames(),
	})
}

// Stop signals both loops and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.once.Do(func() {
		close(w.stopCh)
	})
	w.wg.Wait()
	w.logger.Info("Queue worker stopped", nil)
}

func (w *Worker) pollLoop() {
	defer w.wg.Done()

	interval := time.Duration(w.cfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.pollOnce(context.Background())
		}
	}
}

func (w *Worker) reapLoop() {
	defer w.wg.Done()

	interval := time.Duration(w.cfg.ReapIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			n, err := w.store.ReapExpiredLeases(context.Background())
			if err != nil {
				w.logger.WithError(err).Error("Lease reap failed", nil)
				continue
			}
			if n > 0 {
				metrics.JobsReaped.Add(float64(n))
				w.logger.Warn("Reset expired job leases", map[string]interface{}{
					"count": n,
				})
			}
		}
	}
}

// pollOnce claims one batch and processes the jobs sequentially. Batch
// members run in claim order; parallelism comes from running multiple
// worker processes against the same table.
func (w *Worker) pollOnce(ctx context.Context) {
	lease := time.Duration(w.cfg.LeaseMinutes) * time.Minute
	if lease <= 0 {
		lease = 10 * time.Minute
	}

	jobs, err := w.store.ClaimDue(ctx, w.cfg.BatchSize, lease)
	if err != nil {
		w.logger.WithError(err).Error("Job claim failed", nil)
		return
	}
	if len(jobs) > 0 {
		metrics.JobsClaimed.Add(float64(len(jobs)))
	}

	for _, job := range jobs {
		w.processJob(ctx, job)
	}
}

func (w *Worker) processJob(ctx context.Context, job *models.Job) {
	log := w.logger.WithFields(map[string]interface{}{
		"jobId":    job.ID,
		"taskName": job.TaskName,
	})
	start := time.Now()

	err := w.runHandler(ctx, job)

	duration := time.Since(start)
	metrics.JobDuration.WithLabelValues(job.TaskName).Observe(duration.Seconds())

	if err != nil {
		code := "UNKNOWN_ERROR"
		var se *errors.StandardError
		if stdErr, ok := err.(*errors.StandardError); ok {
			se = stdErr
			code = string(stdErr.Code)
		}
		metrics.JobsFailed.WithLabelValues(job.TaskName, code).Inc()
		if w.obs != nil {
			w.obs.RecordJobProcessed(ctx, job.TaskName, "failed")
			w.obs.RecordJobDuration(ctx, duration, "failed")
		}
		log.WithError(err).Error("Job failed", map[string]interface{}{
			"durationMs": duration.Milliseconds(),
			"errorCode":  code,
			"retryable":  se != nil && se.Retryable,
		})
		if failErr := w.store.Fail(ctx, job.ID, err.Error()); failErr != nil {
			log.WithError(failErr).Error("Could not record job failure", nil)
		}
		return
	}

	metrics.JobsCompleted.WithLabelValues(job.TaskName).Inc()
	if w.obs != nil {
		w.obs.RecordJobProcessed(ctx, job.TaskName, "completed")
		w.obs.RecordJobDuration(ctx, duration, "completed")
	}
	log.Info("Job completed", map[string]interface{}{
		"durationMs": duration.Milliseconds(),
	})
	if compErr := w.store.Complete(ctx, job.ID); compErr != nil {
		log.WithError(compErr).Error("Could not record job completion", nil)
	}
}

// runHandler resolves, validates, and executes a single job with a
// per-job timeout and panic isolation. A panicking handler fails its own
// job and never takes down the loop.
func (w *Worker) runHandler(ctx context.Context, job *models.Job) (err error) {
	handler, ok := w.registry.Lookup(job.TaskName)
	if !ok {
		return errors.NewTaskNotRegisteredError(job.TaskName)
	}

	if verr := w.validateArguments(job, handler.InputSchema()); verr != nil {
		return verr
	}

	timeout := time.Duration(w.cfg.JobTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Job handler panicked", map[string]interface{}{
				"jobId":    job.ID,
				"taskName": job.TaskName,
				"panic":    fmt.Sprintf("%v", r),
				"stack":    string(debug.Stack()),
			})
			err = errors.NewValidationError(fmt.Sprintf("handler panic: %v", r))
		}
	}()

	return handler.Handle(jobCtx, job)
}

func (w *Worker) validateArguments(job *models.Job, schema validation.JSONSchema) error {
	if schema.Type == "" {
		return nil
	}
	args := job.Arguments
	if args == nil {
		args = map[string]interface{}{}
	}
	result, err := validation.ValidateInput(args, schema)
	if err != nil {
		return errors.NewValidationError(fmt.Sprintf("schema evaluation failed: %v", err))
	}
	if !result.Valid {
		details := ""
		for i, ve := range result.Errors {
			if i > 0 {
				details += "; "
			}
			details += fmt.Sprintf("%s: %s", ve.Field, ve.Message)
		}
		return errors.NewValidationError(details)
	}
	return nil
}
