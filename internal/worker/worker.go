// Package worker polls the task queue and dispatches each task to its
// handler. A scoped status guard marks every dequeued task running and
// then terminal exactly once, however the handler exits.
package worker

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-worker/internal/company"
	"github.com/sells-group/research-worker/internal/model"
	"github.com/sells-group/research-worker/internal/pipeline"
	"github.com/sells-group/research-worker/internal/store"
)

// Config controls the polling loop.
type Config struct {
	// PollInterval is the sleep between queue polls.
	PollInterval time.Duration
	// ErrorBackoff is the extra sleep after a loop-level error.
	ErrorBackoff time.Duration
}

// DefaultConfig returns the production loop timings.
func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		ErrorBackoff: 5 * time.Second,
	}
}

// Worker is the single task processor. Exactly one runs per deployment;
// tasks never execute concurrently.
type Worker struct {
	store        store.Store
	resolver     *company.Resolver
	orchestrator *pipeline.Orchestrator
	replies      *pipeline.ReplyGenerator
	mailbox      Mailbox
	sources      []LeadSource
	cfg          Config

	handlers map[model.TaskType]handlerFunc
}

type handlerFunc func(ctx context.Context, task *model.Task) (model.Result, error)

// New creates a Worker. mailbox and sources may be nil when the deployment
// does not use mail scanning or bulk import.
func New(st store.Store, orch *pipeline.Orchestrator, replies *pipeline.ReplyGenerator, mailbox Mailbox, sources []LeadSource, cfg Config) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}
	w := &Worker{
		store:        st,
		resolver:     company.NewResolver(st),
		orchestrator: orch,
		replies:      replies,
		mailbox:      mailbox,
		sources:      sources,
		cfg:          cfg,
	}
	w.handlers = map[model.TaskType]handlerFunc{
		model.TaskResearch:      w.handleResearch,
		model.TaskGenerateReply: w.handleGenerateReply,
		model.TaskScanMailbox:   w.handleScanMailbox,
		model.TaskSendArchive:   w.handleSendAndArchive,
		model.TaskIgnoreArchive: w.handleIgnoreAndArchive,
		model.TaskBulkImport:    w.handleBulkImport,
		model.TaskMergeEntities: w.handleMerge,
	}
	return w
}

// Run polls until ctx is canceled. Cancellation stops the polling, not
// the in-flight task: a running handler always finishes and reaches a
// terminal status before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	zap.L().Info("worker: started", zap.Duration("poll_interval", w.cfg.PollInterval))

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker: shutting down")
			return nil
		default:
		}

		processed, err := w.processNext(ctx)
		if err != nil {
			zap.L().Error("worker: poll error, backing off", zap.Error(err))
			if !sleep(ctx, w.cfg.ErrorBackoff) {
				return nil
			}
			continue
		}
		if processed {
			continue
		}
		if !sleep(ctx, w.cfg.PollInterval) {
			return nil
		}
	}
}

// processNext dequeues and executes at most one task. The dequeue does not
// mark the task running; only the status guard does. A crash between the
// two leaves the task pending for a clean retry after restart.
func (w *Worker) processNext(ctx context.Context) (bool, error) {
	task, err := w.store.NextPendingTask(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}
	w.execute(ctx, task)
	return true, nil
}

// execute is the scoped status guard: running on entry, completed on a
// normal return, failed on an error or panic. The handler runs detached
// from the polling context so shutdown never strands a task in running.
func (w *Worker) execute(ctx context.Context, task *model.Task) {
	log := zap.L().With(zap.String("task_id", task.ID), zap.String("type", string(task.Type)))

	taskCtx := context.WithoutCancel(ctx)
	if err := w.store.UpdateTask(taskCtx, task.ID, model.TaskRunning, nil, ""); err != nil {
		log.Error("worker: could not mark task running", zap.Error(err))
		return
	}
	log.Info("worker: task started")
	start := time.Now()

	result, err := w.runHandler(taskCtx, task)
	if err != nil {
		log.Warn("worker: task failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		if uerr := w.store.UpdateTask(taskCtx, task.ID, model.TaskFailed, result, err.Error()); uerr != nil {
			log.Error("worker: could not mark task failed", zap.Error(uerr))
		}
		return
	}

	if uerr := w.store.UpdateTask(taskCtx, task.ID, model.TaskCompleted, result, ""); uerr != nil {
		log.Error("worker: could not mark task completed", zap.Error(uerr))
		return
	}
	log.Info("worker: task completed", zap.Duration("took", time.Since(start)))
}

// runHandler dispatches by type and converts panics into errors so one bad
// task never stops the loop.
func (w *Worker) runHandler(ctx context.Context, task *model.Task) (result model.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("worker: handler panicked: %v", r)
		}
	}()

	handler, ok := w.handlers[task.Type]
	if !ok {
		return nil, eris.Errorf("worker: unknown task type %q", task.Type)
	}
	return handler(ctx, task)
}

// sleep waits d or until ctx is canceled. Reports false on cancellation.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
