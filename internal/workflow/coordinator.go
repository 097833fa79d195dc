// Package workflow wires the pipeline stages onto the queue. Every job runs
// behind the task ledger so a redelivered or retried attempt can tell whether
// it still has work to do, and processing and indexing jobs hold a per-project
// lock while they touch a project's chunks or collection.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/ragindex/internal/config"
	"github.com/54b3r/ragindex/internal/indexing"
	"github.com/54b3r/ragindex/internal/ingestion"
	"github.com/54b3r/ragindex/internal/ledger"
	"github.com/54b3r/ragindex/internal/logging"
	"github.com/54b3r/ragindex/internal/metrics"
	"github.com/54b3r/ragindex/internal/queue"
	"github.com/54b3r/ragindex/internal/store"
	"github.com/54b3r/ragindex/internal/vectordb"
)

// Registered task names.
const (
	TaskProcessFiles    = "tasks.file_processing.process_project_files"
	TaskIndexProject    = "tasks.data_indexing.index_project"
	TaskProcessAndIndex = "tasks.process_workflow.process_and_index"
	TaskSweep           = "tasks.maintenance.clean_task_executions"
)

// Result messages.
const (
	MsgWorkflowStarted = "WORKFLOW STARTED"
	MsgProcessFailed   = "file processing failed"
	MsgIndexFailed     = "inserting into vector db failed"
	MsgSweepFailed     = "ledger cleanup failed"
)

// ErrTaskInFlight is returned when the ledger shows another attempt of the
// same invocation still running within its time limit.
var ErrTaskInFlight = errors.New("workflow: task already in flight")

// Handoff is what file processing passes to indexing.
type Handoff struct {
	ProjectID string `json:"project_id"`
	Reset     bool   `json:"is_reset"`
}

// ProcessOutcome is the result of the file-processing job. It decodes as an
// indexing.Request, which is how the chained indexing job receives it.
type ProcessOutcome struct {
	Handoff
	ingestion.Result
}

// WorkflowStarted is the result of the process-and-index job.
type WorkflowStarted struct {
	Message    string   `json:"message"`
	WorkflowID string   `json:"workflow_id"`
	Tasks      []string `json:"tasks"`
}

// SweepResult is the result of the maintenance job.
type SweepResult struct {
	Deleted int `json:"deleted"`
}

// Failure is recorded as the ledger result of a failed attempt.
type Failure struct {
	ExcType    string `json:"exc_type"`
	ExcMessage string `json:"exc_message"`
	Message    string `json:"message"`
}

// failureKinds maps sentinel errors onto the kind recorded in a Failure.
// Order matters: the first match wins.
var failureKinds = []struct {
	err  error
	kind string
}{
	{ErrProjectBusy, "ProjectBusy"},
	{ErrTaskInFlight, "TaskInFlight"},
	{indexing.ErrVectorInsertFailed, "VectorInsertFailed"},
	{indexing.ErrEmbeddingFailed, "EmbeddingFailed"},
	{vectordb.ErrValidation, "ValidationError"},
	{vectordb.ErrCollectionNotFound, "NotFound"},
	{store.ErrNotFound, "NotFound"},
	{ingestion.ErrNoFiles, "NotFound"},
	{ingestion.ErrUnsupportedType, "ValidationError"},
	{context.DeadlineExceeded, "TimeLimitExceeded"},
	{context.Canceled, "Canceled"},
}

// NewFailure classifies err for the ledger.
func NewFailure(err error, message string) Failure {
	kind := "Error"
	for _, k := range failureKinds {
		if errors.Is(err, k.err) {
			kind = k.kind
			break
		}
	}
	return Failure{ExcType: kind, ExcMessage: err.Error(), Message: message}
}

// FileProcessor runs the file-processing stage.
type FileProcessor interface {
	Process(ctx context.Context, req ingestion.Request) (*ingestion.Result, error)
}

// Indexer runs the indexing stage.
type Indexer interface {
	Run(ctx context.Context, req indexing.Request, progress indexing.ProgressFunc) (*indexing.Result, error)
}

// Config holds the job execution policy.
type Config struct {
	// TimeLimit bounds one attempt and feeds the ledger's stuck check.
	TimeLimit time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// RetryCountdown is the fixed delay before a retry.
	RetryCountdown time.Duration
	// Retention is how long the sweep keeps ledger records.
	Retention time.Duration
}

// ConfigFrom extracts the job policy from the application config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		TimeLimit:      cfg.Worker.TaskTimeLimit,
		MaxRetries:     cfg.Worker.MaxRetries,
		RetryCountdown: cfg.Worker.RetryCountdown,
		Retention:      cfg.Maintenance.Retention,
	}
}

// Coordinator registers the pipeline jobs with a dispatcher and submits them.
type Coordinator struct {
	dispatcher *queue.Dispatcher
	ledger     *ledger.Ledger
	processor  FileProcessor
	indexer    Indexer
	locks      ProjectLocks
	metrics    *metrics.Pipeline
	cfg        Config
	logger     *slog.Logger
}

// New constructs a Coordinator. m may be nil.
func New(d *queue.Dispatcher, l *ledger.Ledger, p FileProcessor, idx Indexer, m *metrics.Pipeline, cfg Config, log *slog.Logger) (*Coordinator, error) {
	if d == nil {
		return nil, errors.New("workflow: dispatcher must not be nil")
	}
	if l == nil {
		return nil, errors.New("workflow: ledger must not be nil")
	}
	if p == nil {
		return nil, errors.New("workflow: file processor must not be nil")
	}
	if idx == nil {
		return nil, errors.New("workflow: indexer must not be nil")
	}
	if cfg.TimeLimit <= 0 {
		cfg.TimeLimit = 600 * time.Second
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 5 * 24 * time.Hour
	}
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		dispatcher: d,
		ledger:     l,
		processor:  p,
		indexer:    idx,
		metrics:    m,
		cfg:        cfg,
		logger:     log,
	}, nil
}

// Register adds every pipeline job to the dispatcher.
func (c *Coordinator) Register() {
	opts := &queue.TaskOptions{
		MaxRetries: c.cfg.MaxRetries,
		Countdown:  c.cfg.RetryCountdown,
		TimeLimit:  c.cfg.TimeLimit,
	}
	c.dispatcher.Register(TaskProcessFiles, c.handleProcess, opts)
	c.dispatcher.Register(TaskIndexProject, c.handleIndex, opts)
	c.dispatcher.Register(TaskProcessAndIndex, c.handleProcessAndIndex, opts)
	c.dispatcher.Register(TaskSweep, c.handleSweep, opts)
}

// SubmitWorkflow queues the process-and-index job and returns its task id.
func (c *Coordinator) SubmitWorkflow(ctx context.Context, req ingestion.Request) (string, error) {
	return c.dispatcher.Submit(ctx, TaskProcessAndIndex, req)
}

// SubmitIndex queues an indexing job and returns its task id.
func (c *Coordinator) SubmitIndex(ctx context.Context, req indexing.Request) (string, error) {
	return c.dispatcher.Submit(ctx, TaskIndexProject, req)
}

// SubmitSweep queues the maintenance job and returns its task id.
func (c *Coordinator) SubmitSweep(ctx context.Context) (string, error) {
	return c.dispatcher.Submit(ctx, TaskSweep, nil)
}

// RunMaintenance submits the sweep every interval until ctx is cancelled.
// A non-positive interval disables the schedule.
func (c *Coordinator) RunMaintenance(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		c.logger.Info("workflow: maintenance schedule disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			id, err := c.SubmitSweep(ctx)
			if err != nil {
				if errors.Is(err, queue.ErrClosed) {
					return
				}
				c.logger.Error("workflow: submit maintenance sweep", "error", err)
				continue
			}
			c.logger.Info("workflow: maintenance sweep submitted", "task_id", id)
		}
	}
}

func (c *Coordinator) handleProcess(ctx context.Context, task *queue.Task) (any, error) {
	var req ingestion.Request
	if err := task.Decode(&req); err != nil {
		return nil, err
	}
	return c.execute(ctx, task, job{
		args:    req,
		project: req.ProjectID,
		failMsg: MsgProcessFailed,
		run: func(ctx context.Context) (any, error) {
			res, err := c.processor.Process(ctx, req)
			if err != nil {
				return nil, err
			}
			c.metrics.ChunksProcessed(res.TotalChunks)
			return ProcessOutcome{
				Handoff: Handoff{ProjectID: req.ProjectID, Reset: req.Reset},
				Result:  *res,
			}, nil
		},
	})
}

func (c *Coordinator) handleIndex(ctx context.Context, task *queue.Task) (any, error) {
	var req indexing.Request
	if err := task.Decode(&req); err != nil {
		return nil, err
	}
	return c.execute(ctx, task, job{
		args:    req,
		project: req.ProjectID,
		failMsg: MsgIndexFailed,
		run: func(ctx context.Context) (any, error) {
			log := logging.FromContext(ctx)
			res, err := c.indexer.Run(ctx, req, func(done, total int) {
				log.Debug("workflow: indexing progress", "project_id", req.ProjectID, "done", done, "total", total)
			})
			if err != nil {
				return nil, err
			}
			c.metrics.VectorsIndexed(res.InsertedItemsCount)
			return res, nil
		},
	})
}

func (c *Coordinator) handleProcessAndIndex(ctx context.Context, task *queue.Task) (any, error) {
	var req ingestion.Request
	if err := task.Decode(&req); err != nil {
		return nil, err
	}
	return c.execute(ctx, task, job{
		args:    req,
		failMsg: MsgProcessFailed,
		run: func(ctx context.Context) (any, error) {
			id, err := c.dispatcher.Submit(ctx, TaskProcessFiles, req, queue.WithLink(TaskIndexProject))
			if err != nil {
				return nil, err
			}
			return WorkflowStarted{
				Message:    MsgWorkflowStarted,
				WorkflowID: id,
				Tasks:      []string{TaskProcessFiles, TaskIndexProject},
			}, nil
		},
	})
}

func (c *Coordinator) handleSweep(ctx context.Context, task *queue.Task) (any, error) {
	return c.execute(ctx, task, job{
		args:    struct{}{},
		failMsg: MsgSweepFailed,
		run: func(ctx context.Context) (any, error) {
			n, err := c.ledger.Sweep(ctx, c.cfg.Retention)
			if err != nil {
				return nil, err
			}
			c.metrics.LedgerSwept(n)
			logging.FromContext(ctx).Info("workflow: ledger swept", "deleted", n, "retention", c.cfg.Retention)
			return SweepResult{Deleted: n}, nil
		},
	})
}

// job is one ledger-tracked unit of work.
type job struct {
	args any
	// project, when set, is locked for the duration of run.
	project string
	failMsg string
	run     func(ctx context.Context) (any, error)
}

// execute runs j behind the ledger. A completed invocation returns its
// recorded result without running again. Failures are recorded and returned
// so the dispatcher can retry.
func (c *Coordinator) execute(ctx context.Context, task *queue.Task, j job) (any, error) {
	log := logging.FromContext(ctx)
	done := c.metrics.TaskStarted(task.Name)

	args, err := ledger.ArgsOf(j.args)
	if err != nil {
		done(metrics.OutcomeFailure)
		return nil, err
	}

	ok, rec, err := c.ledger.ShouldExecute(ctx, task.Name, args, task.ID, c.cfg.TimeLimit)
	if err != nil {
		done(metrics.OutcomeFailure)
		return nil, err
	}
	// A RETRY record left by this task's previous attempt belongs to this
	// scheduled retry; any other non-terminal record means another worker.
	resuming := !ok && rec.Status == ledger.StatusRetry && task.Attempt > 1
	if !ok && !resuming {
		done(metrics.OutcomeSkipped)
		if rec.Status == ledger.StatusSuccess {
			log.Info("workflow: invocation already completed", "record_id", rec.ID)
			return rec.Result, nil
		}
		return nil, fmt.Errorf("%w: record %d is %s", ErrTaskInFlight, rec.ID, rec.Status)
	}

	if rec == nil {
		rec, err = c.ledger.RecordStart(ctx, task.Name, args, task.ID)
		if errors.Is(err, ledger.ErrDuplicateSubmission) {
			log.Info("workflow: duplicate submission, reusing ledger record", "record_id", rec.ID)
			err = nil
		}
		if err != nil {
			done(metrics.OutcomeFailure)
			return nil, err
		}
	} else if resuming {
		log.Info("workflow: retrying ledger record", "record_id", rec.ID, "attempt", task.Attempt)
	} else {
		log.Warn("workflow: re-executing ledger record", "record_id", rec.ID, "status", rec.Status)
	}

	if err := c.ledger.UpdateStatus(ctx, rec.ID, ledger.StatusStarted); err != nil {
		done(metrics.OutcomeFailure)
		return nil, err
	}

	result, err := c.runLocked(ctx, j)
	// The attempt's context may already be past its deadline.
	final := context.WithoutCancel(ctx)
	if err != nil {
		f := NewFailure(err, j.failMsg)
		// The dispatcher retries while attempts remain, so the record stays
		// non-terminal until the last attempt.
		status := ledger.StatusFailure
		if task.Attempt <= task.MaxRetries {
			status = ledger.StatusRetry
		}
		log.Error("workflow: task failed", "record_id", rec.ID, "exc_type", f.ExcType, "status", status, "error", err)
		if uerr := c.ledger.UpdateStatus(final, rec.ID, status, ledger.WithResult(f)); uerr != nil {
			log.Error("workflow: record failure", "record_id", rec.ID, "error", uerr)
		}
		done(metrics.OutcomeFailure)
		return nil, err
	}

	raw, err := json.Marshal(result)
	if err != nil {
		done(metrics.OutcomeFailure)
		return nil, fmt.Errorf("workflow: encode result: %w", err)
	}
	if err := c.ledger.UpdateStatus(final, rec.ID, ledger.StatusSuccess, ledger.WithResult(json.RawMessage(raw))); err != nil {
		done(metrics.OutcomeFailure)
		return nil, err
	}
	done(metrics.OutcomeSuccess)
	log.Info("workflow: task completed", "record_id", rec.ID)
	return json.RawMessage(raw), nil
}

func (c *Coordinator) runLocked(ctx context.Context, j job) (any, error) {
	if j.project == "" {
		return j.run(ctx)
	}
	if !c.locks.TryAcquire(j.project) {
		return nil, fmt.Errorf("%w: %s", ErrProjectBusy, j.project)
	}
	defer c.locks.Release(j.project)
	return j.run(ctx)
}
