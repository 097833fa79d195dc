// Package queue is the in-process task queue the pipeline jobs run on.
// Tasks are dispatched onto an ants worker pool, retried a bounded number of
// times with a fixed countdown under the same task id, and may be chained so
// that a task's result becomes the payload of the next one.
//
// Delivery is at-least-once within the process. Durable job state lives in
// the ledger; the dispatcher only keeps what status polling needs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/54b3r/ragindex/internal/logging"
)

// State is the dispatcher-side state of a task.
type State string

const (
	StatePending State = "PENDING"
	StateStarted State = "STARTED"
	StateRetry   State = "RETRY"
	StateSuccess State = "SUCCESS"
	StateFailure State = "FAILURE"
)

// Terminal reports whether no further transitions will happen.
func (s State) Terminal() bool { return s == StateSuccess || s == StateFailure }

var (
	// ErrUnknownTask is returned by Submit for an unregistered task name.
	ErrUnknownTask = errors.New("queue: unknown task")
	// ErrNotFound is returned by Status and Wait for an unknown task id.
	ErrNotFound = errors.New("queue: task not found")
	// ErrClosed is returned once Shutdown has started.
	ErrClosed = errors.New("queue: dispatcher closed")
)

// Task is what a handler receives for one attempt.
type Task struct {
	// ID is stable across retries.
	ID string
	// Name is the registered task name.
	Name string
	// Payload is the JSON-encoded argument.
	Payload json.RawMessage
	// Attempt is 1 for the first run and increases with every retry.
	Attempt int
	// MaxRetries is the number of retries allowed after the first attempt.
	MaxRetries int
}

// Decode unmarshals the payload into v.
func (t *Task) Decode(v any) error {
	if len(t.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload, v); err != nil {
		return fmt.Errorf("queue: decode payload of %s: %w", t.Name, err)
	}
	return nil
}

// Handler runs one attempt of a task and returns its JSON-encodable result.
type Handler func(ctx context.Context, task *Task) (any, error)

// TaskOptions are the per-task-name execution settings.
type TaskOptions struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// Countdown is the fixed delay before each retry.
	Countdown time.Duration
	// TimeLimit bounds one attempt; zero means no limit.
	TimeLimit time.Duration
}

// TaskStatus is the polled view of a task.
type TaskStatus struct {
	ID        string          `json:"task_id"`
	Name      string          `json:"task_name"`
	State     State           `json:"status"`
	Attempts  int             `json:"attempts"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Next      string          `json:"next_task_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Config configures a Dispatcher.
type Config struct {
	// Concurrency is the worker pool size.
	Concurrency int
	// Defaults apply to tasks registered without explicit options.
	Defaults TaskOptions
	// OnRetry is called every time a task is scheduled for a retry.
	OnRetry func(name string)
}

type registration struct {
	handler Handler
	opts    TaskOptions
}

type entry struct {
	status TaskStatus
	link   string
	done   chan struct{}
}

// Dispatcher runs registered handlers on a bounded worker pool.
type Dispatcher struct {
	pool   *ants.Pool
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[string]registration
	tasks    map[string]*entry
	timers   map[string]*time.Timer
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Dispatcher with a worker pool of cfg.Concurrency.
func New(cfg Config, log *slog.Logger) (*Dispatcher, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	pool, err := ants.NewPool(cfg.Concurrency, ants.WithPanicHandler(func(p any) {
		log.Error("queue: worker panic", slog.Any("panic", p))
	}))
	if err != nil {
		return nil, fmt.Errorf("queue: create worker pool: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		pool:     pool,
		cfg:      cfg,
		logger:   log,
		handlers: make(map[string]registration),
		tasks:    make(map[string]*entry),
		timers:   make(map[string]*time.Timer),
		baseCtx:  ctx,
		cancel:   cancel,
	}, nil
}

// Register binds a handler to a task name. A nil opts uses the defaults.
func (d *Dispatcher) Register(name string, h Handler, opts *TaskOptions) {
	o := d.cfg.Defaults
	if opts != nil {
		o = *opts
	}
	d.mu.Lock()
	d.handlers[name] = registration{handler: h, opts: o}
	d.mu.Unlock()
}

// SubmitOption customises a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	link string
	id   string
}

// WithLink chains next after the submitted task: on success, next is
// submitted with this task's result as its payload.
func WithLink(next string) SubmitOption {
	return func(o *submitOptions) { o.link = next }
}

// WithTaskID sets the task id instead of generating one.
func WithTaskID(id string) SubmitOption {
	return func(o *submitOptions) { o.id = id }
}

// Submit enqueues a task and returns its id. The payload is JSON-encoded;
// a json.RawMessage is used as-is. Submit never blocks on the pool: while
// every worker is busy the task waits in PENDING.
func (d *Dispatcher) Submit(ctx context.Context, name string, payload any, opts ...SubmitOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var so submitOptions
	for _, fn := range opts {
		fn(&so)
	}

	raw, err := encodePayload(payload)
	if err != nil {
		return "", fmt.Errorf("queue: encode payload of %s: %w", name, err)
	}
	e, task, err := d.enqueue(name, raw, so)
	if err != nil {
		return "", err
	}
	d.start(e, task)
	d.logger.Debug("queue: task submitted", slog.String("task_id", task.ID), slog.String("task_name", name))
	return task.ID, nil
}

// enqueue registers a PENDING entry for a new task.
func (d *Dispatcher) enqueue(name string, raw json.RawMessage, so submitOptions) (*entry, *Task, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, nil, ErrClosed
	}
	if _, ok := d.handlers[name]; !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	if so.link != "" {
		if _, ok := d.handlers[so.link]; !ok {
			return nil, nil, fmt.Errorf("%w: link %q", ErrUnknownTask, so.link)
		}
	}
	id := so.id
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := d.tasks[id]; exists {
		return nil, nil, fmt.Errorf("queue: task id %s already submitted", id)
	}
	now := time.Now()
	e := &entry{
		status: TaskStatus{ID: id, Name: name, State: StatePending, CreatedAt: now, UpdatedAt: now},
		link:   so.link,
		done:   make(chan struct{}),
	}
	d.tasks[id] = e
	d.wg.Add(1)
	return e, &Task{ID: id, Name: name, Payload: raw, Attempt: 1}, nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// start dispatches off the calling goroutine, so handlers may submit tasks
// without deadlocking a full pool.
func (d *Dispatcher) start(e *entry, task *Task) {
	go func() {
		if err := d.dispatch(task); err != nil {
			d.finish(e, StateFailure, nil, err)
		}
	}()
}

// dispatch hands the attempt to the pool.
func (d *Dispatcher) dispatch(task *Task) error {
	if err := d.pool.Submit(func() { d.run(task) }); err != nil {
		return fmt.Errorf("queue: dispatch %s: %w", task.Name, err)
	}
	return nil
}

func (d *Dispatcher) run(task *Task) {
	d.mu.RLock()
	reg := d.handlers[task.Name]
	e := d.tasks[task.ID]
	d.mu.RUnlock()
	task.MaxRetries = reg.opts.MaxRetries

	log := d.logger.With(
		slog.String("task_id", task.ID),
		slog.String("task_name", task.Name),
		slog.Int("attempt", task.Attempt),
	)
	d.setState(e, StateStarted, task.Attempt)

	ctx := logging.WithLogger(d.baseCtx, log)
	cancel := context.CancelFunc(func() {})
	if reg.opts.TimeLimit > 0 {
		ctx, cancel = context.WithTimeout(ctx, reg.opts.TimeLimit)
	}
	start := time.Now()
	result, err := d.invoke(ctx, reg.handler, task)
	cancel()

	if err == nil {
		raw, encErr := encodePayload(result)
		if encErr != nil {
			err = fmt.Errorf("queue: encode result: %w", encErr)
		} else {
			log.Info("queue: task succeeded", slog.Duration("duration", time.Since(start)))
			d.chain(e, raw)
			d.finish(e, StateSuccess, raw, nil)
			return
		}
	}

	if task.Attempt <= reg.opts.MaxRetries && !d.isClosed() {
		log.Warn("queue: task failed, retrying",
			slog.Duration("countdown", reg.opts.Countdown),
			slog.Int("max_retries", reg.opts.MaxRetries),
			slog.Any("error", err),
		)
		d.scheduleRetry(e, task, reg.opts.Countdown, err)
		return
	}
	log.Error("queue: task failed", slog.Duration("duration", time.Since(start)), slog.Any("error", err))
	d.finish(e, StateFailure, nil, err)
}

// invoke runs the handler, converting a panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, task *Task) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("queue: task %s panicked: %v", task.Name, p)
		}
	}()
	return h(ctx, task)
}

func (d *Dispatcher) scheduleRetry(e *entry, task *Task, countdown time.Duration, cause error) {
	d.mu.Lock()
	e.status.State = StateRetry
	e.status.Error = cause.Error()
	e.status.UpdatedAt = time.Now()
	next := &Task{ID: task.ID, Name: task.Name, Payload: task.Payload, Attempt: task.Attempt + 1}
	d.timers[task.ID] = time.AfterFunc(countdown, func() {
		d.mu.Lock()
		delete(d.timers, task.ID)
		closed := d.closed
		d.mu.Unlock()
		if closed {
			d.finish(e, StateFailure, nil, ErrClosed)
			return
		}
		if err := d.dispatch(next); err != nil {
			d.finish(e, StateFailure, nil, err)
		}
	})
	d.mu.Unlock()

	if d.cfg.OnRetry != nil {
		d.cfg.OnRetry(task.Name)
	}
}

// chain enqueues the linked task with the finished task's result.
func (d *Dispatcher) chain(e *entry, result json.RawMessage) {
	if e.link == "" {
		return
	}
	ne, task, err := d.enqueue(e.link, result, submitOptions{})
	if err != nil {
		d.logger.Error("queue: chained submit failed",
			slog.String("task_id", e.status.ID),
			slog.String("next", e.link),
			slog.Any("error", err),
		)
		return
	}
	d.mu.Lock()
	e.status.Next = task.ID
	d.mu.Unlock()
	d.start(ne, task)
}

func (d *Dispatcher) setState(e *entry, s State, attempt int) {
	d.mu.Lock()
	e.status.State = s
	e.status.Attempts = attempt
	e.status.UpdatedAt = time.Now()
	d.mu.Unlock()
}

func (d *Dispatcher) finish(e *entry, s State, result json.RawMessage, err error) {
	d.mu.Lock()
	e.status.State = s
	e.status.Result = result
	if err != nil {
		e.status.Error = err.Error()
	} else {
		e.status.Error = ""
	}
	e.status.UpdatedAt = time.Now()
	d.mu.Unlock()
	close(e.done)
	d.wg.Done()
}

// Status returns a snapshot of the task's state.
func (d *Dispatcher) Status(taskID string) (*TaskStatus, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	st := e.status
	return &st, nil
}

// Wait blocks until the task is terminal or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context, taskID string) (*TaskStatus, error) {
	d.mu.RLock()
	e, ok := d.tasks[taskID]
	d.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	select {
	case <-e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return d.Status(taskID)
}

// WaitChain follows Next links from taskID and returns the status of the
// last task that ran.
func (d *Dispatcher) WaitChain(ctx context.Context, taskID string) (*TaskStatus, error) {
	for {
		st, err := d.Wait(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if st.State != StateSuccess || st.Next == "" {
			return st, nil
		}
		taskID = st.Next
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Running returns the number of busy workers.
func (d *Dispatcher) Running() int { return d.pool.Running() }

// Shutdown stops accepting tasks, fails pending retries, waits for running
// handlers, cancels them once ctx expires, and releases the pool.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	var pending []*entry
	for id, t := range d.timers {
		if t.Stop() {
			pending = append(pending, d.tasks[id])
		}
		delete(d.timers, id)
	}
	d.mu.Unlock()
	for _, e := range pending {
		d.finish(e, StateFailure, nil, ErrClosed)
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.cancel()
	d.pool.Release()
	d.logger.Info("queue: dispatcher stopped", slog.Int("failed_retries", len(pending)))
	return err
}
