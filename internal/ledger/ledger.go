// Package ledger records every task invocation in the task_executions table
// so a redelivered, duplicated, or retried job can decide whether it still
// has work to do. It owns its queries against the shared SQLite pool opened
// by the store package.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a ledger record.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusStarted Status = "STARTED"
	StatusRetry   Status = "RETRY"
	StatusSuccess Status = "SUCCESS"
	StatusFailure Status = "FAILURE"
)

// Terminal reports whether s is SUCCESS or FAILURE.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusStarted, StatusRetry, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

// DefaultGracePeriod is added to a task's time limit before a non-terminal
// record is treated as abandoned.
const DefaultGracePeriod = 60 * time.Second

var (
	// ErrDuplicateSubmission is returned by RecordStart when a record with the
	// same (task name, args hash, external id) already exists. The existing
	// record is returned alongside it.
	ErrDuplicateSubmission = errors.New("ledger: duplicate submission")

	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("ledger: record not found")
)

// Record is one row of the ledger.
type Record struct {
	ID             int64
	TaskName       string
	ArgsHash       string
	ExternalTaskID string
	Status         Status
	Args           map[string]any
	Result         json.RawMessage
	StartedAt      *time.Time
	CompletedAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Ledger reads and writes task execution records.
type Ledger struct {
	db    *sql.DB
	now   func() time.Time
	grace time.Duration
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithGracePeriod overrides DefaultGracePeriod.
func WithGracePeriod(d time.Duration) Option {
	return func(l *Ledger) { l.grace = d }
}

// New returns a Ledger over db. The task_executions table must already exist
// (store.Open creates it).
func New(db *sql.DB, opts ...Option) *Ledger {
	l := &Ledger{db: db, now: time.Now, grace: DefaultGracePeriod}
	for _, o := range opts {
		o(l)
	}
	return l
}

// RecordStart inserts a PENDING record for the invocation and returns it.
// When an identical record exists, that record is returned together with
// ErrDuplicateSubmission.
func (l *Ledger) RecordStart(ctx context.Context, taskName string, args map[string]any, externalID string) (*Record, error) {
	hash, err := ComputeHash(taskName, args)
	if err != nil {
		return nil, err
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("ledger: encode args: %w", err)
	}

	now := l.now().Unix()
	const q = `INSERT INTO task_executions
    (task_name, task_args_hash, external_task_id, status, task_args, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (task_name, task_args_hash, external_task_id) DO NOTHING`
	res, err := l.db.ExecContext(ctx, q, taskName, hash, externalID, string(StatusPending), string(argsJSON), now, now)
	if err != nil {
		return nil, fmt.Errorf("ledger: record start %s: %w", taskName, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		existing, err := l.find(ctx, taskName, hash, externalID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, fmt.Errorf("ledger: record start %s: conflict without existing row", taskName)
		}
		return existing, ErrDuplicateSubmission
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ledger: record start id: %w", err)
	}
	return l.Get(ctx, id)
}

// UpdateOption adjusts an UpdateStatus call.
type UpdateOption func(*update)

type update struct {
	result     any
	hasResult  bool
	externalID string
}

// WithResult stores v (JSON-encoded) as the record's result.
func WithResult(v any) UpdateOption {
	return func(u *update) {
		u.result = v
		u.hasResult = true
	}
}

// WithExternalID sets the record's external task id.
func WithExternalID(id string) UpdateOption {
	return func(u *update) { u.externalID = id }
}

// UpdateStatus moves record id to status. STARTED stamps started_at and the
// terminal statuses stamp completed_at. The result and external id are only
// written when supplied.
func (l *Ledger) UpdateStatus(ctx context.Context, id int64, status Status, opts ...UpdateOption) error {
	if !status.Valid() {
		return fmt.Errorf("ledger: unknown status %q", status)
	}
	var u update
	for _, o := range opts {
		o(&u)
	}

	now := l.now().Unix()
	set := "status = ?, updated_at = ?"
	args := []any{string(status), now}
	if u.hasResult {
		b, err := json.Marshal(u.result)
		if err != nil {
			return fmt.Errorf("ledger: encode result: %w", err)
		}
		set += ", result = ?"
		args = append(args, string(b))
	}
	if u.externalID != "" {
		set += ", external_task_id = ?"
		args = append(args, u.externalID)
	}
	switch {
	case status == StatusStarted:
		set += ", started_at = ?"
		args = append(args, now)
	case status.Terminal():
		set += ", completed_at = ?"
		args = append(args, now)
	}
	args = append(args, id)

	res, err := l.db.ExecContext(ctx, "UPDATE task_executions SET "+set+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("ledger: update %d to %s: %w", id, status, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return nil
}

// ShouldExecute decides whether an invocation still has work to do and
// returns the matching record when one exists.
//
//   - no record: execute
//   - SUCCESS: skip
//   - FAILURE: execute again
//   - PENDING, STARTED, RETRY: execute only when the record has been running
//     longer than timeLimit plus the grace period. A record that never
//     reached STARTED is aged from created_at, so a worker that died between
//     RecordStart and STARTED does not block the invocation forever.
func (l *Ledger) ShouldExecute(ctx context.Context, taskName string, args map[string]any, externalID string, timeLimit time.Duration) (bool, *Record, error) {
	hash, err := ComputeHash(taskName, args)
	if err != nil {
		return false, nil, err
	}
	rec, err := l.find(ctx, taskName, hash, externalID)
	if err != nil {
		return false, nil, err
	}
	if rec == nil {
		return true, nil, nil
	}

	switch rec.Status {
	case StatusSuccess:
		return false, rec, nil
	case StatusFailure:
		return true, rec, nil
	default:
		since := rec.CreatedAt
		if rec.StartedAt != nil {
			since = *rec.StartedAt
		}
		if l.now().Sub(since) > timeLimit+l.grace {
			return true, rec, nil
		}
		return false, rec, nil
	}
}

// Get returns the record with the given id or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id int64) (*Record, error) {
	row := l.db.QueryRowContext(ctx, selectRecord+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: get %d: %w", id, err)
	}
	return rec, nil
}

// LatestByExternalID returns the most recent record carrying the external
// task id or ErrNotFound.
func (l *Ledger) LatestByExternalID(ctx context.Context, externalID string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, selectRecord+` WHERE external_task_id = ? ORDER BY id DESC LIMIT 1`, externalID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: external id %s", ErrNotFound, externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: lookup %s: %w", externalID, err)
	}
	return rec, nil
}

// Sweep deletes records created more than olderThan ago and returns how many
// were removed.
func (l *Ledger) Sweep(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := l.now().Add(-olderThan).Unix()
	res, err := l.db.ExecContext(ctx, `DELETE FROM task_executions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("ledger: sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: sweep count: %w", err)
	}
	return int(n), nil
}

const selectRecord = `SELECT id, task_name, task_args_hash, external_task_id, status, task_args, result,
    started_at, completed_at, created_at, updated_at
FROM task_executions`

// find looks up by (task name, hash, external id). Rows without an external
// id store the empty string so the unique constraint also covers them.
func (l *Ledger) find(ctx context.Context, taskName, hash, externalID string) (*Record, error) {
	row := l.db.QueryRowContext(ctx,
		selectRecord+` WHERE task_name = ? AND task_args_hash = ? AND external_task_id = ? ORDER BY id DESC LIMIT 1`,
		taskName, hash, externalID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: find %s: %w", taskName, err)
	}
	return rec, nil
}

func scanRecord(row *sql.Row) (*Record, error) {
	var (
		r                  Record
		ext, args, result  sql.NullString
		started, completed sql.NullInt64
		created, updated   int64
		status             string
	)
	if err := row.Scan(&r.ID, &r.TaskName, &r.ArgsHash, &ext, &status, &args, &result,
		&started, &completed, &created, &updated); err != nil {
		return nil, err
	}
	r.Status = Status(status)
	r.ExternalTaskID = ext.String
	if args.Valid && args.String != "" {
		if err := decodeJSON([]byte(args.String), &r.Args); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		r.Result = json.RawMessage(result.String)
	}
	r.StartedAt = unixPtr(started)
	r.CompletedAt = unixPtr(completed)
	r.CreatedAt = time.Unix(created, 0)
	r.UpdatedAt = time.Unix(updated, 0)
	return &r, nil
}

func unixPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0)
	return &t
}
