package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/basket/taskdesk/internal/bus"
)

// ErrNotFound is returned by single-task lookups when no row matches.
var ErrNotFound = errors.New("task not found")

type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the closed status values.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task is the sole entity: a unit of work with audit timestamps.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskDraft carries the caller-supplied fields for a new task. The store
// assigns id and timestamps and applies defaults for status and priority.
type TaskDraft struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      Status     `json:"status,omitempty"`
	Priority    int        `json:"priority,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// TaskPatch is a partial update: nil fields are left unchanged.
// ClearDueDate removes an existing due date (an explicit null in the
// request body, as opposed to an absent field).
type TaskPatch struct {
	Title        *string
	Description  *string
	Status       *Status
	Priority     *int
	DueDate      *time.Time
	ClearDueDate bool
}

// TaskFilter narrows ListTasks. The zero value lists everything with the
// default page size.
type TaskFilter struct {
	Status Status
	Limit  int
	Offset int
}

// TaskCounts holds per-status totals for health and metrics endpoints.
type TaskCounts struct {
	Todo       int64 `json:"todo"`
	InProgress int64 `json:"in_progress"`
	Completed  int64 `json:"completed"`
}

const taskColumns = `id, title, description, status, priority, due_date, created_at, updated_at`

func scanTask(scanFn func(dest ...any) error, task *Task) error {
	var description sql.NullString
	var due sql.NullTime
	if err := scanFn(
		&task.ID,
		&task.Title,
		&description,
		&task.Status,
		&task.Priority,
		&due,
		&task.CreatedAt,
		&task.UpdatedAt,
	); err != nil {
		return err
	}
	if description.Valid {
		task.Description = description.String
	}
	if due.Valid {
		t := due.Time.UTC()
		task.DueDate = &t
	} else {
		task.DueDate = nil
	}
	task.CreatedAt = task.CreatedAt.UTC()
	task.UpdatedAt = task.UpdatedAt.UTC()
	return nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		var task Task
		if err := scanTask(rows.Scan, &task); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("task rows: %w", err)
	}
	return out, nil
}

// utcOrNil normalizes an optional timestamp to UTC. Timestamps lacking
// explicit zone information have already been parsed as UTC by the
// gateway; this keeps skill-written and client-written values comparable.
func utcOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

// CreateTask inserts a new task, assigning id and timestamps. Status
// defaults to todo and priority to 1 when unset.
func (s *Store) CreateTask(ctx context.Context, draft TaskDraft) (Task, error) {
	if draft.Title == "" {
		return Task{}, fmt.Errorf("create task: title must not be empty")
	}
	if draft.Status == "" {
		draft.Status = StatusTodo
	}
	if !draft.Status.Valid() {
		return Task{}, fmt.Errorf("create task: invalid status %q", draft.Status)
	}
	if draft.Priority == 0 {
		draft.Priority = 1
	}
	if draft.Priority < 1 || draft.Priority > 5 {
		return Task{}, fmt.Errorf("create task: priority %d out of range [1,5]", draft.Priority)
	}

	taskID := uuid.NewString()
	now := time.Now().UTC()
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin create task tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var description any
		if draft.Description != "" {
			description = draft.Description
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (id, title, description, status, priority, due_date, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);
		`, taskID, draft.Title, description, draft.Status, draft.Priority, utcOrNil(draft.DueDate), now, now); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, taskID, "task.created", ""); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return Task{}, err
	}
	s.publish(bus.TopicTaskCreated, taskID)
	return s.GetTask(ctx, taskID)
}

// GetTask returns the task with the given id, or ErrNotFound.
func (s *Store) GetTask(ctx context.Context, id string) (Task, error) {
	var task Task
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = ?;
	`, id)
	if err := scanTask(row.Scan, &task); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks in creation order with an optional status
// filter. Limit defaults to 100 and is capped at 100.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if filter.Status != "" {
		return s.queryTasks(ctx, `
			SELECT `+taskColumns+`
			FROM tasks
			WHERE status = ?
			ORDER BY created_at, id
			LIMIT ? OFFSET ?;
		`, filter.Status, limit, offset)
	}
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY created_at, id
		LIMIT ? OFFSET ?;
	`, limit, offset)
}

// PatchTask applies a partial update: only supplied fields change, and
// updated_at is refreshed. Returns the updated task or ErrNotFound.
func (s *Store) PatchTask(ctx context.Context, id string, patch TaskPatch) (Task, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return Task{}, fmt.Errorf("patch task: invalid status %q", *patch.Status)
	}
	if patch.Priority != nil && (*patch.Priority < 1 || *patch.Priority > 5) {
		return Task{}, fmt.Errorf("patch task: priority %d out of range [1,5]", *patch.Priority)
	}
	if patch.Title != nil && *patch.Title == "" {
		return Task{}, fmt.Errorf("patch task: title must not be empty")
	}

	now := time.Now().UTC()
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin patch task tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var task Task
		row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?;`, id)
		if err := scanTask(row.Scan, &task); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("select task for patch: %w", err)
		}

		if patch.Title != nil {
			task.Title = *patch.Title
		}
		if patch.Description != nil {
			task.Description = *patch.Description
		}
		if patch.Status != nil {
			task.Status = *patch.Status
		}
		if patch.Priority != nil {
			task.Priority = *patch.Priority
		}
		if patch.ClearDueDate {
			task.DueDate = nil
		} else if patch.DueDate != nil {
			task.DueDate = patch.DueDate
		}

		var description any
		if task.Description != "" {
			description = task.Description
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET title = ?, description = ?, status = ?, priority = ?, due_date = ?, updated_at = ?
			WHERE id = ?;
		`, task.Title, description, task.Status, task.Priority, utcOrNil(task.DueDate), now, id); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		if err := s.appendTaskEventTx(ctx, tx, id, "task.updated", ""); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return Task{}, err
	}
	s.publish(bus.TopicTaskUpdated, id)
	return s.GetTask(ctx, id)
}

// DeleteTask removes the task with the given id, or returns ErrNotFound.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete task tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("delete rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		if err := s.appendTaskEventTx(ctx, tx, id, "task.deleted", ""); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicTaskDeleted, id)
	return nil
}

// DeleteTasks removes the given ids in one transaction and returns the
// number of rows actually deleted. Used by the cleanup skill.
func (s *Store) DeleteTasks(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	var deleted int
	err := retryOnBusy(ctx, 5, func() error {
		deleted = 0
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin delete tasks tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		for _, id := range ids {
			res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?;`, id)
			if err != nil {
				return fmt.Errorf("delete task %s: %w", id, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("delete rows affected: %w", err)
			}
			if affected == 0 {
				continue
			}
			if err := s.appendTaskEventTx(ctx, tx, id, "task.deleted", "cleanup"); err != nil {
				return err
			}
			deleted++
		}
		return tx.Commit()
	})
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.publish(bus.TopicTaskDeleted, id)
	}
	return deleted, nil
}

// SetTaskPriority persists a skill-computed priority, refreshing
// updated_at. Returns ErrNotFound when the task no longer exists.
func (s *Store) SetTaskPriority(ctx context.Context, id string, priority int, now time.Time) error {
	if priority < 1 || priority > 5 {
		return fmt.Errorf("set priority: %d out of range [1,5]", priority)
	}
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin set priority tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx, `
			UPDATE tasks SET priority = ?, updated_at = ? WHERE id = ?;
		`, priority, now.UTC(), id)
		if err != nil {
			return fmt.Errorf("update priority: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("priority rows affected: %w", err)
		}
		if affected == 0 {
			return ErrNotFound
		}
		if err := s.appendTaskEventTx(ctx, tx, id, "task.updated", fmt.Sprintf("priority=%d", priority)); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	s.publish(bus.TopicTaskUpdated, id)
	return nil
}

// ListOpenTasks returns every task whose status is not completed.
func (s *Store) ListOpenTasks(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status != ?
		ORDER BY created_at, id;
	`, StatusCompleted)
}

// ListCompletedTasks returns every completed task.
func (s *Store) ListCompletedTasks(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status = ?
		ORDER BY created_at, id;
	`, StatusCompleted)
}

// ListDueWithin returns open tasks with a due date at or before cutoff,
// ordered by due date ascending. Tasks without a due date are excluded.
func (s *Store) ListDueWithin(ctx context.Context, cutoff time.Time) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE status != ? AND due_date IS NOT NULL AND due_date <= ?
		ORDER BY due_date ASC;
	`, StatusCompleted, cutoff.UTC())
}

// ListReportTasks returns every task ordered by priority descending then
// due date ascending, with undated tasks last within each priority tier.
func (s *Store) ListReportTasks(ctx context.Context) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT ` + taskColumns + `
		FROM tasks
		ORDER BY priority DESC, due_date IS NULL, due_date ASC;
	`)
}

// SearchTasks returns tasks whose title or description contains q as a
// case-sensitive substring. instr() is used instead of LIKE because
// SQLite's LIKE folds ASCII case; instr also treats the empty needle as
// matching any non-null haystack, so an empty query matches every task
// with a non-null field.
func (s *Store) SearchTasks(ctx context.Context, q string) ([]Task, error) {
	return s.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE instr(title, ?1) > 0 OR instr(description, ?1) > 0
		ORDER BY created_at, id;
	`, q)
}

// Counts returns per-status task totals.
func (s *Store) Counts(ctx context.Context) (TaskCounts, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(1) FROM tasks GROUP BY status;
	`)
	if err != nil {
		return TaskCounts{}, fmt.Errorf("count tasks: %w", err)
	}
	defer rows.Close()

	var counts TaskCounts
	for rows.Next() {
		var status Status
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return TaskCounts{}, fmt.Errorf("scan task count: %w", err)
		}
		switch status {
		case StatusTodo:
			counts.Todo = n
		case StatusInProgress:
			counts.InProgress = n
		case StatusCompleted:
			counts.Completed = n
		}
	}
	if err := rows.Err(); err != nil {
		return TaskCounts{}, fmt.Errorf("task count rows: %w", err)
	}
	return counts, nil
}
