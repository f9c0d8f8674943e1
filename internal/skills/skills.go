// Package skills implements the five business-rule operations over the
// task collection: auto-prioritization, stale-task cleanup, keyword
// search, the daily brief, and the Markdown report.
//
// Each skill is a single synchronous read-then-optionally-write pass over
// the store. "now" is captured once per invocation by the caller so the
// whole pass sees a consistent clock. Store errors propagate unmodified;
// skills never retry or recover.
package skills

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/basket/taskdesk/internal/persistence"
)

// Store is the storage surface the skills consume. *persistence.Store
// satisfies it.
type Store interface {
	ListOpenTasks(ctx context.Context) ([]persistence.Task, error)
	ListCompletedTasks(ctx context.Context) ([]persistence.Task, error)
	ListDueWithin(ctx context.Context, cutoff time.Time) ([]persistence.Task, error)
	ListReportTasks(ctx context.Context) ([]persistence.Task, error)
	SearchTasks(ctx context.Context, q string) ([]persistence.Task, error)
	SetTaskPriority(ctx context.Context, id string, priority int, now time.Time) error
	DeleteTasks(ctx context.Context, ids []string) (int, error)
}

// DefaultCleanupDays is the cleanup age threshold when the caller does
// not supply one.
const DefaultCleanupDays = 7

// Prioritize recomputes the priority of every non-completed task from
// its due-date proximity and persists the ones that changed. Within a
// band the computed value replaces the stored one unconditionally, even
// when that lowers a manually set priority; outside the bands priority
// is left untouched. Tasks without a due date are skipped. Returns the
// number of tasks updated.
func Prioritize(ctx context.Context, store Store, now time.Time) (int, error) {
	tasks, err := store.ListOpenTasks(ctx)
	if err != nil {
		return 0, err
	}

	updated := 0
	for _, task := range tasks {
		if task.DueDate == nil {
			continue
		}
		diff := task.DueDate.Sub(now)

		priority := task.Priority
		switch {
		case diff < 24*time.Hour:
			// Overdue tasks fall in here too: a negative diff is < 24h.
			priority = 5
		case diff < 3*24*time.Hour:
			priority = 4
		case diff < 7*24*time.Hour:
			priority = 3
		}

		if priority == task.Priority {
			continue
		}
		if err := store.SetTaskPriority(ctx, task.ID, priority, now); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

// Cleanup deletes every completed task whose last update is at least
// daysOld whole days in the past (inclusive). daysOld = 0 deletes every
// completed task. The deletion is irreversible; callers needing recovery
// must snapshot beforehand. Returns the number of tasks deleted.
func Cleanup(ctx context.Context, store Store, daysOld int, now time.Time) (int, error) {
	tasks, err := store.ListCompletedTasks(ctx)
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, task := range tasks {
		// Whole elapsed days, truncated toward zero.
		days := int(now.Sub(task.UpdatedAt).Hours() / 24)
		if days >= daysOld {
			stale = append(stale, task.ID)
		}
	}
	return store.DeleteTasks(ctx, stale)
}

// Search returns every task whose title or description contains q as a
// case-sensitive substring. An empty query matches every task with a
// non-null field. The store's containment semantics are inherited
// verbatim; no normalization or fuzzy matching.
func Search(ctx context.Context, store Store, q string) ([]persistence.Task, error) {
	return store.SearchTasks(ctx, q)
}

// DailyBrief summarizes open tasks due within the next 24 hours,
// overdue ones first (ascending due date). Read-only.
func DailyBrief(ctx context.Context, store Store, now time.Time) (string, error) {
	tasks, err := store.ListDueWithin(ctx, now.Add(24*time.Hour))
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "You're all caught up! No tasks due today.", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Good morning! You have %d tasks needing attention today:\n", len(tasks))
	for _, task := range tasks {
		label := "Due today"
		if task.DueDate != nil && task.DueDate.Before(now) {
			label = "Overdue!"
		}
		fmt.Fprintf(&b, "- [%d] %s (%s)\n", task.Priority, task.Title, label)
	}
	return b.String(), nil
}

// Status emoji for the report table. Unknown statuses render as 📝.
var statusEmoji = map[persistence.Status]string{
	persistence.StatusTodo:       "📅",
	persistence.StatusInProgress: "🚧",
	persistence.StatusCompleted:  "✅",
}

// Report renders a Markdown table of every task, ordered by priority
// descending then due date ascending with undated tasks last in each
// tier. Read-only.
func Report(ctx context.Context, store Store, now time.Time) (string, error) {
	tasks, err := store.ListReportTasks(ctx)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# Task Management Report\n\n")
	fmt.Fprintf(&b, "Generated on: %s\n\n", now.UTC().Format("2006-01-02 15:04 UTC"))
	b.WriteString("| Status | Priority | Title | Due Date |\n")
	b.WriteString("| --- | --- | --- | --- |\n")

	for _, task := range tasks {
		emoji, ok := statusEmoji[task.Status]
		if !ok {
			emoji = "📝"
		}
		due := "No deadline"
		if task.DueDate != nil {
			due = task.DueDate.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(&b, "| %s %s | %s | %s | %s |\n",
			emoji, task.Status, strings.Repeat("⭐", task.Priority), task.Title, due)
	}
	return b.String(), nil
}
