package skills_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/basket/taskdesk/internal/persistence"
	"github.com/basket/taskdesk/internal/skills"
)

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "taskdesk.db")
	store, err := persistence.Open(dbPath, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func createTask(t *testing.T, store *persistence.Store, draft persistence.TaskDraft) persistence.Task {
	t.Helper()
	task, err := store.CreateTask(context.Background(), draft)
	if err != nil {
		t.Fatalf("create task %q: %v", draft.Title, err)
	}
	return task
}

// backdate rewrites a task's updated_at directly; CreateTask always stamps
// "now" and cleanup decisions key off updated_at age.
func backdate(t *testing.T, store *persistence.Store, id string, updatedAt time.Time) {
	t.Helper()
	if _, err := store.DB().Exec(`UPDATE tasks SET updated_at = ? WHERE id = ?;`, updatedAt.UTC(), id); err != nil {
		t.Fatalf("backdate task %s: %v", id, err)
	}
}

func due(t time.Time) *time.Time { return &t }

func TestPrioritize_Bands(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	soon := createTask(t, store, persistence.TaskDraft{Title: "Due soon", DueDate: due(now.Add(time.Hour)), Priority: 1})
	threeDay := createTask(t, store, persistence.TaskDraft{Title: "Due in two days", DueDate: due(now.Add(48 * time.Hour)), Priority: 1})
	week := createTask(t, store, persistence.TaskDraft{Title: "Due in five days", DueDate: due(now.Add(5 * 24 * time.Hour)), Priority: 1})
	far := createTask(t, store, persistence.TaskDraft{Title: "Due in ten days", DueDate: due(now.Add(10 * 24 * time.Hour)), Priority: 2})
	undated := createTask(t, store, persistence.TaskDraft{Title: "No due date", Priority: 2})

	updated, err := skills.Prioritize(ctx, store, now)
	if err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	if updated != 3 {
		t.Fatalf("expected 3 updates, got %d", updated)
	}

	want := map[string]int{
		soon.ID:     5,
		threeDay.ID: 4,
		week.ID:     3,
		far.ID:      2,
		undated.ID:  2,
	}
	for id, priority := range want {
		got, err := store.GetTask(ctx, id)
		if err != nil {
			t.Fatalf("get task %s: %v", id, err)
		}
		if got.Priority != priority {
			t.Errorf("task %q: expected priority %d, got %d", got.Title, priority, got.Priority)
		}
	}
}

func TestPrioritize_OverdueGetsTopPriority(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := createTask(t, store, persistence.TaskDraft{Title: "Late", DueDate: due(now.Add(-3 * time.Hour)), Priority: 2})

	if _, err := skills.Prioritize(ctx, store, now); err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Priority != 5 {
		t.Fatalf("expected overdue task at priority 5, got %d", got.Priority)
	}
}

func TestPrioritize_OverwritesWithinBand(t *testing.T) {
	// The band assignment is an unconditional overwrite: a manually set 5
	// due in five days is lowered to the band's 3.
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := createTask(t, store, persistence.TaskDraft{Title: "Manual top", DueDate: due(now.Add(5 * 24 * time.Hour)), Priority: 5})

	if _, err := skills.Prioritize(ctx, store, now); err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Priority != 3 {
		t.Fatalf("expected band overwrite to 3, got %d", got.Priority)
	}
}

func TestPrioritize_SkipsCompleted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := createTask(t, store, persistence.TaskDraft{
		Title: "Done", Status: persistence.StatusCompleted, DueDate: due(now.Add(time.Hour)), Priority: 1,
	})

	updated, err := skills.Prioritize(ctx, store, now)
	if err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	if updated != 0 {
		t.Fatalf("expected no updates, got %d", updated)
	}
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Priority != 1 {
		t.Fatalf("completed task priority changed to %d", got.Priority)
	}
}

func TestPrioritize_Idempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createTask(t, store, persistence.TaskDraft{Title: "Due soon", DueDate: due(now.Add(time.Hour)), Priority: 1})
	createTask(t, store, persistence.TaskDraft{Title: "Due later", DueDate: due(now.Add(2 * 24 * time.Hour)), Priority: 1})

	first, err := skills.Prioritize(ctx, store, now)
	if err != nil {
		t.Fatalf("first prioritize: %v", err)
	}
	if first != 2 {
		t.Fatalf("expected 2 updates on first pass, got %d", first)
	}
	second, err := skills.Prioritize(ctx, store, now)
	if err != nil {
		t.Fatalf("second prioritize: %v", err)
	}
	if second != 0 {
		t.Fatalf("expected idempotent second pass, got %d updates", second)
	}
}

func TestPrioritize_RefreshesUpdatedAt(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	task := createTask(t, store, persistence.TaskDraft{Title: "Due soon", DueDate: due(now.Add(time.Hour)), Priority: 1})
	backdate(t, store, task.ID, now.Add(-48*time.Hour))

	if _, err := skills.Prioritize(ctx, store, now); err != nil {
		t.Fatalf("prioritize: %v", err)
	}
	got, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.UpdatedAt.Before(now.Add(-time.Minute)) {
		t.Fatalf("expected updated_at refreshed, got %v", got.UpdatedAt)
	}
}

func TestCleanup_AgeThreshold(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := createTask(t, store, persistence.TaskDraft{Title: "Old", Status: persistence.StatusCompleted})
	backdate(t, store, old.ID, now.Add(-10*24*time.Hour))
	fresh := createTask(t, store, persistence.TaskDraft{Title: "New", Status: persistence.StatusCompleted})
	backdate(t, store, fresh.ID, now.Add(-24*time.Hour))

	deleted, err := skills.Cleanup(ctx, store, 7, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if _, err := store.GetTask(ctx, old.ID); err != persistence.ErrNotFound {
		t.Fatalf("expected old task deleted, got %v", err)
	}
	if _, err := store.GetTask(ctx, fresh.ID); err != nil {
		t.Fatalf("expected fresh task kept, got %v", err)
	}
}

func TestCleanup_ZeroDaysDeletesAllCompleted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	done := createTask(t, store, persistence.TaskDraft{Title: "Done just now", Status: persistence.StatusCompleted})
	open := createTask(t, store, persistence.TaskDraft{Title: "Still open"})

	deleted, err := skills.Cleanup(ctx, store, 0, now)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", deleted)
	}
	if _, err := store.GetTask(ctx, done.ID); err != persistence.ErrNotFound {
		t.Fatalf("expected completed task deleted, got %v", err)
	}
	if _, err := store.GetTask(ctx, open.ID); err != nil {
		t.Fatalf("expected open task untouched, got %v", err)
	}
}

func TestSearch_SubstringMatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	createTask(t, store, persistence.TaskDraft{Title: "Buy Milk", Description: "From the store"})
	createTask(t, store, persistence.TaskDraft{Title: "Work", Description: "On the project"})

	results, err := skills.Search(ctx, store, "Milk")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Buy Milk" {
		t.Fatalf("expected Buy Milk, got %q", results[0].Title)
	}
}

func TestSearch_CaseSensitiveAndDescription(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	createTask(t, store, persistence.TaskDraft{Title: "Groceries", Description: "pick up milk"})

	lower, err := skills.Search(ctx, store, "milk")
	if err != nil {
		t.Fatalf("search milk: %v", err)
	}
	if len(lower) != 1 {
		t.Fatalf("expected description match, got %d results", len(lower))
	}

	upper, err := skills.Search(ctx, store, "Milk")
	if err != nil {
		t.Fatalf("search Milk: %v", err)
	}
	if len(upper) != 0 {
		t.Fatalf("expected case-sensitive miss, got %d results", len(upper))
	}
}

func TestSearch_EmptyQueryMatchesAll(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	createTask(t, store, persistence.TaskDraft{Title: "One"})
	createTask(t, store, persistence.TaskDraft{Title: "Two"})

	results, err := skills.Search(ctx, store, "")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected every task, got %d", len(results))
	}
}

func TestDailyBrief_OverdueMarker(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createTask(t, store, persistence.TaskDraft{Title: "Urgent", Status: persistence.StatusTodo, DueDate: due(now.Add(-time.Hour))})

	brief, err := skills.DailyBrief(ctx, store, now)
	if err != nil {
		t.Fatalf("daily brief: %v", err)
	}
	if !strings.Contains(brief, "Urgent") {
		t.Fatalf("brief missing task title:\n%s", brief)
	}
	if !strings.Contains(brief, "Overdue!") {
		t.Fatalf("brief missing overdue marker:\n%s", brief)
	}
}

func TestDailyBrief_OrderAndLabels(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createTask(t, store, persistence.TaskDraft{Title: "Later today", DueDate: due(now.Add(4 * time.Hour)), Priority: 2})
	createTask(t, store, persistence.TaskDraft{Title: "Past due", DueDate: due(now.Add(-2 * time.Hour)), Priority: 5})
	createTask(t, store, persistence.TaskDraft{Title: "Next week", DueDate: due(now.Add(6 * 24 * time.Hour))})
	createTask(t, store, persistence.TaskDraft{Title: "Undated"})

	brief, err := skills.DailyBrief(ctx, store, now)
	if err != nil {
		t.Fatalf("daily brief: %v", err)
	}
	if !strings.HasPrefix(brief, "Good morning! You have 2 tasks needing attention today:") {
		t.Fatalf("unexpected header:\n%s", brief)
	}
	overdueIdx := strings.Index(brief, "- [5] Past due (Overdue!)")
	todayIdx := strings.Index(brief, "- [2] Later today (Due today)")
	if overdueIdx == -1 || todayIdx == -1 {
		t.Fatalf("missing expected lines:\n%s", brief)
	}
	if overdueIdx > todayIdx {
		t.Fatalf("expected ascending due-date order:\n%s", brief)
	}
	if strings.Contains(brief, "Next week") || strings.Contains(brief, "Undated") {
		t.Fatalf("brief includes out-of-window tasks:\n%s", brief)
	}
}

func TestDailyBrief_AllCaughtUp(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createTask(t, store, persistence.TaskDraft{Title: "Far out", DueDate: due(now.Add(10 * 24 * time.Hour))})

	brief, err := skills.DailyBrief(ctx, store, now)
	if err != nil {
		t.Fatalf("daily brief: %v", err)
	}
	if brief != "You're all caught up! No tasks due today." {
		t.Fatalf("expected fixed no-tasks sentence, got:\n%s", brief)
	}
}

func TestDailyBrief_ExcludesCompleted(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createTask(t, store, persistence.TaskDraft{
		Title: "Finished", Status: persistence.StatusCompleted, DueDate: due(now.Add(-time.Hour)),
	})

	brief, err := skills.DailyBrief(ctx, store, now)
	if err != nil {
		t.Fatalf("daily brief: %v", err)
	}
	if strings.Contains(brief, "Finished") {
		t.Fatalf("brief includes completed task:\n%s", brief)
	}
}

func TestReport_TableContents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 29, 9, 30, 0, 0, time.UTC)

	dueAt := time.Date(2026, 9, 1, 17, 0, 0, 0, time.UTC)
	createTask(t, store, persistence.TaskDraft{Title: "Ship release", Status: persistence.StatusInProgress, Priority: 5, DueDate: &dueAt})
	createTask(t, store, persistence.TaskDraft{Title: "Tidy backlog", Priority: 2})
	createTask(t, store, persistence.TaskDraft{Title: "Retro notes", Status: persistence.StatusCompleted, Priority: 1})

	report, err := skills.Report(ctx, store, now)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if !strings.HasPrefix(report, "# Task Management Report\n") {
		t.Fatalf("missing report header:\n%s", report)
	}
	if !strings.Contains(report, "Generated on: 2026-08-29 09:30 UTC") {
		t.Fatalf("missing generated-on line:\n%s", report)
	}
	if !strings.Contains(report, "| Status | Priority | Title | Due Date |") {
		t.Fatalf("missing table header:\n%s", report)
	}
	if !strings.Contains(report, "| 🚧 in_progress | ⭐⭐⭐⭐⭐ | Ship release | 2026-09-01 17:00 |") {
		t.Fatalf("missing in_progress row:\n%s", report)
	}
	if !strings.Contains(report, "| 📅 todo | ⭐⭐ | Tidy backlog | No deadline |") {
		t.Fatalf("missing todo row:\n%s", report)
	}
	if !strings.Contains(report, "| ✅ completed | ⭐ | Retro notes | No deadline |") {
		t.Fatalf("missing completed row:\n%s", report)
	}
}

func TestReport_Ordering(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	createTask(t, store, persistence.TaskDraft{Title: "Low", Priority: 1})
	createTask(t, store, persistence.TaskDraft{Title: "High undated", Priority: 4})
	createTask(t, store, persistence.TaskDraft{Title: "High dated", Priority: 4, DueDate: due(now.Add(24 * time.Hour))})

	report, err := skills.Report(ctx, store, now)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	dated := strings.Index(report, "High dated")
	undated := strings.Index(report, "High undated")
	low := strings.Index(report, "| Low |")
	if dated == -1 || undated == -1 || low == -1 {
		t.Fatalf("missing rows:\n%s", report)
	}
	if !(dated < undated && undated < low) {
		t.Fatalf("expected priority desc with nulls last, got order dated=%d undated=%d low=%d:\n%s", dated, undated, low, report)
	}
}
