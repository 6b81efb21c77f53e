package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/madisonstylee/thetidytoad-sub000/internal/database"
	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
)

func setupTaskTestDB(t *testing.T) (*TaskStore, int64, int64) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fs := NewFamilyStore(db)
	family, err := fs.CreateFamily("The Toads")
	if err != nil {
		t.Fatalf("create family: %v", err)
	}
	child, err := fs.CreateChild(family.ID, "Tad")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	return NewTaskStore(db), family.ID, child.ID
}

func TestTaskCRUD(t *testing.T) {
	ts, familyID, childID := setupTaskTestDB(t)

	due := time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC)
	created, err := ts.Create(familyID, childID, "Make bed", "Every morning",
		model.MoneyReward(decimal.RequireFromString("5.00")), model.RecurrenceWeekly, &due)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if created.Status != model.TaskPending {
		t.Errorf("status = %q, want %q", created.Status, model.TaskPending)
	}
	if created.Reward.Kind != model.RewardMoney {
		t.Errorf("reward kind = %q, want %q", created.Reward.Kind, model.RewardMoney)
	}
	if !created.Reward.Amount.Equal(decimal.RequireFromString("5.00")) {
		t.Errorf("reward amount = %s, want 5.00", created.Reward.Amount)
	}
	if created.DueDate == nil || !created.DueDate.Equal(due) {
		t.Errorf("due date = %v, want %v", created.DueDate, due)
	}

	got, err := ts.GetByID(created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got == nil {
		t.Fatal("expected task, got nil")
	}
	if got.Title != "Make bed" {
		t.Errorf("title = %q, want %q", got.Title, "Make bed")
	}

	updated, err := ts.Update(created.ID, childID, "Make bed neatly", "", model.PointsReward(10), model.RecurrenceNone, nil)
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	if updated.Reward.Kind != model.RewardPoints {
		t.Errorf("reward kind = %q, want %q", updated.Reward.Kind, model.RewardPoints)
	}
	if updated.DueDate != nil {
		t.Errorf("due date = %v, want nil", updated.DueDate)
	}

	if err := ts.Delete(created.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	got, err = ts.GetByID(created.ID)
	if err != nil {
		t.Fatalf("get deleted task: %v", err)
	}
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestTaskNotFound(t *testing.T) {
	ts, _, _ := setupTaskTestDB(t)

	got, err := ts.GetByID(999)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got != nil {
		t.Error("expected nil for non-existent task")
	}
}

func TestMarkCompletedIsConditional(t *testing.T) {
	ts, familyID, childID := setupTaskTestDB(t)

	created, err := ts.Create(familyID, childID, "Dishes", "", model.PointsReward(5), model.RecurrenceNone, nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	ok, err := ts.MarkCompleted(created.ID, time.Now())
	if err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if !ok {
		t.Fatal("first completion should win")
	}

	// Second transition fails: the task is no longer pending.
	ok, err = ts.MarkCompleted(created.ID, time.Now())
	if err != nil {
		t.Fatalf("mark completed again: %v", err)
	}
	if ok {
		t.Error("second completion should not change the row")
	}

	got, _ := ts.GetByID(created.ID)
	if got.Status != model.TaskCompleted {
		t.Errorf("status = %q, want %q", got.Status, model.TaskCompleted)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at set")
	}
}

func TestMarkApprovedRequiresCompleted(t *testing.T) {
	ts, familyID, childID := setupTaskTestDB(t)

	created, err := ts.Create(familyID, childID, "Dishes", "", model.PointsReward(5), model.RecurrenceNone, nil)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// pending → approved must not succeed.
	ok, err := ts.MarkApproved(created.ID, time.Now())
	if err != nil {
		t.Fatalf("mark approved: %v", err)
	}
	if ok {
		t.Fatal("approving a pending task should not change the row")
	}

	if _, err := ts.MarkCompleted(created.ID, time.Now()); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	ok, err = ts.MarkApproved(created.ID, time.Now())
	if err != nil {
		t.Fatalf("mark approved: %v", err)
	}
	if !ok {
		t.Fatal("approving a completed task should succeed")
	}

	got, _ := ts.GetByID(created.ID)
	if got.Status != model.TaskApproved {
		t.Errorf("status = %q, want %q", got.Status, model.TaskApproved)
	}
	if got.ApprovedAt == nil {
		t.Error("expected approved_at set")
	}
}

func TestListByFamilyAndAssignee(t *testing.T) {
	ts, familyID, childID := setupTaskTestDB(t)

	ts.Create(familyID, childID, "One", "", model.PointsReward(1), model.RecurrenceNone, nil)
	ts.Create(familyID, childID, "Two", "", model.PointsReward(2), model.RecurrenceNone, nil)

	byFamily, err := ts.ListByFamily(familyID)
	if err != nil {
		t.Fatalf("list by family: %v", err)
	}
	if len(byFamily) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(byFamily))
	}

	byAssignee, err := ts.ListByAssignee(childID)
	if err != nil {
		t.Fatalf("list by assignee: %v", err)
	}
	if len(byAssignee) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(byAssignee))
	}
}
