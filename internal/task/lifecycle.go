// Package task owns the task state machine and orchestrates approval side
// effects: settlement, notification and recurrence.
package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/madisonstylee/thetidytoad-sub000/internal/auth"
	"github.com/madisonstylee/thetidytoad-sub000/internal/ledger"
	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
	"github.com/madisonstylee/thetidytoad-sub000/internal/notify"
	"github.com/madisonstylee/thetidytoad-sub000/internal/recurrence"
	"github.com/madisonstylee/thetidytoad-sub000/internal/store"
)

var (
	ErrNotFound          = errors.New("task: not found")
	ErrInvalidTransition = errors.New("task: invalid state transition")
	ErrPermissionDenied  = errors.New("task: permission denied")
	ErrValidation        = errors.New("task: validation failed")
)

// Manager enforces the pending → completed → approved state machine.
// Transition violations are caller errors and are never retried.
type Manager struct {
	tasks    *store.TaskStore
	families *store.FamilyStore
	engine   *ledger.Engine
	notifier notify.Dispatcher
	logger   *slog.Logger
}

func NewManager(tasks *store.TaskStore, families *store.FamilyStore, engine *ledger.Engine, notifier notify.Dispatcher, logger *slog.Logger) *Manager {
	return &Manager{
		tasks:    tasks,
		families: families,
		engine:   engine,
		notifier: notifier,
		logger:   logger,
	}
}

// CreateTask creates a pending task assigned to a child of the parent's
// family.
func (m *Manager) CreateTask(ctx context.Context, actor auth.Actor, assignedTo int64, title, description string, reward model.RewardSpec, rule model.Recurrence, dueDate *time.Time) (*model.Task, error) {
	if !actor.IsParent() {
		return nil, ErrPermissionDenied
	}
	return m.createTask(ctx, actor.FamilyID, assignedTo, title, description, reward, rule, dueDate)
}

// createTask is the shared creation contract, used by CreateTask and by
// recurrence spawning.
func (m *Manager) createTask(ctx context.Context, familyID, assignedTo int64, title, description string, reward model.RewardSpec, rule model.Recurrence, dueDate *time.Time) (*model.Task, error) {
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if err := validateRewardSpec(reward); err != nil {
		return nil, err
	}
	if _, err := recurrence.Parse(string(rule)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	child, err := m.families.GetChild(assignedTo)
	if err != nil {
		return nil, err
	}
	if child == nil || child.FamilyID != familyID {
		return nil, fmt.Errorf("%w: child %d in family %d", ErrNotFound, assignedTo, familyID)
	}

	return m.tasks.Create(familyID, assignedTo, title, description, reward, rule, dueDate)
}

// CompleteTask moves a pending task to completed. Only the assigned child may
// complete it. Parents of the family are notified best-effort.
func (m *Manager) CompleteTask(ctx context.Context, actor auth.Actor, taskID int64) (*model.Task, error) {
	t, err := m.tasks.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if !actor.IsChild() || actor.ID != t.AssignedTo {
		return nil, ErrPermissionDenied
	}
	if t.Status != model.TaskPending {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, model.TaskCompleted)
	}

	ok, err := m.tasks.MarkCompleted(taskID, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another writer between the read and the
		// conditional write.
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, model.TaskCompleted)
	}

	m.notifyParents(ctx, t.FamilyID, notify.KindTaskCompleted,
		fmt.Sprintf("%q was completed and is waiting for approval", t.Title), taskID)

	return m.tasks.GetByID(taskID)
}

// ApproveTask moves a completed task to approved. The reward settles before
// the status write, so a task never shows approved without its credit; the
// settlement key is the task id, so racing approvals credit at most once.
// Notification and recurrence failures are logged and never roll back the
// approval.
func (m *Manager) ApproveTask(ctx context.Context, actor auth.Actor, taskID int64) (*model.Task, error) {
	t, err := m.tasks.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if !actor.IsParent() || actor.FamilyID != t.FamilyID {
		return nil, ErrPermissionDenied
	}
	if t.Status != model.TaskCompleted {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, model.TaskApproved)
	}

	if err := m.engine.Settle(ctx, t.AssignedTo, taskID, t.Reward); err != nil {
		return nil, fmt.Errorf("settle task %d: %w", taskID, err)
	}

	ok, err := m.tasks.MarkApproved(taskID, time.Now())
	if err != nil {
		return nil, err
	}
	if !ok {
		// A concurrent approval won. The settlement above was a no-op
		// thanks to the idempotency key, so nothing needs to be undone.
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, model.TaskApproved)
	}

	m.notifier.Notify(ctx, auth.RoleChild, t.AssignedTo, notify.KindTaskApproved,
		fmt.Sprintf("%q was approved, your reward is in your Ribbit Reserve", t.Title), taskID)

	if t.Recurrence != model.RecurrenceNone {
		m.spawnNext(ctx, t)
	}

	return m.tasks.GetByID(taskID)
}

// spawnNext creates the next instance of a recurring task. Failure aborts
// only the spawn; the approval already committed.
func (m *Manager) spawnNext(ctx context.Context, t *model.Task) {
	next := recurrence.NextDueDate(t.Recurrence, t.DueDate)
	spawned, err := m.createTask(ctx, t.FamilyID, t.AssignedTo, t.Title, t.Description, t.Reward, t.Recurrence, next)
	if err != nil {
		m.logger.Error("spawn recurring task", "task_id", t.ID, "error", err)
		return
	}
	m.logger.Info("spawned recurring task", "task_id", t.ID, "next_task_id", spawned.ID, "recurrence", t.Recurrence)
}

// EditTask replaces a pending task's fields, reward spec included. Tasks that
// have moved past pending are locked against edits; settled amounts are never
// rewritten.
func (m *Manager) EditTask(ctx context.Context, actor auth.Actor, taskID, assignedTo int64, title, description string, reward model.RewardSpec, rule model.Recurrence, dueDate *time.Time) (*model.Task, error) {
	t, err := m.tasks.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	if !actor.IsParent() || actor.FamilyID != t.FamilyID {
		return nil, ErrPermissionDenied
	}
	if t.Status != model.TaskPending {
		return nil, fmt.Errorf("%w: cannot edit %s task", ErrInvalidTransition, t.Status)
	}

	if title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if err := validateRewardSpec(reward); err != nil {
		return nil, err
	}

	child, err := m.families.GetChild(assignedTo)
	if err != nil {
		return nil, err
	}
	if child == nil || child.FamilyID != t.FamilyID {
		return nil, fmt.Errorf("%w: child %d in family %d", ErrNotFound, assignedTo, t.FamilyID)
	}

	return m.tasks.Update(taskID, assignedTo, title, description, reward, rule, dueDate)
}

// DeleteTask removes a task. Deleting an approved task does not claw back
// its settled reward; the settlement record outlives the task.
func (m *Manager) DeleteTask(ctx context.Context, actor auth.Actor, taskID int64) error {
	t, err := m.tasks.GetByID(taskID)
	if err != nil {
		return err
	}
	if t == nil {
		return ErrNotFound
	}
	if !actor.IsParent() || actor.FamilyID != t.FamilyID {
		return ErrPermissionDenied
	}
	return m.tasks.Delete(taskID)
}

// GetTask returns a task visible to the actor's family.
func (m *Manager) GetTask(ctx context.Context, actor auth.Actor, taskID int64) (*model.Task, error) {
	t, err := m.tasks.GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if t == nil || t.FamilyID != actor.FamilyID {
		return nil, ErrNotFound
	}
	return t, nil
}

// ListTasks returns the actor's view: parents see the family's tasks,
// children see their own.
func (m *Manager) ListTasks(ctx context.Context, actor auth.Actor) ([]model.Task, error) {
	if actor.IsParent() {
		return m.tasks.ListByFamily(actor.FamilyID)
	}
	return m.tasks.ListByAssignee(actor.ID)
}

func (m *Manager) notifyParents(ctx context.Context, familyID int64, kind notify.Kind, message string, relatedID int64) {
	parents, err := m.families.ListParents(familyID)
	if err != nil {
		m.logger.Error("list parents for notification", "family_id", familyID, "error", err)
		return
	}
	for _, p := range parents {
		m.notifier.Notify(ctx, auth.RoleParent, p.ID, kind, message, relatedID)
	}
}

func validateRewardSpec(r model.RewardSpec) error {
	switch r.Kind {
	case model.RewardMoney:
		if !r.Amount.IsPositive() {
			return fmt.Errorf("%w: money reward must be positive", ErrValidation)
		}
	case model.RewardPoints:
		if r.Points <= 0 {
			return fmt.Errorf("%w: points reward must be positive", ErrValidation)
		}
	case model.RewardSpecial:
		if r.Title == "" {
			return fmt.Errorf("%w: special reward needs a title", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown reward kind %q", ErrValidation, r.Kind)
	}
	return nil
}
