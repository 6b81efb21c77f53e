package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/madisonstylee/thetidytoad-sub000/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

const taskCols = `id, family_id, assigned_to, title, description, status,
	reward_kind, reward_amount, reward_points, reward_title, reward_description,
	recurrence, due_date, created_at, completed_at, approved_at`

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var amount string
	var due, completed, approved sql.NullTime

	err := scanner.Scan(
		&t.ID, &t.FamilyID, &t.AssignedTo, &t.Title, &t.Description, &t.Status,
		&t.Reward.Kind, &amount, &t.Reward.Points, &t.Reward.Title, &t.Reward.Description,
		&t.Recurrence, &due, &t.CreatedAt, &completed, &approved,
	)
	if err != nil {
		return nil, err
	}

	t.Reward.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse reward amount %q: %w", amount, err)
	}
	if due.Valid {
		t.DueDate = &due.Time
	}
	if completed.Valid {
		t.CompletedAt = &completed.Time
	}
	if approved.Valid {
		t.ApprovedAt = &approved.Time
	}
	return &t, nil
}

func (s *TaskStore) Create(familyID, assignedTo int64, title, description string, reward model.RewardSpec, recurrence model.Recurrence, dueDate *time.Time) (*model.Task, error) {
	var due sql.NullTime
	if dueDate != nil {
		due = sql.NullTime{Time: dueDate.UTC(), Valid: true}
	}

	result, err := s.db.Exec(
		`INSERT INTO tasks (family_id, assigned_to, title, description, reward_kind,
			reward_amount, reward_points, reward_title, reward_description, recurrence, due_date)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		familyID, assignedTo, title, description, reward.Kind,
		reward.Amount.String(), reward.Points, reward.Title, reward.Description,
		recurrence, due,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) GetByID(id int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *TaskStore) ListByFamily(familyID int64) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks WHERE family_id = ? ORDER BY created_at DESC, id DESC`,
		familyID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func (s *TaskStore) ListByAssignee(childID int64) ([]model.Task, error) {
	rows, err := s.db.Query(
		`SELECT `+taskCols+` FROM tasks WHERE assigned_to = ? ORDER BY created_at DESC, id DESC`,
		childID,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by assignee: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

func collectTasks(rows *sql.Rows) ([]model.Task, error) {
	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// Update replaces a task's editable fields. The reward is swapped wholesale
// rather than patched field by field.
func (s *TaskStore) Update(id int64, assignedTo int64, title, description string, reward model.RewardSpec, recurrence model.Recurrence, dueDate *time.Time) (*model.Task, error) {
	var due sql.NullTime
	if dueDate != nil {
		due = sql.NullTime{Time: dueDate.UTC(), Valid: true}
	}

	_, err := s.db.Exec(
		`UPDATE tasks SET assigned_to = ?, title = ?, description = ?, reward_kind = ?,
			reward_amount = ?, reward_points = ?, reward_title = ?, reward_description = ?,
			recurrence = ?, due_date = ?
		 WHERE id = ?`,
		assignedTo, title, description, reward.Kind,
		reward.Amount.String(), reward.Points, reward.Title, reward.Description,
		recurrence, due, id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return nil
}

// MarkCompleted moves a task from pending to completed. The status predicate
// in the WHERE clause is what makes concurrent completions race-safe: only
// one writer observes a row change.
func (s *TaskStore) MarkCompleted(id int64, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE tasks SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		model.TaskCompleted, now.UTC(), id, model.TaskPending,
	)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkApproved moves a task from completed to approved, same conditional
// write pattern as MarkCompleted.
func (s *TaskStore) MarkApproved(id int64, now time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE tasks SET status = ?, approved_at = ? WHERE id = ? AND status = ?`,
		model.TaskApproved, now.UTC(), id, model.TaskCompleted,
	)
	if err != nil {
		return false, fmt.Errorf("mark approved: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}
