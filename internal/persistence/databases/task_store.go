package databases

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Task statuses named by spec.md §4.11's PLAN action: a cheap plan goes
// straight to active, an expensive one waits in pending_confirmation.
const (
	TaskStatusPending             = "pending"
	TaskStatusPendingConfirmation = "pending_confirmation"
	TaskStatusActive              = "active"
	TaskStatusDone                = "done"
	TaskStatusAbandoned           = "abandoned"
)

// Task is a persistent, decomposed plan the drift engine's PLAN action
// created (§4.11).
type Task struct {
	ID        uuid.UUID
	Topic     string
	Title     string
	Plan      string
	Status    string
	Expensive bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskStore is the durable task store.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore builds a Postgres-backed task store.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// Create inserts a new task, defaulting its status from Expensive per
// §4.11's "cheap plans auto-start, expensive plans request confirmation".
func (s *TaskStore) Create(ctx context.Context, t Task) (Task, error) {
	if t.Status == "" {
		t.Status = TaskStatusActive
		if t.Expensive {
			t.Status = TaskStatusPendingConfirmation
		}
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO tasks (topic, title, plan, status, expensive)
VALUES ($1,$2,$3,$4,$5)
RETURNING id, topic, title, plan, status, expensive, created_at, updated_at`,
		t.Topic, t.Title, t.Plan, t.Status, t.Expensive)
	return scanTaskRow(row)
}

// ActiveByTopic returns tasks for topic that are not yet done or abandoned,
// used by PLAN's "no similar active task" gate.
func (s *TaskStore) ActiveByTopic(ctx context.Context, topic string) ([]Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, topic, title, plan, status, expensive, created_at, updated_at
FROM tasks WHERE topic = $1 AND status NOT IN ($2, $3)`,
		topic, TaskStatusDone, TaskStatusAbandoned)
	if err != nil {
		return nil, fmt.Errorf("query active tasks: %w", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CountActive returns how many tasks anywhere are not done or abandoned,
// used by PLAN's "< max active tasks" gate.
func (s *TaskStore) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*) FROM tasks WHERE status NOT IN ($1, $2)`, TaskStatusDone, TaskStatusAbandoned).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count active tasks: %w", err)
	}
	return count, nil
}

// SetStatus transitions a task's status.
func (s *TaskStore) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := s.pool.Exec(ctx, `UPDATE tasks SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set task status: %w", err)
	}
	return nil
}

func scanTaskRow(row pgx.Row) (Task, error) {
	var t Task
	if err := row.Scan(&t.ID, &t.Topic, &t.Title, &t.Plan, &t.Status, &t.Expensive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

func scanTask(rows pgx.Rows) (Task, error) {
	var t Task
	if err := rows.Scan(&t.ID, &t.Topic, &t.Title, &t.Plan, &t.Status, &t.Expensive, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return Task{}, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}
