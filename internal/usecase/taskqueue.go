package usecase

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"inkdesk/internal/domain"
)

// TaskQueue persists deferred tasks in a SQLite database inside the
// workspace config directory, so tasks queued in one session survive
// into the next.
type TaskQueue struct {
	db *sql.DB
}

// OpenTaskQueue opens (creating if needed) the queue database at path.
func OpenTaskQueue(path string) (*TaskQueue, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open task queue: %w", err)
	}
	// The queue sees one writer at a time; serializing at the pool
	// level avoids SQLITE_BUSY on concurrent tool calls.
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS deferred_tasks (
			id          TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			reason      TEXT NOT NULL DEFAULT '',
			agent_id    TEXT NOT NULL DEFAULT '',
			created_at  TEXT NOT NULL
		)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init task queue schema: %w", err)
	}
	return &TaskQueue{db: db}, nil
}

// Enqueue stores a new deferred task.
func (q *TaskQueue) Enqueue(ctx context.Context, task domain.DeferredTask) error {
	if task.Description == "" {
		return domain.NewDomainError("taskqueue.Enqueue", domain.ErrInvalidArgument,
			"task description must not be empty")
	}
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO deferred_tasks (id, description, reason, agent_id, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		task.ID, task.Description, task.Reason, task.AgentID,
		task.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// List returns all pending tasks, oldest first.
func (q *TaskQueue) List(ctx context.Context) ([]domain.DeferredTask, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, description, reason, agent_id, created_at
		 FROM deferred_tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.DeferredTask
	for rows.Next() {
		var t domain.DeferredTask
		var created string
		if err := rows.Scan(&t.ID, &t.Description, &t.Reason, &t.AgentID, &created); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339, created)
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Complete removes a finished task. Removing an unknown ID reports
// ErrNotFound so the agent learns the ID was stale.
func (q *TaskQueue) Complete(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM deferred_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	if n == 0 {
		return domain.NewDomainError("taskqueue.Complete", domain.ErrNotFound, id)
	}
	return nil
}

// Close releases the database.
func (q *TaskQueue) Close() error {
	return q.db.Close()
}
