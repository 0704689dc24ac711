// Package store provides the device-local SQLite store for categories,
// tasks and efforts.
//
// The store is the durable side of desktop synchronization: the sync engine
// commits entities here one at a time, keyed by the desktop-assigned remote
// id. Every write is create-or-update inside its own transaction, so a
// restore session can be re-run safely after an interruption.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL mode so the UI
// can keep reading while a sync session writes.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/taskpouch/taskpouch/internal/sync"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite connection with task-store functionality.
// It implements sync.LocalStore.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a database connection at the specified path.
//
// If the database doesn't exist it is created; call InitSchema before
// first use. The caller MUST call Close when done.
//
// Example:
//
//	st, err := store.Open(".taskpouch/tasks.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := st.conn.Exec(pragma); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
func (st *Store) RawDB() *sql.DB {
	return st.conn
}

// Close closes the database connection after checkpointing the WAL.
func (st *Store) Close() error {
	if st.conn == nil {
		return nil
	}

	if _, err := st.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := st.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	st.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent; safe to call multiple times.
func (st *Store) InitSchema() error {
	return st.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (st *Store) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		local_id TEXT PRIMARY KEY,
		remote_id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		parent_local_id TEXT REFERENCES categories(local_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS tasks (
		local_id TEXT PRIMARY KEY,
		remote_id TEXT NOT NULL UNIQUE,
		subject TEXT NOT NULL,
		description TEXT,
		start_date TEXT,
		due_date TEXT,
		completed_date TEXT,
		parent_local_id TEXT REFERENCES tasks(local_id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS task_categories (
		task_local_id TEXT NOT NULL REFERENCES tasks(local_id) ON DELETE CASCADE,
		category_local_id TEXT NOT NULL REFERENCES categories(local_id) ON DELETE CASCADE,
		PRIMARY KEY (task_local_id, category_local_id)
	);

	CREATE TABLE IF NOT EXISTS efforts (
		local_id TEXT PRIMARY KEY,
		remote_id TEXT NOT NULL UNIQUE,
		subject TEXT,
		task_local_id TEXT NOT NULL REFERENCES tasks(local_id) ON DELETE CASCADE,
		started_at TEXT NOT NULL,
		ended_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_local_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_parent ON tasks(parent_local_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_completed ON tasks(completed_date);
	CREATE INDEX IF NOT EXISTS idx_tasks_due ON tasks(due_date);
	CREATE INDEX IF NOT EXISTS idx_efforts_task ON efforts(task_local_id);
	CREATE INDEX IF NOT EXISTS idx_efforts_open ON efforts(ended_at) WHERE ended_at IS NULL;
	`

	if _, err := st.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// CreateOrUpdateCategory implements sync.LocalStore.
//
// If a category with the same remote id exists, it is updated in place and
// keeps its local id; otherwise a new local id is assigned.
func (st *Store) CreateOrUpdateCategory(ctx context.Context, rec sync.CategoryRecord) (string, error) {
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	localID, err := lookupLocalID(ctx, tx, "categories", rec.RemoteID)
	if err != nil {
		return "", err
	}

	parent := toNullString(rec.ParentLocalID)

	if localID == "" {
		localID = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO categories (local_id, remote_id, name, parent_local_id)
			VALUES (?, ?, ?, ?)`,
			localID, rec.RemoteID, rec.Name, parent,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE categories SET name = ?, parent_local_id = ?
			WHERE local_id = ?`,
			rec.Name, parent, localID,
		)
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert category %s: %w", rec.RemoteID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit category %s: %w", rec.RemoteID, err)
	}
	return localID, nil
}

// CreateOrUpdateTask implements sync.LocalStore.
//
// The task's category set is replaced, not merged: the record's category
// list is the full desired membership.
func (st *Store) CreateOrUpdateTask(ctx context.Context, rec sync.TaskRecord) (string, error) {
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	localID, err := lookupLocalID(ctx, tx, "tasks", rec.RemoteID)
	if err != nil {
		return "", err
	}

	parent := toNullString(rec.ParentLocalID)
	start := dateToNullString(rec.Start)
	due := dateToNullString(rec.Due)
	completed := dateToNullString(rec.Completed)

	if localID == "" {
		localID = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO tasks (local_id, remote_id, subject, description,
				start_date, due_date, completed_date, parent_local_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			localID, rec.RemoteID, rec.Subject, rec.Description,
			start, due, completed, parent,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE tasks SET subject = ?, description = ?, start_date = ?,
				due_date = ?, completed_date = ?, parent_local_id = ?
			WHERE local_id = ?`,
			rec.Subject, rec.Description, start, due, completed, parent, localID,
		)
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert task %s: %w", rec.RemoteID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM task_categories WHERE task_local_id = ?`, localID); err != nil {
		return "", fmt.Errorf("failed to clear task categories for %s: %w", rec.RemoteID, err)
	}
	for _, catLocal := range rec.CategoryLocalIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO task_categories (task_local_id, category_local_id)
			VALUES (?, ?)`, localID, catLocal); err != nil {
			return "", fmt.Errorf("failed to link task %s to category %s: %w", rec.RemoteID, catLocal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit task %s: %w", rec.RemoteID, err)
	}
	return localID, nil
}

// CreateOrUpdateEffort implements sync.LocalStore.
func (st *Store) CreateOrUpdateEffort(ctx context.Context, rec sync.EffortRecord) (string, error) {
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	localID, err := lookupLocalID(ctx, tx, "efforts", rec.RemoteID)
	if err != nil {
		return "", err
	}

	ended := timeToNullString(rec.Ended)

	if localID == "" {
		localID = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO efforts (local_id, remote_id, subject, task_local_id, started_at, ended_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			localID, rec.RemoteID, rec.Subject, rec.TaskLocalID,
			rec.Started.Format(time.RFC3339), ended,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE efforts SET subject = ?, task_local_id = ?, started_at = ?, ended_at = ?
			WHERE local_id = ?`,
			rec.Subject, rec.TaskLocalID, rec.Started.Format(time.RFC3339), ended, localID,
		)
	}
	if err != nil {
		return "", fmt.Errorf("failed to upsert effort %s: %w", rec.RemoteID, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit effort %s: %w", rec.RemoteID, err)
	}
	return localID, nil
}

// Clear removes all categories, tasks and efforts.
//
// A full restore may rebuild the store from scratch; callers invoke Clear
// before starting the session when they want exact desktop state rather
// than a merge.
func (st *Store) Clear(ctx context.Context) error {
	tx, err := st.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Efforts and task_categories cascade from tasks and categories.
	for _, table := range []string{"efforts", "task_categories", "tasks", "categories"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}

// Stats summarizes the store's contents.
type Stats struct {
	Categories     int
	Tasks          int
	CompletedTasks int
	Efforts        int
	OpenEfforts    int
}

// GetStats returns entity counts for the whole store.
func (st *Store) GetStats(ctx context.Context) (Stats, error) {
	var stats Stats

	queries := []struct {
		query string
		dst   *int
	}{
		{"SELECT COUNT(*) FROM categories", &stats.Categories},
		{"SELECT COUNT(*) FROM tasks", &stats.Tasks},
		{"SELECT COUNT(*) FROM tasks WHERE completed_date IS NOT NULL", &stats.CompletedTasks},
		{"SELECT COUNT(*) FROM efforts", &stats.Efforts},
		{"SELECT COUNT(*) FROM efforts WHERE ended_at IS NULL", &stats.OpenEfforts},
	}

	for _, q := range queries {
		if err := st.conn.QueryRowContext(ctx, q.query).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("failed to count: %w", err)
		}
	}

	return stats, nil
}

// TaskRow is a task as listed for display.
type TaskRow struct {
	LocalID    string
	RemoteID   string
	Subject    string
	Start      *time.Time
	Due        *time.Time
	Completed  *time.Time
	Categories int
	Efforts    int
}

// ListTasks returns all tasks ordered by due date (unset last), then
// subject, with per-task category and effort counts.
func (st *Store) ListTasks(ctx context.Context) ([]TaskRow, error) {
	query := `
	SELECT t.local_id, t.remote_id, t.subject,
	       t.start_date, t.due_date, t.completed_date,
	       (SELECT COUNT(*) FROM task_categories tc WHERE tc.task_local_id = t.local_id),
	       (SELECT COUNT(*) FROM efforts e WHERE e.task_local_id = t.local_id)
	FROM tasks t
	ORDER BY t.due_date IS NULL, t.due_date ASC, t.subject ASC
	`

	rows, err := st.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskRow
	for rows.Next() {
		var row TaskRow
		var start, due, completed sql.NullString

		if err := rows.Scan(&row.LocalID, &row.RemoteID, &row.Subject,
			&start, &due, &completed, &row.Categories, &row.Efforts); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}

		row.Start = nullStringToDate(start)
		row.Due = nullStringToDate(due)
		row.Completed = nullStringToDate(completed)
		tasks = append(tasks, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}

// GetCategoryName returns the name of a category by local id.
// Returns sql.ErrNoRows if the category is not found.
func (st *Store) GetCategoryName(ctx context.Context, localID string) (string, error) {
	var name string
	err := st.conn.QueryRowContext(ctx,
		"SELECT name FROM categories WHERE local_id = ?", localID).Scan(&name)
	if err != nil {
		return "", err
	}
	return name, nil
}

// lookupLocalID returns the local id bound to a remote id in the given
// table, or "" if the remote id is unseen.
func lookupLocalID(ctx context.Context, tx *sql.Tx, table, remoteID string) (string, error) {
	var localID string
	err := tx.QueryRowContext(ctx,
		"SELECT local_id FROM "+table+" WHERE remote_id = ?", remoteID).Scan(&localID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up %s remote id %s: %w", table, remoteID, err)
	}
	return localID, nil
}

const dayLayout = "2006-01-02"

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func dateToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dayLayout), Valid: true}
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}

func nullStringToDate(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(dayLayout, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
