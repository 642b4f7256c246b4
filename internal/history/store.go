package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"capstan/internal/config"
	"capstan/internal/task"
)

// Entry is one archived terminal outcome.
type Entry struct {
	ID           int64
	TaskID       string
	SourceURL    string
	Title        string
	OutputPath   string
	Status       task.Status
	ErrorMessage string
	Bytes        int64
	CreatedAt    time.Time
	FinishedAt   time.Time
}

// Store manages the finished-task archive backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS finished_tasks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id TEXT NOT NULL,
    source_url TEXT NOT NULL,
    title TEXT,
    output_path TEXT,
    status TEXT NOT NULL,
    error_message TEXT,
    bytes INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    finished_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_finished_tasks_status ON finished_tasks(status);
CREATE INDEX IF NOT EXISTS idx_finished_tasks_finished_at ON finished_tasks(finished_at);
`

// Open initializes or connects to the archive database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.HistoryDBPath())
}

// OpenPath opens the archive at an explicit database path.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db, path: dbPath}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path reports the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Record archives one terminal outcome.
func (s *Store) Record(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return errors.New("entry is nil")
	}
	finished := entry.FinishedAt
	if finished.IsZero() {
		finished = time.Now().UTC()
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = finished
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO finished_tasks (
            task_id, source_url, title, output_path, status,
            error_message, bytes, created_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TaskID,
		entry.SourceURL,
		nullableString(entry.Title),
		nullableString(entry.OutputPath),
		string(entry.Status),
		nullableString(entry.ErrorMessage),
		entry.Bytes,
		created.UTC().Format(time.RFC3339Nano),
		finished.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert finished task: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		entry.ID = id
	}
	entry.CreatedAt = created
	entry.FinishedAt = finished
	return nil
}

const entryColumns = "id, task_id, source_url, title, output_path, status, error_message, bytes, created_at, finished_at"

// List returns archived entries newest first, optionally filtered by
// terminal status. A non-positive limit returns everything.
func (s *Store) List(ctx context.Context, limit int, statuses ...task.Status) ([]*Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM finished_tasks`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, status := range statuses {
			placeholders[i] = "?"
			args = append(args, string(status))
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY finished_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list finished tasks: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finished task: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate finished tasks: %w", err)
	}
	return entries, nil
}

// Find returns the most recent archived entry for a task id, or nil when the
// id was never recorded.
func (s *Store) Find(ctx context.Context, taskID string) (*Entry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+entryColumns+` FROM finished_tasks WHERE task_id = ? ORDER BY finished_at DESC, id DESC LIMIT 1`,
		taskID,
	)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find finished task: %w", err)
	}
	return entry, nil
}

// Stats reports archived entry counts per terminal status.
func (s *Store) Stats(ctx context.Context) (map[task.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM finished_tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("archive stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[task.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan archive stats: %w", err)
		}
		stats[task.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive stats: %w", err)
	}
	return stats, nil
}

// Clear removes all archived entries and reports how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM finished_tasks`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return removed, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (*Entry, error) {
	var (
		id           int64
		taskID       string
		sourceURL    string
		title        sql.NullString
		outputPath   sql.NullString
		statusStr    string
		errorMessage sql.NullString
		bytes        sql.NullInt64
		createdRaw   string
		finishedRaw  string
	)

	if err := scanner.Scan(
		&id,
		&taskID,
		&sourceURL,
		&title,
		&outputPath,
		&statusStr,
		&errorMessage,
		&bytes,
		&createdRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	entry := &Entry{
		ID:           id,
		TaskID:       taskID,
		SourceURL:    sourceURL,
		Title:        title.String,
		OutputPath:   outputPath.String,
		Status:       task.Status(statusStr),
		ErrorMessage: errorMessage.String,
		Bytes:        bytes.Int64,
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		entry.CreatedAt = created
	}
	if finished, err := parseTimeString(finishedRaw); err == nil {
		entry.FinishedAt = finished
	}
	return entry, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty time")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, value)
}
