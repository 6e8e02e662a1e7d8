package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"thumbnail-service/internal/models"
)

// Row states in the tasks table.
const (
	rowQueued     = "queued"
	rowProcessing = "processing"
	rowSucceeded  = "succeeded"
	rowError      = "error"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLite stores each job as one tagged row. Transitions are conditional
// updates on the current status, so a claimed job stays visible as
// StatusProcessing until it is completed or failed.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// OpenSQLite opens the database file at path and applies migrations.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection serialises writers; sqlite allows only one anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &SQLite{db: db, logger: logger.With(slog.String("component", "sqlite_store")), now: time.Now}
	if err := s.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// RunMigrations executes the embedded SQL migrations in name order.
func (s *SQLite) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		for _, stmt := range strings.Split(string(content), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("exec migration %s: %w", e.Name(), err)
			}
		}
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) stamp() int64 {
	return s.now().UTC().UnixNano()
}

func (s *SQLite) Enqueue(ctx context.Context, image []byte) (string, error) {
	now := s.stamp()
	for {
		id := uuid.NewString()
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks (id, status, input, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING
		`, id, rowQueued, image, now, now)
		if err != nil {
			return "", fmt.Errorf("insert task: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return id, nil
		}
	}
}

func (s *SQLite) StatusOf(ctx context.Context, id string) (models.TaskStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return models.StatusNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("query status: %w", err)
	}
	return rowStatus(status), nil
}

func rowStatus(status string) models.TaskStatus {
	switch status {
	case rowSucceeded:
		return models.StatusSucceeded
	case rowError:
		return models.StatusError
	case rowQueued, rowProcessing:
		return models.StatusProcessing
	default:
		return models.StatusNotFound
	}
}

func (s *SQLite) AllStatuses(ctx context.Context) (models.StatusGroups, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, status FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	groups := models.NewStatusGroups()
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		st := rowStatus(status)
		groups[st] = append(groups[st], id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return groups, nil
}

func (s *SQLite) ResultOf(ctx context.Context, id string) ([]byte, error) {
	var out []byte
	err := s.db.QueryRowContext(ctx, `SELECT output FROM tasks WHERE id = ? AND status = ?`, id, rowSucceeded).Scan(&out)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("no completed job with id %s: %w", id, models.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query result: %w", err)
	}
	return out, nil
}

func (s *SQLite) ErrorOf(ctx context.Context, id string) (string, error) {
	var msg sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT error FROM tasks WHERE id = ? AND status = ?`, id, rowError).Scan(&msg)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no error job with id %s: %w", id, models.ErrJobNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("query error: %w", err)
	}
	return msg.String, nil
}

// NextJob moves one queued row to processing and returns its input.
func (s *SQLite) NextJob(ctx context.Context) (*models.Job, error) {
	var job models.Job
	err := s.db.QueryRowContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ?
		WHERE status = ? AND id = (
			SELECT id FROM tasks WHERE status = ? ORDER BY created_at LIMIT 1
		)
		RETURNING id, input
	`, rowProcessing, s.stamp(), rowQueued, rowQueued).Scan(&job.ID, &job.Image)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return &job, nil
}

// CompleteJob moves a processing row to succeeded. Re-completing a succeeded
// job overwrites its output.
func (s *SQLite) CompleteJob(ctx context.Context, id string, thumbnail []byte) error {
	return s.finish(ctx, id, rowSucceeded, `
		UPDATE tasks SET status = ?, output = ?, input = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, rowSucceeded, thumbnail, s.stamp(), id, rowProcessing, rowSucceeded)
}

func (s *SQLite) FailJob(ctx context.Context, id string, message string) error {
	return s.finish(ctx, id, rowError, `
		UPDATE tasks SET status = ?, error = ?, input = NULL, updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`, rowError, message, s.stamp(), id, rowProcessing, rowError)
}

func (s *SQLite) finish(ctx context.Context, id, to, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark %s %s: %w", id, to, err)
	}
	if n == 0 {
		return fmt.Errorf("mark %s %s: no claimed job: %w", id, to, models.ErrJobNotFound)
	}
	return nil
}

func (s *SQLite) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("reset tasks: %w", err)
	}
	s.logger.Warn("task store reset")
	return nil
}
