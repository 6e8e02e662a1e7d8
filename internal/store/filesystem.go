package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"thumbnail-service/internal/models"
)

// Partition directory names under the store root.
const (
	InDir    = "in"
	OutDir   = "out"
	ErrorDir = "error"
)

// FileSystem keeps one file per job id in one of three partition directories;
// a job's status is the partition holding it.
//
// It is not safe for concurrent workers: at most one worker may call the
// WorkerStore methods at a time. Broker-side calls may run concurrently.
//
// A claimed job is removed from in/ before its result is written, so while it
// is being processed StatusOf reports StatusNotFound for it.
type FileSystem struct {
	root   string
	logger *slog.Logger
}

// NewFileSystem opens (creating if needed) a store rooted at root.
func NewFileSystem(root string, logger *slog.Logger) (*FileSystem, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fs := &FileSystem{root: root, logger: logger.With(slog.String("component", "fs_store"))}
	if err := fs.initDirs(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Root is the store's root directory.
func (s *FileSystem) Root() string { return s.root }

func (s *FileSystem) initDirs() error {
	for _, d := range []string{InDir, OutDir, ErrorDir} {
		if err := os.MkdirAll(filepath.Join(s.root, d), 0o755); err != nil {
			return fmt.Errorf("create %s dir: %w", d, err)
		}
	}
	return nil
}

func (s *FileSystem) path(partition, id string) string {
	return filepath.Join(s.root, partition, id)
}

func (s *FileSystem) exists(partition, id string) (bool, error) {
	_, err := os.Stat(s.path(partition, id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s/%s: %w", partition, id, err)
}

// writeFile writes via a temp file in the root so a partition never holds a
// partially written job.
func (s *FileSystem) writeFile(partition, id string, body []byte) error {
	tmp, err := os.CreateTemp(s.root, "."+id+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path(partition, id)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("move into %s: %w", partition, err)
	}
	return nil
}

func (s *FileSystem) list(partition string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, partition))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", partition, err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !validID(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

// validID guards against ids that would escape the partition directory.
func validID(id string) bool {
	if strings.HasPrefix(id, ".") {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *FileSystem) Enqueue(ctx context.Context, image []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	for {
		id := uuid.NewString()
		taken, err := s.taken(id)
		if err != nil {
			return "", err
		}
		if taken {
			continue
		}
		if err := s.writeFile(InDir, id, image); err != nil {
			return "", fmt.Errorf("enqueue: %w", err)
		}
		return id, nil
	}
}

func (s *FileSystem) taken(id string) (bool, error) {
	for _, d := range []string{InDir, OutDir, ErrorDir} {
		ok, err := s.exists(d, id)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// StatusOf checks out/, then in/, then error/.
func (s *FileSystem) StatusOf(ctx context.Context, id string) (models.TaskStatus, error) {
	if !validID(id) {
		return models.StatusNotFound, nil
	}
	checks := []struct {
		dir    string
		status models.TaskStatus
	}{
		{OutDir, models.StatusSucceeded},
		{InDir, models.StatusProcessing},
		{ErrorDir, models.StatusError},
	}
	for _, c := range checks {
		ok, err := s.exists(c.dir, id)
		if err != nil {
			return "", err
		}
		if ok {
			return c.status, nil
		}
	}
	return models.StatusNotFound, nil
}

func (s *FileSystem) AllStatuses(ctx context.Context) (models.StatusGroups, error) {
	groups := models.NewStatusGroups()
	for dir, status := range map[string]models.TaskStatus{
		InDir:    models.StatusProcessing,
		OutDir:   models.StatusSucceeded,
		ErrorDir: models.StatusError,
	} {
		ids, err := s.list(dir)
		if err != nil {
			return nil, err
		}
		groups[status] = ids
	}
	return groups, nil
}

func (s *FileSystem) ResultOf(ctx context.Context, id string) ([]byte, error) {
	return s.read(OutDir, id, "completed")
}

func (s *FileSystem) ErrorOf(ctx context.Context, id string) (string, error) {
	b, err := s.read(ErrorDir, id, "error")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *FileSystem) read(partition, id, kind string) ([]byte, error) {
	if !validID(id) {
		return nil, fmt.Errorf("no %s job with id %q: %w", kind, id, models.ErrJobNotFound)
	}
	b, err := os.ReadFile(s.path(partition, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no %s job with id %s: %w", kind, id, models.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", partition, id, err)
	}
	return b, nil
}

// NextJob reads and removes the first job listed in in/. If the worker dies
// before completing it the job is lost.
func (s *FileSystem) NextJob(ctx context.Context) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, err := s.list(InDir)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		p := s.path(InDir, id)
		data, err := os.ReadFile(p)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read queued job %s: %w", id, err)
		}
		if err := os.Remove(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("claim job %s: %w", id, err)
		}
		return &models.Job{ID: id, Image: data}, nil
	}
	return nil, nil
}

func (s *FileSystem) CompleteJob(ctx context.Context, id string, thumbnail []byte) error {
	if !validID(id) {
		return fmt.Errorf("complete job %q: invalid id", id)
	}
	if err := s.writeFile(OutDir, id, thumbnail); err != nil {
		return fmt.Errorf("complete job %s: %w", id, err)
	}
	return nil
}

func (s *FileSystem) FailJob(ctx context.Context, id string, message string) error {
	if !validID(id) {
		return fmt.Errorf("fail job %q: invalid id", id)
	}
	if err := s.writeFile(ErrorDir, id, []byte(message)); err != nil {
		return fmt.Errorf("fail job %s: %w", id, err)
	}
	return nil
}

// Reset removes the root directory and recreates the empty partitions.
func (s *FileSystem) Reset(ctx context.Context) error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("remove store root: %w", err)
	}
	s.logger.Warn("task store reset", slog.String("root", s.root))
	return s.initDirs()
}

func (s *FileSystem) Close() error { return nil }
