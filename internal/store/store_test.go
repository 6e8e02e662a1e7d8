package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbnail-service/internal/config"
	"thumbnail-service/internal/logging"
	"thumbnail-service/internal/models"
)

func newFileSystem(t *testing.T) TaskStore {
	t.Helper()
	s, err := NewFileSystem(filepath.Join(t.TempDir(), "tasks"), logging.Discard())
	require.NoError(t, err)
	return s
}

func newSQLite(t *testing.T) TaskStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "tasks.db"), logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

var stores = map[string]func(t *testing.T) TaskStore{
	"filesystem": newFileSystem,
	"sqlite":     newSQLite,
}

func TestStoreLifecycle(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			job, err := s.NextJob(ctx)
			require.NoError(t, err)
			assert.Nil(t, job, "empty store has no jobs")

			id, err := s.Enqueue(ctx, []byte("input-bytes"))
			require.NoError(t, err)
			_, err = uuid.Parse(id)
			require.NoError(t, err)

			status, err := s.StatusOf(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusProcessing, status)

			_, err = s.ResultOf(ctx, id)
			assert.ErrorIs(t, err, models.ErrJobNotFound)
			_, err = s.ErrorOf(ctx, id)
			assert.ErrorIs(t, err, models.ErrJobNotFound)

			job, err = s.NextJob(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)
			assert.Equal(t, id, job.ID)
			assert.Equal(t, []byte("input-bytes"), job.Image)

			again, err := s.NextJob(ctx)
			require.NoError(t, err)
			assert.Nil(t, again, "a claimed job is not handed out twice")

			require.NoError(t, s.CompleteJob(ctx, id, []byte("thumb")))
			status, err = s.StatusOf(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusSucceeded, status)

			out, err := s.ResultOf(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, []byte("thumb"), out)
			_, err = s.ErrorOf(ctx, id)
			assert.ErrorIs(t, err, models.ErrJobNotFound)
		})
	}
}

func TestStoreFailJob(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			id, err := s.Enqueue(ctx, []byte("bad"))
			require.NoError(t, err)
			job, err := s.NextJob(ctx)
			require.NoError(t, err)
			require.NotNil(t, job)

			require.NoError(t, s.FailJob(ctx, id, "could not decode"))

			status, err := s.StatusOf(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, models.StatusError, status)

			msg, err := s.ErrorOf(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "could not decode", msg)

			_, err = s.ResultOf(ctx, id)
			assert.ErrorIs(t, err, models.ErrJobNotFound)
		})
	}
}

func TestStoreUnknownID(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			for _, id := range []string{uuid.NewString(), "../../etc/passwd", ""} {
				status, err := s.StatusOf(ctx, id)
				require.NoError(t, err)
				assert.Equal(t, models.StatusNotFound, status, id)

				_, err = s.ResultOf(ctx, id)
				assert.ErrorIs(t, err, models.ErrJobNotFound, id)
				_, err = s.ErrorOf(ctx, id)
				assert.ErrorIs(t, err, models.ErrJobNotFound, id)
			}
		})
	}
}

func TestStoreAllStatusesAndReset(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			done, err := s.Enqueue(ctx, []byte("a"))
			require.NoError(t, err)
			job, err := s.NextJob(ctx)
			require.NoError(t, err)
			require.NoError(t, s.CompleteJob(ctx, job.ID, []byte("ok")))

			failed, err := s.Enqueue(ctx, []byte("b"))
			require.NoError(t, err)
			job, err = s.NextJob(ctx)
			require.NoError(t, err)
			require.NoError(t, s.FailJob(ctx, job.ID, "boom"))

			queued, err := s.Enqueue(ctx, []byte("c"))
			require.NoError(t, err)

			groups, err := s.AllStatuses(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{done}, groups[models.StatusSucceeded])
			assert.Equal(t, []string{failed}, groups[models.StatusError])
			assert.Equal(t, []string{queued}, groups[models.StatusProcessing])
			assert.ElementsMatch(t, []string{done, failed, queued}, groups.JobIDs())

			require.NoError(t, s.Reset(ctx))
			groups, err = s.AllStatuses(ctx)
			require.NoError(t, err)
			assert.Empty(t, groups.JobIDs())

			status, err := s.StatusOf(ctx, done)
			require.NoError(t, err)
			assert.Equal(t, models.StatusNotFound, status)

			// The store stays usable after a reset.
			_, err = s.Enqueue(ctx, []byte("d"))
			require.NoError(t, err)
		})
	}
}

func TestStoreUniqueIDs(t *testing.T) {
	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			seen := map[string]bool{}
			for i := 0; i < 50; i++ {
				id, err := s.Enqueue(ctx, []byte{byte(i)})
				require.NoError(t, err)
				require.False(t, seen[id])
				seen[id] = true
			}
			groups, err := s.AllStatuses(ctx)
			require.NoError(t, err)
			assert.Len(t, groups[models.StatusProcessing], 50)
		})
	}
}

func TestFileSystem_Layout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "data")
	s, err := NewFileSystem(root, logging.Discard())
	require.NoError(t, err)
	ctx := context.Background()

	for _, d := range []string{InDir, OutDir, ErrorDir} {
		info, err := os.Stat(filepath.Join(root, d))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}

	id, err := s.Enqueue(ctx, []byte("raw"))
	require.NoError(t, err)
	raw, err := os.ReadFile(filepath.Join(root, InDir, id))
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), raw)

	// Re-opening an existing root is idempotent and keeps queued jobs.
	reopened, err := NewFileSystem(root, logging.Discard())
	require.NoError(t, err)
	status, err := reopened.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, status)
}

func TestFileSystem_ClaimedJobNotVisible(t *testing.T) {
	ctx := context.Background()
	s := newFileSystem(t)

	id, err := s.Enqueue(ctx, []byte("x"))
	require.NoError(t, err)
	_, err = s.NextJob(ctx)
	require.NoError(t, err)

	status, err := s.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound, status)
}

func TestFileSystem_StatusPriority(t *testing.T) {
	ctx := context.Background()
	s := newFileSystem(t)

	id := uuid.NewString()
	require.NoError(t, s.FailJob(ctx, id, "err"))
	status, err := s.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)

	require.NoError(t, s.CompleteJob(ctx, id, []byte("ok")))
	status, err = s.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, status)
}

func TestFileSystem_IgnoresStrayFiles(t *testing.T) {
	ctx := context.Background()
	fs, err := NewFileSystem(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), InDir, ".DS_Store"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(fs.Root(), InDir, "notes.txt"), []byte("x"), 0o644))

	job, err := fs.NextJob(ctx)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSQLite_ClaimedJobStaysProcessing(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	id, err := s.Enqueue(ctx, []byte("x"))
	require.NoError(t, err)
	job, err := s.NextJob(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)

	status, err := s.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, status)

	groups, err := s.AllStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{id}, groups[models.StatusProcessing])
}

func TestSQLite_TransitionsRequireClaim(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)

	id, err := s.Enqueue(ctx, []byte("x"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.CompleteJob(ctx, id, []byte("y")), models.ErrJobNotFound)
	assert.ErrorIs(t, s.FailJob(ctx, uuid.NewString(), "nope"), models.ErrJobNotFound)

	_, err = s.NextJob(ctx)
	require.NoError(t, err)
	require.NoError(t, s.CompleteJob(ctx, id, []byte("y")))
	// A terminal job cannot move to the other terminal state.
	assert.ErrorIs(t, s.FailJob(ctx, id, "late"), models.ErrJobNotFound)
	status, err := s.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, status)
}

func TestSQLite_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tasks.db")

	s, err := OpenSQLite(ctx, path, logging.Discard())
	require.NoError(t, err)
	id, err := s.Enqueue(ctx, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, logging.Discard())
	require.NoError(t, err)
	defer s.Close()
	status, err := s.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, status)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	cfg := config.Defaults()
	cfg.DataDir = filepath.Join(dir, "fs")
	s, err := Open(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &FileSystem{}, s)
	require.NoError(t, s.Close())

	cfg.StoreDriver = config.StoreSQLite
	cfg.SQLitePath = filepath.Join(dir, "db", "tasks.db")
	s, err = Open(ctx, cfg, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &SQLite{}, s)
	require.NoError(t, s.Close())

	cfg.StoreDriver = "sqlit"
	_, err = Open(ctx, cfg, logging.Discard())
	assert.ErrorContains(t, err, "sqlit")
}
