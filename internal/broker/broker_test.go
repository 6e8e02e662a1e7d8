package broker

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbnail-service/internal/imagetest"
	"thumbnail-service/internal/logging"
	"thumbnail-service/internal/models"
	"thumbnail-service/internal/store"
	"thumbnail-service/internal/thumbnail"
	"thumbnail-service/internal/worker"
)

// stubStore records calls and returns canned answers.
type stubStore struct {
	enqueued [][]byte
	status   models.TaskStatus
	err      error
}

func (s *stubStore) Enqueue(_ context.Context, image []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.enqueued = append(s.enqueued, image)
	return "job-1", nil
}

func (s *stubStore) StatusOf(context.Context, string) (models.TaskStatus, error) {
	return s.status, s.err
}

func (s *stubStore) AllStatuses(context.Context) (models.StatusGroups, error) {
	if s.err != nil {
		return nil, s.err
	}
	g := models.NewStatusGroups()
	g[models.StatusSucceeded] = []string{"job-1"}
	return g, nil
}

func (s *stubStore) ResultOf(context.Context, string) ([]byte, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []byte("thumb"), nil
}

func (s *stubStore) ErrorOf(context.Context, string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "bad", nil
}

func TestEnqueue_ValidatesBeforeStoring(t *testing.T) {
	st := &stubStore{}
	b := New(st, 0, logging.Discard())

	_, err := b.Enqueue(context.Background(), imagetest.NotAnImage)
	assert.ErrorIs(t, err, models.ErrInvalidImage)
	assert.Empty(t, st.enqueued)

	id, err := b.Enqueue(context.Background(), imagetest.SolidPNG(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
	assert.Len(t, st.enqueued, 1)
}

func TestEnqueue_RejectsOversizedDimensions(t *testing.T) {
	st := &stubStore{}
	b := New(st, 0, logging.Discard())

	bomb := imagetest.PNGWithHeaderSize(t, imagetest.SolidPNG(t, 2, 2), 60000, 60000)
	_, err := b.Enqueue(context.Background(), bomb)
	assert.ErrorIs(t, err, models.ErrInvalidImage)
	assert.Empty(t, st.enqueued)

	small := New(st, 15, logging.Discard())
	_, err = small.Enqueue(context.Background(), imagetest.SolidPNG(t, 4, 4))
	assert.ErrorIs(t, err, models.ErrInvalidImage)
	assert.Empty(t, st.enqueued)
}

func TestEnqueue_StoreError(t *testing.T) {
	b := New(&stubStore{err: errors.New("disk full")}, 0, logging.Discard())
	_, err := b.Enqueue(context.Background(), imagetest.SolidPNG(t, 4, 4))
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrInvalidImage)
}

func TestStatusOf(t *testing.T) {
	b := New(&stubStore{status: models.StatusNotFound}, 0, logging.Discard())
	status, err := b.StatusOf(context.Background(), "nope")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
	assert.Equal(t, models.StatusNotFound, status)

	b = New(&stubStore{status: models.StatusError}, 0, logging.Discard())
	status, err = b.StatusOf(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)
}

func TestResultAndErrorTranslation(t *testing.T) {
	ctx := context.Background()
	notFound := New(&stubStore{err: models.ErrJobNotFound}, 0, logging.Discard())
	_, err := notFound.ResultOf(ctx, "x")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
	_, err = notFound.ErrorOf(ctx, "x")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	ioErr := errors.New("permission denied")
	broken := New(&stubStore{err: ioErr}, 0, logging.Discard())
	_, err = broken.ResultOf(ctx, "x")
	assert.ErrorIs(t, err, ioErr)
	assert.NotErrorIs(t, err, models.ErrJobNotFound)
	_, err = broken.AllStatuses(ctx)
	assert.ErrorIs(t, err, ioErr)

	ok := New(&stubStore{}, 0, logging.Discard())
	out, err := ok.ResultOf(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("thumb"), out)
	msg, err := ok.ErrorOf(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "bad", msg)
	groups, err := ok.AllStatuses(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, groups.JobIDs())
}

// TestBrokerWorkerInteractions drives a worker synchronously against a real store.
func TestBrokerWorkerInteractions(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewFileSystem(filepath.Join(t.TempDir(), "data"), logging.Discard())
	require.NoError(t, err)
	b := New(st, 0, logging.Discard())
	w := worker.New(st, thumbnail.New(thumbnail.Options{}).Transform, worker.Options{Logger: logging.Discard()})

	processed, err := w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, processed)

	id, err := b.Enqueue(ctx, imagetest.SolidPNG(t, 100, 100))
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	status, err := b.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, status)
	_, err = b.ResultOf(ctx, id)
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	status, err = b.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSucceeded, status)
	_, err = b.ResultOf(ctx, id)
	require.NoError(t, err)

	// Terminal status does not change on later polls.
	for i := 0; i < 3; i++ {
		status, err = b.StatusOf(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusSucceeded, status)
	}

	// A header that passes validation but a body that does not decode fails in the worker.
	full := imagetest.PNG(t, imagetest.Pattern(64, 64))
	corruptID, err := b.Enqueue(ctx, full[:len(full)/2])
	require.NoError(t, err)
	_, err = w.RunOnce(ctx)
	require.NoError(t, err)
	status, err = b.StatusOf(ctx, corruptID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, status)
	msg, err := b.ErrorOf(ctx, corruptID)
	require.NoError(t, err)
	assert.NotEmpty(t, msg)

	queuedID, err := b.Enqueue(ctx, imagetest.SolidPNG(t, 10, 10))
	require.NoError(t, err)
	groups, err := b.AllStatuses(ctx)
	require.NoError(t, err)
	assert.Contains(t, groups[models.StatusSucceeded], id)
	assert.Contains(t, groups[models.StatusError], corruptID)
	assert.Contains(t, groups[models.StatusProcessing], queuedID)

	_, err = b.ResultOf(ctx, uuid.NewString())
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}
