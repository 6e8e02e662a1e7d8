// Package store persists thumbnail jobs. Implementations satisfy both the
// broker-facing and worker-facing contracts; callers depend only on the side
// they use.
package store

import (
	"context"

	"thumbnail-service/internal/models"
)

// BrokerStore is the submission and query side of a task store.
type BrokerStore interface {
	// Enqueue persists image and returns a new, unique job id.
	Enqueue(ctx context.Context, image []byte) (string, error)
	// StatusOf returns StatusNotFound (and no error) for unknown ids.
	StatusOf(ctx context.Context, id string) (models.TaskStatus, error)
	AllStatuses(ctx context.Context) (models.StatusGroups, error)
	// ResultOf fails with models.ErrJobNotFound unless the job succeeded.
	ResultOf(ctx context.Context, id string) ([]byte, error)
	// ErrorOf fails with models.ErrJobNotFound unless the job failed.
	ErrorOf(ctx context.Context, id string) (string, error)
}

// WorkerStore is the execution side of a task store.
type WorkerStore interface {
	// NextJob claims one queued job, or returns nil when none is queued.
	// The order among queued jobs is unspecified.
	NextJob(ctx context.Context) (*models.Job, error)
	CompleteJob(ctx context.Context, id string, thumbnail []byte) error
	FailJob(ctx context.Context, id string, message string) error
}

// TaskStore is a full store as owned by the application.
type TaskStore interface {
	BrokerStore
	WorkerStore
	// Reset deletes every job. Administrative use only.
	Reset(ctx context.Context) error
	Close() error
}
