// Package broker is the submission and query facade over a task store.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"thumbnail-service/internal/models"
	"thumbnail-service/internal/store"
	"thumbnail-service/internal/telemetry"
	"thumbnail-service/internal/thumbnail"
)

// Broker forwards requests to a store. It holds no state of its own.
type Broker struct {
	store     store.BrokerStore
	maxPixels int64
	logger    *slog.Logger
}

// New constructs a Broker over st. Uploads above maxPixels are rejected;
// zero selects thumbnail.DefaultMaxPixels.
func New(st store.BrokerStore, maxPixels int64, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		store:     st,
		maxPixels: maxPixels,
		logger:    logger.With(slog.String("component", "broker")),
	}
}

// Enqueue validates image and queues it for processing. Bytes that are not
// a recognizable image fail with models.ErrInvalidImage and create no job.
func (b *Broker) Enqueue(ctx context.Context, image []byte) (string, error) {
	if err := thumbnail.Validate(image, b.maxPixels); err != nil {
		telemetry.InvalidUploads.Inc()
		return "", err
	}
	id, err := b.store.Enqueue(ctx, image)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	telemetry.JobsEnqueued.Inc()
	b.logger.Info("job enqueued", slog.String("job_id", id), slog.Int("bytes", len(image)))
	return id, nil
}

// StatusOf returns the job's status. Unknown ids return StatusNotFound
// together with models.ErrJobNotFound.
func (b *Broker) StatusOf(ctx context.Context, id string) (models.TaskStatus, error) {
	status, err := b.store.StatusOf(ctx, id)
	if err != nil {
		return "", fmt.Errorf("status of %s: %w", id, err)
	}
	if status == models.StatusNotFound {
		return status, fmt.Errorf("job %s: %w", id, models.ErrJobNotFound)
	}
	return status, nil
}

// ResultOf returns the encoded thumbnail of a succeeded job.
func (b *Broker) ResultOf(ctx context.Context, id string) ([]byte, error) {
	out, err := b.store.ResultOf(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return out, nil
}

// ErrorOf returns the failure message of a job in the error state.
func (b *Broker) ErrorOf(ctx context.Context, id string) (string, error) {
	msg, err := b.store.ErrorOf(ctx, id)
	if err != nil {
		return "", translate(err)
	}
	return msg, nil
}

// AllStatuses groups every known job id by status.
func (b *Broker) AllStatuses(ctx context.Context) (models.StatusGroups, error) {
	groups, err := b.store.AllStatuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	return groups, nil
}

// translate keeps ErrJobNotFound matchable and wraps everything else.
func translate(err error) error {
	if errors.Is(err, models.ErrJobNotFound) {
		return err
	}
	return fmt.Errorf("store: %w", err)
}
