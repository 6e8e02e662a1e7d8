package store

import (
	"context"
	"fmt"
	"log/slog"

	"thumbnail-service/internal/config"
)

// Open builds the store selected by cfg.StoreDriver. The application owns the
// returned store for its lifetime and shares it between broker and worker.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (TaskStore, error) {
	switch cfg.StoreDriver {
	case config.StoreSQLite:
		return OpenSQLite(ctx, cfg.SQLitePath, logger)
	case config.StoreFilesystem, "":
		return NewFileSystem(cfg.DataDir, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
