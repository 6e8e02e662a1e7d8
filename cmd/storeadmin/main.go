// Command storeadmin inspects or clears the configured task store.
//
//	storeadmin list [-json]
//	storeadmin reset -yes
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"thumbnail-service/internal/config"
	"thumbnail-service/internal/logging"
	"thumbnail-service/internal/models"
	"thumbnail-service/internal/store"
)

var errUsage = errors.New("usage: storeadmin <list [-json] | reset -yes>")

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.NewDefault().Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("open store", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	if err := run(ctx, st, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		st.Close()
		os.Exit(2)
	}
}

func run(ctx context.Context, st store.TaskStore, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		asJSON := fs.Bool("json", false, "print groups as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		groups, err := st.AllStatuses(ctx)
		if err != nil {
			return err
		}
		return printGroups(out, groups, *asJSON)
	case "reset":
		fs := flag.NewFlagSet("reset", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		yes := fs.Bool("yes", false, "confirm deleting every job")
		if err := fs.Parse(args[1:]); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if !*yes {
			return errors.New("reset deletes every job; pass -yes to confirm")
		}
		if err := st.Reset(ctx); err != nil {
			return err
		}
		_, err := fmt.Fprintln(out, "store reset")
		return err
	default:
		return errUsage
	}
}

func printGroups(out io.Writer, groups models.StatusGroups, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(groups)
	}
	for _, status := range models.ListedStatuses {
		ids := groups[status]
		if _, err := fmt.Fprintf(out, "%s (%d)\n", status, len(ids)); err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := fmt.Fprintf(out, "  %s\n", id); err != nil {
				return err
			}
		}
	}
	return nil
}
