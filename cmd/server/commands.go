package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jimdaga/reelpipe/internal/api"
	"github.com/jimdaga/reelpipe/internal/database"
	"github.com/jimdaga/reelpipe/internal/health"
	"github.com/jimdaga/reelpipe/internal/models"
	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/streams"
	"github.com/jimdaga/reelpipe/internal/worker"
	"github.com/urfave/cli/v3"
)

func serveAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !cmd.Bool("skip-migrations") {
		if err := database.RunMigrations(a.db, a.logger); err != nil {
			return err
		}
	}
	if !a.cfg.IsProduction() {
		if err := database.SeedDevData(a.db, a.logger); err != nil {
			a.logger.Warn("Failed to seed dev data", "error", err)
		}
	}
	if err := a.wirePipeline(ctx); err != nil {
		return err
	}

	if a.cfg.EmbeddedWorker && !cmd.Bool("no-worker") {
		stopWorker, err := worker.Start(a.cfg, a.logger, a.executor, a.reconciler)
		if err != nil {
			return err
		}
		defer stopWorker()
		stopScheduler, err := worker.StartScheduler(a.cfg, a.logger)
		if err != nil {
			return err
		}
		defer stopScheduler()
	}

	if a.cfg.EventsEnabled {
		host, _ := os.Hostname()
		consumer := fmt.Sprintf("%s-%d", host, os.Getpid())
		stopEvents, err := streams.StartEventConsumer(a.cfg.RedisURL, consumer, a.feed, a.logger)
		if err != nil {
			return err
		}
		defer stopEvents()
	}

	mediaRoot := ""
	if a.cfg.StorageType == "local" {
		mediaRoot = a.cfg.MediaRoot
	}
	router := api.NewRouter(&api.Deps{
		Coordinator:    a.coordinator,
		Artifacts:      a.artifacts,
		Feed:           a.feed,
		Logger:         a.logger,
		MediaRoot:      mediaRoot,
		AllowedOrigins: a.cfg.AllowedOrigins,
		ReadyChecks:    []health.Check{{Name: "database", Fn: a.pingDB}},
	})

	port := cmd.String("port")
	if port == "" {
		port = a.cfg.Port
	}
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.logger.Info("Server ready", "port", port, "env", a.cfg.Env)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Server shutdown failed", "error", err)
	}
	return nil
}

func workerAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.wirePipeline(ctx); err != nil {
		return err
	}
	stopScheduler, err := worker.StartScheduler(a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer stopScheduler()

	// Run intercepts SIGINT and SIGTERM itself
	return worker.Run(a.cfg, a.logger, a.executor, a.reconciler)
}

func migrateUpAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return database.RunMigrations(a.db, a.logger)
}

func migrateDownAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return database.RollbackMigrations(a.db, a.logger, int(cmd.Int("steps")))
}

func seedAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return database.SeedDevData(a.db, a.logger)
}

func reconcileAction(ctx context.Context, cmd *cli.Command) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.wireQueue(); err != nil {
		return err
	}

	report, err := a.reconciler.Run(ctx)
	if err != nil {
		return err
	}
	return printJSON(report)
}

// taskWaitAction polls the store with the record's own poll policy and
// exits non-zero when the work failed
func taskWaitAction(ctx context.Context, cmd *cli.Command) error {
	id, err := uuid.Parse(cmd.String("id"))
	if err != nil {
		return fmt.Errorf("invalid id: %w", err)
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if cmd.Bool("subtitle") {
		view, err := pipeline.Await(ctx, models.PollSubtitle, func(ctx context.Context) (pipeline.SubtitleView, string, error) {
			s, err := a.store.GetSubtitle(ctx, id)
			if err != nil {
				return pipeline.SubtitleView{}, "", err
			}
			return pipeline.NewSubtitleView(s), string(s.Status), nil
		})
		return reportWait(view, string(view.Status), view.ErrorMessage, err)
	}

	first, err := a.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	view, err := pipeline.Await(ctx, models.PollPolicyFor(first.Kind), func(ctx context.Context) (pipeline.TaskView, string, error) {
		t, err := a.store.GetTask(ctx, id)
		if err != nil {
			return pipeline.TaskView{}, "", err
		}
		return pipeline.NewTaskView(t), string(t.Status), nil
	})
	return reportWait(view, string(view.Status), view.ErrorMessage, err)
}

func reportWait(view interface{}, status, message string, waitErr error) error {
	if waitErr != nil {
		return waitErr
	}
	if err := printJSON(view); err != nil {
		return err
	}
	return failedErr(status, message)
}

func failedErr(status, message string) error {
	if status == string(models.TaskStatusFailed) {
		return fmt.Errorf("failed: %s", message)
	}
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
