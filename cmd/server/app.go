package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jimdaga/reelpipe/internal/config"
	"github.com/jimdaga/reelpipe/internal/database"
	"github.com/jimdaga/reelpipe/internal/pipeline"
	"github.com/jimdaga/reelpipe/internal/providers"
	"github.com/jimdaga/reelpipe/internal/storage"
	"github.com/jimdaga/reelpipe/internal/store"
	"github.com/jimdaga/reelpipe/internal/streams"
	"github.com/jimdaga/reelpipe/internal/worker"
	"gorm.io/gorm"
)

// app holds every long-lived collaborator a command needs
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	store  *store.Store

	artifacts   storage.Store
	queue       *worker.Queue
	feed        *streams.Feed
	events      pipeline.EventSink
	executor    *pipeline.Executor
	coordinator *pipeline.Coordinator
	reconciler  *pipeline.Reconciler

	closers []func()
}

// newApp loads configuration and opens the database. Commands that run the
// pipeline call wirePipeline afterwards.
func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := worker.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	db, err := database.Init(cfg.DatabaseURL, database.Options{LogLevel: worker.GormLogLevel(cfg.LogLevel)})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, db: db, store: store.New(db)}
	a.onClose(func() {
		if err := database.Close(db); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	})
	return a, nil
}

// wireQueue connects the task queue and the event sink and builds the
// reconciler. Events go to the Redis stream when enabled so API instances
// in other processes can follow them; otherwise they only reach this
// process's feed.
func (a *app) wireQueue() error {
	queue, err := worker.NewQueue(a.cfg.RedisURL, worker.TaskOptions{
		DownloadTimeout:   a.cfg.DownloadTimeout,
		RenderTimeout:     a.cfg.RenderTimeout,
		TranscribeTimeout: a.cfg.TranscribeTimeout,
		MaxRetry:          a.cfg.MaxTaskAttempts,
	})
	if err != nil {
		return err
	}
	a.queue = queue
	a.onClose(func() { queue.Close() })

	a.feed = streams.NewFeed(32)
	a.events = a.feed
	if a.cfg.EventsEnabled {
		publisher, err := streams.NewPublisher(a.cfg.RedisURL)
		if err != nil {
			return err
		}
		a.events = publisher
		a.onClose(func() { publisher.Close() })
	}

	a.reconciler = pipeline.NewReconciler(a.store, queue, a.events, a.logger, pipeline.ReconcilerConfig{
		StaleAfter:  a.cfg.StaleTaskThreshold,
		MaxAttempts: a.cfg.MaxTaskAttempts,
		BatchSize:   100,
	})
	return nil
}

// wirePipeline builds storage, the adapters, the executor and the
// coordinator on top of wireQueue
func (a *app) wirePipeline(ctx context.Context) error {
	if err := a.wireQueue(); err != nil {
		return err
	}

	artifacts, err := storage.New(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.artifacts = artifacts
	a.onClose(func() { artifacts.Close() })

	adapters, err := providers.New(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}

	a.executor = pipeline.NewExecutor(a.store, adapters, artifacts, a.events, a.logger)
	a.executor.SetHeartbeat(a.cfg.StaleTaskThreshold / 3)
	a.coordinator = pipeline.NewCoordinator(a.store, a.queue, a.executor, adapters, a.events, a.logger)
	return nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func (a *app) pingDB(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
