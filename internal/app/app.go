package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/imgsentry/imgsentry/internal/common"
	"github.com/imgsentry/imgsentry/internal/crawler"
	"github.com/imgsentry/imgsentry/internal/interfaces"
	"github.com/imgsentry/imgsentry/internal/scheduler"
	"github.com/imgsentry/imgsentry/internal/services/events"
	"github.com/imgsentry/imgsentry/internal/storage/badger"
)

// App assembles and owns the service: storage, events, the browser, the
// crawl orchestrator and the scheduler. Construction wires everything;
// Start/Stop drive the lifecycle.
type App struct {
	Config    *common.Config
	Logger    arbor.ILogger
	Storage   interfaces.StorageManager
	Events    interfaces.EventService
	Browser   *crawler.Browser
	Scheduler *scheduler.Scheduler
}

// New builds the application from configuration.
func New(config *common.Config, logger arbor.ILogger) (*App, error) {
	storage, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	eventService := events.NewService(logger)
	guard := crawler.NewGuard()
	browser := crawler.NewBrowser(&config.Crawler, logger)
	executor := crawler.NewChromeExecutor(browser, guard, &config.Crawler, logger)

	orchestrator := crawler.NewOrchestrator(
		executor,
		guard,
		storage.ImageStorage(),
		storage.CheckpointStorage(),
		eventService,
		&config.Crawler,
		logger,
	)

	sched := scheduler.NewScheduler(
		storage.JobStorage(),
		storage.CheckpointStorage(),
		orchestrator,
		eventService,
		nil,
		guard,
		&config.Scheduler,
		logger,
	)

	return &App{
		Config:    config,
		Logger:    logger,
		Storage:   storage,
		Events:    eventService,
		Browser:   browser,
		Scheduler: sched,
	}, nil
}

// Start launches the scheduler; interrupted scans are recovered first.
func (a *App) Start(ctx context.Context) error {
	return a.Scheduler.Start(ctx)
}

// Stop shuts everything down in reverse dependency order. Running scans are
// cancelled with the shutdown cause so they resume on the next start.
func (a *App) Stop() {
	a.Scheduler.Stop()
	a.Browser.Shutdown()

	if err := a.Events.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Event service close failed")
	}
	if err := a.Storage.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Storage close failed")
	}

	a.Logger.Info().Msg("Application stopped")
}
