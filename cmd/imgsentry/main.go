package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/imgsentry/imgsentry/internal/app"
	"github.com/imgsentry/imgsentry/internal/common"
	"github.com/imgsentry/imgsentry/internal/scheduler"
)

var (
	configFile   = flag.String("config", "", "Configuration file path (defaults to imgsentry.toml if present)")
	configFileC  = flag.String("c", "", "Configuration file path (shorthand)")
	submitURL    = flag.String("url", "", "Submit a scan for this URL on startup")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")

	config *common.Config
	logger arbor.ILogger
)

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("imgsentry version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	configPath := *configFile
	if configPath == "" {
		configPath = *configFileC
	}
	if configPath == "" {
		if _, err := os.Stat("imgsentry.toml"); err == nil {
			configPath = "imgsentry.toml"
		}
	}

	var err error
	config, err = common.LoadFromFile(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger = common.InitLogger(config)
	logger.Info().
		Str("version", common.GetVersion()).
		Str("environment", config.Environment).
		Str("config", configPath).
		Msg("Starting imgsentry")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start application")
	}

	if *submitURL != "" {
		job, err := application.Scheduler.Submit(ctx, scheduler.SubmitRequest{
			TargetURL:   *submitURL,
			SubmitterIP: "127.0.0.1",
		})
		if err != nil {
			logger.Error().Err(err).Str("url", *submitURL).Msg("Startup submission rejected")
		} else {
			logger.Info().Str("scan_id", job.ID).Str("url", job.TargetURL).Msg("Startup scan submitted")
		}
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received")

	application.Stop()
}
