package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/fgeck/goduplicity-exporter/internal/config"
	"github.com/fgeck/goduplicity-exporter/internal/services/duplicity"
	"github.com/fgeck/goduplicity-exporter/internal/services/exporter"
	"github.com/fgeck/goduplicity-exporter/internal/services/runner"
	"github.com/fgeck/goduplicity-exporter/internal/services/state"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the exporter and execute the configured run mode",
	Long: `Start the metrics endpoint and execute the configured run mode.

In BACKUP mode every cycle runs:
1. Wake-on-LAN (if configured)
2. Remove old full chains and failed sessions
3. Write the probe file
4. Incremental backup (full when the chain is too old)
5. Restore the probe file and compare it
6. Retention and cleanup
7. Refresh collection status
8. Send Telegram notification (if configured)
9. Sleep until the next scheduled run

RESTORE, CLEAN, CLEANUP, COLLECTION-STATS and WAIT are one-shot or idle modes.`,
	RunE: runExporter,
}

func runExporter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to load config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return err
	}

	if err := duplicity.CheckEnvironment(); err != nil {
		log.Error().Err(err).Msg("duplicity environment is incomplete")
		return err
	}

	unlock, err := state.Lock(cfg.Paths.MetricsFile)
	if err != nil {
		log.Error().Err(err).Str("file", cfg.Paths.MetricsFile).Msg("failed to lock metrics file")
		return err
	}
	defer unlock()

	store := state.New(log.Logger, cfg.Name, cfg.Paths.MetricsFile)
	if err := store.Load(); err != nil {
		log.Warn().Err(err).Str("file", cfg.Paths.MetricsFile).Msg("starting with empty metrics")
	}

	log.Info().
		Str("name", cfg.Name).
		Str("mode", string(cfg.Mode)).
		Str("backend", cfg.Backend.Method.String()).
		Str("target", cfg.Backend.TargetPath).
		Msg("configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server, err := exporter.New(log.Logger, store, cfg.Exporter.ListenAddress, cfg.Exporter.Port)
	if err != nil {
		log.Error().Err(err).Msg("failed to create exporter")
		return err
	}

	serveErr := make(chan error, 1)
	go func() {
		err := server.Serve(ctx)
		if err != nil {
			log.Error().Err(err).Msg("exporter failed")
			cancel()
		}
		serveErr <- err
	}()

	runnerSvc := runner.New(log.Logger, store)
	runErr := runnerSvc.Run(ctx, *cfg)
	cancel()

	if err := <-serveErr; err != nil {
		return err
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error().Err(runErr).Msg("runner failed")
		return runErr
	}

	log.Info().Msg("shutdown complete")
	return nil
}
