// Package duplicity builds, runs and parses duplicity invocations.
package duplicity

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/rs/zerolog"
)

const defaultBinary = "duplicity"

// Service defines the interface for duplicity operations.
type Service interface {
	Backup(ctx context.Context, cfg models.BackupConfig) (*models.BackupResult, error)
	RestoreProbe(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error)
	Restore(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error)
	Cleanup(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error)
	PruneOldFull(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error)
	CollectionStatus(ctx context.Context, cfg models.BackupConfig) (*models.CollectionStatusResult, error)
}

// Impl implements the Service interface.
type Impl struct {
	executor CommandExecutor
	logger   zerolog.Logger
}

// New creates a new duplicity service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		executor: NewExecutor(logger),
		logger:   logger,
	}
}

// NewWithExecutor creates a new duplicity service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor CommandExecutor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// run builds and executes op. Errors are returned only when the command could not be
// built or started.
func (s *Impl) run(ctx context.Context, op models.Operation, cfg models.BackupConfig) (*models.CommandOutput, error) {
	args, err := BuildCommand(op, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s command: %w", op, err)
	}

	binary := cfg.Engine.Binary
	if binary == "" {
		binary = defaultBinary
	}

	out, err := s.executor.Run(ctx, "[duplicity "+string(op)+"]", binary, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w", op, err)
	}
	return out, nil
}

// Backup runs a backup and parses its statistics.
func (s *Impl) Backup(ctx context.Context, cfg models.BackupConfig) (*models.BackupResult, error) {
	s.logger.Info().
		Str("source", cfg.Paths.Source).
		Str("backend", cfg.Backend.Method.String()).
		Msg("starting backup")

	start := time.Now()
	out, err := s.run(ctx, models.OpBackup, cfg)
	if err != nil {
		return nil, err
	}

	result := &models.BackupResult{
		Stats:    ParseBackupStatistics(out.Lines),
		ExitCode: out.ExitCode,
		Duration: time.Since(start),
	}

	if !result.Stats.Success {
		result.Error = fmt.Errorf("backup statistics not found (exit code %d)", out.ExitCode)
		s.logger.Warn().Int("exit_code", out.ExitCode).Msg("backup produced no complete statistics")
		return result, nil
	}

	event := s.logger.Info().Int("exit_code", out.ExitCode).Dur("duration", result.Duration)
	if v := result.Stats.FilesNew; v != nil {
		event = event.Int64("files_new", *v)
	}
	if v := result.Stats.FilesChanged; v != nil {
		event = event.Int64("files_changed", *v)
	}
	if v := result.Stats.RawDeltaSize; v != nil && *v >= 0 {
		event = event.Str("raw_delta", humanize.IBytes(uint64(*v)))
	}
	if v := result.Stats.ErrorCount; v != nil {
		event = event.Int64("errors", *v)
	}
	event.Msg("backup completed")

	return result, nil
}

// RestoreProbe restores the probe file from the backend to its restored location.
func (s *Impl) RestoreProbe(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error) {
	s.logger.Info().
		Str("file", cfg.Paths.ProbeFile).
		Str("restored", cfg.Paths.RestoredProbeFile).
		Msg("restoring probe file")
	return s.operation(ctx, models.OpRestoreProbe, cfg)
}

// Restore restores the whole backup to the configured restore target.
func (s *Impl) Restore(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error) {
	s.logger.Info().
		Str("restore_time", cfg.Restore.Time).
		Str("target", restoreTarget(cfg)).
		Msg("starting restore")
	return s.operation(ctx, models.OpRestore, cfg)
}

// Cleanup removes orphaned and partial backup files from the backend.
func (s *Impl) Cleanup(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error) {
	s.logger.Info().Msg("cleaning up backend")
	return s.operation(ctx, models.OpCleanup, cfg)
}

// PruneOldFull deletes all but the newest N full backup chains. A zero count skips pruning.
func (s *Impl) PruneOldFull(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error) {
	if cfg.Retention.KeepLastNFull <= 0 {
		s.logger.Debug().Msg("retention count not set, skipping prune")
		return &models.OperationResult{Operation: models.OpPruneOldFull, Skipped: true}, nil
	}

	s.logger.Info().Int("keep_last_n_full", cfg.Retention.KeepLastNFull).Msg("applying retention policy")
	return s.operation(ctx, models.OpPruneOldFull, cfg)
}

// CollectionStatus counts the backup sets on the backend.
func (s *Impl) CollectionStatus(ctx context.Context, cfg models.BackupConfig) (*models.CollectionStatusResult, error) {
	s.logger.Debug().Msg("collecting backend status")

	out, err := s.run(ctx, models.OpCollectionStatus, cfg)
	if err != nil {
		return nil, err
	}

	result := &models.CollectionStatusResult{
		Status:   ParseCollectionStatus(out.Lines),
		ExitCode: out.ExitCode,
	}
	if out.ExitCode != 0 {
		result.Error = fmt.Errorf("collection-status exited with code %d", out.ExitCode)
	}

	s.logger.Info().
		Int64("full", result.Status.FullBackupCount).
		Int64("incremental", result.Status.IncrementalBackupCount).
		Msg("collection status refreshed")

	return result, nil
}

func (s *Impl) operation(ctx context.Context, op models.Operation, cfg models.BackupConfig) (*models.OperationResult, error) {
	start := time.Now()
	out, err := s.run(ctx, op, cfg)
	if err != nil {
		return nil, err
	}

	result := &models.OperationResult{
		Operation: op,
		ExitCode:  out.ExitCode,
		Duration:  time.Since(start),
	}
	if out.ExitCode != 0 {
		result.Error = fmt.Errorf("%s exited with code %d", op, out.ExitCode)
	}

	s.logger.Info().
		Str("operation", string(op)).
		Int("exit_code", out.ExitCode).
		Str("duration", result.Duration.Round(time.Millisecond).String()).
		Msg("operation completed")

	return result, nil
}
