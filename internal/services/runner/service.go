// Package runner orchestrates the backup cycle and the maintenance run modes.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/fgeck/goduplicity-exporter/internal/services/duplicity"
	"github.com/fgeck/goduplicity-exporter/internal/services/handshake"
	"github.com/fgeck/goduplicity-exporter/internal/services/probe"
	"github.com/fgeck/goduplicity-exporter/internal/services/ssh"
	"github.com/fgeck/goduplicity-exporter/internal/services/telegram"
	"github.com/fgeck/goduplicity-exporter/internal/services/wol"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Service defines the interface for the backup runner.
type Service interface {
	Run(ctx context.Context, cfg models.BackupConfig) error
}

// Store is the state the runner publishes to.
type Store interface {
	Metrics() models.MetricsSnapshot
	Update(fn func(models.MetricsSnapshot) models.MetricsSnapshot) error
	Collection() models.CollectionStatus
	SetCollection(c models.CollectionStatus)
	SetState(st models.CycleState)
	SetCycleID(id string)
	SetNextRun(t time.Time)
}

// Impl implements the runner Service interface.
type Impl struct {
	duplicitySvc  duplicity.Service
	probeSvc      probe.Service
	handshakeSvc  handshake.Service
	wolSvc        wol.Service
	sshSvc        ssh.Service
	telegramSvc   telegram.Service
	store         Store
	clock         clock.Clock
	logger        zerolog.Logger
	onStateChange func(models.CycleState)
}

// New creates a new runner service publishing to store.
func New(logger zerolog.Logger, store Store) *Impl {
	return &Impl{
		duplicitySvc: duplicity.New(logger),
		probeSvc:     probe.New(logger),
		handshakeSvc: handshake.New(logger),
		wolSvc:       wol.New(logger),
		sshSvc:       ssh.New(logger),
		telegramSvc:  telegram.New(logger),
		store:        store,
		clock:        clock.WallClock,
		logger:       logger,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	store Store,
	clk clock.Clock,
	duplicitySvc duplicity.Service,
	probeSvc probe.Service,
	handshakeSvc handshake.Service,
	wolSvc wol.Service,
	sshSvc ssh.Service,
	telegramSvc telegram.Service,
) *Impl {
	return &Impl{
		duplicitySvc: duplicitySvc,
		probeSvc:     probeSvc,
		handshakeSvc: handshakeSvc,
		wolSvc:       wolSvc,
		sshSvc:       sshSvc,
		telegramSvc:  telegramSvc,
		store:        store,
		clock:        clk,
		logger:       logger,
	}
}

// OnStateChange registers fn to be called after every cycle state transition.
func (s *Impl) OnStateChange(fn func(models.CycleState)) {
	s.onStateChange = fn
}

// Run executes the configured run mode. It only returns an error for startup-class failures;
// operational failures are logged and reflected in the published metrics.
func (s *Impl) Run(ctx context.Context, cfg models.BackupConfig) error {
	if err := duplicity.CheckEnvironment(); err != nil {
		return err
	}

	schedule, err := Schedule(cfg.Schedule)
	if err != nil {
		return err
	}

	s.logger.Info().
		Str("name", cfg.Name).
		Str("mode", string(cfg.Mode)).
		Str("backend", cfg.Backend.Method.String()).
		Str("source", cfg.Paths.Source).
		Msg("starting runner")

	s.preflight(ctx, cfg)

	switch cfg.Mode {
	case models.ModeBackup:
		return s.loop(ctx, cfg, schedule)
	case models.ModeRestore:
		if err := s.restore(ctx, cfg); err != nil {
			return err
		}
		return s.idle(ctx)
	case models.ModeClean:
		if err := s.retention(ctx, s.logger, cfg); err != nil {
			return err
		}
		return s.refreshCollection(ctx, s.logger, cfg)
	case models.ModeCleanup:
		if _, err := s.operation(ctx, s.logger, "cleanup", s.duplicitySvc.Cleanup, cfg); err != nil {
			return err
		}
		return nil
	case models.ModeCollectionStats:
		return s.refreshCollection(ctx, s.logger, cfg)
	case models.ModeWait:
		return s.idle(ctx)
	default:
		return fmt.Errorf("unsupported run mode %q", cfg.Mode)
	}
}

// Schedule returns the cycle schedule: the cron expression if set, otherwise the fixed interval.
func Schedule(cfg models.ScheduleSettings) (cron.Schedule, error) {
	if cfg.Cron != "" {
		sched, err := cron.ParseStandard(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("invalid backup schedule %q: %w", cfg.Cron, err)
		}
		return sched, nil
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("backup interval must be positive, got %s", cfg.Interval)
	}
	return cron.Every(cfg.Interval), nil
}

func (s *Impl) loop(ctx context.Context, cfg models.BackupConfig, schedule cron.Schedule) error {
	for {
		next, err := s.cycle(ctx, cfg, schedule)
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			s.logger.Info().Msg("runner stopped")
			return nil
		}

		wait := next.Sub(s.clock.Now())
		if wait < 0 {
			wait = 0
		}
		s.logger.Info().Time("next_run", next).Dur("wait", wait).Msg("sleeping until next cycle")

		select {
		case <-ctx.Done():
			s.logger.Info().Msg("runner stopped")
			return nil
		case <-s.clock.After(wait):
		}
	}
}

// cycle runs one backup cycle and returns the next scheduled start.
//
//nolint:gocognit,gocyclo // one branch per cycle step
func (s *Impl) cycle(ctx context.Context, cfg models.BackupConfig, schedule cron.Schedule) (time.Time, error) {
	startTime := s.clock.Now()
	cycleID := uuid.NewString()
	logger := s.logger.With().Str("cycle_id", cycleID).Logger()
	s.store.SetCycleID(cycleID)

	var failedStep string
	var cycleErr error
	fail := func(step string, err error) {
		if cycleErr == nil {
			failedStep = step
			cycleErr = err
		}
	}

	logger.Info().Msg("starting backup cycle")

	if cfg.WOL != nil {
		s.wake(ctx, logger, *cfg.WOL)
	}

	if err := s.refreshCollection(ctx, logger, cfg); err != nil {
		return time.Time{}, err
	}

	s.setState(logger, models.StateRunning)

	if err := s.retention(ctx, logger, cfg); err != nil {
		return time.Time{}, err
	}
	if err := s.refreshCollection(ctx, logger, cfg); err != nil {
		return time.Time{}, err
	}

	// Pre-backup probe
	pre := s.probeSvc.Write(cfg.Paths.ProbePath())
	s.publish(logger, func(m models.MetricsSnapshot) models.MetricsSnapshot {
		return m.WithPreBackupCheck(pre)
	})
	if pre.Error != nil {
		fail("pre_backup_probe", pre.Error)
	}

	// Backup
	backupResult, err := s.duplicitySvc.Backup(ctx, cfg)
	if ctx.Err() != nil {
		logger.Warn().Msg("backup cycle cancelled, keeping previous metrics")
		return time.Time{}, nil
	}
	switch {
	case isFatal(err):
		return time.Time{}, err
	case err != nil:
		logger.Error().Err(err).Msg("backup could not be run")
		s.publish(logger, func(m models.MetricsSnapshot) models.MetricsSnapshot {
			return m.WithBackupStats(models.BackupStats{})
		})
		fail("backup", err)
	default:
		s.publish(logger, func(m models.MetricsSnapshot) models.MetricsSnapshot {
			return m.WithBackupStats(backupResult.Stats)
		})
		if backupResult.Error != nil {
			logger.Error().Err(backupResult.Error).Int("exit_code", backupResult.ExitCode).Msg("backup failed")
			fail("backup", backupResult.Error)
		}
	}

	// Post-backup probe
	post, err := s.restoreProbe(ctx, logger, cfg)
	if err != nil {
		return time.Time{}, err
	}
	if ctx.Err() != nil {
		logger.Warn().Msg("backup cycle cancelled, keeping previous probe check")
		return time.Time{}, nil
	}
	s.publish(logger, func(m models.MetricsSnapshot) models.MetricsSnapshot {
		return m.WithPostBackupCheck(post)
	})
	if post.Error != nil {
		fail("post_backup_probe", post.Error)
	}

	s.setState(logger, models.StateCleaningUp)

	if err := s.retention(ctx, logger, cfg); err != nil {
		return time.Time{}, err
	}

	// the sleep targets this published time, so later steps do not push the next cycle back
	next := schedule.Next(s.clock.Now())
	s.store.SetNextRun(next)

	s.setState(logger, models.StateWaiting)

	if err := s.refreshCollection(ctx, logger, cfg); err != nil {
		return time.Time{}, err
	}

	m := s.store.Metrics()
	logger.Info().
		Bool("success", m.Success && cycleErr == nil).
		Int64("files_new", m.Files.New).
		Int64("files_changed", m.Files.Changed).
		Str("raw_delta", humanize.IBytes(uint64(max(m.Size.RawDelta, 0)))).
		Dur("duration", s.clock.Now().Sub(startTime)).
		Msg("backup cycle completed")

	if cfg.Telegram != nil {
		s.notify(ctx, logger, cfg, models.TelegramMessage{
			Kind:         models.NotifyBackup,
			Success:      cycleErr == nil,
			StartTime:    startTime,
			Metrics:      m,
			Collection:   s.store.Collection(),
			FailedStep:   failedStep,
			ErrorMessage: errorMessage(cycleErr),
		})
	}

	return next, nil
}

// restoreProbe restores the probe file from the backend and reads it back.
func (s *Impl) restoreProbe(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig) (models.ProbeResult, error) {
	result, err := s.duplicitySvc.RestoreProbe(ctx, cfg)
	if isFatal(err) {
		return models.ProbeResult{}, err
	}
	if err == nil && result.Error != nil {
		err = result.Error
	}
	if err != nil {
		logger.Warn().Err(err).Msg("probe file could not be restored")
		return models.ProbeResult{Error: fmt.Errorf("probe restore failed: %w", err)}, nil
	}
	return s.probeSvc.Read(cfg.Paths.RestoredProbeFile), nil
}

// retention prunes old full chains, if configured, and removes leftover files.
func (s *Impl) retention(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig) error {
	if _, err := s.operation(ctx, logger, "prune", s.duplicitySvc.PruneOldFull, cfg); err != nil {
		return err
	}
	if _, err := s.operation(ctx, logger, "cleanup", s.duplicitySvc.Cleanup, cfg); err != nil {
		return err
	}
	return nil
}

type operationFunc func(ctx context.Context, cfg models.BackupConfig) (*models.OperationResult, error)

// operation runs op, logging failures. Only fatal errors are returned.
func (s *Impl) operation(ctx context.Context, logger zerolog.Logger, name string, op operationFunc, cfg models.BackupConfig) (*models.OperationResult, error) {
	result, err := op(ctx, cfg)
	if isFatal(err) {
		return nil, err
	}
	if err != nil {
		logger.Error().Err(err).Str("step", name).Msg("operation could not be run")
		return &models.OperationResult{Error: err}, nil
	}
	switch {
	case result.Skipped:
		logger.Debug().Str("step", name).Msg("operation skipped")
	case result.Error != nil:
		logger.Warn().Err(result.Error).Str("step", name).Msg("operation failed")
	default:
		logger.Info().Str("step", name).Dur("duration", result.Duration).Msg("operation completed")
	}
	return result, nil
}

// refreshCollection publishes the current collection status. Failed runs keep the previous status.
func (s *Impl) refreshCollection(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig) error {
	result, err := s.duplicitySvc.CollectionStatus(ctx, cfg)
	if isFatal(err) {
		return err
	}
	if err != nil {
		logger.Error().Err(err).Msg("collection status could not be run")
		return nil
	}
	if result.Error != nil {
		logger.Warn().Err(result.Error).Msg("collection status failed, keeping previous values")
		return nil
	}

	s.store.SetCollection(result.Status)
	logger.Info().
		Int64("full", result.Status.FullBackupCount).
		Int64("incremental", result.Status.IncrementalBackupCount).
		Msg("collection status refreshed")
	return nil
}

// restore runs a confirmed restore and invalidates the confirmation afterwards.
func (s *Impl) restore(ctx context.Context, cfg models.BackupConfig) error {
	startTime := s.clock.Now()
	logger := s.logger.With().Str("confirm_file", cfg.Paths.ConfirmFile).Logger()

	if !s.handshakeSvc.Confirmed(cfg.Paths.ConfirmFile) {
		logger.Warn().Msg("restore refused, no destructive action taken")
		if cfg.Telegram != nil {
			s.notify(ctx, logger, cfg, models.TelegramMessage{
				Kind:         models.NotifyRestore,
				StartTime:    startTime,
				FailedStep:   "confirmation",
				ErrorMessage: fmt.Sprintf("confirmation file does not contain %q", handshake.ConfirmToken),
			})
		}
		return nil
	}

	logger.Info().Str("restore_time", cfg.Restore.Time).Msg("starting restore")

	var restoreErr error
	result, err := s.duplicitySvc.Restore(ctx, cfg)
	switch {
	case isFatal(err):
		return err
	case err != nil:
		// the engine never ran, the confirmation stays valid
		logger.Error().Err(err).Msg("restore could not be run")
		restoreErr = err
	default:
		// the engine ran, so the confirmation is consumed whether or not it succeeded
		if err := s.handshakeSvc.MarkComplete(cfg.Paths.ConfirmFile); err != nil {
			logger.Error().Err(err).Msg("failed to write restore completion marker")
		}
		restoreErr = result.Error
		if restoreErr != nil {
			logger.Error().Err(restoreErr).Int("exit_code", result.ExitCode).Msg("restore failed")
		} else {
			logger.Info().Dur("duration", result.Duration).Msg("restore completed")
		}
	}

	if cfg.Telegram != nil {
		msg := models.TelegramMessage{
			Kind:         models.NotifyRestore,
			Success:      restoreErr == nil,
			StartTime:    startTime,
			ErrorMessage: errorMessage(restoreErr),
		}
		if restoreErr != nil {
			msg.FailedStep = "restore"
		}
		s.notify(ctx, logger, cfg, msg)
	}

	return nil
}

func (s *Impl) preflight(ctx context.Context, cfg models.BackupConfig) {
	if cfg.Backend.Method != models.BackendSSH || cfg.Backend.SSH == nil {
		return
	}

	result, err := s.sshSvc.TestConnection(ctx, *cfg.Backend.SSH)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("host", cfg.Backend.SSH.Host).Msg("SSH backend preflight failed")
	}
}

func (s *Impl) wake(ctx context.Context, logger zerolog.Logger, cfg models.WOLConfig) {
	result, err := s.wolSvc.Wake(ctx, cfg)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		logger.Warn().Err(err).Str("mac", cfg.MACAddress).Msg("Wake-on-LAN failed, continuing")
		return
	}

	logger.Info().
		Bool("packet_sent", result.PacketSent).
		Bool("target_ready", result.TargetReady).
		Dur("wait_duration", result.WaitDuration).
		Msg("WOL completed")
}

func (s *Impl) setState(logger zerolog.Logger, st models.CycleState) {
	s.store.SetState(st)
	logger.Info().Str("state", st.String()).Msg("cycle state changed")
	if s.onStateChange != nil {
		s.onStateChange(st)
	}
}

func (s *Impl) publish(logger zerolog.Logger, fn func(models.MetricsSnapshot) models.MetricsSnapshot) {
	if err := s.store.Update(fn); err != nil {
		logger.Error().Err(err).Msg("failed to persist metrics")
	}
}

func (s *Impl) idle(ctx context.Context) error {
	s.logger.Info().Msg("idling until stopped")
	<-ctx.Done()
	return nil
}

func (s *Impl) notify(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig, msg models.TelegramMessage) {
	msg.BackupName = cfg.Name
	msg.Target = describeTarget(cfg.Backend)
	msg.Duration = s.clock.Now().Sub(msg.StartTime)

	result, err := s.telegramSvc.SendNotification(ctx, *cfg.Telegram, msg)
	if err == nil {
		err = result.Error
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to send Telegram notification")
	}
}

func describeTarget(b models.BackendConfig) string {
	if b.Method == models.BackendSSH && b.SSH != nil {
		return fmt.Sprintf("%s@%s:%s", b.SSH.User, b.SSH.Host, b.TargetPath)
	}
	return b.TargetPath
}

func isFatal(err error) bool {
	return errors.Is(err, duplicity.ErrPassphraseMissing)
}

func errorMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
