// Package probe writes and reads the timestamp file used to verify that data written
// before a backup can be restored after it.
package probe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

// TimestampLayout is the probe file format, e.g. "Wed 04 Jan 15:04:05 UTC 2025".
const TimestampLayout = "Mon 02 Jan 15:04:05 MST 2006"

// Service defines the interface for probe file operations.
type Service interface {
	Write(path string) models.ProbeResult
	Read(path string) models.ProbeResult
}

// Impl implements the probe Service interface.
type Impl struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a new probe service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClock(logger, clock.WallClock)
}

// NewWithClock creates a new probe service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, clk clock.Clock) *Impl {
	return &Impl{
		clock:  clk,
		logger: logger,
	}
}

// Write stores the current time in path and reads it back.
func (s *Impl) Write(path string) models.ProbeResult {
	if path == "" {
		return s.failed("write", path, fmt.Errorf("probe path is not configured"))
	}

	now := s.clock.Now().UTC()
	content := now.Format(TimestampLayout) + "\n"

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return s.failed("write", path, fmt.Errorf("failed to create probe directory: %w", err))
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		return s.failed("write", path, fmt.Errorf("failed to write probe file: %w", err))
	}

	result := s.Read(path)
	if result.Succeeded {
		s.logger.Info().Str("path", path).Int64("epoch", result.Epoch).Msg("probe file written")
	}
	return result
}

// Read parses the timestamp stored in path.
func (s *Impl) Read(path string) models.ProbeResult {
	if path == "" {
		return s.failed("read", path, fmt.Errorf("probe path is not configured"))
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return s.failed("read", path, fmt.Errorf("failed to read probe file: %w", err))
	}

	epoch, err := ParseTimestamp(string(data))
	if err != nil {
		return s.failed("read", path, err)
	}

	s.logger.Debug().Str("path", path).Int64("epoch", epoch).Msg("probe file read")
	return models.ProbeResult{Succeeded: true, Epoch: epoch}
}

// ParseTimestamp parses probe file content into Unix seconds.
func ParseTimestamp(content string) (int64, error) {
	t, err := time.Parse(TimestampLayout, strings.ReplaceAll(content, "\n", ""))
	if err != nil {
		return 0, fmt.Errorf("failed to parse probe timestamp: %w", err)
	}
	return t.Unix(), nil
}

func (s *Impl) failed(op, path string, err error) models.ProbeResult {
	s.logger.Warn().Err(err).Str("path", path).Str("op", op).Msg("probe failed")
	return models.ProbeResult{Error: err}
}
