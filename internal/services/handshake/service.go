// Package handshake gates destructive restores behind an operator-written confirmation file.
package handshake

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/rs/zerolog"
)

const (
	// ConfirmToken is the exact content an operator writes to authorize a restore.
	ConfirmToken = "restore"
	// CompletePrefix starts the marker written after a restore finishes.
	CompletePrefix = "Restore complete:"
)

// Service defines the interface for the restore confirmation handshake.
type Service interface {
	Confirmed(path string) bool
	MarkComplete(path string) error
}

// Impl implements the handshake Service interface.
type Impl struct {
	clock  clock.Clock
	logger zerolog.Logger
}

// New creates a new handshake service.
func New(logger zerolog.Logger) *Impl {
	return NewWithClock(logger, clock.WallClock)
}

// NewWithClock creates a new handshake service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, clk clock.Clock) *Impl {
	return &Impl{
		clock:  clk,
		logger: logger,
	}
}

// Confirmed reports whether path holds exactly the confirmation token.
// Only a single trailing line ending is stripped before comparing.
func (s *Impl) Confirmed(path string) bool {
	if path == "" {
		s.logger.Warn().Msg("restore confirmation file is not configured")
		return false
	}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("restore not confirmed: cannot read confirmation file")
		return false
	}

	content := strings.TrimSuffix(string(data), "\n")
	content = strings.TrimSuffix(content, "\r")

	if content != ConfirmToken {
		s.logger.Warn().
			Str("path", path).
			Str("content", truncate(content, 64)).
			Msgf("restore not confirmed: file must contain exactly %q", ConfirmToken)
		return false
	}

	s.logger.Info().Str("path", path).Msg("restore confirmed")
	return true
}

// MarkComplete overwrites path with the completion marker, invalidating the confirmation.
func (s *Impl) MarkComplete(path string) error {
	marker := fmt.Sprintf("%s %s\n", CompletePrefix, s.clock.Now().UTC().Format(time.RFC3339))

	if err := os.WriteFile(path, []byte(marker), 0o600); err != nil {
		return fmt.Errorf("failed to write restore completion marker: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("restore completion marker written")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
