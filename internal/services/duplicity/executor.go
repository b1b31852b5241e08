package duplicity

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/rs/zerolog"
)

// PassphraseEnv is the environment variable duplicity reads its encryption passphrase from.
const PassphraseEnv = "PASSPHRASE"

// ErrPassphraseMissing is returned when PassphraseEnv is unset or empty.
var ErrPassphraseMissing = errors.New(PassphraseEnv + " is not set")

const maxLineSize = 1024 * 1024

// CheckEnvironment fails when the passphrase is absent from the process environment.
func CheckEnvironment() error {
	if os.Getenv(PassphraseEnv) == "" {
		return ErrPassphraseMissing
	}
	return nil
}

// CommandExecutor allows mocking process execution in tests.
type CommandExecutor interface {
	// Run executes name with args and returns stdout split into lines.
	// A non-zero exit status is reported in the output, not as an error.
	Run(ctx context.Context, prefix string, name string, args ...string) (*models.CommandOutput, error)
}

// DefaultExecutor runs commands with os/exec, streaming every line to the logger.
type DefaultExecutor struct {
	logger zerolog.Logger
}

// NewExecutor creates a DefaultExecutor.
func NewExecutor(logger zerolog.Logger) *DefaultExecutor {
	return &DefaultExecutor{logger: logger}
}

// Run implements CommandExecutor.
func (e *DefaultExecutor) Run(ctx context.Context, prefix string, name string, args ...string) (*models.CommandOutput, error) {
	if err := CheckEnvironment(); err != nil {
		return nil, err
	}

	e.logger.Info().Str("prefix", prefix).Str("command", name+" "+strings.Join(args, " ")).Msg("running command")

	start := time.Now()
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", name, err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.drain(stderr, prefix)
	}()

	lines, scanErr := e.capture(stdout, prefix)
	wg.Wait()

	out := &models.CommandOutput{Lines: lines}
	waitErr := cmd.Wait()
	out.Duration = time.Since(start)

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
	case errors.As(waitErr, &exitErr):
		out.ExitCode = exitErr.ExitCode()
		e.logger.Warn().Str("prefix", prefix).Int("exit_code", out.ExitCode).Msg("command exited with non-zero status")
	default:
		return out, fmt.Errorf("%s failed: %w", name, waitErr)
	}

	if scanErr != nil {
		e.logger.Warn().Err(scanErr).Str("prefix", prefix).Msg("stdout read interrupted")
	}

	return out, nil
}

func (e *DefaultExecutor) capture(r io.Reader, prefix string) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		e.logger.Info().Str("prefix", prefix).Str("line", line).Msg("output")
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		// keep the pipe drained so the process can exit
		_, _ = io.Copy(io.Discard, r)
		return lines, err
	}
	return lines, nil
}

func (e *DefaultExecutor) drain(r io.Reader, prefix string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		e.logger.Warn().Str("prefix", prefix).Str("stream", "stderr").Str("line", scanner.Text()).Msg("output")
	}
	_, _ = io.Copy(io.Discard, r)
}
