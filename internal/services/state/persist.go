package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidSnapshot is returned when the persisted metrics file does not match the snapshot schema.
var ErrInvalidSnapshot = errors.New("invalid metrics snapshot")

// saveSnapshot writes m to path+".tmp", fsyncs it, then renames it over path.
func saveSnapshot(path string, m models.MetricsSnapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}

	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("failed to create temp metrics file: %w", err)
	}
	if _, err := f.Write(b); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write temp metrics file: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to sync temp metrics file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to close temp metrics file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace metrics file: %w", err)
	}

	return fsyncDir(filepath.Dir(path))
}

// loadSnapshot reads and validates the metrics file at path.
// A missing file returns exists=false and no error.
func loadSnapshot(path string) (models.MetricsSnapshot, bool, error) {
	var m models.MetricsSnapshot

	// crash artifact from an interrupted save
	_ = os.Remove(path + ".tmp")

	data, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, false, nil
		}
		return m, false, fmt.Errorf("failed to read metrics file: %w", err)
	}

	if err := validateSnapshot(data); err != nil {
		return m, true, err
	}

	if err := json.Unmarshal(data, &m); err != nil {
		return models.MetricsSnapshot{}, true, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return m, true, nil
}

func validateSnapshot(data []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(snapshotSchema),
		gojsonschema.NewBytesLoader(data),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, fmt.Sprintf("%s: %s", e.Field(), e.Description()))
		}
		return fmt.Errorf("%w: %s", ErrInvalidSnapshot, strings.Join(problems, "; "))
	}
	return nil
}

func fsyncDir(dir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	d, err := os.Open(dir) //nolint:gosec // path comes from configuration
	if err != nil {
		return fmt.Errorf("failed to open metrics directory: %w", err)
	}
	defer func() { _ = d.Close() }()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync metrics directory: %w", err)
	}
	return nil
}
