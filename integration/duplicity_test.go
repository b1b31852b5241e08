//go:build integration

package integration

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/fgeck/goduplicity-exporter/internal/services/duplicity"
	"github.com/fgeck/goduplicity-exporter/internal/services/probe"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// localConfig returns a LOCAL backend configuration rooted in a temporary directory.
func localConfig(t *testing.T) models.BackupConfig {
	t.Helper()

	if _, err := exec.LookPath("duplicity"); err != nil {
		t.Skip("duplicity not found in PATH")
	}
	if err := duplicity.CheckEnvironment(); err != nil {
		t.Skip("PASSPHRASE not set")
	}

	dir := t.TempDir()
	source := filepath.Join(dir, "source")
	require.NoError(t, os.MkdirAll(source, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(source, "data.txt"), []byte("test data for backup"), 0o600))

	return models.BackupConfig{
		Name: "integration",
		Mode: models.ModeBackup,
		Engine: models.EngineSettings{
			Binary:              "duplicity",
			AllowSourceMismatch: true,
			Excludes:            []string{"**/*.tmp"},
		},
		Backend: models.BackendConfig{
			Method:     models.BackendLocal,
			TargetPath: filepath.Join(dir, "target"),
		},
		Paths: models.PathSettings{
			Source:            source,
			ProbeFile:         "test/pre_backup",
			RestoredProbeFile: filepath.Join(dir, "restored", "pre_backup"),
		},
		Retention: models.RetentionPolicy{KeepLastNFull: 1},
		Restore:   models.RestoreSettings{TargetPath: filepath.Join(dir, "restore")},
	}
}

func TestDuplicityBackupAndCollectionStatus_Integration(t *testing.T) {
	cfg := localConfig(t)
	ctx := context.Background()
	svc := duplicity.New(testLogger())

	result, err := svc.Backup(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.True(t, result.Stats.Success)
	require.NotNil(t, result.Stats.FilesNew)
	assert.Positive(t, *result.Stats.FilesNew)

	// second run is incremental
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Paths.Source, "more.txt"), []byte("more"), 0o600))
	result, err = svc.Backup(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, result.Error)

	status, err := svc.CollectionStatus(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, status.Error)
	assert.Equal(t, int64(1), status.Status.FullBackupCount)
	assert.Equal(t, int64(1), status.Status.IncrementalBackupCount)
}

func TestDuplicityProbeRoundTrip_Integration(t *testing.T) {
	cfg := localConfig(t)
	ctx := context.Background()
	svc := duplicity.New(testLogger())
	probeSvc := probe.New(testLogger())

	written := probeSvc.Write(cfg.Paths.ProbePath())
	require.NoError(t, written.Error)

	result, err := svc.Backup(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, result.Error)

	restored, err := svc.RestoreProbe(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, restored.Error)

	read := probeSvc.Read(cfg.Paths.RestoredProbeFile)
	require.NoError(t, read.Error)
	assert.Equal(t, written.Epoch, read.Epoch)
}

func TestDuplicityRetentionAndCleanup_Integration(t *testing.T) {
	cfg := localConfig(t)
	ctx := context.Background()
	svc := duplicity.New(testLogger())

	result, err := svc.Backup(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, result.Error)

	pruned, err := svc.PruneOldFull(ctx, cfg)
	require.NoError(t, err)
	assert.NoError(t, pruned.Error)

	cleaned, err := svc.Cleanup(ctx, cfg)
	require.NoError(t, err)
	assert.NoError(t, cleaned.Error)
}

func TestDuplicityFullRestore_Integration(t *testing.T) {
	cfg := localConfig(t)
	ctx := context.Background()
	svc := duplicity.New(testLogger())

	result, err := svc.Backup(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, result.Error)

	restored, err := svc.Restore(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, restored.Error)

	data, err := os.ReadFile(filepath.Join(cfg.Restore.TargetPath, "data.txt"))
	require.NoError(t, err)
	assert.Equal(t, "test data for backup", string(data))
}
