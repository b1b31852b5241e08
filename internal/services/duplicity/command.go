package duplicity

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/fgeck/goduplicity-exporter/internal/models"
)

// ErrUnknownBackend is returned when a command is built for an unsupported backend method.
var ErrUnknownBackend = errors.New("unknown backend method")

// Duplicity action verbs. A backup uses duplicity's implicit action.
const (
	actionRestore          = "restore"
	actionCleanup          = "cleanup"
	actionRemoveAllButN    = "remove-all-but-n-full"
	actionCollectionStatus = "collection-status"
)

// BuildCommand returns the duplicity argument vector (without the binary) for op.
// It is a pure function of its inputs.
//
//nolint:gocyclo // one branch per operation
func BuildCommand(op models.Operation, cfg models.BackupConfig) ([]string, error) {
	target, transport, err := backendTarget(cfg.Backend)
	if err != nil {
		return nil, err
	}

	var args []string

	switch op {
	case models.OpBackup:
	case models.OpRestore, models.OpRestoreProbe:
		args = append(args, actionRestore)
	case models.OpCleanup:
		args = append(args, actionCleanup)
	case models.OpPruneOldFull:
		if cfg.Retention.KeepLastNFull <= 0 {
			return nil, fmt.Errorf("%s requires a positive retention count", op)
		}
		args = append(args, actionRemoveAllButN, strconv.Itoa(cfg.Retention.KeepLastNFull))
	case models.OpCollectionStatus:
		args = append(args, actionCollectionStatus)
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}

	if cfg.Engine.AllowSourceMismatch {
		args = append(args, "--allow-source-mismatch")
	}
	if op.Destructive() {
		args = append(args, "--force")
	}
	if op == models.OpBackup && cfg.Engine.FullIfOlderThan != "" {
		args = append(args, "--full-if-older-than="+cfg.Engine.FullIfOlderThan)
	}
	if cfg.Engine.Verbosity != "" {
		args = append(args, "--verbosity="+cfg.Engine.Verbosity)
	}
	if op == models.OpBackup {
		for _, glob := range cfg.Engine.Excludes {
			if glob != "" {
				args = append(args, "--exclude="+glob)
			}
		}
	}
	if op == models.OpRestore && cfg.Restore.Time != "" {
		args = append(args, "--restore-time="+cfg.Restore.Time)
	}
	if transport != "" {
		args = append(args, transport)
	}

	// positional arguments: the local side precedes the backend target
	switch op {
	case models.OpBackup:
		args = append(args, cfg.Paths.Source, target)
	case models.OpRestoreProbe:
		args = append(args, "--file-to-restore="+strings.TrimLeft(cfg.Paths.ProbeFile, "/"), target, cfg.Paths.RestoredProbeFile)
	case models.OpRestore:
		args = append(args, target, restoreTarget(cfg))
	default:
		args = append(args, target)
	}

	return args, nil
}

// backendTarget resolves the backend URL and, for SSH, the rsync transport option.
func backendTarget(b models.BackendConfig) (string, string, error) {
	switch b.Method {
	case models.BackendSSH:
		if b.SSH == nil {
			return "", "", fmt.Errorf("ssh backend parameters are missing")
		}
		return sshURL(b.SSH, b.TargetPath), rsyncOptions(b.SSH), nil
	case models.BackendLocal:
		return "file://" + b.TargetPath, "", nil
	case models.BackendUnknown:
		return "", "", ErrUnknownBackend
	default:
		return "", "", fmt.Errorf("%w: %d", ErrUnknownBackend, b.Method)
	}
}

// sshURL builds rsync://user@host/path. An absolute path yields duplicity's "//" form.
func sshURL(s *models.SSHConfig, remotePath string) string {
	return fmt.Sprintf("rsync://%s@%s/%s", s.User, s.Host, remotePath)
}

func rsyncOptions(s *models.SSHConfig) string {
	hostKey := "no"
	if s.StrictHostKeyChecking {
		hostKey = "yes"
	}

	var b strings.Builder
	fmt.Fprintf(&b, `--rsync-options=-e "ssh -p %d -i %s -o StrictHostKeyChecking=%s`, s.Port, s.KeyFile, hostKey)
	if s.StrictHostKeyChecking && s.KnownHostsFile != "" {
		fmt.Fprintf(&b, " -o UserKnownHostsFile=%s", s.KnownHostsFile)
	}
	b.WriteString(`"`)
	return b.String()
}

func restoreTarget(cfg models.BackupConfig) string {
	if cfg.Restore.TargetPath != "" {
		return cfg.Restore.TargetPath
	}
	return cfg.Paths.Source
}
