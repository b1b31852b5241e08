package models

import (
	"fmt"
	"strings"
	"time"
)

// Operation identifies a duplicity invocation.
type Operation string

// Duplicity operations.
const (
	OpBackup           Operation = "backup"
	OpRestoreProbe     Operation = "restore-test-probe"
	OpRestore          Operation = "restore"
	OpCleanup          Operation = "cleanup"
	OpPruneOldFull     Operation = "prune-old-full"
	OpCollectionStatus Operation = "collection-status"
)

// Destructive reports whether the engine must be forced to act instead of dry-running.
func (o Operation) Destructive() bool {
	switch o {
	case OpCleanup, OpPruneOldFull, OpRestore, OpCollectionStatus, OpRestoreProbe:
		return true
	default:
		return false
	}
}

// RunMode selects the entry point of the process.
type RunMode string

// Run modes.
const (
	ModeBackup          RunMode = "BACKUP"
	ModeRestore         RunMode = "RESTORE"
	ModeClean           RunMode = "CLEAN"
	ModeCleanup         RunMode = "CLEANUP"
	ModeCollectionStats RunMode = "COLLECTION-STATS"
	ModeWait            RunMode = "WAIT"
)

// ParseRunMode validates a run mode; an empty value selects ModeBackup.
func ParseRunMode(s string) (RunMode, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return ModeBackup, nil
	}
	switch m := RunMode(s); m {
	case ModeBackup, ModeRestore, ModeClean, ModeCleanup, ModeCollectionStats, ModeWait:
		return m, nil
	}
	return "", fmt.Errorf("unknown run mode %q", s)
}

// CommandOutput holds the captured stdout of a duplicity invocation.
type CommandOutput struct {
	Lines    []string
	ExitCode int
	Duration time.Duration
}

// OperationResult holds the result of a duplicity operation that produces no statistics.
type OperationResult struct {
	Operation Operation
	Skipped   bool
	ExitCode  int
	Duration  time.Duration
	Error     error
}

// BackupResult holds the result of a backup operation.
type BackupResult struct {
	Stats    BackupStats
	ExitCode int
	Duration time.Duration
	Error    error
}

// CollectionStatusResult holds the result of a collection-status operation.
type CollectionStatusResult struct {
	Status   CollectionStatus
	ExitCode int
	Error    error
}
