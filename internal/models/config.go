// Package models contains the data structures used throughout goduplicity-exporter.
package models

import (
	"strings"
	"time"
)

// BackupConfig holds the complete, immutable configuration of the exporter.
type BackupConfig struct {
	Name      string
	Mode      RunMode
	Engine    EngineSettings
	Backend   BackendConfig
	Paths     PathSettings
	Retention RetentionPolicy
	Restore   RestoreSettings
	Schedule  ScheduleSettings
	Exporter  ExporterSettings
	WOL       *WOLConfig      // nil if not configured
	Telegram  *TelegramConfig // nil if not configured
}

// EngineSettings holds flags passed to every duplicity invocation.
type EngineSettings struct {
	Binary              string
	Verbosity           string
	FullIfOlderThan     string // e.g. "7D"
	AllowSourceMismatch bool
	Excludes            []string
}

// BackendMethod selects how the backup target is reached.
type BackendMethod int

// Backend methods.
const (
	BackendUnknown BackendMethod = iota
	BackendSSH
	BackendLocal
)

// ParseBackendMethod maps a configuration value to a BackendMethod.
func ParseBackendMethod(s string) BackendMethod {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SSH":
		return BackendSSH
	case "LOCAL":
		return BackendLocal
	default:
		return BackendUnknown
	}
}

func (m BackendMethod) String() string {
	switch m {
	case BackendSSH:
		return "SSH"
	case BackendLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// BackendConfig describes the backup target.
type BackendConfig struct {
	Method     BackendMethod
	TargetPath string     // remote path for SSH, local directory for LOCAL
	SSH        *SSHConfig // only populated for BackendSSH
}

// PathSettings holds local filesystem locations.
type PathSettings struct {
	Source            string // directory that is backed up
	MetricsFile       string // persisted metrics snapshot
	ProbeFile         string // probe file, relative to Source
	RestoredProbeFile string // where the probe is restored to after a backup
	ConfirmFile       string // restore confirmation file
}

// ProbePath returns the absolute location of the pre-backup probe file.
func (p PathSettings) ProbePath() string {
	if p.ProbeFile == "" {
		return ""
	}
	return strings.TrimRight(p.Source, "/") + "/" + strings.TrimLeft(p.ProbeFile, "/")
}

// RetentionPolicy defines how many full backup chains to keep.
type RetentionPolicy struct {
	KeepLastNFull int // 0 disables pruning
}

// RestoreSettings holds settings for the restore workflow.
type RestoreSettings struct {
	Time       string // optional --restore-time value
	TargetPath string // directory a full restore is written to
}

// ScheduleSettings controls when the next backup cycle runs.
type ScheduleSettings struct {
	Interval time.Duration
	Cron     string // optional, overrides Interval
}

// ExporterSettings holds metrics endpoint settings.
type ExporterSettings struct {
	ListenAddress string
	Port          int
}
