package models

// MetricsSnapshot is the durable record of the last observed backup cycle.
// Values are treated as immutable once published; use the With* methods to derive a new one.
type MetricsSnapshot struct {
	Success         bool       `json:"success"`
	LastBackupEpoch int64      `json:"lastBackupEpoch"`
	ElapsedSeconds  int64      `json:"elapsedSeconds"`
	ErrorCount      int64      `json:"errorCount"`
	Files           FileStats  `json:"files"`
	Size            SizeStats  `json:"size"`
	PreBackupCheck  ProbeCheck `json:"preBackupCheck"`
	PostBackupCheck ProbeCheck `json:"postBackupCheck"`
}

// FileStats groups file counters reported by duplicity.
type FileStats struct {
	New          int64 `json:"new"`
	Deleted      int64 `json:"deleted"`
	Changed      int64 `json:"changed"`
	DeltaEntries int64 `json:"deltaEntries"`
}

// SizeStats groups byte counters reported by duplicity.
type SizeStats struct {
	RawDelta               int64 `json:"rawDelta"`
	ChangedFiles           int64 `json:"changedFiles"`
	SourceFile             int64 `json:"sourceFile"`
	TotalDestinationChange int64 `json:"totalDestinationChange"`
}

// ProbeCheck is the persisted outcome of a probe file write or read.
type ProbeCheck struct {
	Succeeded bool  `json:"succeeded"`
	Epoch     int64 `json:"epoch"`
}

// ProbeResult is the outcome of a single probe operation.
type ProbeResult struct {
	Succeeded bool
	Epoch     int64
	Error     error
}

// BackupStats is the record extracted from one backup's console output.
// A nil field was not present in the output and must not overwrite a previous value.
type BackupStats struct {
	Success bool

	LastBackupEpoch *int64
	ElapsedSeconds  *int64
	ErrorCount      *int64

	FilesNew     *int64
	FilesDeleted *int64
	FilesChanged *int64
	DeltaEntries *int64

	RawDeltaSize               *int64
	ChangedFileSize            *int64
	SourceFileSize             *int64
	TotalDestinationSizeChange *int64
}

// CollectionStatus holds the number of backup sets in the current chain.
type CollectionStatus struct {
	FullBackupCount        int64 `json:"fullBackupCount"`
	IncrementalBackupCount int64 `json:"incrementalBackupCount"`
}

// WithBackupStats returns a copy of m with every field present in s applied.
// Success always reflects s.
func (m MetricsSnapshot) WithBackupStats(s BackupStats) MetricsSnapshot {
	m.Success = s.Success
	apply(&m.LastBackupEpoch, s.LastBackupEpoch)
	apply(&m.ElapsedSeconds, s.ElapsedSeconds)
	apply(&m.ErrorCount, s.ErrorCount)
	apply(&m.Files.New, s.FilesNew)
	apply(&m.Files.Deleted, s.FilesDeleted)
	apply(&m.Files.Changed, s.FilesChanged)
	apply(&m.Files.DeltaEntries, s.DeltaEntries)
	apply(&m.Size.RawDelta, s.RawDeltaSize)
	apply(&m.Size.ChangedFiles, s.ChangedFileSize)
	apply(&m.Size.SourceFile, s.SourceFileSize)
	apply(&m.Size.TotalDestinationChange, s.TotalDestinationSizeChange)
	return m
}

// WithPreBackupCheck returns a copy of m with the pre-backup probe outcome applied.
func (m MetricsSnapshot) WithPreBackupCheck(r ProbeResult) MetricsSnapshot {
	m.PreBackupCheck = r.merge(m.PreBackupCheck)
	return m
}

// WithPostBackupCheck returns a copy of m with the post-backup probe outcome applied.
func (m MetricsSnapshot) WithPostBackupCheck(r ProbeResult) MetricsSnapshot {
	m.PostBackupCheck = r.merge(m.PostBackupCheck)
	return m
}

// TimeSinceBackup returns the seconds elapsed between the last backup and now, or 0 if none is known.
func (m MetricsSnapshot) TimeSinceBackup(nowEpoch int64) int64 {
	if m.LastBackupEpoch == 0 || nowEpoch < m.LastBackupEpoch {
		return 0
	}
	return nowEpoch - m.LastBackupEpoch
}

// a failed probe keeps the last known epoch
func (r ProbeResult) merge(prev ProbeCheck) ProbeCheck {
	if !r.Succeeded {
		return ProbeCheck{Succeeded: false, Epoch: prev.Epoch}
	}
	return ProbeCheck{Succeeded: true, Epoch: r.Epoch}
}

func apply(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}
