// Package exporter publishes the backup state as Prometheus gauges and a JSON status endpoint.
package exporter

import (
	"time"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "duplicity"

// Source is the read side of the state store.
type Source interface {
	Name() string
	Metrics() models.MetricsSnapshot
	Collection() models.CollectionStatus
	State() models.CycleState
	NextRun() (time.Time, bool)
	Status() models.StatusReport
}

type snapshotGauge struct {
	desc  *prometheus.Desc
	value func(m models.MetricsSnapshot) float64
}

// Collector reads one snapshot from the source per scrape.
type Collector struct {
	source Source
	clock  clock.Clock

	gauges          []snapshotGauge
	timeSinceBackup *prometheus.Desc
	fullBackups     *prometheus.Desc
	incrBackups     *prometheus.Desc
	cycleState      *prometheus.Desc
	nextRun         *prometheus.Desc
}

// NewCollector creates a collector for source, labelling every series with the backup name.
func NewCollector(source Source, clk clock.Clock) *Collector {
	labels := prometheus.Labels{"backup_name": source.Name()}
	desc := func(name, help string, variable ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, variable, labels)
	}

	return &Collector{
		source: source,
		clock:  clk,
		gauges: []snapshotGauge{
			{desc("got_metrics", "Whether the last backup produced a statistics block (1) or not (0)."),
				func(m models.MetricsSnapshot) float64 { return boolValue(m.Success) }},
			{desc("last_backup", "Start time of the last backup as Unix seconds."),
				func(m models.MetricsSnapshot) float64 { return float64(m.LastBackupEpoch) }},
			{desc("elapse_time", "Duration of the last backup in seconds."),
				func(m models.MetricsSnapshot) float64 { return float64(m.ElapsedSeconds) }},
			{desc("errors", "Errors reported by the last backup."),
				func(m models.MetricsSnapshot) float64 { return float64(m.ErrorCount) }},
			{desc("new_files", "New files in the last backup."),
				func(m models.MetricsSnapshot) float64 { return float64(m.Files.New) }},
			{desc("deleted_files", "Deleted files in the last backup."),
				func(m models.MetricsSnapshot) float64 { return float64(m.Files.Deleted) }},
			{desc("changed_files", "Changed files in the last backup."),
				func(m models.MetricsSnapshot) float64 { return float64(m.Files.Changed) }},
			{desc("delta_entries", "Delta entries in the last backup."),
				func(m models.MetricsSnapshot) float64 { return float64(m.Files.DeltaEntries) }},
			{desc("raw_delta_size", "Raw delta size of the last backup in bytes."),
				func(m models.MetricsSnapshot) float64 { return float64(m.Size.RawDelta) }},
			{desc("changed_file_size", "Size of changed files in the last backup in bytes."),
				func(m models.MetricsSnapshot) float64 { return float64(m.Size.ChangedFiles) }},
			{desc("source_file_size", "Size of the backup source in bytes."),
				func(m models.MetricsSnapshot) float64 { return float64(m.Size.SourceFile) }},
			{desc("total_destination_size_change", "Change of the destination size in bytes."),
				func(m models.MetricsSnapshot) float64 { return float64(m.Size.TotalDestinationChange) }},
			{desc("pre_backup_date_file_date", "Timestamp written to the probe file before the last backup."),
				func(m models.MetricsSnapshot) float64 { return float64(m.PreBackupCheck.Epoch) }},
			{desc("pre_backup_date_file_success", "Whether the last probe write succeeded."),
				func(m models.MetricsSnapshot) float64 { return boolValue(m.PreBackupCheck.Succeeded) }},
			{desc("restored_date_file_last_restore_date", "Timestamp read from the restored probe file."),
				func(m models.MetricsSnapshot) float64 { return float64(m.PostBackupCheck.Epoch) }},
			{desc("restored_date_file_success", "Whether the last restored probe read succeeded."),
				func(m models.MetricsSnapshot) float64 { return boolValue(m.PostBackupCheck.Succeeded) }},
		},
		timeSinceBackup: desc("time_since_backup", "Seconds since the start of the last backup."),
		fullBackups:     desc("full_backups", "Full backup sets in the current collection."),
		incrBackups:     desc("incremental_backups", "Incremental backup sets in the current collection."),
		cycleState:      desc("cycle_state", "Current backup cycle state (1 for the active state).", "state"),
		nextRun:         desc("next_run_timestamp", "Next scheduled backup cycle as Unix seconds."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
	ch <- c.timeSinceBackup
	ch <- c.fullBackups
	ch <- c.incrBackups
	ch <- c.cycleState
	ch <- c.nextRun
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	m := c.source.Metrics()
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value(m))
	}

	since := m.TimeSinceBackup(c.clock.Now().Unix())
	ch <- prometheus.MustNewConstMetric(c.timeSinceBackup, prometheus.GaugeValue, float64(since))

	coll := c.source.Collection()
	ch <- prometheus.MustNewConstMetric(c.fullBackups, prometheus.GaugeValue, float64(coll.FullBackupCount))
	ch <- prometheus.MustNewConstMetric(c.incrBackups, prometheus.GaugeValue, float64(coll.IncrementalBackupCount))

	current := c.source.State()
	for _, st := range models.CycleStates {
		ch <- prometheus.MustNewConstMetric(c.cycleState, prometheus.GaugeValue, boolValue(st == current), st.String())
	}

	if next, ok := c.source.NextRun(); ok {
		ch <- prometheus.MustNewConstMetric(c.nextRun, prometheus.GaugeValue, float64(next.Unix()))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
