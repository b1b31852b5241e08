package duplicity

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/fgeck/goduplicity-exporter/internal/models"
)

const (
	// StatisticsBanner opens the statistics block of a backup run.
	StatisticsBanner = "--------------[ Backup Statistics ]--------------"
	// collectionStatusHeader is compared after all whitespace is removed.
	collectionStatusHeader = "CollectionStatus"
)

// StatisticsTerminator is the footer the engine prints after the statistics block,
// a dash line as long as the banner.
var StatisticsTerminator = strings.Repeat("-", len(StatisticsBanner))

type statsSetter func(*models.BackupStats, *int64)

var statisticsKeys = map[string]statsSetter{
	"StartTime":                  func(s *models.BackupStats, v *int64) { s.LastBackupEpoch = v },
	"ElapsedTime":                func(s *models.BackupStats, v *int64) { s.ElapsedSeconds = v },
	"Errors":                     func(s *models.BackupStats, v *int64) { s.ErrorCount = v },
	"NewFiles":                   func(s *models.BackupStats, v *int64) { s.FilesNew = v },
	"DeletedFiles":               func(s *models.BackupStats, v *int64) { s.FilesDeleted = v },
	"ChangedFiles":               func(s *models.BackupStats, v *int64) { s.FilesChanged = v },
	"DeltaEntries":               func(s *models.BackupStats, v *int64) { s.DeltaEntries = v },
	"RawDeltaSize":               func(s *models.BackupStats, v *int64) { s.RawDeltaSize = v },
	"ChangedFileSize":            func(s *models.BackupStats, v *int64) { s.ChangedFileSize = v },
	"SourceFileSize":             func(s *models.BackupStats, v *int64) { s.SourceFileSize = v },
	"TotalDestinationSizeChange": func(s *models.BackupStats, v *int64) { s.TotalDestinationSizeChange = v },
}

type statsState int

const (
	beforeStats statsState = iota
	inStats
)

// ParseBackupStatistics extracts the statistics block from backup output.
// Without the banner the record has Success=false and no fields set.
func ParseBackupStatistics(lines []string) models.BackupStats {
	var out models.BackupStats
	state := beforeStats

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\r\n")

		switch state {
		case beforeStats:
			if line == StatisticsBanner {
				state = inStats
			}
		case inStats:
			if isTerminator(line) {
				out.Success = true
				continue
			}
			key, value, ok := splitKeyValue(line)
			if !ok {
				continue
			}
			set, known := statisticsKeys[key]
			if !known {
				continue
			}
			if n, ok := parseNumber(value); ok {
				set(&out, &n)
			}
		}
	}

	return out
}

type statusState int

const (
	beforeStatus statusState = iota
	inStatus
)

// ParseCollectionStatus counts the full and incremental backup sets listed after the
// collection status header. Output without a header yields zero counts.
func ParseCollectionStatus(lines []string) models.CollectionStatus {
	var out models.CollectionStatus
	state := beforeStatus

	for _, raw := range lines {
		switch state {
		case beforeStatus:
			if stripSpace(raw) == collectionStatusHeader {
				state = inStatus
			}
		case inStatus:
			line := strings.TrimLeftFunc(raw, unicode.IsSpace)
			switch {
			case hasWord(line, "Full"):
				out.FullBackupCount++
			case hasWord(line, "Incremental"):
				out.IncrementalBackupCount++
			}
		}
	}

	return out
}

// isTerminator accepts a line of only dashes at least as long as the banner.
func isTerminator(line string) bool {
	return len(line) >= len(StatisticsBanner) && strings.Trim(line, "-") == ""
}

// splitKeyValue splits a line on its first run of whitespace.
func splitKeyValue(line string) (string, string, bool) {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i <= 0 {
		return "", "", false
	}
	value := strings.TrimLeftFunc(line[i:], unicode.IsSpace)
	if value == "" {
		return "", "", false
	}
	return line[:i], value, true
}

// parseNumber reads the leading number of a value such as "1700000000.52 (Tue Nov 14 ...)",
// truncating fractions.
func parseNumber(value string) (int64, bool) {
	field := value
	if i := strings.IndexFunc(value, unicode.IsSpace); i > 0 {
		field = value[:i]
	}
	if n, err := strconv.ParseInt(field, 10, 64); err == nil {
		return n, true
	}
	f, err := strconv.ParseFloat(field, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return int64(f), true
}

func hasWord(line, word string) bool {
	if !strings.HasPrefix(line, word) || len(line) == len(word) {
		return false
	}
	return unicode.IsSpace(rune(line[len(word)]))
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
