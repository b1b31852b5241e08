package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// NotificationKind distinguishes backup and restore notifications.
type NotificationKind string

// Notification kinds.
const (
	NotifyBackup  NotificationKind = "backup"
	NotifyRestore NotificationKind = "restore"
)

// TelegramMessage holds the data for a cycle notification.
type TelegramMessage struct {
	Kind       NotificationKind
	Success    bool
	BackupName string
	Target     string
	StartTime  time.Time
	Duration   time.Duration

	// Backup statistics (if successful).
	Metrics    MetricsSnapshot
	Collection CollectionStatus

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
