// Package config provides configuration file and environment parsing.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// envBindings maps configuration keys to the environment variables that override them.
var envBindings = map[string]string{
	"name":                              "BACKUP_NAME",
	"mode":                              "RUN_MODE",
	"engine.binary":                     "DUPLICITY_BINARY",
	"engine.verbosity":                  "VERBOSITY",
	"engine.full_if_older_than":         "FULL_IF_OLDER_THAN",
	"engine.allow_source_mismatch":      "ALLOW_SOURCE_MISMATCH",
	"engine.excludes":                   "EXCLUDES",
	"backend.method":                    "BACKUP_METHOD",
	"backend.target_path":               "REMOTE_PATH",
	"backend.ssh.host":                  "SSH_HOST",
	"backend.ssh.port":                  "SSH_PORT",
	"backend.ssh.user":                  "SSH_USER",
	"backend.ssh.key_file":              "SSH_KEY_FILE",
	"backend.ssh.strict_host_key_check": "SSH_STRICT_HOST_KEY_CHECKING",
	"backend.ssh.known_hosts_file":      "SSH_KNOWN_HOSTS_FILE",
	"paths.source":                      "LOCAL_BACKUP_PATH",
	"paths.metrics_file":                "LAST_METRIC_LOCATION",
	"paths.probe_file":                  "DATE_FILE_PRE_BACKUP",
	"paths.restored_probe_file":         "DATE_FILE_RESTORED",
	"paths.confirm_file":                "RESTORE_CONFIRM_FILE",
	"retention.keep_last_n_full":        "KEEP_LAST_N_FULL",
	"restore.time":                      "RESTORE_TIME",
	"restore.target_path":               "RESTORE_TARGET_PATH",
	"schedule.interval":                 "BACKUP_INTERVAL",
	"schedule.cron":                     "BACKUP_SCHEDULE",
	"exporter.listen_address":           "EXPORTER_ADDRESS",
	"exporter.port":                     "EXPORTER_PORT",
	"wol.mac_address":                   "WOL_MAC_ADDRESS",
	"wol.broadcast_ip":                  "WOL_BROADCAST_IP",
	"wol.poll_address":                  "WOL_POLL_ADDRESS",
	"wol.timeout":                       "WOL_TIMEOUT",
	"wol.poll_interval":                 "WOL_POLL_INTERVAL",
	"wol.stabilize_wait":                "WOL_STABILIZE_WAIT",
	"telegram.bot_token":                "TELEGRAM_BOT_TOKEN",
	"telegram.chat_id":                  "TELEGRAM_CHAT_ID",
}

const (
	defaultName           = "duplicity_backup"
	defaultBinary         = "duplicity"
	defaultSource         = "/home/duplicity/backup"
	defaultRemotePath     = "/home/duplicity/backup"
	defaultMetricsFile    = "/home/duplicity/config/last_metrics"
	defaultProbeFile      = "test/pre_backup"
	defaultRestoredProbe  = "/home/duplicity/backup/test/restore"
	defaultConfirmFile    = "/home/duplicity/config/restore_confirm"
	defaultSSHPort        = 22
	defaultSSHUser        = "duplicity"
	defaultSSHKeyFile     = "/home/duplicity/config/id_rsa"
	defaultExporterPort   = 9877
	defaultBackupInterval = 24 * time.Hour
)

// Parser handles configuration parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser with environment bindings and defaults.
func NewParser() *Parser {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}

	v.SetDefault("name", defaultName)
	v.SetDefault("engine.binary", defaultBinary)
	v.SetDefault("engine.allow_source_mismatch", true)
	v.SetDefault("backend.method", "SSH")
	v.SetDefault("backend.ssh.port", defaultSSHPort)
	v.SetDefault("backend.ssh.user", defaultSSHUser)
	v.SetDefault("backend.ssh.key_file", defaultSSHKeyFile)
	v.SetDefault("paths.source", defaultSource)
	v.SetDefault("paths.metrics_file", defaultMetricsFile)
	v.SetDefault("paths.probe_file", defaultProbeFile)
	v.SetDefault("paths.restored_probe_file", defaultRestoredProbe)
	v.SetDefault("paths.confirm_file", defaultConfirmFile)
	v.SetDefault("exporter.port", defaultExporterPort)

	return &Parser{v: v}
}

// LoadFile loads configuration from a file path, with environment overrides.
func (p *Parser) LoadFile(path string) (*models.BackupConfig, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.parse()
}

// LoadReader loads configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (*models.BackupConfig, error) {
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.parse()
}

// LoadEnv loads configuration from defaults and environment variables only.
func (p *Parser) LoadEnv() (*models.BackupConfig, error) {
	return p.parse()
}

//nolint:gocognit,gocyclo // parsing config requires checking many fields
func (p *Parser) parse() (*models.BackupConfig, error) {
	cfg := &models.BackupConfig{
		Name: p.v.GetString("name"),
	}

	mode, err := models.ParseRunMode(p.v.GetString("mode"))
	if err != nil {
		return nil, err
	}
	cfg.Mode = mode

	cfg.Engine = models.EngineSettings{
		Binary:              p.v.GetString("engine.binary"),
		Verbosity:           p.v.GetString("engine.verbosity"),
		FullIfOlderThan:     p.v.GetString("engine.full_if_older_than"),
		AllowSourceMismatch: p.v.GetBool("engine.allow_source_mismatch"),
		Excludes:            p.stringList("engine.excludes"),
	}

	// Backend.
	methodName := p.v.GetString("backend.method")
	cfg.Backend = models.BackendConfig{
		Method:     models.ParseBackendMethod(methodName),
		TargetPath: p.expandEnv(p.v.GetString("backend.target_path")),
	}
	switch cfg.Backend.Method {
	case models.BackendSSH:
		cfg.Backend.SSH = &models.SSHConfig{
			Host:                  p.v.GetString("backend.ssh.host"),
			Port:                  p.v.GetInt("backend.ssh.port"),
			User:                  p.v.GetString("backend.ssh.user"),
			KeyFile:               p.expandEnv(p.v.GetString("backend.ssh.key_file")),
			StrictHostKeyChecking: p.v.GetBool("backend.ssh.strict_host_key_check"),
			KnownHostsFile:        p.expandEnv(p.v.GetString("backend.ssh.known_hosts_file")),
		}
		if cfg.Backend.TargetPath == "" {
			cfg.Backend.TargetPath = defaultRemotePath
		}
	case models.BackendLocal:
	default:
		return nil, fmt.Errorf("backend.method must be one of: SSH, LOCAL (got %q)", methodName)
	}

	// Paths.
	cfg.Paths = models.PathSettings{
		Source:            p.expandEnv(p.v.GetString("paths.source")),
		MetricsFile:       p.expandEnv(p.v.GetString("paths.metrics_file")),
		RestoredProbeFile: p.expandEnv(p.v.GetString("paths.restored_probe_file")),
		ConfirmFile:       p.expandEnv(p.v.GetString("paths.confirm_file")),
	}
	probeFile, err := relativeProbe(cfg.Paths.Source, p.expandEnv(p.v.GetString("paths.probe_file")))
	if err != nil {
		return nil, err
	}
	cfg.Paths.ProbeFile = probeFile

	cfg.Retention = models.RetentionPolicy{
		KeepLastNFull: p.v.GetInt("retention.keep_last_n_full"),
	}

	cfg.Restore = models.RestoreSettings{
		Time:       p.v.GetString("restore.time"),
		TargetPath: p.expandEnv(p.v.GetString("restore.target_path")),
	}

	// Schedule.
	interval, err := parseInterval(p.v.GetString("schedule.interval"))
	if err != nil {
		return nil, err
	}
	cfg.Schedule = models.ScheduleSettings{
		Interval: interval,
		Cron:     p.v.GetString("schedule.cron"),
	}

	cfg.Exporter = models.ExporterSettings{
		ListenAddress: p.v.GetString("exporter.listen_address"),
		Port:          p.v.GetInt("exporter.port"),
	}

	// Parse optional WOL config.
	if p.v.GetString("wol.mac_address") != "" { //nolint:nestif // config parsing with defaults
		cfg.WOL = &models.WOLConfig{
			MACAddress:    p.v.GetString("wol.mac_address"),
			BroadcastIP:   p.v.GetString("wol.broadcast_ip"),
			PollAddress:   p.v.GetString("wol.poll_address"),
			Timeout:       p.v.GetDuration("wol.timeout"),
			PollInterval:  p.v.GetDuration("wol.poll_interval"),
			StabilizeWait: p.v.GetDuration("wol.stabilize_wait"),
		}

		if cfg.WOL.BroadcastIP == "" {
			cfg.WOL.BroadcastIP = "255.255.255.255"
		}
		if cfg.WOL.PollAddress == "" && cfg.Backend.SSH != nil && cfg.Backend.SSH.Host != "" {
			cfg.WOL.PollAddress = net.JoinHostPort(cfg.Backend.SSH.Host, strconv.Itoa(cfg.Backend.SSH.Port))
		}
		if cfg.WOL.Timeout == 0 {
			cfg.WOL.Timeout = 5 * time.Minute
		}
		if cfg.WOL.PollInterval == 0 {
			cfg.WOL.PollInterval = 10 * time.Second
		}
		if cfg.WOL.StabilizeWait == 0 {
			cfg.WOL.StabilizeWait = 10 * time.Second
		}
	}

	// Parse optional Telegram config.
	token := p.expandEnv(p.v.GetString("telegram.bot_token"))
	chatID := p.expandEnv(p.v.GetString("telegram.chat_id"))
	if token != "" || chatID != "" {
		if token == "" {
			return nil, fmt.Errorf("telegram.bot_token is required when telegram is configured")
		}
		if chatID == "" {
			return nil, fmt.Errorf("telegram.chat_id is required when telegram is configured")
		}
		cfg.Telegram = &models.TelegramConfig{BotToken: token, ChatID: chatID}
	}

	return cfg, nil
}

// stringList reads a YAML list or a comma-separated string.
func (p *Parser) stringList(key string) []string {
	raw, ok := p.v.Get(key).(string)
	if !ok {
		return p.v.GetStringSlice(key)
	}

	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// parseInterval accepts plain seconds ("86400") or a Go duration ("24h").
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultBackupInterval, nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("schedule.interval must be seconds or a duration: %w", err)
	}
	return d, nil
}

// relativeProbe returns the probe path relative to source. Absolute paths must lie inside source.
func relativeProbe(source, probe string) (string, error) {
	if probe == "" || !filepath.IsAbs(probe) {
		return strings.TrimLeft(probe, "/"), nil
	}

	rel, err := filepath.Rel(source, probe)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("paths.probe_file %q must be inside paths.source %q", probe, source)
	}
	return rel, nil
}

// expandEnv expands environment variables in the format ${VAR} or $VAR.
func (p *Parser) expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate performs validation on the loaded configuration.
//
//nolint:gocyclo // one check per field
func Validate(cfg *models.BackupConfig) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}

	if cfg.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch cfg.Backend.Method {
	case models.BackendSSH:
		if err := validateSSH(cfg.Backend.SSH); err != nil {
			return err
		}
		if cfg.Backend.TargetPath == "" {
			return fmt.Errorf("backend.target_path is required")
		}
	case models.BackendLocal:
		if cfg.Backend.TargetPath == "" {
			return fmt.Errorf("backend.target_path is required for the LOCAL backend")
		}
	default:
		return fmt.Errorf("backend.method must be one of: SSH, LOCAL")
	}

	if cfg.Paths.Source == "" {
		return fmt.Errorf("paths.source is required")
	}
	if cfg.Paths.MetricsFile == "" {
		return fmt.Errorf("paths.metrics_file is required")
	}
	if cfg.Paths.ProbeFile == "" {
		return fmt.Errorf("paths.probe_file is required")
	}
	if cfg.Paths.RestoredProbeFile == "" {
		return fmt.Errorf("paths.restored_probe_file is required")
	}
	if cfg.Mode == models.ModeRestore && cfg.Paths.ConfirmFile == "" {
		return fmt.Errorf("paths.confirm_file is required in RESTORE mode")
	}

	if cfg.Retention.KeepLastNFull < 0 {
		return fmt.Errorf("retention.keep_last_n_full must not be negative")
	}

	if cfg.Schedule.Cron != "" {
		if _, err := cron.ParseStandard(cfg.Schedule.Cron); err != nil {
			return fmt.Errorf("schedule.cron is invalid: %w", err)
		}
	} else if cfg.Schedule.Interval <= 0 {
		return fmt.Errorf("schedule.interval must be positive")
	}

	if cfg.Exporter.Port <= 0 || cfg.Exporter.Port > 65535 {
		return fmt.Errorf("exporter.port must be between 1 and 65535")
	}

	if cfg.WOL != nil {
		if _, err := net.ParseMAC(cfg.WOL.MACAddress); err != nil {
			return fmt.Errorf("wol.mac_address is invalid: %w", err)
		}
	}

	return nil
}

func validateSSH(s *models.SSHConfig) error {
	if s == nil {
		return fmt.Errorf("backend.ssh is required for the SSH backend")
	}
	if s.Host == "" {
		return fmt.Errorf("backend.ssh.host is required for the SSH backend")
	}
	if s.User == "" {
		return fmt.Errorf("backend.ssh.user is required for the SSH backend")
	}
	if s.Port <= 0 || s.Port > 65535 {
		return fmt.Errorf("backend.ssh.port must be between 1 and 65535")
	}
	if s.KeyFile == "" {
		return fmt.Errorf("backend.ssh.key_file is required for the SSH backend")
	}
	if _, err := os.Stat(s.KeyFile); err != nil {
		return fmt.Errorf("backend.ssh.key_file is not readable: %w", err)
	}
	if s.StrictHostKeyChecking && s.KnownHostsFile != "" {
		if _, err := os.Stat(s.KnownHostsFile); err != nil {
			return fmt.Errorf("backend.ssh.known_hosts_file is not readable: %w", err)
		}
	}
	return nil
}
