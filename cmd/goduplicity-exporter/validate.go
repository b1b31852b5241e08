package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fgeck/goduplicity-exporter/internal/config"
	"github.com/fgeck/goduplicity-exporter/internal/services/duplicity"
	"github.com/fgeck/goduplicity-exporter/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the configuration file and environment without executing any duplicity operations.`,
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	if configFile != "" {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			log.Error().Str("file", configFile).Msg("config file not found")
			return fmt.Errorf("config file not found: %s", configFile)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Error().Err(err).Str("file", configFile).Msg("failed to parse config")
		return err
	}

	if err := config.Validate(cfg); err != nil {
		log.Error().Err(err).Msg("configuration validation failed")
		return err
	}

	if err := duplicity.CheckEnvironment(); err != nil {
		log.Warn().Err(err).Msg("duplicity will refuse to start")
	}

	// Print configuration summary
	fmt.Println("Configuration is valid!")
	fmt.Println()
	fmt.Println("Summary:")
	fmt.Printf("  Name: %s\n", cfg.Name)
	fmt.Printf("  Mode: %s\n", cfg.Mode)
	fmt.Printf("  Backend: %s\n", cfg.Backend.Method)
	fmt.Printf("  Target: %s\n", cfg.Backend.TargetPath)
	fmt.Printf("  Source: %s\n", cfg.Paths.Source)
	fmt.Printf("  Excludes: %v\n", cfg.Engine.Excludes)
	fmt.Printf("  Metrics file: %s\n", cfg.Paths.MetricsFile)
	fmt.Printf("  Probe file: %s\n", cfg.Paths.ProbePath())
	fmt.Println()
	fmt.Println("Schedule:")
	if cfg.Schedule.Cron != "" {
		fmt.Printf("  Cron: %s\n", cfg.Schedule.Cron)
	} else {
		fmt.Printf("  Interval: %s\n", cfg.Schedule.Interval)
	}
	if schedule, err := runner.Schedule(cfg.Schedule); err == nil {
		fmt.Printf("  Next run: %s\n", schedule.Next(time.Now()).Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Println()
	fmt.Println("Retention Policy:")
	fmt.Printf("  Keep last full chains: %d\n", cfg.Retention.KeepLastNFull)
	if cfg.Engine.FullIfOlderThan != "" {
		fmt.Printf("  Full if older than: %s\n", cfg.Engine.FullIfOlderThan)
	}
	fmt.Println()
	fmt.Println("Optional Features:")
	fmt.Printf("  Wake-on-LAN: %v\n", cfg.WOL != nil)
	fmt.Printf("  Telegram: %v\n", cfg.Telegram != nil)
	fmt.Printf("  Exporter: %s:%d\n", cfg.Exporter.ListenAddress, cfg.Exporter.Port)

	if cfg.Backend.SSH != nil {
		fmt.Println()
		fmt.Println("SSH Configuration:")
		fmt.Printf("  Host: %s\n", cfg.Backend.SSH.Host)
		fmt.Printf("  Port: %d\n", cfg.Backend.SSH.Port)
		fmt.Printf("  User: %s\n", cfg.Backend.SSH.User)
		fmt.Printf("  Key file: %s\n", cfg.Backend.SSH.KeyFile)
		fmt.Printf("  Strict host key checking: %v\n", cfg.Backend.SSH.StrictHostKeyChecking)
	}

	if cfg.WOL != nil {
		fmt.Println()
		fmt.Println("WOL Configuration:")
		fmt.Printf("  MAC Address: %s\n", cfg.WOL.MACAddress)
		fmt.Printf("  Broadcast IP: %s\n", cfg.WOL.BroadcastIP)
		if cfg.WOL.PollAddress != "" {
			fmt.Printf("  Poll address: %s\n", cfg.WOL.PollAddress)
		}
	}

	if cfg.Telegram != nil {
		fmt.Println()
		fmt.Println("Telegram Configuration:")
		fmt.Printf("  Chat ID: %s\n", cfg.Telegram.ChatID)
		fmt.Printf("  Bot Token: (configured)\n")
	}

	return nil
}
