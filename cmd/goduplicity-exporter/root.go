package main

import (
	"os"
	"strings"

	"github.com/fgeck/goduplicity-exporter/internal/config"
	"github.com/fgeck/goduplicity-exporter/internal/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile string
	runMode    string
	verbose    bool
	quiet      bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "goduplicity-exporter",
	Short: "A duplicity backup runner with a Prometheus exporter",
	Long: `goduplicity-exporter drives duplicity on a schedule and exports the results:
  - Periodic incremental backups to an SSH or local target
  - Probe file written before and restored after every backup
  - Retention of the last N full chains and cleanup of failed sessions
  - Guarded full restores behind a confirmation file
  - Prometheus metrics, health and status endpoints
  - Optional Wake-on-LAN and Telegram notifications

Settings are read from a YAML file, environment variables, or both.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Version: Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (optional, environment variables are used otherwise)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().StringVarP(&runMode, "mode", "m", "", "run mode override (BACKUP, RESTORE, CLEAN, CLEANUP, COLLECTION-STATS, WAIT)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	// Set output format
	if jsonOutput {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		log.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// loadConfig reads the config file if one is given, otherwise the environment, and applies the mode flag.
func loadConfig() (*models.BackupConfig, error) {
	parser := config.NewParser()

	var (
		cfg *models.BackupConfig
		err error
	)
	if configFile != "" {
		cfg, err = parser.LoadFile(configFile)
	} else {
		cfg, err = parser.LoadEnv()
	}
	if err != nil {
		return nil, err
	}

	if runMode != "" {
		mode, err := models.ParseRunMode(runMode)
		if err != nil {
			return nil, err
		}
		cfg.Mode = mode
	}

	return cfg, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
