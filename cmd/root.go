package cmd

import (
	"fmt"
	"os"

	"example.com/iotmon/services/telemetry/config"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Used for flags
	cfgFile   string
	logLevel  string
	logFormat string

	// Logger instance for all commands
	log = logrus.New()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "telemetry-service",
	Short: "Device telemetry ingestion and alerting service",
	Long: `Telemetry service for the iotmon platform. Subscribes to device
topics on the MQTT broker, persists sensor readings to the time-series
store, evaluates user-defined threshold rules and dispatches alert
notifications.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()

		if err := config.InitConfig(cfgFile); err != nil {
			log.Fatalf("Error initializing configuration: %v", err)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

// setupLogging configures the global logger based on command line flags
func setupLogging() {
	switch logLevel {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
	}

	if logFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	log.SetOutput(os.Stderr)
}
