package cmd

import (
	"example.com/iotmon/services/telemetry/config"
	"example.com/iotmon/services/telemetry/internal/database"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long:  `Creates or updates the devices, alert_rules and alert_logs tables.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		db, err := database.Connect(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		log.Info("Running database migrations...")
		if err := database.AutoMigrate(db); err != nil {
			log.Fatalf("Failed to run database migrations: %v", err)
		}
		log.Info("Database migrations completed successfully")
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
