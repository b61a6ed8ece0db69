package database

import (
	"fmt"
	"time"

	"example.com/iotmon/services/telemetry/config"
	"example.com/iotmon/services/telemetry/internal/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DB is an interface for database operations
type DB interface {
	DB() (*gorm.DB, error)
	Close() error
}

// GormDatabase implements the DB interface for GORM
type GormDatabase struct {
	db *gorm.DB
}

// Connect establishes a connection to the database
func Connect(cfg config.DatabaseConfig) (DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode,
	)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get DB instance: %w", err)
	}

	// Rule reads happen once per ingested reading, so the pool is sized
	// for many short-lived queries.
	sqlDB.SetMaxIdleConns(25)
	sqlDB.SetMaxOpenConns(200)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return &GormDatabase{db: db}, nil
}

// DB returns the underlying gorm.DB instance
func (d *GormDatabase) DB() (*gorm.DB, error) {
	return d.db, nil
}

// Close closes the database connection
func (d *GormDatabase) Close() error {
	sqlDB, err := d.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs database migrations. Devices are owned by the
// device-management service; the table is migrated here too so the
// service can run standalone in development.
func AutoMigrate(db DB) error {
	gormDB, err := db.DB()
	if err != nil {
		return err
	}

	err = gormDB.AutoMigrate(
		&models.Device{},
		&models.AlertRule{},
		&models.AlertLog{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate table structures: %w", err)
	}

	return nil
}
