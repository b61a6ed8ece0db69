package repository

import (
	"context"
	"time"

	"example.com/iotmon/services/telemetry/internal/database"
	"example.com/iotmon/services/telemetry/internal/models"

	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrDeviceNotFound is returned when no device matches the lookup key.
// An unknown topic is an expected condition for retired or misconfigured
// devices, so callers match on this error rather than treating every
// lookup failure as fatal.
var ErrDeviceNotFound = errors.New("device not found")

// Repository provides data access methods. Devices and rules are
// written by their owning services; this service only reads them. Alert
// logs are written here exclusively.
type Repository interface {
	// Transaction support
	WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error

	// Device operations (read-only)
	FindDeviceByID(ctx context.Context, id uint) (*models.Device, error)
	FindDeviceByTopic(ctx context.Context, topic string) (*models.Device, error)
	ListActiveDevices(ctx context.Context) ([]*models.Device, error)

	// AlertRule operations (read-only)
	FindEnabledRules(ctx context.Context, deviceID uint) ([]*models.AlertRule, error)

	// AlertLog operations
	CreateAlertLog(ctx context.Context, log *models.AlertLog) error
	CountRecentAlertLogs(ctx context.Context, deviceID, ruleID uint, since time.Time) (int64, error)
	ListAlertLogs(ctx context.Context, deviceID uint, limit int) ([]*models.AlertLog, error)
}

// repo is an implementation of the Repository interface
type repo struct {
	db database.DB
}

// Helper type for transaction support
type dbWrapper struct {
	db *gorm.DB
}

func (w *dbWrapper) DB() (*gorm.DB, error) {
	return w.db, nil
}

func (w *dbWrapper) Close() error {
	return nil
}

// NewRepository creates a new repository instance
func NewRepository(db database.DB) Repository {
	return &repo{db: db}
}

// WithTransaction executes the given function within a database transaction
func (r *repo) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo Repository) error) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txRepo := &repo{db: &dbWrapper{db: tx}}
		return fn(ctx, txRepo)
	})
}

func (r *repo) FindDeviceByID(ctx context.Context, id uint) (*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := gormDB.WithContext(ctx).First(&device, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, errors.Wrap(err, "find device by id")
	}

	return &device, nil
}

func (r *repo) FindDeviceByTopic(ctx context.Context, topic string) (*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var device models.Device
	if err := gormDB.WithContext(ctx).Where("topic = ?", topic).First(&device).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, errors.Wrap(err, "find device by topic")
	}

	return &device, nil
}

func (r *repo) ListActiveDevices(ctx context.Context) ([]*models.Device, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var devices []*models.Device
	if err := gormDB.WithContext(ctx).Where("active = ?", true).Find(&devices).Error; err != nil {
		return nil, errors.Wrap(err, "list active devices")
	}

	return devices, nil
}

// FindEnabledRules returns all enabled rules for the device. The result
// is re-fetched per evaluation so rule edits take effect on the next
// reading without any cache invalidation.
func (r *repo) FindEnabledRules(ctx context.Context, deviceID uint) ([]*models.AlertRule, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var rules []*models.AlertRule
	if err := gormDB.WithContext(ctx).
		Where("device_id = ? AND enabled = ?", deviceID, true).
		Find(&rules).Error; err != nil {
		return nil, errors.Wrap(err, "find enabled rules")
	}

	return rules, nil
}

func (r *repo) CreateAlertLog(ctx context.Context, log *models.AlertLog) error {
	gormDB, err := r.db.DB()
	if err != nil {
		return err
	}

	return gormDB.WithContext(ctx).Create(log).Error
}

// CountRecentAlertLogs counts firings of the rule for the device at or
// after the given instant. Used for the cooldown check; run inside
// WithTransaction together with CreateAlertLog to keep check-and-insert
// atomic.
func (r *repo) CountRecentAlertLogs(ctx context.Context, deviceID, ruleID uint, since time.Time) (int64, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return 0, err
	}

	var count int64
	err = gormDB.WithContext(ctx).Model(&models.AlertLog{}).
		Where("device_id = ? AND rule_id = ? AND triggered_at >= ?", deviceID, ruleID, since).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "count recent alert logs")
	}

	return count, nil
}

func (r *repo) ListAlertLogs(ctx context.Context, deviceID uint, limit int) ([]*models.AlertLog, error) {
	gormDB, err := r.db.DB()
	if err != nil {
		return nil, err
	}

	var logs []*models.AlertLog
	query := gormDB.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("triggered_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	if err := query.Find(&logs).Error; err != nil {
		return nil, errors.Wrap(err, "list alert logs")
	}

	return logs, nil
}
