package status

import (
	"context"
	"io"
	"testing"
	"time"

	"example.com/iotmon/services/telemetry/internal/cache"
	"example.com/iotmon/services/telemetry/internal/models"
	"example.com/iotmon/services/telemetry/internal/repository"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type fakeDeviceLister struct {
	devices []*models.Device
}

func (f *fakeDeviceLister) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo repository.Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeDeviceLister) FindDeviceByID(ctx context.Context, id uint) (*models.Device, error) {
	return nil, repository.ErrDeviceNotFound
}

func (f *fakeDeviceLister) FindDeviceByTopic(ctx context.Context, topic string) (*models.Device, error) {
	return nil, repository.ErrDeviceNotFound
}

func (f *fakeDeviceLister) ListActiveDevices(ctx context.Context) ([]*models.Device, error) {
	return f.devices, nil
}

func (f *fakeDeviceLister) FindEnabledRules(ctx context.Context, deviceID uint) ([]*models.AlertRule, error) {
	return nil, nil
}

func (f *fakeDeviceLister) CreateAlertLog(ctx context.Context, log *models.AlertLog) error {
	return nil
}

func (f *fakeDeviceLister) CountRecentAlertLogs(ctx context.Context, deviceID, ruleID uint, since time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeDeviceLister) ListAlertLogs(ctx context.Context, deviceID uint, limit int) ([]*models.AlertLog, error) {
	return nil, nil
}

// fakeSeries returns a fixed latest timestamp per device serial
type fakeSeries struct {
	latest map[string]time.Time
}

func (f *fakeSeries) WriteReading(ctx context.Context, reading models.Reading) error {
	return nil
}

func (f *fakeSeries) LatestTimestamp(ctx context.Context, deviceSerial string, window time.Duration) (time.Time, error) {
	return f.latest[deviceSerial], nil
}

func (f *fakeSeries) Close() {}

type fakeStatusCache struct {
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeStatusCache() *fakeStatusCache {
	return &fakeStatusCache{values: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeStatusCache) Get(ctx context.Context, key string) (string, error) {
	return f.values[key], nil
}

func (f *fakeStatusCache) Set(ctx context.Context, key, value string, expiration time.Duration) error {
	f.values[key] = value
	f.ttls[key] = expiration
	return nil
}

func (f *fakeStatusCache) Delete(ctx context.Context, key string) error {
	delete(f.values, key)
	return nil
}

func (f *fakeStatusCache) Close() error { return nil }

func TestSweepMarksDevicesOnlineAndOffline(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := &fakeDeviceLister{devices: []*models.Device{
		{Model: models.Model{ID: 1}, Serial: "ABC123", Active: true},
		{Model: models.Model{ID: 2}, Serial: "DEF456", Active: true},
	}}
	series := &fakeSeries{latest: map[string]time.Time{
		"ABC123": time.Now().Add(-time.Minute),
		// DEF456 has no point in the window; zero time means offline
	}}
	statusCache := newFakeStatusCache()

	checker := NewChecker(repo, series, statusCache, log, 10*time.Minute)
	require.NoError(t, checker.Sweep(context.Background()))

	require.Equal(t, StatusOnline, statusCache.values[cache.StatusKey("ABC123")])
	require.Equal(t, StatusOffline, statusCache.values[cache.StatusKey("DEF456")])
	require.Equal(t, 20*time.Minute, statusCache.ttls[cache.StatusKey("ABC123")])
}

func TestSweepWithoutCacheIsHarmless(t *testing.T) {
	log := logrus.New()
	log.SetOutput(io.Discard)

	repo := &fakeDeviceLister{devices: []*models.Device{
		{Model: models.Model{ID: 1}, Serial: "ABC123", Active: true},
	}}
	series := &fakeSeries{latest: map[string]time.Time{}}

	checker := NewChecker(repo, series, nil, log, 10*time.Minute)
	require.NoError(t, checker.Sweep(context.Background()))
}
