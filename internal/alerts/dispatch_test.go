package alerts

import (
	"context"
	"errors"
	"testing"
	"time"

	"example.com/iotmon/services/telemetry/internal/metrics"
	"example.com/iotmon/services/telemetry/internal/models"
	"example.com/iotmon/services/telemetry/internal/repository"

	"github.com/stretchr/testify/require"
)

// fakeAlertStore is an in-memory Repository that records alert logs, so
// cooldown behavior can be asserted against real stored rows.
type fakeAlertStore struct {
	logs      []*models.AlertLog
	createErr error
}

func (f *fakeAlertStore) WithTransaction(ctx context.Context, fn func(ctx context.Context, txRepo repository.Repository) error) error {
	return fn(ctx, f)
}

func (f *fakeAlertStore) FindDeviceByID(ctx context.Context, id uint) (*models.Device, error) {
	return nil, repository.ErrDeviceNotFound
}

func (f *fakeAlertStore) FindDeviceByTopic(ctx context.Context, topic string) (*models.Device, error) {
	return nil, repository.ErrDeviceNotFound
}

func (f *fakeAlertStore) ListActiveDevices(ctx context.Context) ([]*models.Device, error) {
	return nil, nil
}

func (f *fakeAlertStore) FindEnabledRules(ctx context.Context, deviceID uint) ([]*models.AlertRule, error) {
	return nil, nil
}

func (f *fakeAlertStore) CreateAlertLog(ctx context.Context, log *models.AlertLog) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.logs = append(f.logs, log)
	return nil
}

func (f *fakeAlertStore) CountRecentAlertLogs(ctx context.Context, deviceID, ruleID uint, since time.Time) (int64, error) {
	var count int64
	for _, l := range f.logs {
		// Inclusive lower bound, matching the store's triggered_at >= since
		if l.DeviceID == deviceID && l.RuleID == ruleID && !l.TriggeredAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeAlertStore) ListAlertLogs(ctx context.Context, deviceID uint, limit int) ([]*models.AlertLog, error) {
	return f.logs, nil
}

type recordingSender struct {
	sent []string
	err  error
}

func (s *recordingSender) Send(ctx context.Context, to, subject, body string) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, body)
	return nil
}

func testFiring() Firing {
	return Firing{
		Device: &models.Device{Model: models.Model{ID: 1}, Serial: "ABC123", Name: "Greenhouse 1"},
		Rule: &models.AlertRule{
			Model:      models.Model{ID: 10},
			DeviceID:   1,
			Name:       "High temperature",
			MetricType: models.MetricTemperature,
			Condition:  models.ConditionGreaterThan,
			Threshold:  28,
			Email:      "ops@example.com",
			Severity:   models.SeverityHigh,
			Enabled:    true,
		},
		Value:     31.5,
		Timestamp: time.Now(),
	}
}

func newTestDispatcher(store *fakeAlertStore, sender *recordingSender) *Dispatcher {
	return NewDispatcher(DispatcherConfig{
		Repository:      store,
		Sender:          sender,
		Collector:       metrics.NewCollector(),
		Logger:          testLogger(),
		CooldownMinutes: 5,
	})
}

func TestDispatchCooldownSuppressesRepeats(t *testing.T) {
	store := &fakeAlertStore{}
	sender := &recordingSender{}
	d := newTestDispatcher(store, sender)

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	ctx := context.Background()
	firing := testFiring()

	// First firing is recorded and notified
	require.NoError(t, d.Dispatch(ctx, firing))
	require.Len(t, store.logs, 1)
	require.Len(t, sender.sent, 1)

	// A minute later the same pair is suppressed
	d.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, d.Dispatch(ctx, firing))
	require.Len(t, store.logs, 1)
	require.Len(t, sender.sent, 1)
	require.Equal(t, int64(1), d.collector.Counter(metrics.CounterAlertsSuppressed))

	// After the window expires the pair fires again
	d.now = func() time.Time { return base.Add(6 * time.Minute) }
	require.NoError(t, d.Dispatch(ctx, firing))
	require.Len(t, store.logs, 2)
	require.Len(t, sender.sent, 2)
	require.Equal(t, int64(2), d.collector.Counter(metrics.CounterAlertsFired))
}

func TestDispatchExactWindowBoundaryIsSuppressed(t *testing.T) {
	store := &fakeAlertStore{}
	sender := &recordingSender{}
	d := newTestDispatcher(store, sender)

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	ctx := context.Background()
	firing := testFiring()
	require.NoError(t, d.Dispatch(ctx, firing))

	// At exactly cooldown elapsed the first row still falls inside the
	// inclusive window
	d.now = func() time.Time { return base.Add(5 * time.Minute) }
	require.NoError(t, d.Dispatch(ctx, firing))
	require.Len(t, store.logs, 1)

	d.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	require.NoError(t, d.Dispatch(ctx, firing))
	require.Len(t, store.logs, 2)
}

func TestDispatchCooldownIsPerPair(t *testing.T) {
	store := &fakeAlertStore{}
	sender := &recordingSender{}
	d := newTestDispatcher(store, sender)

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	ctx := context.Background()
	first := testFiring()
	require.NoError(t, d.Dispatch(ctx, first))

	// A different rule on the same device is an independent incident
	other := testFiring()
	other.Rule = &models.AlertRule{
		Model:      models.Model{ID: 11},
		DeviceID:   1,
		Name:       "Low humidity",
		MetricType: models.MetricHumidity,
		Condition:  models.ConditionLessThan,
		Threshold:  30,
		Email:      "ops@example.com",
		Severity:   models.SeverityHigh,
	}
	other.Value = 12
	require.NoError(t, d.Dispatch(ctx, other))

	require.Len(t, store.logs, 2)
}

func TestDispatchRuleCooldownOverride(t *testing.T) {
	store := &fakeAlertStore{}
	sender := &recordingSender{}
	d := newTestDispatcher(store, sender)

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	ctx := context.Background()
	firing := testFiring()
	firing.Rule.CooldownMinutes = 1

	require.NoError(t, d.Dispatch(ctx, firing))

	// The default five-minute window would suppress this; the rule's own
	// one-minute window has already expired.
	d.now = func() time.Time { return base.Add(90 * time.Second) }
	require.NoError(t, d.Dispatch(ctx, firing))
	require.Len(t, store.logs, 2)
}

func TestDispatchSenderFailureKeepsIncidentRecorded(t *testing.T) {
	store := &fakeAlertStore{}
	sender := &recordingSender{err: errors.New("smtp: connection refused")}
	d := newTestDispatcher(store, sender)

	base := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return base }

	ctx := context.Background()
	firing := testFiring()

	require.NoError(t, d.Dispatch(ctx, firing))
	require.Len(t, store.logs, 1)
	require.Equal(t, int64(1), d.collector.Counter(metrics.CounterNotifyErrors))

	// The failed send must not reopen the window
	d.now = func() time.Time { return base.Add(time.Minute) }
	require.NoError(t, d.Dispatch(ctx, firing))
	require.Len(t, store.logs, 1)
}

func TestDispatchCreateErrorPropagates(t *testing.T) {
	store := &fakeAlertStore{createErr: errors.New("pq: connection reset")}
	sender := &recordingSender{}
	d := newTestDispatcher(store, sender)

	err := d.Dispatch(context.Background(), testFiring())
	require.Error(t, err)
	require.Empty(t, sender.sent)
}

func TestRenderMessage(t *testing.T) {
	rule := &models.AlertRule{
		Name:       "High temperature",
		MetricType: models.MetricTemperature,
		Condition:  models.ConditionGreaterThan,
		Threshold:  28,
	}
	require.Equal(t, "High temperature: 31.5°C", RenderMessage(rule, 31.5))

	unnamed := &models.AlertRule{
		MetricType: models.MetricHumidity,
		Condition:  models.ConditionLessThan,
		Threshold:  30,
	}
	require.Equal(t, "humidity < 30: 12%", RenderMessage(unnamed, 12))
}
