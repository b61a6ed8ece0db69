package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"example.com/iotmon/services/telemetry/internal/messaging"
	"example.com/iotmon/services/telemetry/internal/metrics"
	"example.com/iotmon/services/telemetry/internal/models"
	"example.com/iotmon/services/telemetry/internal/notifier"
	"example.com/iotmon/services/telemetry/internal/repository"
	"example.com/iotmon/services/telemetry/internal/search"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Dispatcher suppresses repeated firings within the cooldown window,
// persists one alert-log row per distinct incident, and fans out
// notifications. The alert-log write is the durability point: email,
// event bus and search indexing are best-effort and never roll it back.
type Dispatcher struct {
	repo      repository.Repository
	sender    notifier.Sender
	events    messaging.EventPublisher
	indexer   search.Indexer
	collector *metrics.Collector
	log       *logrus.Logger

	defaultCooldown time.Duration
	now             func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// DispatcherConfig wires the dispatcher's collaborators. Events and
// Indexer may be nil when the corresponding backend is not configured.
type DispatcherConfig struct {
	Repository      repository.Repository
	Sender          notifier.Sender
	Events          messaging.EventPublisher
	Indexer         search.Indexer
	Collector       *metrics.Collector
	Logger          *logrus.Logger
	CooldownMinutes int
}

// NewDispatcher creates an alert dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	cooldown := time.Duration(cfg.CooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Dispatcher{
		repo:            cfg.Repository,
		sender:          cfg.Sender,
		events:          cfg.Events,
		indexer:         cfg.Indexer,
		collector:       cfg.Collector,
		log:             cfg.Logger,
		defaultCooldown: cooldown,
		now:             time.Now,
		locks:           make(map[string]*sync.Mutex),
	}
}

// Dispatch records and notifies one candidate firing, unless a firing of
// the same (device, rule) pair is already on record within the cooldown
// window. The per-pair lock plus the check-and-insert transaction keep
// two near-simultaneous readings from both passing the cooldown check.
func (d *Dispatcher) Dispatch(ctx context.Context, firing Firing) error {
	pairLock := d.lockFor(firing.Device.ID, firing.Rule.ID)
	pairLock.Lock()
	defer pairLock.Unlock()

	cooldown := d.defaultCooldown
	if firing.Rule.CooldownMinutes > 0 {
		cooldown = time.Duration(firing.Rule.CooldownMinutes) * time.Minute
	}

	now := d.now().UTC()
	message := RenderMessage(firing.Rule, firing.Value)
	entry := &models.AlertLog{
		DeviceID:    firing.Device.ID,
		RuleID:      firing.Rule.ID,
		ValueAtTime: firing.Value,
		Message:     message,
		TriggeredAt: now,
	}

	fired := false
	err := d.repo.WithTransaction(ctx, func(txCtx context.Context, txRepo repository.Repository) error {
		count, err := txRepo.CountRecentAlertLogs(txCtx, firing.Device.ID, firing.Rule.ID, now.Add(-cooldown))
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := txRepo.CreateAlertLog(txCtx, entry); err != nil {
			return err
		}
		fired = true
		return nil
	})
	if err != nil {
		return err
	}

	if !fired {
		d.collector.Increment(metrics.CounterAlertsSuppressed)
		d.log.WithFields(logrus.Fields{
			"serial":  firing.Device.Serial,
			"rule_id": firing.Rule.ID,
		}).Debug("Alert suppressed by cooldown")
		return nil
	}

	d.collector.Increment(metrics.CounterAlertsFired)
	d.log.WithFields(logrus.Fields{
		"serial":   firing.Device.Serial,
		"rule_id":  firing.Rule.ID,
		"severity": firing.Rule.Severity,
		"value":    firing.Value,
	}).Info("Alert fired")

	d.notify(ctx, firing, message)
	d.publishEvent(ctx, firing, message, now)
	d.index(ctx, entry)

	return nil
}

// notify sends the email notification. Failure is logged and counted but
// the incident stays recorded, so a transient mail outage cannot cause a
// duplicate alert once the server recovers.
func (d *Dispatcher) notify(ctx context.Context, firing Firing, message string) {
	if d.sender == nil || firing.Rule.Email == "" {
		return
	}

	subject := fmt.Sprintf("[%s] Alert for %s", firing.Rule.Severity, firing.Device.Name)
	if err := d.sender.Send(ctx, firing.Rule.Email, subject, message); err != nil {
		d.collector.Increment(metrics.CounterNotifyErrors)
		d.log.WithError(err).WithFields(logrus.Fields{
			"serial":  firing.Device.Serial,
			"rule_id": firing.Rule.ID,
		}).Error("Failed to send alert notification")
	}
}

func (d *Dispatcher) publishEvent(ctx context.Context, firing Firing, message string, now time.Time) {
	if d.events == nil {
		return
	}

	event := models.AlertEvent{
		EventID:      uuid.New().String(),
		DeviceID:     firing.Device.ID,
		DeviceSerial: firing.Device.Serial,
		RuleID:       firing.Rule.ID,
		Metric:       firing.Rule.MetricType,
		Severity:     firing.Rule.Severity,
		Value:        firing.Value,
		Message:      message,
		TriggeredAt:  now,
	}
	if err := d.events.PublishAlert(ctx, event); err != nil {
		d.log.WithError(err).WithField("serial", firing.Device.Serial).Error("Failed to publish alert event")
	}
}

func (d *Dispatcher) index(ctx context.Context, entry *models.AlertLog) {
	if d.indexer == nil {
		return
	}

	doc, err := json.Marshal(entry)
	if err != nil {
		d.log.WithError(err).Error("Failed to marshal alert log for indexing")
		return
	}
	id := strconv.FormatUint(uint64(entry.ID), 10)
	if err := d.indexer.IndexDocument(ctx, id, doc); err != nil {
		d.log.WithError(err).WithField("alert_log_id", entry.ID).Error("Failed to index alert log")
	}
}

func (d *Dispatcher) lockFor(deviceID, ruleID uint) *sync.Mutex {
	key := fmt.Sprintf("%d:%d", deviceID, ruleID)

	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.locks[key]
	if !ok {
		l = &sync.Mutex{}
		d.locks[key] = l
	}
	return l
}

// RenderMessage builds the deterministic notification body for a firing
func RenderMessage(rule *models.AlertRule, value float64) string {
	label := rule.Name
	if label == "" {
		label = fmt.Sprintf("%s %s %s", rule.MetricType, rule.Condition.Symbol(),
			strconv.FormatFloat(rule.Threshold, 'f', -1, 64))
	}
	return fmt.Sprintf("%s: %s%s", label,
		strconv.FormatFloat(value, 'f', -1, 64), rule.MetricType.Unit())
}
