package alerts

import (
	"context"
	"time"

	"example.com/iotmon/services/telemetry/internal/models"
	"example.com/iotmon/services/telemetry/internal/repository"

	"github.com/sirupsen/logrus"
)

// Firing is a candidate alert: a rule whose condition held for a reading.
// The engine produces firings; the dispatcher decides whether they become
// alert-log rows.
type Firing struct {
	Device    *models.Device
	Rule      *models.AlertRule
	Value     float64
	Timestamp time.Time
}

// Engine evaluates threshold rules against incoming readings
type Engine struct {
	repo repository.Repository
	log  *logrus.Logger
}

// NewEngine creates a rule evaluation engine
func NewEngine(repo repository.Repository, log *logrus.Logger) *Engine {
	return &Engine{repo: repo, log: log}
}

// Evaluate fetches the device's enabled rules and returns every firing
// for the reading. Rules are re-fetched per evaluation so edits take
// effect immediately; this runs once per ingested reading, not per API
// request, so the extra query is acceptable. No side effects beyond the
// returned candidates.
func (e *Engine) Evaluate(ctx context.Context, device *models.Device, metric models.MetricType, value float64, ts time.Time) ([]Firing, error) {
	rules, err := e.repo.FindEnabledRules(ctx, device.ID)
	if err != nil {
		return nil, err
	}

	var firings []Firing
	for _, rule := range rules {
		if rule.MetricType != metric {
			continue
		}
		if !Compare(value, rule.Condition, rule.Threshold) {
			continue
		}
		e.log.WithFields(logrus.Fields{
			"serial":    device.Serial,
			"rule_id":   rule.ID,
			"metric":    metric,
			"value":     value,
			"threshold": rule.Threshold,
		}).Debug("Rule condition met")
		firings = append(firings, Firing{
			Device:    device,
			Rule:      rule,
			Value:     value,
			Timestamp: ts,
		})
	}

	return firings, nil
}

// Compare applies the rule condition with IEEE float semantics. The
// equal and not_equal cases use exact comparison; on floating-point
// sensor values equality will rarely hold, which mirrors how rules are
// defined upstream.
func Compare(value float64, cond models.Condition, threshold float64) bool {
	switch cond {
	case models.ConditionGreaterThan:
		return value > threshold
	case models.ConditionLessThan:
		return value < threshold
	case models.ConditionEqual:
		return value == threshold
	case models.ConditionNotEqual:
		return value != threshold
	case models.ConditionGreaterOrEqual:
		return value >= threshold
	case models.ConditionLessOrEqual:
		return value <= threshold
	default:
		return false
	}
}
