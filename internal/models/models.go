package models

import (
	"time"

	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// MetricType identifies a sensor metric carried in device payloads
type MetricType string

const (
	// MetricTemperature is a temperature reading in degrees Celsius
	MetricTemperature MetricType = "temperature"
	// MetricHumidity is a relative humidity reading in percent
	MetricHumidity MetricType = "humidity"
)

// KnownMetrics lists the metric types the pipeline accepts, in a fixed
// order so multi-metric payloads are written deterministically.
var KnownMetrics = []MetricType{MetricTemperature, MetricHumidity}

// Unit returns the display unit for the metric
func (m MetricType) Unit() string {
	switch m {
	case MetricTemperature:
		return "°C"
	case MetricHumidity:
		return "%"
	default:
		return ""
	}
}

// Condition is the comparison operator of an alert rule
type Condition string

const (
	ConditionGreaterThan    Condition = "greater_than"
	ConditionLessThan       Condition = "less_than"
	ConditionEqual          Condition = "equal"
	ConditionNotEqual       Condition = "not_equal"
	ConditionGreaterOrEqual Condition = "greater_or_equal"
	ConditionLessOrEqual    Condition = "less_or_equal"
)

// Symbol returns the operator in mathematical notation for rendered
// alert messages
func (c Condition) Symbol() string {
	switch c {
	case ConditionGreaterThan:
		return ">"
	case ConditionLessThan:
		return "<"
	case ConditionEqual:
		return "="
	case ConditionNotEqual:
		return "!="
	case ConditionGreaterOrEqual:
		return ">="
	case ConditionLessOrEqual:
		return "<="
	default:
		return string(c)
	}
}

// Severity is the user-assigned importance of an alert rule
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Device model represents a registered sensor device. The serial is an
// opaque token used as the time-series tag; it is unique and immutable
// once assigned. The topic uniquely determines which device an inbound
// broker message belongs to.
type Device struct {
	Model
	UserID  uint   `json:"user_id" gorm:"Column:user_id"`
	PlaceID *uint  `json:"place_id" gorm:"Column:place_id"`
	Serial  string `json:"serial" gorm:"uniqueIndex;Column:serial"`
	Name    string `json:"name" gorm:"Column:name"`
	Topic   string `json:"topic" gorm:"uniqueIndex;Column:topic"`
	Active  bool   `json:"active" gorm:"Column:active"`
}

// AlertRule model represents a user-defined threshold condition on a
// (device, metric) pair. Device ownership transitively determines user
// ownership; authorization is enforced by the rule-management service.
type AlertRule struct {
	Model
	Device          *Device    `json:"-" gorm:"foreignKey:DeviceID"`
	DeviceID        uint       `json:"device_id" gorm:"index;Column:device_id"`
	Name            string     `json:"name" gorm:"Column:name"`
	MetricType      MetricType `json:"metric_type" gorm:"Column:metric_type"`
	Condition       Condition  `json:"condition" gorm:"Column:condition"`
	Threshold       float64    `json:"threshold" gorm:"Column:threshold"`
	Email           string     `json:"email" gorm:"Column:email"`
	Severity        Severity   `json:"severity" gorm:"Column:severity;default:'medium'"`
	Enabled         bool       `json:"enabled" gorm:"Column:enabled"`
	CooldownMinutes int        `json:"cooldown_minutes" gorm:"Column:cooldown_minutes"`
}

// AlertLog model records one actual firing of a rule, post-deduplication.
// Rows are append-only.
type AlertLog struct {
	ID          uint       `json:"id" gorm:"primarykey"`
	Device      *Device    `json:"-" gorm:"foreignKey:DeviceID"`
	DeviceID    uint       `json:"device_id" gorm:"index:idx_alert_logs_dedup;Column:device_id"`
	Rule        *AlertRule `json:"-" gorm:"foreignKey:RuleID"`
	RuleID      uint       `json:"rule_id" gorm:"index:idx_alert_logs_dedup;Column:rule_id"`
	ValueAtTime float64    `json:"value_at_time" gorm:"Column:value_at_time"`
	Message     string     `json:"message" gorm:"Column:message"`
	TriggeredAt time.Time  `json:"triggered_at" gorm:"index:idx_alert_logs_dedup;Column:triggered_at"`
}

// Reading is one normalized time-series point produced by the ingestion
// pipeline. It is not a database entity; readings live in the
// time-series store only.
type Reading struct {
	DeviceSerial string     `json:"device_serial"`
	Metric       MetricType `json:"metric"`
	Value        float64    `json:"value"`
	Timestamp    time.Time  `json:"timestamp"`
}

// AlertEvent is the envelope published to the message bus when a rule
// fires, for downstream consumers (dashboards, audit).
type AlertEvent struct {
	EventID      string     `json:"event_id"`
	DeviceID     uint       `json:"device_id"`
	DeviceSerial string     `json:"device_serial"`
	RuleID       uint       `json:"rule_id"`
	Metric       MetricType `json:"metric"`
	Severity     Severity   `json:"severity"`
	Value        float64    `json:"value"`
	Message      string     `json:"message"`
	TriggeredAt  time.Time  `json:"triggered_at"`
}
