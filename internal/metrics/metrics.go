package metrics

import (
	"sync"
	"time"
)

// DropReason classifies why an inbound message was discarded
type DropReason string

const (
	DropParseError     DropReason = "parse_error"
	DropUnknownDevice  DropReason = "unknown_device"
	DropInactiveDevice DropReason = "inactive_device"
	DropInvalidPayload DropReason = "invalid_payload"
	DropWriteError     DropReason = "write_error"
	DropLookupError    DropReason = "lookup_error"
	DropQueueFull      DropReason = "queue_full"
)

// Counter metrics
const (
	CounterMessagesReceived = "messages_received_total"
	CounterMessagesDropped  = "messages_dropped_total"
	CounterReadingsWritten  = "readings_written_total"
	CounterRulesEvaluated   = "rules_evaluated_total"
	CounterAlertsFired      = "alerts_fired_total"
	CounterAlertsSuppressed = "alerts_suppressed_total"
	CounterNotifyErrors     = "notify_errors_total"
)

// Collector accumulates ingestion and alerting counters. Instances are
// created per service and injected, so tests can assert on exact counts
// without shared global state.
type Collector struct {
	mutex     sync.RWMutex
	counters  map[string]int64
	drops     map[DropReason]int64
	startTime time.Time
}

// NewCollector creates an empty collector
func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]int64),
		drops:     make(map[DropReason]int64),
		startTime: time.Now(),
	}
}

// Increment adds one to the named counter
func (c *Collector) Increment(name string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counters[name]++
}

// RecordDrop counts one dropped message with its reason
func (c *Collector) RecordDrop(reason DropReason) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.counters[CounterMessagesDropped]++
	c.drops[reason]++
}

// Counter returns the current value of the named counter
func (c *Collector) Counter(name string) int64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.counters[name]
}

// Drops returns the drop count for the given reason
func (c *Collector) Drops(reason DropReason) int64 {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.drops[reason]
}

// Snapshot returns all collected metrics in a structured format for the
// metrics endpoint
func (c *Collector) Snapshot() map[string]interface{} {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}
	drops := make(map[string]int64, len(c.drops))
	for k, v := range c.drops {
		drops[string(k)] = v
	}

	return map[string]interface{}{
		"uptime_seconds":  time.Since(c.startTime).Seconds(),
		"counters":        counters,
		"drops_by_reason": drops,
	}
}
