package ingest

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"example.com/iotmon/services/telemetry/internal/alerts"
	"example.com/iotmon/services/telemetry/internal/cache"
	"example.com/iotmon/services/telemetry/internal/metrics"
	"example.com/iotmon/services/telemetry/internal/models"
	"example.com/iotmon/services/telemetry/internal/repository"
	"example.com/iotmon/services/telemetry/internal/timeseries"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// deviceCacheTTL bounds how long a stale device record can gate
// ingestion when an explicit invalidation is missed. Deactivation
// normally evicts the entry through the unsubscribe endpoint; the TTL is
// the backstop.
const deviceCacheTTL = 30 * time.Second

type message struct {
	topic   string
	payload []byte
}

// Pipeline turns inbound broker messages into time-series writes and
// alert evaluations. Messages are sharded to workers by topic hash, so
// one device's messages are processed in delivery order while different
// devices proceed concurrently; a slow write on one topic never stalls
// the others.
type Pipeline struct {
	repo       repository.Repository
	cache      cache.RedisClient
	writer     timeseries.Writer
	engine     *alerts.Engine
	dispatcher *alerts.Dispatcher
	collector  *metrics.Collector
	log        *logrus.Logger

	workers int
	queues  []chan message
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// PipelineConfig wires the pipeline's collaborators. Cache may be nil;
// device lookups then always hit the repository.
type PipelineConfig struct {
	Repository repository.Repository
	Cache      cache.RedisClient
	Writer     timeseries.Writer
	Engine     *alerts.Engine
	Dispatcher *alerts.Dispatcher
	Collector  *metrics.Collector
	Logger     *logrus.Logger
	Workers    int
	QueueSize  int
}

// NewPipeline creates the pipeline and starts its worker pool
func NewPipeline(cfg PipelineConfig) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		repo:       cfg.Repository,
		cache:      cfg.Cache,
		writer:     cfg.Writer,
		engine:     cfg.Engine,
		dispatcher: cfg.Dispatcher,
		collector:  cfg.Collector,
		log:        cfg.Logger,
		workers:    workers,
		queues:     make([]chan message, workers),
		ctx:        ctx,
		cancel:     cancel,
	}

	for i := 0; i < workers; i++ {
		p.queues[i] = make(chan message, queueSize)
		p.wg.Add(1)
		go p.worker(i)
	}

	p.log.WithField("workers", workers).Info("Started ingestion pipeline")
	return p
}

// HandleMessage enqueues one inbound broker message. Same-topic messages
// always land on the same shard to preserve delivery order. A full shard
// queue drops the message rather than blocking the broker's receive
// loop.
func (p *Pipeline) HandleMessage(topic string, payload []byte) {
	p.collector.Increment(metrics.CounterMessagesReceived)

	body := make([]byte, len(payload))
	copy(body, payload)

	shard := p.shardFor(topic)
	select {
	case p.queues[shard] <- message{topic: topic, payload: body}:
	default:
		p.collector.RecordDrop(metrics.DropQueueFull)
		p.log.WithField("topic", topic).Error("Ingestion queue full, message dropped")
	}
}

func (p *Pipeline) shardFor(topic string) int {
	h := fnv.New32a()
	h.Write([]byte(topic))
	return int(h.Sum32() % uint32(p.workers))
}

func (p *Pipeline) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			p.log.WithField("worker", id).Debug("Ingestion worker shutting down")
			return
		case msg := <-p.queues[id]:
			p.process(p.ctx, msg)
		}
	}
}

// process handles one message to completion or drops it. Every drop path
// logs at warning level and bumps a reason-keyed counter; nothing here
// is allowed to escape and take down the worker.
func (p *Pipeline) process(ctx context.Context, msg message) {
	payload, err := ParsePayload(msg.payload)
	if err != nil {
		p.collector.RecordDrop(metrics.DropParseError)
		p.log.WithError(err).WithField("topic", msg.topic).Warn("Dropping unparseable message")
		return
	}

	device, err := p.resolveDevice(ctx, msg.topic)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			p.collector.RecordDrop(metrics.DropUnknownDevice)
			p.log.WithField("topic", msg.topic).Warn("Dropping message for unknown topic")
		} else {
			p.collector.RecordDrop(metrics.DropLookupError)
			p.log.WithError(err).WithField("topic", msg.topic).Error("Device lookup failed, message dropped")
		}
		return
	}

	if !device.Active {
		p.collector.RecordDrop(metrics.DropInactiveDevice)
		// Evict so a reactivated device resolves fresh on its next message
		if p.cache != nil {
			if err := p.cache.Delete(ctx, cache.DeviceKey(msg.topic)); err != nil {
				p.log.WithError(err).WithField("topic", msg.topic).Warn("Failed to evict inactive device from cache")
			}
		}
		p.log.WithFields(logrus.Fields{
			"topic":  msg.topic,
			"serial": device.Serial,
		}).Warn("Dropping message for inactive device")
		return
	}

	values := payload.Metrics()
	if len(values) == 0 {
		p.collector.RecordDrop(metrics.DropInvalidPayload)
		p.log.WithFields(logrus.Fields{
			"topic":  msg.topic,
			"serial": device.Serial,
		}).Warn("Dropping payload with no recognized metric")
		return
	}

	ts := payload.Timestamp(time.Now().UTC())

	// Fixed metric order keeps multi-metric payloads deterministic
	for _, metric := range models.KnownMetrics {
		value, ok := values[metric]
		if !ok {
			continue
		}

		reading := models.Reading{
			DeviceSerial: device.Serial,
			Metric:       metric,
			Value:        value,
			Timestamp:    ts,
		}

		// The write is flushed before evaluation so a reading is never
		// evaluated without being durable. A store outage loses this one
		// message; broker redelivery only covers connection loss.
		if err := p.writer.WriteReading(ctx, reading); err != nil {
			p.collector.RecordDrop(metrics.DropWriteError)
			p.log.WithError(err).WithFields(logrus.Fields{
				"serial": device.Serial,
				"metric": metric,
			}).Error("Time-series write failed, reading dropped")
			continue
		}
		p.collector.Increment(metrics.CounterReadingsWritten)

		p.evaluate(ctx, device, metric, value, ts)
	}
}

func (p *Pipeline) evaluate(ctx context.Context, device *models.Device, metric models.MetricType, value float64, ts time.Time) {
	p.collector.Increment(metrics.CounterRulesEvaluated)

	firings, err := p.engine.Evaluate(ctx, device, metric, value, ts)
	if err != nil {
		p.log.WithError(err).WithField("serial", device.Serial).Error("Rule evaluation failed")
		return
	}

	for _, firing := range firings {
		if err := p.dispatcher.Dispatch(ctx, firing); err != nil {
			p.log.WithError(err).WithFields(logrus.Fields{
				"serial":  device.Serial,
				"rule_id": firing.Rule.ID,
			}).Error("Alert dispatch failed")
		}
	}
}

// resolveDevice maps a topic to its device, consulting the cache first
func (p *Pipeline) resolveDevice(ctx context.Context, topic string) (*models.Device, error) {
	if p.cache != nil {
		cached, err := p.cache.Get(ctx, cache.DeviceKey(topic))
		if err == nil {
			var device models.Device
			if err := json.Unmarshal([]byte(cached), &device); err == nil {
				return &device, nil
			}
		} else if !cache.IsCacheMiss(err) {
			p.log.WithError(err).WithField("topic", topic).Warn("Device cache read failed")
		}
	}

	device, err := p.repo.FindDeviceByTopic(ctx, topic)
	if err != nil {
		return nil, err
	}

	if p.cache != nil {
		if data, err := json.Marshal(device); err == nil {
			if err := p.cache.Set(ctx, cache.DeviceKey(topic), string(data), deviceCacheTTL); err != nil {
				p.log.WithError(err).WithField("topic", topic).Warn("Failed to cache device")
			}
		}
	}

	return device, nil
}

// QueueStats returns current shard queue statistics
func (p *Pipeline) QueueStats() map[string]interface{} {
	depths := make([]int, len(p.queues))
	total := 0
	for i, q := range p.queues {
		depths[i] = len(q)
		total += depths[i]
	}
	return map[string]interface{}{
		"workers":      p.workers,
		"queue_depths": depths,
		"queued_total": total,
	}
}

// Stop drains no further work and waits for in-flight messages
func (p *Pipeline) Stop() {
	p.log.Info("Stopping ingestion pipeline...")
	p.cancel()
	p.wg.Wait()
	p.log.Info("Ingestion pipeline stopped")
}
