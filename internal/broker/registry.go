package broker

import (
	"sort"
	"sync"

	"example.com/iotmon/services/telemetry/internal/models"

	"github.com/sirupsen/logrus"
)

// Registry tracks which device topics are currently subscribed on the
// broker connection. The topic set is owned by the registry and guarded
// by a mutex; startup bulk-subscribes and ad-hoc lifecycle calls from the
// device-management service go through the same lock, so racing
// subscribe/unsubscribe for one topic cannot lose updates.
type Registry struct {
	conn    Client
	handler MessageHandler
	log     *logrus.Logger

	mu     sync.Mutex
	topics map[string]struct{}
}

// NewRegistry creates a registry bound to an established connection.
// Every subscription issued through the registry delivers messages to
// the given handler.
func NewRegistry(conn Client, handler MessageHandler, log *logrus.Logger) *Registry {
	return &Registry{
		conn:    conn,
		handler: handler,
		log:     log,
		topics:  make(map[string]struct{}),
	}
}

// SubscribeAll subscribes every active device with a non-empty topic,
// skipping topics already subscribed. Safe to call repeatedly with the
// same device set.
func (r *Registry) SubscribeAll(devices []*models.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subscribed := 0
	for _, d := range devices {
		if !d.Active || d.Topic == "" {
			continue
		}
		if _, ok := r.topics[d.Topic]; ok {
			continue
		}
		if err := r.conn.Subscribe(d.Topic, r.handler); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"topic":  d.Topic,
				"serial": d.Serial,
			}).Error("Failed to subscribe device topic")
			continue
		}
		r.topics[d.Topic] = struct{}{}
		subscribed++
	}

	r.log.WithFields(logrus.Fields{
		"subscribed": subscribed,
		"total":      len(r.topics),
	}).Info("Device topic subscriptions established")
}

// Subscribe adds a single topic subscription. A topic already subscribed
// is a no-op. Returns ErrNotConnected when the broker connection is
// down; callers log it rather than crashing.
func (r *Registry) Subscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[topic]; ok {
		r.log.WithField("topic", topic).Info("Topic already subscribed, skipping")
		return nil
	}
	if !r.conn.IsConnected() {
		return ErrNotConnected
	}
	if err := r.conn.Subscribe(topic, r.handler); err != nil {
		return err
	}

	r.topics[topic] = struct{}{}
	r.log.WithField("topic", topic).Info("Subscribed to device topic")
	return nil
}

// Unsubscribe removes a single topic subscription. A topic not currently
// subscribed is a no-op.
func (r *Registry) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.topics[topic]; !ok {
		r.log.WithField("topic", topic).Info("Topic not subscribed, skipping")
		return nil
	}
	if !r.conn.IsConnected() {
		return ErrNotConnected
	}
	if err := r.conn.Unsubscribe(topic); err != nil {
		return err
	}

	delete(r.topics, topic)
	r.log.WithField("topic", topic).Info("Unsubscribed from device topic")
	return nil
}

// Resubscribe re-issues every tracked subscription. Called from the
// connection's OnConnect hook: with clean sessions the broker forgets
// subscription state across reconnects, and the registry is the source
// of truth.
func (r *Registry) Resubscribe() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for topic := range r.topics {
		if err := r.conn.Subscribe(topic, r.handler); err != nil {
			r.log.WithError(err).WithField("topic", topic).Error("Failed to restore subscription")
		}
	}
	if len(r.topics) > 0 {
		r.log.WithField("count", len(r.topics)).Info("Restored topic subscriptions after reconnect")
	}
}

// Topics returns a sorted snapshot of the subscribed topic set
func (r *Registry) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.topics))
	for t := range r.topics {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
