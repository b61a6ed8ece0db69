package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/iotmon/services/telemetry/config"
	"example.com/iotmon/services/telemetry/internal/models"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/sirupsen/logrus"
)

// EventPublisher publishes alert events for downstream consumers
type EventPublisher interface {
	PublishAlert(ctx context.Context, event models.AlertEvent) error
	Close() error
}

// serviceBusPublisher implements EventPublisher over Azure Service Bus
type serviceBusPublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

// mockPublisher is used in local development when no connection string
// is configured
type mockPublisher struct {
	log *logrus.Logger
}

// NewEventPublisher creates an alert-event publisher. Without a
// connection string a logging mock is returned so the pipeline runs
// unchanged locally.
func NewEventPublisher(cfg config.ServiceBusConfig, log *logrus.Logger) (EventPublisher, error) {
	if cfg.ConnectionString == "" {
		return &mockPublisher{log: log}, nil
	}

	client, err := azservicebus.NewClientFromConnectionString(cfg.ConnectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus client: %w", err)
	}

	sender, err := client.NewSender(cfg.QueueName, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Service Bus sender: %w", err)
	}

	return &serviceBusPublisher{
		client:    client,
		sender:    sender,
		queueName: cfg.QueueName,
	}, nil
}

// PublishAlert sends the event with the device serial as session ID so
// per-device ordering survives the queue.
func (p *serviceBusPublisher) PublishAlert(ctx context.Context, event models.AlertEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	sessionID := event.DeviceSerial
	msg := &azservicebus.Message{
		Body: data,
		ApplicationProperties: map[string]interface{}{
			"source":   "telemetry-service",
			"severity": string(event.Severity),
			"time":     time.Now().UTC().Format(time.RFC3339),
		},
		SessionID: &sessionID,
	}

	return p.sender.SendMessage(ctx, msg, nil)
}

// Close closes the Service Bus sender and client
func (p *serviceBusPublisher) Close() error {
	if p.sender != nil {
		if err := p.sender.Close(context.Background()); err != nil {
			return err
		}
	}
	if p.client != nil {
		return p.client.Close(context.Background())
	}
	return nil
}

// PublishAlert implementation for the mock publisher
func (m *mockPublisher) PublishAlert(ctx context.Context, event models.AlertEvent) error {
	m.log.WithFields(logrus.Fields{
		"event_id": event.EventID,
		"serial":   event.DeviceSerial,
		"severity": event.Severity,
	}).Info("[MOCK ServiceBus] Alert event published")
	return nil
}

// Close implementation for the mock publisher
func (m *mockPublisher) Close() error {
	return nil
}
