package broker

import (
	"io"
	"testing"

	"example.com/iotmon/services/telemetry/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// fakeClient records subscription calls issued through the registry
type fakeClient struct {
	connected    bool
	subscribeErr error
	subscribes   []string
	unsubscribes []string
}

func (f *fakeClient) Subscribe(topic string, handler MessageHandler) error {
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.subscribes = append(f.subscribes, topic)
	return nil
}

func (f *fakeClient) Unsubscribe(topic string) error {
	f.unsubscribes = append(f.unsubscribes, topic)
	return nil
}

func (f *fakeClient) IsConnected() bool {
	return f.connected
}

func newTestRegistry(client Client) *Registry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewRegistry(client, func(topic string, payload []byte) {}, log)
}

func testDevices() []*models.Device {
	return []*models.Device{
		{Model: models.Model{ID: 1}, Serial: "ABC123", Topic: "devices/sensor-1", Active: true},
		{Model: models.Model{ID: 2}, Serial: "DEF456", Topic: "devices/sensor-2", Active: true},
		{Model: models.Model{ID: 3}, Serial: "GHI789", Topic: "devices/sensor-3", Active: false},
		{Model: models.Model{ID: 4}, Serial: "JKL012", Topic: "", Active: true},
	}
}

func TestSubscribeAllSkipsInactiveAndTopiclessDevices(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newTestRegistry(client)

	r.SubscribeAll(testDevices())

	require.Equal(t, []string{"devices/sensor-1", "devices/sensor-2"}, client.subscribes)
	require.Equal(t, []string{"devices/sensor-1", "devices/sensor-2"}, r.Topics())
}

func TestSubscribeAllIsIdempotent(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newTestRegistry(client)

	devices := testDevices()
	r.SubscribeAll(devices)
	r.SubscribeAll(devices)

	// The second pass must not re-issue broker subscriptions
	require.Len(t, client.subscribes, 2)
}

func TestSubscribeAlreadySubscribedIsNoOp(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newTestRegistry(client)

	require.NoError(t, r.Subscribe("devices/sensor-1"))
	require.NoError(t, r.Subscribe("devices/sensor-1"))
	require.Len(t, client.subscribes, 1)
}

func TestSubscribeWhileDisconnected(t *testing.T) {
	client := &fakeClient{connected: false}
	r := newTestRegistry(client)

	err := r.Subscribe("devices/sensor-1")
	require.ErrorIs(t, err, ErrNotConnected)
	require.Empty(t, r.Topics())
}

func TestUnsubscribeUnknownTopicIsNoOp(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newTestRegistry(client)

	require.NoError(t, r.Unsubscribe("devices/never-subscribed"))
	require.Empty(t, client.unsubscribes)
}

func TestUnsubscribeRemovesTopic(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newTestRegistry(client)

	require.NoError(t, r.Subscribe("devices/sensor-1"))
	require.NoError(t, r.Unsubscribe("devices/sensor-1"))

	require.Equal(t, []string{"devices/sensor-1"}, client.unsubscribes)
	require.Empty(t, r.Topics())

	// After removal the topic can be subscribed afresh
	require.NoError(t, r.Subscribe("devices/sensor-1"))
	require.Len(t, client.subscribes, 2)
}

func TestResubscribeRestoresTrackedTopics(t *testing.T) {
	client := &fakeClient{connected: true}
	r := newTestRegistry(client)

	r.SubscribeAll(testDevices())
	client.subscribes = nil

	r.Resubscribe()

	require.ElementsMatch(t, []string{"devices/sensor-1", "devices/sensor-2"}, client.subscribes)
	// The tracked set itself is unchanged
	require.Equal(t, []string{"devices/sensor-1", "devices/sensor-2"}, r.Topics())
}

func TestSubscribeAllContinuesPastFailures(t *testing.T) {
	client := &fakeClient{connected: true, subscribeErr: ErrNotConnected}
	r := newTestRegistry(client)

	r.SubscribeAll(testDevices())

	// Failed topics stay untracked so a later retry can pick them up
	require.Empty(t, r.Topics())
}
