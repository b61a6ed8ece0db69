package ingest

import (
	"testing"
	"time"

	"example.com/iotmon/services/telemetry/internal/models"

	"github.com/stretchr/testify/require"
)

func TestParsePayloadRejectsMalformedJSON(t *testing.T) {
	_, err := ParsePayload([]byte(`{"temperature": 21.5`))
	require.Error(t, err)

	_, err = ParsePayload([]byte(`not json at all`))
	require.Error(t, err)
}

func TestMetricsExtractsKnownNumericFields(t *testing.T) {
	p, err := ParsePayload([]byte(`{"temperature": 21.5, "humidity": 60, "battery": 97}`))
	require.NoError(t, err)

	values := p.Metrics()
	require.Len(t, values, 2)
	require.Equal(t, 21.5, values[models.MetricTemperature])
	require.Equal(t, 60.0, values[models.MetricHumidity])
}

func TestMetricsIgnoresNonNumericValues(t *testing.T) {
	p, err := ParsePayload([]byte(`{"temperature": "hot", "humidity": 55}`))
	require.NoError(t, err)

	values := p.Metrics()
	require.Len(t, values, 1)
	require.Equal(t, 55.0, values[models.MetricHumidity])
}

func TestMetricsEmptyForUnrecognizedPayload(t *testing.T) {
	p, err := ParsePayload([]byte(`{"foo": "bar"}`))
	require.NoError(t, err)
	require.Empty(t, p.Metrics())
}

func TestTimestampFallsBackToIngestionTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	p, err := ParsePayload([]byte(`{"temperature": 20}`))
	require.NoError(t, err)
	require.Equal(t, now, p.Timestamp(now))
}

func TestTimestampHonorsDeviceReportedTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	p, err := ParsePayload([]byte(`{"temperature": 20, "timestamp": 1767225600}`))
	require.NoError(t, err)
	require.Equal(t, time.Unix(1767225600, 0).UTC(), p.Timestamp(now))

	p, err = ParsePayload([]byte(`{"temperature": 20, "timestamp": "2026-02-28T23:59:00Z"}`))
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC), p.Timestamp(now))

	// Unusable timestamp values fall back silently
	p, err = ParsePayload([]byte(`{"temperature": 20, "timestamp": "yesterday"}`))
	require.NoError(t, err)
	require.Equal(t, now, p.Timestamp(now))
}
