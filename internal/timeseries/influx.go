package timeseries

import (
	"context"
	"fmt"
	"time"

	"example.com/iotmon/services/telemetry/config"
	"example.com/iotmon/services/telemetry/internal/models"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

// Writer persists readings to the time-series store. Each write is
// flushed synchronously so a crash loses at most the in-flight message.
type Writer interface {
	WriteReading(ctx context.Context, reading models.Reading) error
	LatestTimestamp(ctx context.Context, deviceSerial string, window time.Duration) (time.Time, error)
	Close()
}

// influxWriter implements Writer against InfluxDB 2.x
type influxWriter struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPIBlocking
	queryAPI    api.QueryAPI
	bucket      string
	measurement string
}

// NewInfluxWriter creates a Writer backed by InfluxDB
func NewInfluxWriter(cfg config.InfluxConfig) Writer {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	return &influxWriter{
		client:      client,
		writeAPI:    client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI:    client.QueryAPI(cfg.Org),
		bucket:      cfg.Bucket,
		measurement: cfg.Measurement,
	}
}

// WriteReading writes one point tagged by device serial and metric type.
// The serial tag is stable across device renames; the mutable display
// name never reaches the store.
func (w *influxWriter) WriteReading(ctx context.Context, reading models.Reading) error {
	point := influxdb2.NewPoint(
		w.measurement,
		map[string]string{
			"device_id":   reading.DeviceSerial,
			"sensor_type": string(reading.Metric),
		},
		map[string]interface{}{
			"value": reading.Value,
		},
		reading.Timestamp,
	)

	if err := w.writeAPI.WritePoint(ctx, point); err != nil {
		return errors.Wrapf(err, "write point for %s/%s", reading.DeviceSerial, reading.Metric)
	}

	return nil
}

// LatestTimestamp returns the timestamp of the most recent point for the
// device within the window. Used by the status sweep; a zero time with
// nil error means no point exists in the window.
func (w *influxWriter) LatestTimestamp(ctx context.Context, deviceSerial string, window time.Duration) (time.Time, error) {
	query := fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == %q and r.device_id == %q and r._field == "value")
  |> last()`,
		w.bucket, window.String(), w.measurement, deviceSerial)

	result, err := w.queryAPI.Query(ctx, query)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "query latest point for %s", deviceSerial)
	}
	defer result.Close()

	var latest time.Time
	for result.Next() {
		ts := result.Record().Time()
		if ts.After(latest) {
			latest = ts
		}
	}
	if result.Err() != nil {
		return time.Time{}, errors.Wrap(result.Err(), "read query result")
	}

	return latest, nil
}

// Close releases the underlying HTTP client
func (w *influxWriter) Close() {
	w.client.Close()
}
