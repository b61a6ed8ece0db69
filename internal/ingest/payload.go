package ingest

import (
	"encoding/json"
	"time"

	"example.com/iotmon/services/telemetry/internal/models"

	"github.com/pkg/errors"
)

// Payload is the decoded form of one device message. Devices publish
// flat JSON objects with arbitrary fields; only recognized metric fields
// with numeric values are extracted.
type Payload struct {
	fields map[string]interface{}
}

// ParsePayload decodes the raw message bytes. It only checks syntax;
// metric extraction happens in Metrics so the pipeline can resolve the
// device before validating content.
func ParsePayload(raw []byte) (*Payload, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, errors.Wrap(err, "decode payload")
	}
	return &Payload{fields: fields}, nil
}

// Metrics returns the recognized numeric metric fields. Non-numeric
// values for a metric field (e.g. "temperature": "hot") are ignored. An
// empty result means the payload is invalid for ingestion.
func (p *Payload) Metrics() map[models.MetricType]float64 {
	out := make(map[models.MetricType]float64)
	for _, metric := range models.KnownMetrics {
		v, ok := p.fields[string(metric)]
		if !ok {
			continue
		}
		if num, ok := v.(float64); ok {
			out[metric] = num
		}
	}
	return out
}

// Timestamp returns the device-reported time when the payload carries a
// usable "timestamp" field (unix seconds or RFC 3339), otherwise the
// given ingestion time.
func (p *Payload) Timestamp(now time.Time) time.Time {
	ts, ok := p.fields["timestamp"]
	if !ok {
		return now
	}
	switch t := ts.(type) {
	case float64:
		return time.Unix(int64(t), 0).UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed.UTC()
		}
	}
	return now
}
