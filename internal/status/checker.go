package status

import (
	"context"
	"time"

	"example.com/iotmon/services/telemetry/internal/cache"
	"example.com/iotmon/services/telemetry/internal/repository"
	"example.com/iotmon/services/telemetry/internal/timeseries"

	"github.com/sirupsen/logrus"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Checker periodically derives each active device's online/offline
// status from its latest time-series point. The dashboard reads the
// status keys; deactivated devices are skipped entirely, so deactivation
// stops status reporting without touching history.
type Checker struct {
	repo         repository.Repository
	writer       timeseries.Writer
	cache        cache.RedisClient
	log          *logrus.Logger
	offlineAfter time.Duration
}

// NewChecker creates a device status checker
func NewChecker(repo repository.Repository, writer timeseries.Writer, cacheClient cache.RedisClient, log *logrus.Logger, offlineAfter time.Duration) *Checker {
	return &Checker{
		repo:         repo,
		writer:       writer,
		cache:        cacheClient,
		log:          log,
		offlineAfter: offlineAfter,
	}
}

// Sweep recomputes status for every active device. A device with no
// point inside the offline window is marked offline.
func (c *Checker) Sweep(ctx context.Context) error {
	devices, err := c.repo.ListActiveDevices(ctx)
	if err != nil {
		return err
	}

	online, offline := 0, 0
	for _, device := range devices {
		latest, err := c.writer.LatestTimestamp(ctx, device.Serial, c.offlineAfter)
		if err != nil {
			c.log.WithError(err).WithField("serial", device.Serial).Warn("Status query failed, skipping device")
			continue
		}

		state := StatusOffline
		if !latest.IsZero() {
			state = StatusOnline
			online++
		} else {
			offline++
		}

		if c.cache != nil {
			// TTL double the window so a stalled sweep reads as unknown,
			// not as a stale "online"
			if err := c.cache.Set(ctx, cache.StatusKey(device.Serial), state, 2*c.offlineAfter); err != nil {
				c.log.WithError(err).WithField("serial", device.Serial).Warn("Failed to store device status")
			}
		}
	}

	c.log.WithFields(logrus.Fields{
		"online":  online,
		"offline": offline,
	}).Debug("Device status sweep complete")
	return nil
}
