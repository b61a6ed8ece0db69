package handlers

import (
	"net/http"

	"example.com/iotmon/services/telemetry/internal/broker"
	"example.com/iotmon/services/telemetry/internal/cache"
	"example.com/iotmon/services/telemetry/internal/ingest"
	"example.com/iotmon/services/telemetry/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Handler serves the telemetry service HTTP endpoints
type Handler struct {
	registry  *broker.Registry
	pipeline  *ingest.Pipeline
	collector *metrics.Collector
	cache     cache.RedisClient
	log       *logrus.Logger
}

// NewHandler creates the HTTP handler set. The cache client may be nil.
func NewHandler(registry *broker.Registry, pipeline *ingest.Pipeline, collector *metrics.Collector, cacheClient cache.RedisClient, log *logrus.Logger) *Handler {
	return &Handler{
		registry:  registry,
		pipeline:  pipeline,
		collector: collector,
		cache:     cacheClient,
		log:       log,
	}
}

// Metrics returns the counter snapshot plus pipeline queue statistics
func (h *Handler) Metrics(c *gin.Context) {
	snapshot := h.collector.Snapshot()
	snapshot["pipeline"] = h.pipeline.QueueStats()
	c.JSON(http.StatusOK, snapshot)
}

// subscriptionRequest is the body of subscribe/unsubscribe calls from
// the device-management service
type subscriptionRequest struct {
	Topic string `json:"topic" binding:"required"`
}

// ListSubscriptions returns the registry's view of subscribed topics
func (h *Handler) ListSubscriptions(c *gin.Context) {
	topics := h.registry.Topics()
	c.JSON(http.StatusOK, gin.H{
		"count":  len(topics),
		"topics": topics,
	})
}

// Subscribe adds a topic subscription for a newly created or activated
// device
func (h *Handler) Subscribe(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}

	if err := h.registry.Subscribe(req.Topic); err != nil {
		// Broker being down is transient; report it without crashing
		h.log.WithError(err).WithField("topic", req.Topic).Error("Subscribe request failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"topic": req.Topic, "subscribed": true})
}

// Unsubscribe removes a topic subscription for a deactivated or deleted
// device
func (h *Handler) Unsubscribe(c *gin.Context) {
	var req subscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "topic is required"})
		return
	}

	// Evict the cached device first: the deactivation must stop
	// ingestion of in-flight messages even if the broker call below
	// fails and gets retried.
	if h.cache != nil {
		if err := h.cache.Delete(c.Request.Context(), cache.DeviceKey(req.Topic)); err != nil {
			h.log.WithError(err).WithField("topic", req.Topic).Warn("Failed to evict cached device")
		}
	}

	if err := h.registry.Unsubscribe(req.Topic); err != nil {
		h.log.WithError(err).WithField("topic", req.Topic).Error("Unsubscribe request failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"topic": req.Topic, "subscribed": false})
}
