package api

import (
	"context"
	"fmt"
	"net/http"

	"example.com/iotmon/services/telemetry/api/handlers"
	"example.com/iotmon/services/telemetry/config"
	"example.com/iotmon/services/telemetry/internal/broker"
	"example.com/iotmon/services/telemetry/internal/cache"
	"example.com/iotmon/services/telemetry/internal/ingest"
	"example.com/iotmon/services/telemetry/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
)

// Server is the HTTP surface of the telemetry service: health, metrics
// and the subscription lifecycle endpoints called by the
// device-management service on device create/activate/deactivate/delete.
type Server struct {
	cfg    *config.Config
	log    *logrus.Logger
	server *http.Server
}

// NewServer creates the HTTP server with all routes registered
func NewServer(cfg *config.Config, log *logrus.Logger, nrApp *newrelic.Application, registry *broker.Registry, pipeline *ingest.Pipeline, collector *metrics.Collector, cacheClient cache.RedisClient) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery())

	if nrApp != nil {
		router.Use(nrgin.Middleware(nrApp))
	}

	h := handlers.NewHandler(registry, pipeline, collector, cacheClient, log)

	router.GET("/health", h.Health)
	router.GET("/metrics", h.Metrics)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/subscriptions", h.ListSubscriptions)
		v1.POST("/subscriptions", h.Subscribe)
		v1.DELETE("/subscriptions", h.Unsubscribe)
	}

	return &Server{
		cfg: cfg,
		log: log,
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: router,
		},
	}
}

// Start runs the HTTP server until Shutdown is called
func (s *Server) Start() error {
	s.log.WithField("addr", s.server.Addr).Info("HTTP server listening")
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
