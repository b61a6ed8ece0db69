package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/iotmon/services/telemetry/api"
	"example.com/iotmon/services/telemetry/config"
	"example.com/iotmon/services/telemetry/internal/alerts"
	"example.com/iotmon/services/telemetry/internal/broker"
	"example.com/iotmon/services/telemetry/internal/cache"
	"example.com/iotmon/services/telemetry/internal/database"
	"example.com/iotmon/services/telemetry/internal/ingest"
	"example.com/iotmon/services/telemetry/internal/messaging"
	"example.com/iotmon/services/telemetry/internal/metrics"
	"example.com/iotmon/services/telemetry/internal/notifier"
	"example.com/iotmon/services/telemetry/internal/repository"
	"example.com/iotmon/services/telemetry/internal/search"
	"example.com/iotmon/services/telemetry/internal/status"
	"example.com/iotmon/services/telemetry/internal/telemetry"
	"example.com/iotmon/services/telemetry/internal/timeseries"

	"github.com/go-co-op/gocron/v2"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serverPort      int
	gracefulTimeout int
	disableNewRelic bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the telemetry service",
	Long: `Starts the telemetry service: connects to the MQTT broker,
subscribes to all active device topics, and runs the ingestion and
alerting pipeline alongside the HTTP API.

The startup sequence is connect broker, start listening, subscribe all
active devices. If the initial broker connect never succeeds within the
configured timeout the process exits non-zero; every later failure is
handled without terminating the service.`,
	Run: func(cmd *cobra.Command, args []string) {
		startService()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&serverPort, "port", 0, "HTTP port (overrides config file)")
	serveCmd.Flags().IntVar(&gracefulTimeout, "graceful-timeout", 30, "Graceful shutdown timeout in seconds")
	serveCmd.Flags().BoolVar(&disableNewRelic, "disable-newrelic", false, "Disable New Relic monitoring")
}

func startService() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if serverPort > 0 {
		cfg.Server.Port = serverPort
	}

	log.WithFields(logrus.Fields{
		"port":   cfg.Server.Port,
		"broker": cfg.MQTT.BrokerURL,
		"influx": cfg.Influx.URL,
	}).Info("Initializing telemetry service...")

	// New Relic is optional; a failure here never blocks startup
	var nrApp *newrelic.Application
	if !disableNewRelic {
		nrApp, err = telemetry.InitNewRelic(cfg.NewRelic)
		if err != nil {
			log.Warnf("Failed to initialize New Relic: %v", err)
			nrApp = nil
		}
	}

	// Database with bounded retry; rules and alert logs live here
	db := connectDatabaseWithRetry(cfg)
	defer func() {
		if err := db.Close(); err != nil {
			log.WithError(err).Error("Error closing database connection")
		}
	}()

	// Redis is a cache only; run without it if unavailable
	var redisClient cache.RedisClient
	redisClient, err = cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Warnf("Failed to connect to Redis, continuing without cache: %v", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	writer := timeseries.NewInfluxWriter(cfg.Influx)
	defer writer.Close()

	events, err := messaging.NewEventPublisher(cfg.ServiceBus, log)
	if err != nil {
		log.Fatalf("Failed to create alert event publisher: %v", err)
	}
	defer events.Close()

	indexer, err := search.NewIndexer(cfg.Elastic)
	if err != nil {
		log.Warnf("Failed to initialize Elasticsearch, continuing without alert indexing: %v", err)
		indexer = nil
	}

	repo := repository.NewRepository(db)
	collector := metrics.NewCollector()
	sender := notifier.NewSMTPSender(cfg.SMTP)
	engine := alerts.NewEngine(repo, log)
	dispatcher := alerts.NewDispatcher(alerts.DispatcherConfig{
		Repository:      repo,
		Sender:          sender,
		Events:          events,
		Indexer:         indexer,
		Collector:       collector,
		Logger:          log,
		CooldownMinutes: cfg.Alerting.CooldownMinutes,
	})

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		Repository: repo,
		Cache:      redisClient,
		Writer:     writer,
		Engine:     engine,
		Dispatcher: dispatcher,
		Collector:  collector,
		Logger:     log,
		Workers:    cfg.Ingest.Workers,
		QueueSize:  cfg.Ingest.QueueSize,
	})

	// Connect broker, start listening, subscribe all active devices.
	// The registry pointer is filled in after Connect returns; the
	// OnConnect hook only matters for reconnects, where it restores the
	// subscription set the broker forgot.
	var registry *broker.Registry
	conn, err := broker.Connect(cfg.MQTT, log, func() {
		if registry != nil {
			registry.Resubscribe()
		}
	})
	if err != nil {
		log.Fatalf("Initial broker connect failed: %v", err)
	}
	defer conn.Disconnect()

	registry = broker.NewRegistry(conn, pipeline.HandleMessage, log)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	devices, err := repo.ListActiveDevices(startupCtx)
	cancelStartup()
	if err != nil {
		log.Fatalf("Failed to list active devices: %v", err)
	}
	registry.SubscribeAll(devices)

	server := api.NewServer(cfg, log, nrApp, registry, pipeline, collector, redisClient)
	checker := status.NewChecker(repo, writer, redisClient, log, cfg.Status.OfflineAfter)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		scheduler, err := gocron.NewScheduler()
		if err != nil {
			return err
		}
		_, err = scheduler.NewJob(
			gocron.DurationJob(cfg.Status.SweepInterval),
			gocron.NewTask(func() {
				sweepCtx, cancel := context.WithTimeout(context.Background(), cfg.Status.SweepInterval)
				defer cancel()
				if err := checker.Sweep(sweepCtx); err != nil {
					log.WithError(err).Error("Device status sweep failed")
				}
			}),
		)
		if err != nil {
			return err
		}
		scheduler.Start()

		<-ctx.Done()
		return scheduler.Shutdown()
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down telemetry service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(gracefulTimeout)*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("HTTP server shutdown error: %v", err)
		}
		pipeline.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalf("Service error: %v", err)
	}

	log.Info("Telemetry service shutdown complete")
}

func connectDatabaseWithRetry(cfg *config.Config) database.DB {
	var db database.DB
	var err error

	maxRetries := 5
	retryInterval := time.Second
	for i := 0; i < maxRetries; i++ {
		log.WithField("attempt", i+1).Info("Connecting to database...")
		db, err = database.Connect(cfg.Database)
		if err == nil {
			return db
		}

		log.WithFields(logrus.Fields{
			"error":         err.Error(),
			"retry_attempt": i + 1,
			"max_retries":   maxRetries,
		}).Error("Failed to connect to database, retrying...")

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}

	log.Fatalf("Failed to connect to database after %d attempts: %v", maxRetries, err)
	return nil
}
