package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"LinkMonitorAPI/internal/classifier"
	"LinkMonitorAPI/internal/config"
	"LinkMonitorAPI/internal/database"
	"LinkMonitorAPI/internal/handler"
	"LinkMonitorAPI/internal/ingest"
	"LinkMonitorAPI/internal/logger"
	"LinkMonitorAPI/internal/metrics"
	"LinkMonitorAPI/internal/mqtt"
	"LinkMonitorAPI/internal/server"
	"LinkMonitorAPI/internal/service"
	"LinkMonitorAPI/internal/websocket"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		// Fallback logger since main logger isn't ready
		panic("Failed to load configuration: " + err.Error())
	}

	// 2. Initialize Logger
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Mode:        cfg.Logging.Mode,
		LogFilePath: cfg.Logging.FilePath,
		UseColors:   cfg.Logging.UseColors,
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer log.Close()

	if err := cfg.Validate(); err != nil {
		log.Fatal("Configuration validation failed: %v", err)
	}

	cfg.Print()
	log.Info("Starting Link Monitor API Server")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. Store
	db, err := database.New(ctx, &cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to open %s store: %v", cfg.Database.Driver, err)
	}
	defer db.Close()

	if err := db.Health(ctx); err != nil {
		log.Fatal("Store health check failed: %v", err)
	}
	log.Info("Store ready (%s)", db.Driver())

	// 4. Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// 5. Classifier
	gateway, err := classifier.New(&cfg.Classifier, log)
	if err != nil {
		log.Fatal("Failed to create classifier: %v", err)
	}
	if !gateway.Enabled() {
		log.Warn("Classifier disabled, readings will stay unknown")
	}

	// 6. Services
	readingService := service.NewReadingService(
		ingest.NewNormalizer(ingest.Options{LegacyPDRThreshold: cfg.Ingest.LegacyPDRThreshold}),
		db.Store,
		m,
		log,
	)

	hub := websocket.NewHub(log, m)
	aggregator := service.NewAggregator(db.Store, gateway, cfg.Aggregator, m, log)
	aggregator.AddPublisher(hub)
	hub.OnRegister(aggregator.Trigger)

	// 7. MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.NewClient(mqtt.ClientConfig{
			MQTT:   &cfg.MQTT,
			Logger: log,
		})
		if err != nil {
			log.Fatal("Failed to create MQTT client: %v", err)
		}
		defer func(mqttClient *mqtt.Client) {
			if err := mqttClient.Disconnect(); err != nil {
				log.Error("Failed to disconnect MQTT: %v", err)
			}
		}(mqttClient)

		if err := mqttClient.Connect(); err != nil {
			log.Fatal("Failed to connect to MQTT broker: %v", err)
		}

		if err := mqttClient.Subscribe(cfg.MQTT.ReadingsTopic, mqtt.ReadingsHandler(readingService.ProcessMessage, 5*time.Second)); err != nil {
			log.Fatal("Failed to subscribe to readings topic: %v", err)
		}

		if cfg.MQTT.StatusTopic != "" {
			aggregator.AddPublisher(mqtt.NewStatusPublisher(mqttClient, cfg.MQTT.StatusTopic))
			log.Info("Publishing status summaries to %s", cfg.MQTT.StatusTopic)
		}

		log.Info("MQTT subscriptions active")
	}

	// 8. Background workers
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		aggregator.Run(ctx)
	}()

	// 9. Handlers and HTTP Server
	readingHandler := handler.NewReadingHandler(readingService, cfg.Ingest.MaxBodyBytes, log)
	healthHandler := handler.NewHealthHandler(db, mqttClient, hub, log)

	srv := server.New(cfg, log)
	srv.RegisterHandlers(readingHandler, healthHandler, hub, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Server failed: %v", err)
		}
	}()

	log.Info("API server ready on http://%s:%d (live feed at /ws)", cfg.Server.Host, cfg.Server.Port)

	// 10. Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error: %v", err)
	}

	stop()
	wg.Wait()

	log.Info("Shutdown complete")
}
