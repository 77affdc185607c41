package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Evergreen.telemetry/internal/config"
	"Evergreen.telemetry/internal/controller"
	"Evergreen.telemetry/internal/directory"
	"Evergreen.telemetry/internal/metrics"
	"Evergreen.telemetry/internal/middleware"
	"Evergreen.telemetry/internal/mqttingest"
	"Evergreen.telemetry/internal/repository"
	"Evergreen.telemetry/internal/routes"
	"Evergreen.telemetry/internal/service"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// store is a record store that may also report its health.
type store struct {
	repository.Repository
	health func(context.Context) error
}

func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		return store{Repository: repository.NewMemoryRepository()}, nil

	case config.BackendInfluxDB:
		repo := repository.NewInfluxDBRepository(cfg.InfluxDBURL, cfg.InfluxDBToken, cfg.InfluxDBOrg, cfg.InfluxDBBucket, cfg.StoreTimeout, logger)
		if err := repo.Ping(ctx); err != nil {
			repo.Close()
			return store{}, err
		}
		if err := repo.EnsureBucket(ctx); err != nil {
			repo.Close()
			return store{}, err
		}
		return store{Repository: repo, health: repo.Ping}, nil

	default:
		repo, err := repository.OpenSQLite(cfg.SQLitePath, cfg.StoreTimeout)
		if err != nil {
			return store{}, err
		}
		health := func(ctx context.Context) error {
			db, err := repo.GetORM().DB()
			if err != nil {
				return err
			}
			return db.PingContext(ctx)
		}
		return store{Repository: repo, health: health}, nil
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("error loading configuration")
	}

	logger := zerolog.New(os.Stdout).Level(cfg.LogLevel).With().Timestamp().Str("service", "evergreen").Logger()
	log.Logger = logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

// run serves until ctx is done. Resources it opened are released before it
// returns, including on error.
func run(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	dir, err := directory.Load(cfg.DirectoryFile)
	if err != nil {
		return fmt.Errorf("load directory: %w", err)
	}
	logger.Info().Int("users", len(dir.Users())).Int("basins", len(dir.BasinIDs())).Msg("directory loaded")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewPromMetrics(reg)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s record store: %w", cfg.StoreBackend, err)
	}
	defer st.Close()
	repo := repository.NewInstrumented(st.Repository, rec)

	dataService := service.NewDataService(repo, dir, cfg.FreshnessWindow, rec, logger)
	userService := service.NewUserService(dir)

	identity, err := middleware.NewIdentity(dir, middleware.JWTConfig{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
	}, logger)
	if err != nil {
		return fmt.Errorf("set up identity: %w", err)
	}
	if cfg.JWTSecret == "" {
		logger.Warn().Msg("JWT_SECRET not set, trusting the " + middleware.UsernameHeader + " header")
	}

	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(logger, rec))
	routes.RegisterRoutes(router, routes.Handlers{
		Readings: controller.NewReadingController(dataService, logger),
		Basins:   controller.NewBasinController(dataService),
		Users:    controller.NewUserController(userService),
		Identity: identity,
		Metrics:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Health:   st.health,
	})

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", middleware.UsernameHeader, controller.BasinHeader},
	}).Handler(router)

	if cfg.MQTTBroker != "" {
		sub := mqttingest.NewSubscriber(cfg.MQTTTopic, dataService, logger)
		client, err := mqttingest.Connect(cfg.MQTTBroker, cfg.MQTTClientID, func(c mqtt.Client) {
			if err := sub.Subscribe(c); err != nil {
				logger.Error().Err(err).Msg("mqtt subscribe failed")
			}
		}, logger)
		if err != nil {
			if client != nil {
				client.Disconnect(0)
			}
			return fmt.Errorf("connect to mqtt broker: %w", err)
		}
		defer func() {
			if err := sub.Unsubscribe(client); err != nil {
				logger.Warn().Err(err).Msg("mqtt unsubscribe failed")
			}
			client.Disconnect(250)
		}()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           corsHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", server.Addr).Str("backend", cfg.StoreBackend).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	case <-ctx.Done():
	}
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
