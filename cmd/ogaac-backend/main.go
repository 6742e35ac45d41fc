package main

import (
	"database/sql"

	"github.com/FamiliaDusu/Ogaac-test/internal/audit"
	"github.com/FamiliaDusu/Ogaac-test/internal/handlers"
	"github.com/FamiliaDusu/Ogaac-test/internal/record"
	"github.com/FamiliaDusu/Ogaac-test/internal/rooms"
	"github.com/FamiliaDusu/Ogaac-test/internal/switcher"
	"github.com/FamiliaDusu/Ogaac-test/internal/users"
	"github.com/FamiliaDusu/Ogaac-test/pkg/config"
	"github.com/FamiliaDusu/Ogaac-test/pkg/logging"
	"github.com/FamiliaDusu/Ogaac-test/pkg/monitoring"
	"github.com/FamiliaDusu/Ogaac-test/pkg/server"
	"github.com/FamiliaDusu/Ogaac-test/pkg/version"
)

func main() {
	// Setup logger
	logger := logging.NewLoggerWithService("ogaac-backend")

	// Load environment variables
	config.LoadEnv(logger)

	logger.Info("Starting OGAAC backend")

	jwtSecret := config.RequireEnv("OGAAC_JWT_SECRET")
	if len(jwtSecret) < 32 {
		logger.Fatal("OGAAC_JWT_SECRET must be at least 32 characters")
	}

	dataDir := config.GetEnv("OGAAC_DATA_DIR", "./data")
	usersPath := config.GetEnv("OGAAC_USERS_FILE", dataDir+"/users-roles.json")
	roomsPath := config.GetEnv("OGAAC_ROOMS_FILE", dataDir+"/salas.json")
	secretsPath := config.GetEnv("OGAAC_ROOM_SECRETS_FILE", dataDir+"/salas.secrets.json")
	auditDir := config.GetEnv("OGAAC_AUDIT_DIR", dataDir+"/audit")
	recordStatePath := config.GetEnv("OGAAC_RECORD_STATE_FILE", dataDir+"/record-state.json")

	userStore := users.NewStore(usersPath, logger)
	resolver := rooms.NewResolver(roomsPath, secretsPath, logger).
		WithTTL(config.GetEnvDuration("OGAAC_ROOMS_CACHE_TTL", rooms.DefaultTTL))

	// Optional Postgres room directory; the JSON tree stays the fallback.
	var db *sql.DB
	if dbURL := config.GetEnv("DATABASE_URL", ""); dbURL != "" {
		var err error
		db, err = sql.Open("postgres", dbURL)
		if err != nil {
			logger.WithError(err).Fatal("Invalid DATABASE_URL")
		}
		defer db.Close()
		resolver.WithDirectory(rooms.NewDirectory(db, logger))
		logger.Info("Room directory backed by Postgres")
	}

	pool := switcher.NewPool(logger,
		switcher.WithConnectTimeout(config.GetEnvDuration("OGAAC_DEVICE_CONNECT_TIMEOUT", switcher.DefaultConnectTimeout)))
	defer pool.Close()

	tracker := record.NewTracker(recordStatePath, record.DefaultTimings(), logger)

	sink, err := audit.NewSink(auditDir, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open audit sink")
	}
	defer sink.Flush()

	// Setup monitoring
	healthChecker := monitoring.NewHealthChecker("ogaac-backend", version.Version)
	metricsCollector := monitoring.NewMetricsCollector("ogaac-backend", version.Version)

	healthChecker.AddCheck("users_store", monitoring.FileHealthCheck(func() error {
		_, err := userStore.List()
		return err
	}))
	healthChecker.AddCheck("rooms_config", monitoring.FileHealthCheck(func() error {
		_, err := resolver.Snapshot()
		return err
	}))
	if db != nil {
		healthChecker.AddCheck("database", monitoring.FileHealthCheck(db.Ping))
	}
	healthChecker.AddDetail("obsPoolSize", func() interface{} { return pool.Size() })
	healthChecker.AddDetail("recordOps", func() interface{} { return tracker.Size() })

	metricsCollector.NewGaugeFunc("device_pool_size", "Pooled device connections", func() float64 {
		return float64(pool.Size())
	})
	metricsCollector.NewGaugeFunc("record_ops_tracked", "Rooms with tracked recording state", func() float64 {
		return float64(tracker.Size())
	})
	metricsCollector.NewCounterFunc("device_connects_total", "Successful device dials", func() float64 {
		return float64(pool.Connects())
	})
	metricsCollector.NewCounterFunc("device_evictions_total", "Device connections dropped or swept", func() float64 {
		return float64(pool.Evictions())
	})

	h := handlers.New(handlers.Config{
		Users:     userStore,
		Rooms:     resolver,
		Pool:      pool,
		Tracker:   tracker,
		Audit:     sink,
		JWTSecret: []byte(jwtSecret),
		Bootstrap: handlers.Bootstrap{
			Username: config.GetEnv("ADMIN_USER", ""),
			Password: config.GetEnv("ADMIN_PASS", ""),
			Role:     config.GetEnv("ADMIN_ROLE", "admin"),
		},
		Logger: logger,
	})

	router := server.SetupRouter(logger)
	router.Use(metricsCollector.MetricsMiddleware())
	router.GET("/health", healthChecker.Handler())
	router.GET("/metrics", metricsCollector.Handler())
	h.Register(router)

	cfg := server.DefaultConfig("ogaac-backend", "8085")
	if err := server.Start(cfg, router, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}
