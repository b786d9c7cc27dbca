// Command server runs the HTTP dispatch kernel with the full production
// wiring: Postgres, optional Redis (sessions, cache, job queue), background
// workers, the cron scheduler, the admission gate, and the middleware stack.
//
// Configuration comes from the environment (plus an optional YAML overlay
// named by APP_CONFIG_FILE); an empty REDIS_ADDR runs every Redis-backed
// component on its in-memory fallback, which is the expected development
// setup.
package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"

	"app_kernel/internal/admission"
	"app_kernel/internal/audit"
	"app_kernel/internal/cache"
	"app_kernel/internal/config"
	"app_kernel/internal/dispatch"
	"app_kernel/internal/events"
	"app_kernel/internal/handlers"
	"app_kernel/internal/jobs"
	"app_kernel/internal/middlewares"
	"app_kernel/internal/observability"
	"app_kernel/internal/response"
	"app_kernel/internal/router"
	"app_kernel/internal/server"
	"app_kernel/internal/session"
)

func main() {
	// Bootstrap logger for the config loader; replaced once the configured
	// logger exists.
	bootstrap := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadConfig(bootstrap)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	slog.SetDefault(logger)

	pool, err := config.NewPool(cfg.Database, logger)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Redis is optional. Without it sessions, cache, and the job queue run
	// on their in-memory fallbacks. An unreachable Redis at boot is logged
	// but not fatal; the client reconnects once the server comes back.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("redis unreachable at startup",
				"addr", cfg.Redis.Addr, "error", err)
		}
	}

	var sessionStore session.Store
	if redisClient != nil {
		sessionStore = session.NewRedisStore(redisClient)
	} else {
		sessionStore = session.NewMemoryStore()
	}
	sessions, err := session.NewManager(&session.ManagerConfig{
		Store:      sessionStore,
		Logger:     logger,
		CookieName: cfg.Session.CookieName,
		TTL:        cfg.Session.TTL,
		MaxPerUser: cfg.Session.MaxPerUser,
		Secure:     cfg.Session.Secure,
	})
	if err != nil {
		log.Fatalf("Failed to build session manager: %v", err)
	}

	cacheConfig := &cache.Config{
		DefaultTTL: cfg.Cache.DefaultTTL,
		Prefix:     cfg.Cache.Prefix,
	}
	var store cache.Cache
	if redisClient != nil {
		// Redis first, memory behind it, so cached reads survive brief
		// Redis outages.
		store = cache.NewFallbackCache(
			cache.NewRedisCacheFromClient(redisClient, cacheConfig, logger),
			cache.NewMemoryCache(cacheConfig),
			logger,
		)
	} else {
		store = cache.NewMemoryCache(cacheConfig)
	}

	var queue jobs.Queue
	if redisClient != nil {
		queue, err = jobs.NewRedisQueue(&jobs.RedisQueueConfig{
			Client: redisClient,
			Prefix: cfg.Jobs.QueueName + ":",
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("Failed to build job queue: %v", err)
		}
	} else {
		queue = jobs.NewMemoryQueue()
	}

	registry := jobs.NewRegistry()
	audit.Register(registry, pool, logger)

	// The audit table needs this month's partition before the first insert.
	// The scheduler keeps future months covered; a failure here (missing DDL
	// rights, database still provisioning) only degrades auditing.
	if err := audit.EnsurePartitions(context.Background(), pool, logger, 1); err != nil {
		logger.Error("audit partition setup failed", "error", err)
	}

	workers := jobs.NewWorkerPool(queue, registry, &jobs.WorkerPoolConfig{
		NumWorkers: cfg.Jobs.Workers,
		WorkerConfig: &jobs.WorkerConfig{
			JobTimeout: cfg.Jobs.JobTimeout,
			Logger:     logger,
		},
		Logger: logger,
	})
	workers.Start(context.Background())

	scheduler, err := jobs.NewScheduler(&jobs.SchedulerConfig{
		Queue:  queue,
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("Failed to build scheduler: %v", err)
	}
	if _, err := scheduler.Schedule(cfg.Jobs.PartitionCron, audit.PartitionJobType, nil,
		&jobs.JobConfig{MaxRetries: cfg.Jobs.MaxRetries}); err != nil {
		log.Fatalf("Failed to schedule partition maintenance: %v", err)
	}
	scheduler.Start()

	bus := events.NewBus()
	bus.On(events.After, audit.NewListener(queue, logger))

	gate := admission.NewGate(&admission.GateConfig{
		Policy: admission.Policy{
			AllowedHosts:          cfg.Security.AllowedHosts,
			MaxParams:             cfg.Security.MaxParams,
			RequireUserAgent:      cfg.Security.RequireUserAgent,
			BlockScriptExtensions: cfg.Security.BlockScriptExtensions,
			LoadAvgCeiling:        cfg.Security.LoadAvgCeiling,
		},
		Logger: logger,
	})

	var metrics *observability.PipelineMetrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewPipelineMetrics(&observability.MetricsConfig{
			Logger:    logger,
			Namespace: cfg.Metrics.Namespace,
		})
	}

	routes := router.NewTable(logger)
	services := router.NewServicer(logger)
	app := handlers.New(pool, store, sessions, queue, logger)
	if err := app.Register(routes, services); err != nil {
		log.Fatalf("Failed to register routes: %v", err)
	}
	routes.Freeze()
	services.Freeze()

	kernel, err := dispatch.New(&dispatch.Config{
		Logger:   logger,
		Routes:   routes,
		Services: services,
		Gate:     gate,
		Events:   bus,
		Metrics:  metrics,
		Defaults: response.Defaults{ContentType: cfg.DefaultContentType()},
		Debug:    cfg.App.Debug,
	})
	if err != nil {
		log.Fatalf("Failed to build dispatcher: %v", err)
	}

	// Inner chain wraps only dispatched requests; probes and metrics scrapes
	// bypass it through the mux.
	var pipeline http.Handler = kernel
	pipeline = middlewares.Timeout(&middlewares.TimeoutConfig{
		Logger:  logger,
		Timeout: cfg.Server.WriteTimeout,
	})(pipeline)
	if cfg.RateLimit.Enabled {
		pipeline = middlewares.RateLimit(&middlewares.RateLimitConfig{
			Cache:             store,
			Logger:            logger,
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
			CleanupInterval:   cfg.RateLimit.CleanupInterval,
		})(pipeline)
	}
	pipeline = middlewares.CORS(&middlewares.CORSConfig{Logger: logger})(pipeline)
	pipeline = middlewares.SecurityHeaders(&middlewares.SecurityHeadersConfig{Logger: logger})(pipeline)

	probes := &observability.HealthConfig{
		Logger:       logger,
		DatabasePool: pool,
		Version:      cfg.App.Version,
	}
	if redisClient != nil {
		probes.CustomChecks = map[string]observability.HealthCheck{
			"redis": observability.RedisHealthCheck(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", observability.LivenessHandler(probes))
	mux.HandleFunc("/readyz", observability.ReadinessHandler(probes))
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", observability.MetricsHandler())
	}
	mux.Handle("/", pipeline)

	// Outer chain covers everything, probes included: recovery outermost so
	// a panic anywhere below answers 500 instead of killing the connection,
	// then request IDs so the access log and the snapshot see the same value.
	accessLog := middlewares.DefaultAccessLogConfig()
	accessLog.Logger = logger
	var handler http.Handler = mux
	handler = middlewares.AccessLog(accessLog)(handler)
	handler = observability.RequestID(&observability.RequestIDConfig{Logger: logger})(handler)
	handler = middlewares.Recovery(&middlewares.RecoveryConfig{
		Logger:      logger,
		Development: cfg.IsDevelopment(),
	})(handler)

	// Resources close in reverse registration order after the HTTP server
	// drains: scheduler first (stop producing), then workers (finish
	// in-flight jobs), then the stores they write to, the pool last.
	resources := []server.Resource{
		server.NewDatabaseResource("database pool", pool),
	}
	if redisClient != nil {
		resources = append(resources, server.NewRedisResource("redis client", redisClient))
	}
	resources = append(resources,
		server.NewCustomResource("cache", func(context.Context) error { return store.Close() }),
		server.NewCustomResource("session store", func(context.Context) error { return sessionStore.Close() }),
		server.NewCustomResource("job queue", func(context.Context) error { return queue.Close() }),
		server.NewCustomResource("worker pool", func(context.Context) error { workers.Stop(); return nil }),
		server.NewCustomResource("scheduler", func(context.Context) error { scheduler.Stop(); return nil }),
	)

	serverConfig := &server.Config{
		Addr:            cfg.ListenAddr(),
		Logger:          logger,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		TLSCertFile:     cfg.Server.TLSCertFile,
		TLSKeyFile:      cfg.Server.TLSKeyFile,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}

	logger.Info("starting server",
		"addr", serverConfig.Addr,
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
	)

	if err := server.Start(handler, serverConfig, resources); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
