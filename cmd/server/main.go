package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/bazaar-it/bazaar-sub000/internal/auth"
	"github.com/bazaar-it/bazaar-sub000/internal/client"
	"github.com/bazaar-it/bazaar-sub000/internal/config"
	"github.com/bazaar-it/bazaar-sub000/internal/handler"
	"github.com/bazaar-it/bazaar-sub000/internal/lock"
	"github.com/bazaar-it/bazaar-sub000/internal/metrics"
	"github.com/bazaar-it/bazaar-sub000/internal/middleware"
	"github.com/bazaar-it/bazaar-sub000/internal/service"
	"github.com/bazaar-it/bazaar-sub000/internal/store"
	ws "github.com/bazaar-it/bazaar-sub000/internal/websocket"
	"github.com/bazaar-it/bazaar-sub000/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log := config.NewLogger(cfg.Server)
	slog.SetDefault(log)
	gen := cfg.Generation

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	scenes, closeScenes, err := openSceneStore(ctx, cfg, redisClient)
	if err != nil {
		log.Error("failed to open scene store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	defer closeScenes()

	// Operation ledger: R2 archive when configured, Redis otherwise
	var ledger store.OperationLedger = store.NewRedisLedger(redisClient, gen.LedgerTTL)
	var r2Client *client.R2Client
	if cfg.R2.Configured() {
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn("R2 client not initialized, using redis ledger", "error", err)
		} else {
			ledger = store.NewObjectLedger(r2Client, "operations")
		}
	}

	m := metrics.New()
	validate := validator.New()
	groqClient := client.NewGroqClient(&cfg.Groq)

	hub := ws.NewHub(log, gen.StreamRetention)
	go hub.Run(ctx)

	projectLock := lock.New(redisClient, gen.LockTTL)
	sessions := store.NewSessionStore(redisClient, gen.LockTTL)
	messages := store.NewMessageStore(redisClient)
	builder := service.NewContextBuilder(scenes, gen.ContextSceneLimit)

	planner := service.NewCachingPlanner(
		service.NewFallbackPlanner(
			service.NewLLMPlanner(groqClient, validate, gen.FPS),
			service.NewRulePlanner(gen.FPS),
			log,
		),
		store.NewPlanCache(redisClient, gen.PlanCacheTTL),
		log,
	)
	executor := service.NewExecutor(scenes, service.NewLLMContentGenerator(groqClient, gen.FPS, log), service.ExecutorConfig{
		OperationTimeout: gen.OperationTimeout,
		BatchConcurrency: gen.BatchConcurrency,
		DefaultDuration:  gen.DefaultDuration,
	}, m, log)

	runner := service.NewSessionRunner(service.RunnerDeps{
		Sessions: sessions,
		Messages: messages,
		Lock:     projectLock,
		Builder:  builder,
		Planner:  planner,
		Executor: executor,
		Ledger:   ledger,
		Sink:     hub,
		Metrics:  m,
		Logger:   log,
	})

	var dispatcher service.Dispatcher
	var inline *service.InlineDispatcher
	var asynqClient *asynq.Client
	switch strings.ToLower(gen.Dispatch) {
	case "inline":
		inline = service.NewInlineDispatcher(runner.Run, gen.SessionTimeout)
		dispatcher = inline
	default:
		asynqClient = asynq.NewClient(redisOpt(cfg))
		defer asynqClient.Close()
		dispatcher = service.NewAsynqDispatcher(asynqClient, gen.SessionTimeout)
	}

	generationService := service.NewGenerationService(builder, projectLock, sessions, messages, hub, dispatcher, m, log)
	sceneService := service.NewSceneService(scenes)
	restoreService := service.NewRestoreService(ledger, scenes, projectLock, log)

	// Token verification: provider JWKS first, shared secret as fallback
	var verifiers auth.Chain
	jwksConfigured := false
	if cfg.Zitadel.Issuer != "" {
		jwks, err := auth.NewJWKSVerifier(ctx, &cfg.Zitadel)
		if err != nil {
			log.Warn("JWKS verifier not initialized", "issuer", cfg.Zitadel.Issuer, "error", err)
		} else {
			verifiers = append(verifiers, jwks)
			jwksConfigured = true
		}
	}
	if cfg.JWT.Secret != "" {
		verifiers = append(verifiers, auth.NewHMACVerifier(cfg.JWT.Secret))
	}

	apiAuth := middleware.Authenticate(verifiers)
	if cfg.Gateway.Enabled {
		log.Info("gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuth()
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: handler.ErrorHandler,
		BodyLimit:    1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	router := &handler.Router{
		Generation:  handler.NewGenerationHandler(generationService, validate),
		Scenes:      handler.NewSceneHandler(sceneService, restoreService),
		Auth:        handler.NewAuthHandler(verifiers),
		Hub:         hub,
		Metrics:     m,
		RateLimiter: middleware.NewRateLimiter(redisClient, log),
		APIAuth:     apiAuth,
		Limits: handler.Limits{
			GeneratePerMin: cfg.RateLimit.GeneratePerMin,
			RestorePerMin:  cfg.RateLimit.RestorePerMin,
		},
		Health: func() fiber.Map {
			return fiber.Map{
				"groq":  groqClient.IsConfigured(),
				"r2":    r2Client != nil,
				"store": cfg.Store.Driver,
				"auth":  jwksConfigured || cfg.JWT.Secret != "",
			}
		},
	}
	router.Register(app)

	var workerServer *asynq.Server
	if asynqClient != nil {
		// Sessions stream through the in-process hub, so workers run here.
		workerServer = newWorkerServer(cfg, log)
		mux := asynq.NewServeMux()
		mux.HandleFunc(service.TaskTypeGeneration, worker.NewGenerationWorker(runner, log).ProcessTask)
		if err := workerServer.Start(mux); err != nil {
			log.Error("failed to start asynq worker", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "store", cfg.Store.Driver, "dispatch", gen.Dispatch)
	if err := app.Listen(addr); err != nil {
		log.Error("server error", "error", err)
	}

	if workerServer != nil {
		workerServer.Shutdown()
	}
	if inline != nil {
		inline.Wait()
	}
}

// openSceneStore opens the configured scene store backend.
func openSceneStore(ctx context.Context, cfg *config.Config, redisClient *redis.Client) (store.SceneStore, func(), error) {
	switch strings.ToLower(cfg.Store.Driver) {
	case "", "redis":
		return store.NewRedisSceneStore(redisClient), func() {}, nil
	case "postgres", "sqlite":
		if cfg.Store.DSN == "" {
			return nil, nil, errors.New("STORE_DSN is required for SQL scene stores")
		}
		driver := "postgres"
		if strings.EqualFold(cfg.Store.Driver, "sqlite") {
			driver = "sqlite"
		}
		s, err := store.OpenSQLSceneStore(ctx, driver, cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, errors.New("unknown store driver " + cfg.Store.Driver)
	}
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
}

func newWorkerServer(cfg *config.Config, log *slog.Logger) *asynq.Server {
	level := asynq.InfoLevel
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		level = asynq.DebugLevel
	case "warn":
		level = asynq.WarnLevel
	case "error":
		level = asynq.ErrorLevel
	}
	return asynq.NewServer(redisOpt(cfg), asynq.Config{
		Concurrency: 10,
		Queues: map[string]int{
			service.QueueGeneration: 1,
		},
		LogLevel: level,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error("generation task failed", "type", task.Type(), "error", err)
		}),
	})
}
