package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/elecmate/api/internal/bootstrap"
	"github.com/elecmate/api/internal/config"
	"github.com/elecmate/api/internal/handler"
	"github.com/elecmate/api/internal/logging"
	"github.com/elecmate/api/internal/middleware"
	"github.com/elecmate/api/internal/monitor"
	"github.com/elecmate/api/internal/service"
	"github.com/elecmate/api/internal/store"
	ws "github.com/elecmate/api/internal/websocket"
	"github.com/elecmate/api/internal/worker"
	"github.com/elecmate/api/pkg/response"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logs, err := logging.New(logging.Options{
		Level:      cfg.Server.LogLevel,
		Production: cfg.Server.IsProduction(),
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.Named("server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis backs the redis store, the task queue and rate limiting
	var redisClient *redis.Client
	if bootstrap.NeedsRedis(cfg) {
		redisClient = bootstrap.NewRedisClient(cfg)
		defer redisClient.Close()
	}

	jobStore, closeStore, err := bootstrap.OpenStore(ctx, cfg, redisClient, logs.Named("store"))
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn("Failed to close store", zap.Error(err))
		}
	}()

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := monitor.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	// Sessions share one breaker so an unreachable store fails fast
	var reader store.JobReader = jobStore
	if cfg.Store.Driver != config.StoreDriverMemory {
		reader = store.NewBreakerReader(jobStore, logs.Named("breaker"))
	}
	mon := monitor.New(reader, cfg.Monitor.ToMonitor(), logs.Named("monitor"), metrics)

	// Task queue: asynq when Redis is around, in-process otherwise
	var (
		enqueuer    service.TaskEnqueuer
		batchWorker *worker.BatchWorker
		localQueue  *worker.LocalQueue
		queueName   string
	)
	if redisClient != nil {
		asynqClient := asynq.NewClient(bootstrap.AsynqRedisOpt(cfg))
		defer asynqClient.Close()
		enqueuer = asynqClient
		queueName = "asynq"
	} else {
		localQueue = worker.NewLocalQueue(asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			return batchWorker.ProcessTask(ctx, t)
		}), logs.Named("queue"))
		defer localQueue.Shutdown()
		enqueuer = localQueue
		queueName = "local"
	}

	jobService := service.NewJobService(jobStore, enqueuer, logs.Named("jobs"))
	batchWorker = worker.NewBatchWorker(
		jobService,
		worker.SimulatedProcessor{Delay: cfg.Worker.BatchDelay()},
		cfg.Worker.ItemsPerBatch,
		logs.Named("worker"),
	)

	hub := ws.NewHub(mon, logs.Named("hub"))

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret, time.Duration(cfg.JWT.Expiration)*time.Hour)
	rateLimiter := middleware.NewRateLimiter(redisClient, logs.Named("ratelimit"))

	apiAuth := authMiddleware.Authenticate()
	wsAuth := authMiddleware.AuthenticateQuery()
	if cfg.Gateway.Enabled {
		apiAuth = middleware.GatewayAuthMiddleware()
		wsAuth = middleware.GatewayAuthMiddleware()
	}

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler(log),
		BodyLimit:             1 * 1024 * 1024,
		DisableStartupMessage: cfg.Server.IsProduction(),
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	handler.Routes{
		Jobs:       handler.NewJobHandler(jobService, mon, validator.New(), logs.Named("http")).WithShutdown(ctx),
		System:     handler.NewSystemHandler(logs, hub, cfg.Store.Driver, queueName),
		WebSocket:  handler.NewWebSocketHandler(hub),
		Auth:       apiAuth,
		WSAuth:     wsAuth,
		StartLimit: rateLimiter.StartLimit(cfg.RateLimit.StartPerHour),
		Debug:      !cfg.Server.IsProduction(),
	}.Mount(app)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})

	if redisClient != nil {
		g.Go(func() error {
			return runWorkerServer(gctx, cfg, batchWorker, logs.Named("asynq"))
		})
	}

	g.Go(func() error {
		addr := ":" + cfg.Server.Port
		log.Info("Server starting", zap.String("addr", addr), zap.String("store", cfg.Store.Driver))
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Warn("Server shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func runWorkerServer(ctx context.Context, cfg *config.Config, batchWorker *worker.BatchWorker, log *zap.Logger) error {
	srv := asynq.NewServer(
		bootstrap.AsynqRedisOpt(cfg),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				service.QueueBatch: 1,
			},
			Logger: log.Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeBatch, batchWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("asynq worker error: %w", err)
	}

	<-ctx.Done()
	srv.Shutdown()
	return nil
}

func customErrorHandler(log *zap.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if _, ok := err.(*fiber.Error); !ok {
			log.Error("Unhandled error", zap.String("path", c.Path()), zap.Error(err))
		}
		return response.ErrorHandler(c, err)
	}
}
