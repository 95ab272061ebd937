package main

import (
	"context"
	"net/http"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/md-rashed-zaman/clinicsched/libs/httpx"
	"github.com/md-rashed-zaman/clinicsched/libs/kafkax"
	"github.com/md-rashed-zaman/clinicsched/libs/lock"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/consumer"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/engine"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/handlers"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/inbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadSettings()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var checks []runtime.ReadyCheck

	var (
		schedules engine.ScheduleStore
		appts     engine.AppointmentStore
		recorder  inbox.Recorder
	)
	switch cfg.store {
	case "postgres":
		pool, err := db.Open(ctx, cfg.databaseURL, db.PoolOptions{})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		if cfg.runMigrations {
			if err := db.Migrate(ctx, pool, migrations.FS, logger); err != nil {
				logger.Error("migrations failed", "err", err)
				panic(err)
			}
		}

		outboxRepo := outbox.NewRepository(pool)
		store := storage.NewPostgresStore(pool, outboxRepo)
		schedules, appts = store, store
		recorder = inbox.NewRepository(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})

		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   cfg.kafkaBrokers,
			PollEvery: 2 * time.Second,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
	default:
		logger.Warn("using in-memory store; data is lost on restart and events are not published")
		store := storage.NewMemoryStore()
		schedules, appts = store, store
		recorder = inbox.NewMemory()
	}

	var rdb *redis.Client
	if cfg.redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.redisAddr,
			Password: cfg.redisPassword,
			DB:       cfg.redisDB,
		})
		defer rdb.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: lock.ReadyCheck(rdb)})
	}

	var locker lock.Locker = lock.NewKeyedMutex()
	if cfg.bookingLock == "redis" {
		locker = lock.NewRedisLocker(rdb, lock.RedisOptions{TTL: cfg.lockTTL, Prefix: cfg.service + ":booking"})
	}

	eng, err := engine.New(schedules, appts, locker, logger, engine.Config{
		Policy:   cfg.policy,
		Location: cfg.location,
	})
	if err != nil {
		logger.Error("engine init failed", "err", err)
		panic(err)
	}

	if cfg.kafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.kafkaBrokers)})
		if strings.TrimSpace(cfg.scheduleTopic) != "" {
			scheduleConsumer := consumer.New(logger, recorder, consumer.Config{
				Brokers: cfg.kafkaBrokers,
				GroupID: cfg.kafkaGroupID,
				Topic:   cfg.scheduleTopic,
			}, consumer.ScheduleHandler(logger, eng))
			go scheduleConsumer.Run(ctx)
		}
	}

	health := grpcx.NewHealthServer(logger, cfg.service, checks...)
	if err := health.Serve(ctx, ":"+cfg.grpcPort, 10*time.Second); err != nil {
		logger.Error("grpc health server failed", "err", err)
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewSchedulingHandler(eng, logger).Register(mux)

	var rateLimit httpx.Middleware
	if cfg.rateLimitPerMinute > 0 {
		if rdb != nil {
			rateLimit = httpx.NewRedisRateLimiter(rdb, cfg.rateLimitPerMinute, time.Minute, cfg.service+":ratelimit").Middleware(logger, true)
		} else {
			rateLimit = httpx.NewRateLimiter(cfg.rateLimitPerMinute, time.Minute).Middleware()
		}
	}

	var bodyLimit, timeout httpx.Middleware
	if cfg.bodyLimitBytes > 0 {
		bodyLimit = httpx.WithBodyLimit(cfg.bodyLimitBytes)
	}
	if cfg.requestTimeout > 0 {
		timeout = httpx.WithTimeout(cfg.requestTimeout)
	}

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: cfg.corsOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
			MaxAge:         10 * time.Minute,
		}),
		rateLimit,
		bodyLimit,
		timeout,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")
	srv := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	runtime.RunHTTP(ctx, logger, srv, 10*time.Second)
}
