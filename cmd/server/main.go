package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"copytrade/internal/apikeys"
	apikeysrepo "copytrade/internal/apikeys/repository"
	apikeyshttp "copytrade/internal/apikeys/transport/http"
	"copytrade/internal/bot"
	botrepo "copytrade/internal/bot/repository"
	bothttp "copytrade/internal/bot/transport/http"
	"copytrade/internal/config"
	"copytrade/internal/engine"
	"copytrade/internal/exchange"
	"copytrade/internal/exchange/factory"
	"copytrade/internal/metrics"
	"copytrade/internal/notify"
	portfoliorepo "copytrade/internal/portfolio/repository"
	portfoliohttp "copytrade/internal/portfolio/transport/http"
	"copytrade/internal/queue"
	"copytrade/internal/reconcile"
	"copytrade/internal/vault"
	"copytrade/internal/webhook"
	webhookrepo "copytrade/internal/webhook/repository"
	webhookhttp "copytrade/internal/webhook/transport/http"
	"copytrade/pkg/db"
	"copytrade/pkg/middleware"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	metrics.InitMetrics()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer database.Close()

	redisQueue, err := queue.NewRedisQueue(cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer redisQueue.Close()

	credVault, err := vault.New(cfg.EncryptionSecret)
	if err != nil {
		logger.Fatal("invalid encryption secret", zap.Error(err))
	}

	// Репозитории
	settingsRepo := botrepo.NewPostgresSettingsRepo(database)
	keysRepo := apikeysrepo.NewPostgresKeyRepo(database)
	positionsRepo := portfoliorepo.NewPostgresPositionRepo(database)
	ordersRepo := portfoliorepo.NewPostgresOrderRepo(database)
	tradesRepo := portfoliorepo.NewPostgresTradeRepo(database)
	snapshotsRepo := portfoliorepo.NewPostgresSnapshotRepo(database)
	logsRepo := webhookrepo.NewPostgresLogRepo(database)
	configsRepo := webhookrepo.NewPostgresConfigRepo(database)

	// Сервисы
	adapterFactory := factory.New(cfg.ProxyAddr)
	hub := notify.NewHub(cfg.JWTSecret, logger)
	botService := bot.NewService(settingsRepo, redisQueue, cfg.MaxLeverageCap, logger)
	keysService := apikeys.NewService(keysRepo, credVault, adapterFactory, logger)
	webhookService := webhook.NewService(
		logsRepo, configsRepo, settingsRepo, redisQueue,
		cfg.SystemWebhookToken, markPriceFunc(adapterFactory), logger)

	executor := engine.NewExecutor(
		logsRepo, settingsRepo, keysService,
		positionsRepo, ordersRepo, tradesRepo,
		hub, adapterFactory, logger)
	worker := engine.NewWorker(redisQueue, redisQueue, executor, logger)

	reconciler := reconcile.New(
		redisQueue, keysService, positionsRepo, snapshotsRepo, tradesRepo,
		hub, adapterFactory, cfg.ReconcileInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := botService.RestoreActiveSet(ctx); err != nil {
		logger.Warn("failed to restore active user set", zap.Error(err))
	}

	worker.Start(ctx, cfg.WorkerCount)
	go reconciler.Run(ctx)

	// HTTP
	webhookHandler := webhookhttp.NewHandler(webhookService, logger)
	botHandler := bothttp.NewHandler(botService, logger)
	keysHandler := apikeyshttp.NewHandler(keysService, logger)
	portfolioHandler := portfoliohttp.NewHandler(
		positionsRepo, ordersRepo, tradesRepo, snapshotsRepo, logger)

	router := newRouter(cfg, logger, hub,
		webhookHandler, botHandler, keysHandler, portfolioHandler)

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	hub.Close()
	worker.Wait()
	logger.Info("stopped")
}

func newRouter(
	cfg *config.Config,
	logger *zap.Logger,
	hub *notify.Hub,
	webhookHandler *webhookhttp.Handler,
	botHandler *bothttp.Handler,
	keysHandler *apikeyshttp.Handler,
	portfolioHandler *portfoliohttp.Handler,
) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.With(middleware.BasicAuth(cfg.MetricsUser, cfg.MetricsPassword)).
		Handle("/metrics", promhttp.Handler())

	// Прием сигналов: без авторизации, но с рейт-лимитом.
	limiter := middleware.NewRateLimiter(120, time.Minute)
	r.Group(func(r chi.Router) {
		r.Use(limiter.Middleware)
		webhookHandler.RegisterPublic(r)
	})

	r.Get("/ws", hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret))

		webhookHandler.RegisterProtected(r)
		botHandler.Register(r)
		keysHandler.Register(r)
		portfolioHandler.Register(r)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			webhookHandler.RegisterAdmin(r)
		})
	})

	return r
}

// markPriceFunc проставляет цену в общих сигналах open по публичному
// тикеру Binance; для рыночных данных ключи не нужны.
func markPriceFunc(f exchange.Factory) webhook.PriceFunc {
	return func(ctx context.Context, symbol string) (float64, error) {
		adapter, err := f("binance", exchange.Credentials{})
		if err != nil {
			return 0, err
		}
		ticker, err := adapter.GetTicker(ctx, symbol)
		if err != nil {
			return 0, err
		}
		return ticker.LastPrice, nil
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		os.Exit(1)
	}
	return logger
}
