package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/adops_backend/config"
	"bitbucket.org/mmdatafocus/adops_backend/handlers"
	"bitbucket.org/mmdatafocus/adops_backend/middlewares"
	"bitbucket.org/mmdatafocus/adops_backend/models"
	"bitbucket.org/mmdatafocus/adops_backend/notifications"
	"bitbucket.org/mmdatafocus/adops_backend/utils"
	"bitbucket.org/mmdatafocus/adops_backend/workflow"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func corsConfig() cors.Config {
	cfg := cors.DefaultConfig()
	// production requires an explicit allowlist; an empty one denies every origin
	if config.IsProduction() {
		cfg.AllowOrigins = config.CorsAllowedOrigins()
		if len(cfg.AllowOrigins) == 0 {
			cfg.AllowOriginFunc = func(string) bool { return false }
		}
	} else {
		cfg.AllowAllOrigins = true
	}
	cfg.AddAllowMethods("GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS")
	cfg.AddAllowHeaders("Origin", "Content-Type", "Authorization", middlewares.CorrelationHeader)
	cfg.AddExposeHeaders("Content-Length", "Content-Disposition", middlewares.CorrelationHeader)
	cfg.AllowCredentials = !cfg.AllowAllOrigins
	return cfg
}

// newRouter builds the full API engine once every dependency is connected.
func newRouter(h *handlers.Handler, rdb *redis.Client, logger *logrus.Logger) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(cors.New(corsConfig()))
	if limit, window, ok := config.RateLimit(); ok && rdb != nil {
		r.Use(middlewares.NewRateLimiter(rdb, limit, window).Middleware)
	}
	r.Use(middlewares.ErrorLogger(logger))
	r.Use(gin.Recovery())
	r.MaxMultipartMemory = 8 << 20

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	h.Register(r)
	r.NoRoute(middlewares.NotFoundHandler)
	return r
}

// bootRouter answers while dependencies are still connecting.
func bootRouter(ready func() bool) *gin.Engine {
	r := gin.New()
	r.Use(middlewares.CorrelationMiddleware())
	r.Use(middlewares.ReadinessGate(ready))
	return r
}

func connect(ctx context.Context, logger *logrus.Logger) (*gorm.DB, *redis.Client, error) {
	db, err := config.ConnectDatabaseWithRetry(ctx)
	if err != nil {
		return nil, nil, err
	}
	if !config.SkipMigrations() {
		if err := models.MigrateTable(db); err != nil {
			return nil, nil, err
		}
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	rdb, err := config.ConnectRedisWithRetry(ctx)
	if err != nil {
		return nil, nil, err
	}
	return db, rdb, nil
}

func main() {
	logger := config.GetLogger()
	gin.SetMode(gin.ReleaseMode)
	if !config.IsProduction() {
		gin.SetMode(gin.DebugMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Listen first; the boot router answers /healthz and 503s until the API engine is swapped in.
	var app atomic.Pointer[gin.Engine]
	boot := bootRouter(func() bool { return app.Load() != nil })
	srv := &http.Server{
		Addr: ":" + config.Port(),
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine := app.Load(); engine != nil {
				engine.ServeHTTP(w, r)
				return
			}
			boot.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	db, rdb, err := connect(sigCtx, logger)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "startup"}).Fatal("dependencies unavailable: " + err.Error())
	}
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()

	cache := config.NewRedisCache(rdb)
	var locker workflow.MatrixLocker
	if redisLocker := cache.Locker(); redisLocker != nil {
		locker = workflow.NewRedisMatrixLocker(redisLocker, config.MatrixLockTimeout())
	}

	store, err := utils.NewContentStoreFromEnv(sigCtx)
	if err != nil {
		logger.WithFields(logrus.Fields{"field": "storage"}).Fatal("content store: " + err.Error())
	}

	h := &handlers.Handler{
		DB:       db,
		Cache:    cache,
		Ledger:   workflow.NewBalanceLedger(db, locker, logger),
		Billing:  workflow.NewBillingWorkflow(db, store, logger),
		Notifier: notifications.NewNotifierFromEnv(logger),
		Logger:   logger,
	}

	// Outbox dispatcher publishes committed events to Pub/Sub.
	dispatcherCtx, cancelDispatcher := context.WithCancel(context.Background())
	defer cancelDispatcher()
	var publisher *config.PubSubPublisher
	if config.OutboxEnabled() {
		topic := config.PubSubTopic()
		if err := config.EnsureTopic(sigCtx, topic); err != nil {
			config.LogError(logger, "server.go", "main", "EnsureTopic "+topic, nil, err)
		}
		publisher = config.NewPubSubPublisher(topic)
		go workflow.NewOutboxDispatcher(db, publisher, logger).Run(dispatcherCtx)
	} else if config.OutboxDirectProcessing() {
		go workflow.NewOutboxDispatcher(db, notifications.DirectPublisher{DB: db, Notifier: h.Notifier}, logger).Run(dispatcherCtx)
	} else {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("PUBSUB_TOPIC not set; outbox events stay pending")
	}

	app.Store(newRouter(h, rdb, logger))
	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
		"port": config.Port(),
	}).Info("adops backend ready")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// stop background work before draining requests
	cancelDispatcher()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if publisher != nil {
		publisher.Close()
	}
	config.ClosePubSub()
	if closer, ok := store.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
}
