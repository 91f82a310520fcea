// Package app wires configuration into a running order router: storage, job
// queue, live status, execution engine, worker pool and HTTP routes.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/ksred/swaprouter/internal/broadcast"
	"github.com/ksred/swaprouter/internal/config"
	"github.com/ksred/swaprouter/internal/database"
	"github.com/ksred/swaprouter/internal/exchange"
	"github.com/ksred/swaprouter/internal/livestatus"
	"github.com/ksred/swaprouter/internal/queue"
	"github.com/ksred/swaprouter/internal/trading"
	"github.com/ksred/swaprouter/internal/worker"
	"github.com/ksred/swaprouter/pkg/middleware"
	"github.com/ksred/swaprouter/pkg/response"
)

type jobQueue interface {
	queue.Producer
	queue.Consumer
}

type App struct {
	cfg         *config.Config
	db          *gorm.DB
	redis       *redis.Client
	queue       jobQueue
	live        livestatus.Store
	broadcaster *broadcast.Broadcaster
	pool        *worker.Pool
	pruner      *trading.KeyPruner
	handler     http.Handler
}

// New builds every component from cfg. With an empty RedisURL the queue and
// live status store run in memory and the app is confined to one process.
func New(cfg *config.Config) (*App, error) {
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &App{
		cfg:         cfg,
		db:          db,
		broadcaster: broadcast.New(),
	}

	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("invalid REDIS_URL: %w", err), a.Close())
		}
		a.redis = redis.NewClient(opts)
		a.queue = queue.NewRedisQueue(a.redis, queue.DefaultListKey)
		a.live = livestatus.NewRedisStore(a.redis, cfg.LiveStatusTTL)
		log.Info().Str("addr", opts.Addr).Msg("using redis queue and live status store")
	} else {
		a.queue = queue.NewMemoryQueue(cfg.QueueBuffer)
		a.live = livestatus.NewMemoryStore()
		log.Info().Msg("using in-memory queue and live status store")
	}

	engine := trading.NewEngine(
		[]exchange.Venue{
			exchange.NewSimulator(simulatorConfig(cfg, exchange.RaydiumConfig(cfg.SimBasePrice))),
			exchange.NewSimulator(simulatorConfig(cfg, exchange.MeteoraConfig(cfg.SimBasePrice))),
		},
		trading.WithMaxAttempts(cfg.MaxAttempts),
		trading.WithBackoffBase(cfg.BackoffBase),
	)

	a.pool = worker.NewPool(
		a.queue,
		engine,
		a.live,
		a.broadcaster,
		trading.NewDatabase(db),
		worker.WithConcurrency(cfg.WorkerConcurrency),
	)

	a.pruner = trading.NewKeyPruner(db, trading.DefaultPruneInterval)
	a.handler = a.buildHandler()
	return a, nil
}

func simulatorConfig(cfg *config.Config, base exchange.SimulatorConfig) exchange.SimulatorConfig {
	base.QuoteLatency = cfg.SimQuoteLatency
	base.SettleLatency = cfg.SimSettleLatency
	base.SettleJitter = cfg.SimSettleJitter
	base.SuccessRate = cfg.SimSuccessRate
	return base
}

func (a *App) buildHandler() http.Handler {
	if a.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.RequestLogger())

	tradingService := trading.NewService(a.db, a.queue, a.live)
	tradingHandlers := trading.NewGinHandlers(tradingService, a.broadcaster)

	setupRoutes(router, tradingHandlers, a.healthHandler())

	c := cors.New(cors.Options{
		AllowedOrigins: a.cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Idempotency-Key", middleware.RequestIDHeader},
	})
	return c.Handler(router)
}

// setupRoutes configures all API endpoints
func setupRoutes(router *gin.Engine, tradingHandlers *trading.GinHandlers, health gin.HandlerFunc) {
	router.GET("/healthz", health)

	v1 := router.Group("/api/v1")
	{
		orders := v1.Group("/orders")
		{
			orders.POST("/execute", tradingHandlers.ExecuteOrderHandler())
			orders.POST("/execute/stream", tradingHandlers.ExecuteOrderStreamHandler())
			orders.GET("/status/:order_id", tradingHandlers.GetOrderStatusHandler())
			orders.GET("/:order_id", tradingHandlers.GetOrderHandler())
		}

		v1.GET("/ws/orders/:order_id", tradingHandlers.OrderWebsocketHandler())
	}
}

func (a *App) healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if a.redis != nil {
			if err := a.redis.Ping(c.Request.Context()).Err(); err != nil {
				response.ServiceUnavailable(c, "redis unavailable")
				return
			}
		}
		response.Success(c, gin.H{
			"status":    "ok",
			"workers":   a.pool.Stats(),
			"observers": a.broadcaster.Len(),
		})
	}
}

func (a *App) Handler() http.Handler {
	return a.handler
}

// RunWorkers drains the queue until ctx is cancelled and in-flight orders
// finish. Expired idempotency keys are pruned alongside.
func (a *App) RunWorkers(ctx context.Context) {
	go a.pruner.Start(ctx)
	a.pool.Start(ctx)
}

func (a *App) Stats() worker.Stats {
	return a.pool.Stats()
}

// Close releases the database and Redis connections
func (a *App) Close() error {
	var err error
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	if a.db != nil {
		if sqlDB, dbErr := a.db.DB(); dbErr != nil {
			err = multierr.Append(err, dbErr)
		} else {
			err = multierr.Append(err, sqlDB.Close())
		}
	}
	return err
}
