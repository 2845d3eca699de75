// Package main runs the Caelven presence server: live-listener tracking over
// WebSocket (disconnect-hook deployment) and polling REST (staleness-pruning
// deployment), with graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caelven/listend/config"
	"github.com/caelven/listend/internal/auth"
	"github.com/caelven/listend/internal/history"
	"github.com/caelven/listend/internal/middleware"
	"github.com/caelven/listend/internal/presence"
	"github.com/caelven/listend/internal/realtime"
	"github.com/caelven/listend/pkg/database"
	"github.com/caelven/listend/pkg/redis"
	"github.com/caelven/listend/pkg/response"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()

	// Presence store: Redis when configured (shared across instances),
	// in-process otherwise.
	var store presence.Store
	var prunable presence.PrunableStore
	if cfg.Redis.Addr != "" {
		rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		rs := presence.NewRedisStore(rdb.Client, cfg.Presence.Stale, logger)
		store, prunable = rs, rs
	} else {
		ms := presence.NewMemoryStore()
		store, prunable = ms, ms
		logger.Info("using in-process presence store")
	}

	pruner := presence.NewPruner(prunable, cfg.Presence.Stale, cfg.Presence.PruneInterval, logger)

	hub := realtime.NewHub(store, logger)
	if err := hub.Start(); err != nil {
		logger.Fatal("hub subscription", zap.Error(err))
	}
	defer hub.Stop()

	// Optional listening history.
	var historyHandler *history.Handler
	if cfg.Database.URL != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.Database.URL, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		historyRepo := history.NewRepository(pool)
		historyHandler = history.NewHandler(historyRepo)
		hub.SetSessionHooks(
			func(sessionID string) {
				if err := historyRepo.LogStart(context.Background(), sessionID); err != nil {
					logger.Warn("history log start", zap.Error(err))
				}
			},
			func(sessionID string) {
				if err := historyRepo.LogEnd(context.Background(), sessionID); err != nil {
					logger.Warn("history log end", zap.Error(err))
				}
			},
		)
		hub.SetCountChangeHandler(func(count int) {
			if count == 0 {
				return
			}
			if err := historyRepo.RecordPeak(context.Background(), count); err != nil {
				logger.Warn("history record peak", zap.Error(err))
			}
		})
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours)
	authHandler := auth.NewHandler(cfg.Admin.PasswordHash, jwtService, logger)
	presenceHandler := presence.NewHandler(store, pruner, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Polling REST transport.
	router.POST("/presence", presenceHandler.Post)
	router.GET("/presence", presenceHandler.GetCount)
	router.GET("/presence/listeners", presenceHandler.GetListeners)

	// WebSocket transport (session_id in query).
	router.GET("/ws", realtime.ServeWs(hub, logger))

	// Operator surface.
	router.POST("/auth/login", authHandler.Login)
	admin := router.Group("/admin")
	admin.Use(middleware.JWT(jwtService), middleware.RequireRole("admin"))
	{
		admin.GET("/sessions", func(c *gin.Context) {
			snap, err := store.Load(c.Request.Context())
			if err != nil {
				response.Internal(c, "failed to load sessions")
				return
			}
			response.OK(c, gin.H{"sessions": snap})
		})
		if historyHandler != nil {
			admin.GET("/history", historyHandler.Get)
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	prunerCtx, prunerCancel := context.WithCancel(context.Background())
	defer prunerCancel()
	go pruner.Run(prunerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	prunerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
