package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"PolyChat/middleware"
	"PolyChat/models"
	"PolyChat/pkg/config"
	"PolyChat/pkg/logger"
	"PolyChat/pkg/realtime"
	"PolyChat/pkg/relay"
	svc "PolyChat/pkg/services"
	"PolyChat/routes"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	config.Load()

	zl, err := logger.Init(config.IsProduction)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := models.Open(config.DBDriver, config.DatabaseURL)
	if err != nil {
		zl.Fatal("database", zap.Error(err))
	}

	hub := realtime.NewHub()
	var publisher realtime.Publisher = hub
	if config.DBDriver == "postgres" {
		// with postgres, inserts fan out across instances through LISTEN/NOTIFY
		pool, err := pgxpool.New(ctx, config.DatabaseURL)
		if err != nil {
			zl.Fatal("pgx pool", zap.Error(err))
		}
		defer pool.Close()
		bridge := realtime.NewPGBridge(pool, db, hub)
		go bridge.Run(ctx)
		publisher = bridge
	}
	if err := realtime.Attach(db, publisher); err != nil {
		zl.Fatal("realtime callback", zap.Error(err))
	}

	storage, err := svc.NewAttachmentStorage(config.UploadDir, config.PublicBaseURL, config.UploadSecret)
	if err != nil {
		zl.Fatal("attachment storage", zap.Error(err))
	}

	middleware.SetRateLimitConfig(
		time.Duration(config.RateLimitWindowSeconds)*time.Second,
		config.RateLimitCapacity,
		config.UserConcurrencyLimit,
	)
	middleware.SetDuplicateTTL(time.Duration(config.DuplicateWindowSeconds) * time.Second)

	if config.IsProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	// CORS configuration
	r.Use(cors.New(cors.Config{
		AllowOrigins:     config.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	routes.RegisterRoutes(r, routes.Deps{
		Relay:     relay.New(db, hub),
		Adapter:   svc.NewAdapterFromConfig(),
		Storage:   storage,
		UploadDir: config.UploadDir,
	})

	srv := &http.Server{Addr: ":" + config.Port, Handler: r}
	go func() {
		zl.Info("listening", zap.String("addr", srv.Addr), zap.String("env", config.AppEnv), zap.String("db", config.DBDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown", zap.Error(err))
	}
}
