package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/vietlearn/class-access-api/api/swagger"
	"github.com/vietlearn/class-access-api/internal/expiry"
	"github.com/vietlearn/class-access-api/internal/handler"
	"github.com/vietlearn/class-access-api/internal/middleware"
	"github.com/vietlearn/class-access-api/internal/repository"
	"github.com/vietlearn/class-access-api/internal/service"
	"github.com/vietlearn/class-access-api/pkg/cache"
	"github.com/vietlearn/class-access-api/pkg/config"
	"github.com/vietlearn/class-access-api/pkg/database"
	"github.com/vietlearn/class-access-api/pkg/logger"
	corsmiddleware "github.com/vietlearn/class-access-api/pkg/middleware/cors"
	reqidmiddleware "github.com/vietlearn/class-access-api/pkg/middleware/requestid"
)

// @title Class Access API
// @version 0.1.0
// @description Enrollment lifecycle and expiry reconciliation service
// @BasePath /
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		// Access checks fall back to the database when Redis is down.
		logr.Sugar().Warnw("redis unavailable, running without cache", "error", err)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	validate := validator.New()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	clock := expiry.SystemClock{}

	reconciler := expiry.NewReconciler(enrollmentRepo, notificationRepo, clock, logr)
	// Subject loops live as long as the session that activated them.
	scheduler := expiry.NewScheduler(reconciler, expiry.SchedulerConfig{
		Interval: cfg.Expiry.Interval,
		TTL:      cfg.JWT.Expiration,
		Logger:   logr,
		OnPass: func(subjectID string, outcomes []expiry.Outcome, err error, duration time.Duration) {
			metricsSvc.ObserveExpiryPass(outcomes, err, duration)
		},
	})

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, studentRepo, classRepo, cacheRepo, cfg.Access.CacheTTL, clock, validate, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, logr)
	reportSvc := service.NewReportService(enrollmentRepo, clock, logr)

	var activator handler.SubjectActivator
	if cfg.Expiry.Enabled {
		activator = scheduler
	}
	authHandler := handler.NewAuthHandler(authSvc, activator)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	expiryHandler := handler.NewExpiryHandler(scheduler, reconciler)
	reportHandler := handler.NewReportHandler(reportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.POST("/auth/login", authHandler.Login)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))
	{
		protected.GET("/enrollments", enrollmentHandler.List)
		protected.POST("/enrollments", enrollmentHandler.Create)
		protected.GET("/enrollments/:id", enrollmentHandler.Get)
		protected.POST("/enrollments/:id/approve", enrollmentHandler.Approve)
		protected.POST("/enrollments/:id/reject", enrollmentHandler.Reject)
		protected.DELETE("/enrollments/:id", enrollmentHandler.Revoke)
		protected.GET("/students/:id/classes/:classId/access", enrollmentHandler.CheckAccess)

		protected.GET("/notifications", notificationHandler.List)
		protected.PUT("/notifications/:id/read", notificationHandler.MarkRead)

		if cfg.Expiry.Enabled {
			protected.POST("/expiry/subjects/:id/start", expiryHandler.Start)
			protected.POST("/expiry/subjects/:id/stop", expiryHandler.Stop)
			protected.POST("/expiry/subjects/:id/run", expiryHandler.RunNow)
		}
		if cfg.Reports.Enabled {
			protected.GET("/reports/expiring", reportHandler.Expiring)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env, "expiry_enabled", cfg.Expiry.Enabled)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Sugar().Warnw("server shutdown failed", "error", err)
	}

	// Stop subject loops after the HTTP layer quiesces so no pass can
	// be started mid-shutdown; Shutdown waits for in-flight passes.
	scheduler.Shutdown()
}
