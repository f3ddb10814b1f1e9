package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/lms-api/api/swagger"
	"github.com/noah-isme/lms-api/internal/events"
	"github.com/noah-isme/lms-api/internal/handler"
	"github.com/noah-isme/lms-api/internal/listener"
	internalmiddleware "github.com/noah-isme/lms-api/internal/middleware"
	"github.com/noah-isme/lms-api/internal/repository"
	"github.com/noah-isme/lms-api/internal/service"
	"github.com/noah-isme/lms-api/pkg/cache"
	"github.com/noah-isme/lms-api/pkg/config"
	"github.com/noah-isme/lms-api/pkg/database"
	"github.com/noah-isme/lms-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lms-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lms-api/pkg/middleware/requestid"
)

// @title English LMS API
// @version 1.0.0
// @description Assignment propagation for classes, tests and enrollments
// @BasePath /api/v1
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		applied, err := database.NewMigrator(db, database.Migrations()...).Migrate(ctx)
		if err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
		logr.Info("migrations applied", zap.Ints("versions", applied))
	}

	checks := map[string]handler.Pinger{"database": db}

	var metricsSvc *service.MetricsService
	if cfg.Metrics.Enabled {
		metricsSvc = service.NewMetricsService()
	}

	// The cache repository must receive an untyped nil when Redis is off.
	var redisClient redis.UniversalClient
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, cache disabled", zap.Error(err))
		} else {
			redisClient = client
			defer client.Close() //nolint:errcheck
			checks["redis"] = handler.PingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		}
	}
	cacheSvc := service.NewCacheService(repository.NewCacheRepository(redisClient), metricsSvc, cfg.Cache.TTL, logr, redisClient != nil)

	bus := events.NewBus(events.BusConfig{
		Async:      cfg.Events.Async,
		Workers:    cfg.Events.Workers,
		BufferSize: cfg.Events.BufferSize,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: cfg.Events.RetryDelay,
		Logger:     logr,
		Observer:   metricsSvc,
	})
	bus.Start(ctx)
	defer bus.Close()

	assignmentRepo := repository.NewAssignmentRepository(db)
	studentAssignmentRepo := repository.NewStudentAssignmentRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	testRepo := repository.NewTestRepository(db)
	classRepo := repository.NewClassRepository(db)
	userRepo := repository.NewUserRepository(db)

	factory := service.NewAssignmentFactory(assignmentRepo, enrollmentRepo, studentAssignmentRepo, metricsSvc, logr)
	if err := listener.Register(bus,
		listener.NewCreateAssignmentsForTest(factory, cacheSvc, metricsSvc, logr),
		listener.NewCreateAssignmentsForNewStudent(factory, assignmentRepo, cacheSvc, metricsSvc, logr),
	); err != nil {
		logr.Fatal("failed to register listeners", zap.Error(err))
	}

	validate := validator.New()
	assignmentSvc := service.NewAssignmentService(testRepo, classRepo, assignmentRepo, studentAssignmentRepo, bus, cacheSvc, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, userRepo, classRepo, bus, validate, logr)
	exportSvc := service.NewExportService(assignmentSvc, logr)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(corsmiddleware.DefaultOptions(cfg.CORS.AllowedOrigins)))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	var metricsHTTP http.Handler
	if metricsSvc != nil {
		metricsHTTP = metricsSvc.Handler()
	}
	health := handler.NewMetricsHandler(metricsHTTP, checks, logr)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", health.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	assignmentHandler := handler.NewAssignmentHandler(assignmentSvc, exportSvc)
	api.POST("/classes/:id/tests/:testId/assign", assignmentHandler.AssignTest)
	api.GET("/classes/:id/assignments", assignmentHandler.ClassAssignments)
	api.GET("/assignments/:id/students", assignmentHandler.Roster)
	api.GET("/assignments/:id/export", assignmentHandler.ExportRoster)
	api.GET("/students/:id/assignments", assignmentHandler.StudentAssignments)

	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc)
	api.GET("/enrollments", enrollmentHandler.List)
	api.POST("/enrollments", enrollmentHandler.Create)
	api.PUT("/enrollments/:id/activate", enrollmentHandler.Activate)
	api.PUT("/enrollments/:id/deactivate", enrollmentHandler.Deactivate)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "events_async", bus.Async())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
