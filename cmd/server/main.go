package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/dueb-project/dueb-api/api/swagger"
	"github.com/dueb-project/dueb-api/internal/handler"
	"github.com/dueb-project/dueb-api/internal/middleware"
	"github.com/dueb-project/dueb-api/internal/models"
	"github.com/dueb-project/dueb-api/internal/repository"
	"github.com/dueb-project/dueb-api/internal/service"
	"github.com/dueb-project/dueb-api/pkg/cache"
	"github.com/dueb-project/dueb-api/pkg/config"
	"github.com/dueb-project/dueb-api/pkg/database"
	"github.com/dueb-project/dueb-api/pkg/logger"
	corsmiddleware "github.com/dueb-project/dueb-api/pkg/middleware/cors"
	reqidmiddleware "github.com/dueb-project/dueb-api/pkg/middleware/requestid"
	"github.com/dueb-project/dueb-api/pkg/storage"
)

// @title DUEB Assignment API
// @version 1.0.0
// @description Scenario assignment allocator for disaster-drill observation exercises
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, roster cache disabled", "error", err)
		redisClient = nil
	}
	if !cfg.Roster.CacheEnabled {
		redisClient = nil
	}

	validate := validator.New()

	assignmentRepo := repository.NewAssignmentRepository(db)
	organizationRepo := repository.NewOrganizationRepository(db)
	profileRepo := repository.NewVictimProfileRepository(db)
	scenarioRepo := repository.NewScenarioRepository(db)
	rosterCache := repository.NewRosterCache(redisClient, cfg.Roster.CacheTTL, logr)

	metricsSvc := service.NewMetricsService()
	allocatorSvc := service.NewAllocatorService(
		assignmentRepo, scenarioRepo, organizationRepo, profileRepo,
		rosterCache, metricsSvc, cfg.Allocator.MaxRetries, validate, logr)
	organizationSvc := service.NewOrganizationService(organizationRepo, assignmentRepo, validate, logr)
	scenarioSvc := service.NewScenarioService(scenarioRepo, profileRepo, validate, logr)
	profileSvc := service.NewVictimProfileService(profileRepo, validate, logr)

	var exportSvc *service.ExportService
	if cfg.Exports.Enabled {
		store, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(allocatorSvc, store, signer, metricsSvc, service.ExportConfig{
			APIPrefix:       cfg.APIPrefix,
			ResultTTL:       cfg.Exports.SignedURLTTL,
			CleanupInterval: cfg.Exports.CleanupInterval,
			Workers:         cfg.Exports.WorkerConcurrency,
			Retries:         cfg.Exports.WorkerRetries,
		}, logr, nil)
		exportSvc.Start(context.Background())
		defer exportSvc.Stop()
	}

	organizationHandler := handler.NewOrganizationHandler(organizationSvc)
	profileHandler := handler.NewVictimProfileHandler(profileSvc)
	scenarioHandler := handler.NewScenarioHandler(scenarioSvc)
	assignmentHandler := handler.NewAssignmentHandler(allocatorSvc)
	exportHandler := handler.NewExportHandler(exportSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// The signed token in the path is the credential, no bearer token needed.
	r.GET("/api/v1/exports/download/:token", exportHandler.Download)

	api := r.Group("/api/v1")
	api.Use(middleware.JWT(cfg.JWT.Secret))

	read := api.Group("")
	read.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleObserver))
	{
		read.GET("/organizations", organizationHandler.List)
		read.GET("/organizations/:id", organizationHandler.Get)
		read.GET("/victim-profiles", profileHandler.List)
		read.GET("/victim-profiles/:id", profileHandler.Get)
		read.GET("/scenarios", scenarioHandler.List)
		read.GET("/scenarios/:id", scenarioHandler.Get)
		read.GET("/scenarios/:id/assignments", assignmentHandler.List)
		read.GET("/scenarios/:id/unassigned-profiles", scenarioHandler.UnassignedProfiles)
		read.GET("/scenarios/:id/stats", scenarioHandler.Stats)
		read.GET("/exports/:id", exportHandler.Get)
	}

	write := api.Group("")
	write.Use(middleware.RequireRoles(models.RoleAdmin))
	{
		write.POST("/organizations", organizationHandler.Create)
		write.PUT("/organizations/:id", organizationHandler.Update)
		write.DELETE("/organizations/:id", organizationHandler.Delete)
		write.POST("/victim-profiles", profileHandler.Create)
		write.PUT("/victim-profiles/:id", profileHandler.Update)
		write.DELETE("/victim-profiles/:id", profileHandler.Delete)
		write.POST("/scenarios", scenarioHandler.Create)
		write.PUT("/scenarios/:id", scenarioHandler.Update)
		write.DELETE("/scenarios/:id", scenarioHandler.Delete)
		write.POST("/assignments", assignmentHandler.AllocateOne)
		write.POST("/assignments/batch", assignmentHandler.AllocateBatch)
		write.POST("/assignments/queue", assignmentHandler.Queue)
		write.POST("/assignments/:id/promote", assignmentHandler.Promote)
		write.DELETE("/assignments/:id", assignmentHandler.Delete)
		write.POST("/exports", exportHandler.Create)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
