package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/ptit-portal/internship-api/internal/database/migrations"
	"github.com/ptit-portal/internship-api/internal/handler"
	"github.com/ptit-portal/internship-api/internal/middleware"
	"github.com/ptit-portal/internship-api/internal/models"
	"github.com/ptit-portal/internship-api/internal/repository"
	"github.com/ptit-portal/internship-api/internal/service"
	"github.com/ptit-portal/internship-api/pkg/cache"
	"github.com/ptit-portal/internship-api/pkg/config"
	"github.com/ptit-portal/internship-api/pkg/database"
	"github.com/ptit-portal/internship-api/pkg/logger"
	corsmiddleware "github.com/ptit-portal/internship-api/pkg/middleware/cors"
	reqidmiddleware "github.com/ptit-portal/internship-api/pkg/middleware/requestid"
)

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

	if cfg.Database.Migrate {
		if err := migrations.Up(db); err != nil {
			logr.Sugar().Fatalw("failed to run migrations", "error", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, availability cache disabled", "error", err)
			redisClient = nil
		}
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	periodRepo := repository.NewPeriodRepository(db)
	lecturerRepo := repository.NewLecturerRepository(db)
	lecturerSlotRepo := repository.NewLecturerSlotRepository(db)
	enterpriseRepo := repository.NewEnterpriseSlotRepository(db)
	registrationRepo := repository.NewRegistrationRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	allocationRepo := repository.NewAllocationRepository(db, logr)
	allocationRepo.ClaimHook = metricsSvc.RecordClaim
	allocationRepo.ReleaseHook = metricsSvc.RecordRelease
	allocationRepo.ClampHook = metricsSvc.RecordReleaseClamped

	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	cacheTTL := cfg.Placement.AvailabilityCacheTTL

	// Services.
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "internship-api",
	})
	periodSvc := service.NewPeriodService(periodRepo, cfg.Placement, validate, logr)
	lecturerSvc := service.NewLecturerService(lecturerRepo, lecturerSlotRepo, periodRepo, cacheRepo, cacheTTL, validate, logr)
	enterpriseSvc := service.NewEnterpriseService(enterpriseRepo, periodRepo, cacheRepo, cacheTTL, validate, logr)
	allocationSvc := service.NewAllocationService(allocationRepo, registrationRepo, studentRepo, lecturerSlotRepo, periodRepo, cacheRepo, validate, logr)
	approvalSvc := service.NewApprovalService(allocationRepo, registrationRepo, studentRepo, enterpriseRepo, periodRepo, cacheRepo, validate, logr)
	studentSvc := service.NewStudentService(studentRepo, allocationRepo, validate, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	periodHandler := handler.NewPeriodHandler(periodSvc)
	lecturerHandler := handler.NewLecturerHandler(lecturerSvc)
	enterpriseHandler := handler.NewEnterpriseHandler(enterpriseSvc)
	registrationHandler := handler.NewRegistrationHandler(allocationSvc)
	approvalHandler := handler.NewApprovalHandler(approvalSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	admin := middleware.RequireRoles(models.RoleAdmin, models.RoleSuperAdmin)
	student := middleware.RequireRoles(models.RoleStudent)

	authed.GET("/dashboard/stats", admin, registrationHandler.Stats)

	periods := authed.Group("/periods")
	{
		periods.GET("", periodHandler.List)
		periods.GET("/active", periodHandler.GetActive)
		periods.GET("/:id", periodHandler.Get)
		periods.POST("", admin, periodHandler.Create)
		periods.PUT("/:id", admin, periodHandler.Update)
		periods.DELETE("/:id", admin, periodHandler.Delete)

		periods.GET("/:id/lecturer-slots", admin, lecturerHandler.ListSlots)
		periods.GET("/:id/lecturer-slots/available", lecturerHandler.ListAvailable)
		periods.PUT("/:id/lecturer-slots", admin, lecturerHandler.UpsertSlot)
		periods.PUT("/:id/lecturer-slots/batch", admin, lecturerHandler.BatchUpsertSlots)

		periods.GET("/:id/enterprises", enterpriseHandler.List)
		periods.GET("/:id/enterprises/available", enterpriseHandler.ListAvailable)
		periods.POST("/:id/enterprises", admin, enterpriseHandler.Create)

		periods.GET("/:id/results", admin, registrationHandler.Results)
	}

	enterprises := authed.Group("/enterprises")
	{
		enterprises.GET("/:id", enterpriseHandler.Get)
		enterprises.PUT("/:id", admin, enterpriseHandler.Update)
		enterprises.DELETE("/:id", admin, enterpriseHandler.Delete)
		enterprises.POST("/bulk-delete", admin, enterpriseHandler.BulkDelete)
	}

	lecturers := authed.Group("/lecturers")
	{
		lecturers.GET("", lecturerHandler.List)
		lecturers.GET("/:id", lecturerHandler.Get)
		lecturers.POST("", admin, lecturerHandler.Create)
		lecturers.PUT("/:id", admin, lecturerHandler.Update)
		lecturers.DELETE("/:id", admin, lecturerHandler.Delete)
	}

	students := authed.Group("/students")
	{
		students.GET("", admin, studentHandler.List)
		students.GET("/:id", admin, studentHandler.Get)
		students.POST("", admin, studentHandler.Create)
		students.PUT("/:id", admin, studentHandler.Update)
		students.DELETE("/:id", admin, studentHandler.Delete)
		students.POST("/bulk-delete", admin, studentHandler.BulkDelete)
	}

	registrations := authed.Group("/registrations")
	{
		registrations.POST("/lecturer", student, registrationHandler.RegisterLecturer)
		registrations.POST("/preferences", student, registrationHandler.SubmitPreferences)
		registrations.GET("/me", student, registrationHandler.Status)

		registrations.GET("/lecturer", admin, registrationHandler.ListRegistrations)
		registrations.GET("/preferences", admin, registrationHandler.ListPreferences)
		registrations.PUT("/lecturer/:id/review", admin, approvalHandler.ReviewRegistration)
		registrations.PUT("/preferences/:id/review", admin, approvalHandler.ReviewPreference)
		registrations.POST("/force-academy", admin, approvalHandler.ForceAcademy)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
