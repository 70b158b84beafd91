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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/mentorium-app/mentorium-api/api/swagger"
	"github.com/mentorium-app/mentorium-api/internal/gateway"
	"github.com/mentorium-app/mentorium-api/internal/handler"
	"github.com/mentorium-app/mentorium-api/internal/middleware"
	"github.com/mentorium-app/mentorium-api/internal/repository"
	"github.com/mentorium-app/mentorium-api/internal/service"
	"github.com/mentorium-app/mentorium-api/pkg/cache"
	"github.com/mentorium-app/mentorium-api/pkg/config"
	"github.com/mentorium-app/mentorium-api/pkg/database"
	"github.com/mentorium-app/mentorium-api/pkg/logger"
	corsmiddleware "github.com/mentorium-app/mentorium-api/pkg/middleware/cors"
	reqidmiddleware "github.com/mentorium-app/mentorium-api/pkg/middleware/requestid"
	"github.com/mentorium-app/mentorium-api/pkg/receipt"
	"github.com/mentorium-app/mentorium-api/pkg/storage"
)

// @title Mentorium API
// @version 1.0.0
// @description Course marketplace enrollment and payment API
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	validate := validator.New()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)
	enrollmentRepo := repository.NewEnrollmentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Services.
	metricsService := service.NewMetricsService()
	cacheService := service.NewCacheService(cacheRepo, metricsService, logr, cfg.Catalog.CacheEnabled)

	authService := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "mentorium-api",
	})

	classService := service.NewClassService(classRepo, cacheService, cfg.Catalog, validate, logr)
	applicationService := service.NewTeacherApplicationService(userRepo, validate, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var receiptService *service.ReceiptService
	if cfg.Receipts.Enabled {
		receiptStore, err := storage.NewLocalStorage(cfg.Receipts.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init receipt storage", "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Receipts.SignedURLSecret, cfg.Receipts.SignedURLTTL)
		receiptService = service.NewReceiptService(
			enrollmentRepo, classRepo, receiptStore, receipt.NewRenderer(),
			signer, metricsService, cfg.Receipts, cfg.Gateway.Currency, logr,
		)
		receiptService.Start(ctx)
		defer receiptService.Stop()
	}

	var enrollmentService *service.EnrollmentService
	if receiptService != nil {
		enrollmentService = service.NewEnrollmentService(enrollmentRepo, receiptService, classService, cfg.Checkout, logr)
	} else {
		enrollmentService = service.NewEnrollmentService(enrollmentRepo, nil, classService, cfg.Checkout, logr)
	}

	gatewayClient := gateway.NewClient(cfg.Gateway, logr)
	paymentService := service.NewPaymentService(gatewayClient, cacheService, enrollmentService, classService, cfg.Checkout, cfg.Gateway.Currency, validate, logr)
	checkoutService := service.NewCheckoutService(gatewayClient, enrollmentService, cacheService, paymentService, classService, metricsService, cfg.Checkout, validate, logr)

	// Handlers.
	authHandler := handler.NewAuthHandler(authService)
	classHandler := handler.NewClassHandler(classService)
	paymentHandler := handler.NewPaymentHandler(paymentService, checkoutService)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentService, receiptService)
	teacherRequestHandler := handler.NewTeacherRequestHandler(applicationService)
	metricsHandler := handler.NewMetricsHandler(metricsService)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsService))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "postgres": err.Error()})
			return
		}
		if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authService), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authService), authHandler.Me)
	}

	classes := api.Group("/classes")
	{
		classes.GET("", classHandler.List)
		classes.GET("/manage", middleware.JWT(authService), middleware.RBAC("TEACHER", "ADMIN"), classHandler.ListAll)
		classes.GET("/:id", classHandler.Get)
		classes.POST("", middleware.JWT(authService), middleware.RBAC("TEACHER"), classHandler.Create)
		classes.PATCH("/:id", middleware.JWT(authService), middleware.RBAC("TEACHER"), classHandler.Update)
		classes.PATCH("/:id/status", middleware.JWT(authService), middleware.RBAC("ADMIN"), classHandler.UpdateStatus)
	}

	payments := api.Group("/payments", middleware.JWT(authService))
	{
		payments.POST("/create-payment-intent", paymentHandler.CreateIntent)
		payments.POST("/confirm", paymentHandler.Confirm)
	}

	enrollments := api.Group("/enrollments", middleware.JWT(authService))
	{
		enrollments.GET("", middleware.RBAC("ADMIN"), enrollmentHandler.List)
		enrollments.POST("", middleware.RBAC("ADMIN"), enrollmentHandler.Create)
		enrollments.GET("/orphans", middleware.RBAC("ADMIN"), enrollmentHandler.ListOrphans)
		enrollments.GET("/:id", enrollmentHandler.Get)
		enrollments.GET("/:id/receipt", enrollmentHandler.ReceiptLink)
	}

	api.GET("/users/:email/enrolled-classes", middleware.JWT(authService), middleware.RBAC("SELF", "ADMIN"), enrollmentHandler.ListByStudent)
	// Receipt downloads authenticate through the signed token in the URL.
	api.GET("/receipts/download", enrollmentHandler.DownloadReceipt)

	teacherRequests := api.Group("/teacher-requests", middleware.JWT(authService))
	{
		teacherRequests.POST("", teacherRequestHandler.Apply)
		teacherRequests.GET("/me", teacherRequestHandler.MyStatus)
		teacherRequests.GET("", middleware.RBAC("ADMIN"), teacherRequestHandler.ListPending)
		teacherRequests.GET("/:email", middleware.RBAC("ADMIN"), teacherRequestHandler.StatusByEmail)
		teacherRequests.PATCH("/:email/approve", middleware.RBAC("ADMIN"), teacherRequestHandler.Approve)
		teacherRequests.PATCH("/:email/reject", middleware.RBAC("ADMIN"), teacherRequestHandler.Reject)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
