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
	"go.uber.org/zap"

	_ "github.com/noah-isme/topic-registry-api/api/swagger"
	"github.com/noah-isme/topic-registry-api/internal/handler"
	internalmiddleware "github.com/noah-isme/topic-registry-api/internal/middleware"
	"github.com/noah-isme/topic-registry-api/internal/models"
	"github.com/noah-isme/topic-registry-api/internal/repository"
	"github.com/noah-isme/topic-registry-api/internal/service"
	"github.com/noah-isme/topic-registry-api/pkg/config"
	"github.com/noah-isme/topic-registry-api/pkg/database"
	"github.com/noah-isme/topic-registry-api/pkg/jobs"
	"github.com/noah-isme/topic-registry-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/topic-registry-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/topic-registry-api/pkg/middleware/requestid"
	"github.com/noah-isme/topic-registry-api/pkg/realtime"
)

// @title Topic Registry API
// @version 1.0.0
// @description Topic registration, group membership and topic swap workflow for final-project classes.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

type handlers struct {
	group        *handler.GroupHandler
	topic        *handler.TopicHandler
	swap         *handler.SwapHandler
	result       *handler.ResultHandler
	notification *handler.NotificationHandler
	realtime     *handler.RealtimeHandler
	metrics      *handler.MetricsHandler
}

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

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	db, err := database.NewPostgres(startupCtx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	checks := map[string]handler.Pinger{"database": db}

	var feed realtime.Feed
	switch cfg.Realtime.Driver {
	case config.RealtimeDriverRedis:
		client, err := realtime.DialRedis(startupCtx, cfg.Redis)
		if err != nil {
			logr.Fatal("failed to connect redis", zap.Error(err))
		}
		defer client.Close()
		redisFeed := realtime.NewRedisFeed(client, cfg.Realtime.ChannelPrefix, logr)
		checks["redis"] = redisFeed
		feed = redisFeed
	default:
		feed = realtime.NewMemoryFeed()
	}

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	groupRepo := repository.NewGroupRepository(db)
	topicRepo := repository.NewTopicRepository(db)
	swapRepo := repository.NewSwapRepository(db)
	resultRepo := repository.NewResultRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	userRepo := repository.NewUserRepository(db)
	classRepo := repository.NewClassRepository(db)

	worker := service.NewNotificationWorker(notificationRepo, feed, metricsSvc, logr)
	queue := jobs.NewQueue("notifications", worker.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		RetryDelay: cfg.Notifications.RetryDelay,
		OnDrop:     worker.Dropped,
		Logger:     logr,
	})
	queue.Start(context.Background())
	notificationSvc := service.NewNotificationService(notificationRepo, queue, feed, metricsSvc, logr)

	authSvc := service.NewAuthService(userRepo, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})
	groupSvc := service.NewGroupService(groupRepo, classRepo, userRepo, notificationSvc, feed, metricsSvc, validate, logr)
	topicSvc := service.NewTopicService(topicRepo, groupRepo, classRepo, notificationSvc, feed, metricsSvc, validate, logr, service.TopicConfig{
		AdminTopicsAutoApproved: cfg.Workflow.AdminTopicsAutoApproved,
		RequireApprovedTopics:   cfg.Workflow.RequireApprovedTopics,
	})
	swapSvc := service.NewSwapService(swapRepo, groupRepo, classRepo, notificationSvc, feed, metricsSvc, validate, logr)
	resultSvc := service.NewResultService(resultRepo, groupRepo, topicRepo, classRepo, notificationSvc, metricsSvc, validate, logr)

	h := handlers{
		group:        handler.NewGroupHandler(groupSvc),
		topic:        handler.NewTopicHandler(topicSvc),
		swap:         handler.NewSwapHandler(swapSvc),
		result:       handler.NewResultHandler(resultSvc),
		notification: handler.NewNotificationHandler(notificationSvc),
		realtime:     handler.NewRealtimeHandler(notificationSvc, metricsSvc, cfg.Realtime.Heartbeat, logr),
		metrics:      handler.NewMetricsHandler(metricsSvc, checks),
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc, "/metrics", "/health", "/ready"))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	registerRoutes(r.Group(cfg.APIPrefix), h, authSvc)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "realtime", cfg.Realtime.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server shutdown failed", zap.Error(err))
	}
	queue.Stop()
}

func registerRoutes(api *gin.RouterGroup, h handlers, auth internalmiddleware.TokenValidator) {
	staff := internalmiddleware.RequireRoles(models.RoleLecturer, models.RoleAdmin)
	students := internalmiddleware.RequireRoles(models.RoleStudent)

	api.GET("/realtime/notifications", internalmiddleware.StreamJWT(auth), h.realtime.Notifications)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(auth))

	classes := secured.Group("/classes/:classId")
	classes.GET("/topics", h.topic.List)
	classes.POST("/topics", staff, h.topic.Create)
	classes.GET("/my-group", h.group.Mine)
	classes.POST("/groups", h.group.Create)

	topics := secured.Group("/topics/:id")
	topics.GET("", h.topic.Get)
	topics.PUT("", staff, h.topic.Update)
	topics.DELETE("", staff, h.topic.Delete)
	topics.PATCH("/approval", staff, h.topic.SetApproval)
	topics.POST("/registrations", students, h.topic.Register)

	groups := secured.Group("/groups/:id")
	groups.GET("", h.group.Get)
	groups.POST("/members", h.group.Join)
	groups.DELETE("/members/:userId", h.group.Leave)
	groups.DELETE("/registration", h.topic.CancelRegistration)
	groups.GET("/swap-requests", h.swap.List)
	groups.GET("/result", h.result.Get)
	groups.PUT("/result/report", students, h.result.SubmitReport)
	groups.PUT("/result/grade", staff, h.result.Grade)

	swaps := secured.Group("/swap-requests")
	swaps.POST("", students, h.swap.Create)
	swaps.POST("/:id/approve", h.swap.Approve)
	swaps.POST("/:id/reject", h.swap.Reject)
	swaps.DELETE("/:id", h.swap.Cancel)
	swaps.PATCH("/:id/read", h.swap.MarkRead)

	notifications := secured.Group("/notifications")
	notifications.GET("", h.notification.List)
	notifications.PATCH("/read-all", h.notification.MarkAllRead)
	notifications.PATCH("/:id/read", h.notification.MarkRead)
}
