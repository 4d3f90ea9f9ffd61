package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	ginprometheus "github.com/zsais/go-gin-prometheus"
	"go.uber.org/zap"

	"storyteller-server/internal/auth"
	"storyteller-server/internal/broadcast"
	"storyteller-server/internal/config"
	deliveryhttp "storyteller-server/internal/delivery/http"
	"storyteller-server/internal/messaging"
	"storyteller-server/internal/metrics"
	"storyteller-server/internal/service"
	"storyteller-server/internal/session"
	"storyteller-server/pkg/ai"
	"storyteller-server/pkg/imagegen"
	"storyteller-server/pkg/taskmanager"
	sharedLogger "storyteller-server/shared/logger"
)

const (
	taskCleanupInterval = 5 * time.Minute
	taskRetention       = 30 * time.Minute
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := sharedLogger.New(sharedLogger.Config{
		Level:       cfg.LogLevel,
		Encoding:    cfg.LogEncoding,
		Service:     "storyteller-server",
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	zap.ReplaceGlobals(logger)
	zap.L().Info("Logger initialized successfully", zap.String("logLevel", cfg.LogLevel), zap.String("env", cfg.Env))

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	// --- Credential validator ---
	var validator auth.Validator = auth.NoopValidator{}
	if cfg.Auth.JWTSecret != "" {
		jwtValidator, err := auth.NewJWTValidator(cfg.Auth.JWTSecret)
		if err != nil {
			zap.L().Fatal("Failed to create JWT validator", zap.Error(err))
		}
		validator = jwtValidator
		zap.L().Info("External tokens are validated as HS256 JWT")
	}

	// --- Collaborators ---
	systemPrompt, err := ai.LoadSystemPrompt(cfg.AI.SystemPromptFile)
	if err != nil {
		zap.L().Fatal("Failed to load system prompt", zap.Error(err))
	}
	generator, err := ai.New(ai.Config{
		Provider:      cfg.AI.Provider,
		APIKey:        cfg.AI.APIKey,
		BaseURL:       cfg.AI.BaseURL,
		Model:         cfg.AI.Model,
		MaxAttempts:   cfg.AI.MaxAttempts,
		MaxTokens:     cfg.AI.MaxTokens,
		Temperature:   cfg.AI.Temperature,
		ContextTokens: cfg.AI.ContextTokens,
		SystemPrompt:  systemPrompt,
		Timeout:       cfg.AI.Timeout,
	}, logger.Named("AIClient"))
	if err != nil {
		zap.L().Fatal("Failed to create AI client", zap.Error(err))
	}

	var images imagegen.Generator
	if cfg.Image.Enabled() {
		sana, err := imagegen.New(imagegen.Config{
			ServerURL:         cfg.Image.ServerURL,
			Timeout:           cfg.Image.Timeout,
			Ratio:             cfg.Image.Ratio,
			PromptStyleSuffix: cfg.Image.PromptStyleSuffix,
			SavePath:          cfg.Image.SavePath,
			PublicBaseURL:     cfg.Image.PublicBaseURL,
		}, logger.Named("ImageClient"))
		if err != nil {
			zap.L().Fatal("Failed to create image client", zap.Error(err))
		}
		images = sana
		zap.L().Info("Scene illustrations enabled", zap.String("server", cfg.Image.ServerURL))
	}

	var mirror messaging.StoryEventPublisher = messaging.NoopPublisher{}
	if cfg.RabbitMQ.URL != "" {
		mqConn, err := messaging.ConnectRabbitMQ(rootCtx, cfg.RabbitMQ.URL, cfg.RabbitMQ.ConnectAttempts, cfg.RabbitMQ.ConnectDelay, logger)
		if err != nil {
			zap.L().Fatal("Failed to connect to RabbitMQ", zap.Error(err))
		}
		defer mqConn.Close()

		publisher, err := messaging.NewRabbitMQPublisher(mqConn, cfg.RabbitMQ.Exchange, logger.Named("StoryEventPublisher"))
		if err != nil {
			zap.L().Fatal("Failed to create story event publisher", zap.Error(err))
		}
		defer publisher.Close()
		mirror = publisher
		zap.L().Info("Story events are mirrored to RabbitMQ", zap.String("exchange", cfg.RabbitMQ.Exchange))
	}

	// --- Core ---
	registry := session.NewRegistry(validator, logger.Named("SessionRegistry"))
	broadcaster := broadcast.New(broadcast.Config{
		HeartbeatInterval: cfg.HeartbeatInterval,
		BufferSize:        cfg.SubscriberBuffer,
	}, logger.Named("Broadcaster"))
	tasks := taskmanager.New(taskmanager.Config{MaxTasks: cfg.MaxConcurrentGenerations}, logger.Named("TaskManager"))
	go tasks.RunCleanup(rootCtx, taskCleanupInterval, taskRetention)
	metrics.RegisterStateGauges(registry.UserCount, tasks.Active)

	coordinator := service.NewCoordinator(service.Config{
		GenerationTimeout:     cfg.GenerationTimeout,
		ImageTimeout:          cfg.Image.Timeout,
		MaxContributionLength: cfg.MaxContributionLength,
		MirrorBuffer:          cfg.RabbitMQ.QueueSize,
	}, service.Deps{
		Registry:  registry,
		Events:    broadcaster,
		Counter:   broadcaster,
		Tasks:     tasks,
		Generator: generator,
		Images:    images,
		Mirror:    mirror,
		Logger:    logger.Named("Coordinator"),
	})

	// --- HTTP ---
	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}

	routerCfg := deliveryhttp.RouterConfig{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Instrument: func(router *gin.Engine) {
			p := ginprometheus.NewPrometheus("gin")
			p.Use(router)
		},
	}
	if cfg.Image.Enabled() && strings.HasPrefix(cfg.Image.PublicBaseURL, "/") {
		routerCfg.ImagesDir = cfg.Image.SavePath
		routerCfg.ImagesPath = cfg.Image.PublicBaseURL
	}
	handler := deliveryhttp.New(coordinator, broadcaster, logger.Named("HTTPHandler"))
	router := deliveryhttp.NewRouter(routerCfg, handler, logger)

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     router,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout не задается: /sse и /ws держат ответ открытым.
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return rootCtx },
	}

	zap.L().Info("Starting HTTP server", zap.String("port", cfg.Port))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("HTTP Server listen error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zap.L().Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	// Push-потоки не завершатся сами, поэтому подписчики закрываются до остановки сервера.
	broadcaster.Close()
	cancelRoot()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("HTTP Server forced to shutdown", zap.Error(err))
	}
	if err := tasks.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Generation tasks did not finish in time", zap.Error(err))
	}
	// Задачи завершены, новых событий для зеркала не будет.
	if err := coordinator.Close(shutdownCtx); err != nil {
		zap.L().Error("Story event mirror did not drain in time", zap.Error(err))
	}

	zap.L().Info("Server exiting")
}
