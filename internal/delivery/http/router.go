package http

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	sharedMiddleware "storyteller-server/shared/middleware"
)

// RouterConfig - параметры роутера.
type RouterConfig struct {
	AllowedOrigins []string
	// ImagesDir и ImagesPath включают раздачу сохраненных иллюстраций.
	ImagesDir  string
	ImagesPath string
	// Instrument вызывается до регистрации маршрутов (метрики Prometheus).
	Instrument func(router *gin.Engine)
}

// NewRouter собирает gin.Engine со всеми маршрутами сервиса.
func NewRouter(cfg RouterConfig, handler *Handler, logger *zap.Logger) *gin.Engine {
	router := gin.New()
	router.RedirectTrailingSlash = true
	router.Use(sharedMiddleware.GinZapLogger(logger))
	router.Use(gin.Recovery())

	if cfg.Instrument != nil {
		cfg.Instrument(router)
	}

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", sharedMiddleware.RequestIDHeader}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	router.GET("/health", healthHandler)
	router.HEAD("/health", healthHandler)

	if cfg.ImagesDir != "" && cfg.ImagesPath != "" {
		router.Static(cfg.ImagesPath, cfg.ImagesDir)
	}

	handler.RegisterRoutes(router)
	return router
}
