package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyteller-server/internal/broadcast"
	"storyteller-server/internal/domain"
	"storyteller-server/internal/service"
)

// StoryService - операции координатора, нужные HTTP слою.
type StoryService interface {
	Authenticate(ctx context.Context, externalToken string) (string, error)
	Join(token, displayName string) (string, error)
	MarkReady(token string) error
	Story(token string) ([]domain.StoryEntry, error)
	SessionInfo(token string) (service.SessionInfo, error)
	ResolveSubscription(token string) (string, error)
	Contribute(ctx context.Context, token, text string) error
}

// Subscriptions - часть рассыльщика, которую используют push-транспорты.
type Subscriptions interface {
	Subscribe(sessionID string, sink broadcast.Sink) (*broadcast.Subscriber, error)
	Unsubscribe(sub *broadcast.Subscriber)
	Serve(ctx context.Context, sub *broadcast.Subscriber) error
}

// Handler представляет HTTP обработчик
type Handler struct {
	service       StoryService
	subscriptions Subscriptions
	logger        *zap.Logger
}

// New создает новый экземпляр обработчика
func New(svc StoryService, subscriptions Subscriptions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:       svc,
		subscriptions: subscriptions,
		logger:        logger,
	}
}

// RegisterRoutes регистрирует маршруты API.
func (h *Handler) RegisterRoutes(router gin.IRouter) {
	router.POST("/auth", h.authenticate)
	router.POST("/join", h.join)
	router.POST("/ready", h.ready)
	router.POST("/contribute", h.contribute)
	router.GET("/story", h.story)
	router.GET("/session", h.sessionInfo)
	router.GET("/sse", h.streamEvents)
	router.GET("/ws", h.serveWS)
}

type authRequest struct {
	DiscordToken string `json:"discordToken"`
}

type authResponse struct {
	SessionToken string `json:"sessionToken"`
}

type joinRequest struct {
	SessionToken string `json:"sessionToken"`
	PlayerName   string `json:"playerName"`
	DisplayName  string `json:"displayName"`
}

func (r joinRequest) name() string {
	if r.PlayerName != "" {
		return r.PlayerName
	}
	return r.DisplayName
}

type joinResponse struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type tokenRequest struct {
	SessionToken string `json:"sessionToken"`
}

type contributeRequest struct {
	SessionToken string `json:"sessionToken"`
	Contribution string `json:"contribution"`
	Text         string `json:"text"`
}

func (r contributeRequest) text() string {
	if r.Contribution != "" {
		return r.Contribution
	}
	return r.Text
}

type messageResponse struct {
	Message string `json:"message"`
}

type storyResponse struct {
	Story []domain.StoryEntry `json:"story"`
}

func (h *Handler) authenticate(c *gin.Context) {
	var req authRequest
	// Пустое тело допустимо: валидатор по умолчанию принимает любой токен.
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		h.badRequest(c, err)
		return
	}

	token, err := h.service.Authenticate(c.Request.Context(), req.DiscordToken)
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, authResponse{SessionToken: token})
}

func (h *Handler) join(c *gin.Context) {
	var req joinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	sessionID, err := h.service.Join(req.SessionToken, req.name())
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, joinResponse{Message: "Joined session", SessionID: sessionID})
}

func (h *Handler) ready(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.service.MarkReady(req.SessionToken); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Ready"})
}

func (h *Handler) contribute(c *gin.Context) {
	var req contributeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}

	if err := h.service.Contribute(c.Request.Context(), req.SessionToken, req.text()); err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: "Contribution added"})
}

func (h *Handler) story(c *gin.Context) {
	story, err := h.service.Story(sessionToken(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, storyResponse{Story: story})
}

func (h *Handler) sessionInfo(c *gin.Context) {
	info, err := h.service.SessionInfo(sessionToken(c))
	if err != nil {
		handleServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (h *Handler) badRequest(c *gin.Context, err error) {
	h.logger.Debug("Invalid request body", zap.String("path", c.FullPath()), zap.Error(err))
	c.AbortWithStatusJSON(http.StatusBadRequest, domain.ErrorResponse{
		Error: "Invalid request body",
		Code:  domain.ErrCodeBadRequest,
	})
}

// sessionToken берет токен из query, а если его нет - из заголовка Authorization: Bearer.
func sessionToken(c *gin.Context) string {
	if token := c.Query("sessionToken"); token != "" {
		return token
	}
	return strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
}
