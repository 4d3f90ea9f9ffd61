package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Время, разрешенное для записи сообщения клиенту.
	writeWait = 10 * time.Second
	// Максимальный размер сообщения, разрешенный от клиента.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin ограничивается CORS политикой роутера; браузерный клиент может жить на другом хосте.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink отправляет каждое событие отдельным текстовым кадром.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) WriteMessage(data []byte) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// serveWS - тот же поток событий, что и /sse, но поверх WebSocket.
func (h *Handler) serveWS(c *gin.Context) {
	sessionID, err := h.service.ResolveSubscription(c.Query("sessionToken"))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// upgrader уже записал ответ с ошибкой
		h.logger.Warn("Failed to upgrade connection", zap.Error(err))
		return
	}
	defer conn.Close()

	sub, err := h.subscriptions.Subscribe(sessionID, &wsSink{conn: conn})
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server is shutting down"),
			time.Now().Add(writeWait))
		return
	}

	log := h.logger.With(zap.String("session_id", sessionID), zap.String("subscriber_id", sub.ID))
	log.Info("WebSocket connection established")

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go readPump(conn, cancel, log)

	err = h.subscriptions.Serve(ctx, sub)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	log.Info("WebSocket connection closed", zap.Error(err))
}

// readPump читает и отбрасывает входящие сообщения: канал только для отправки.
// Ошибка чтения означает, что клиент ушел, и отменяет ctx отправки.
func readPump(conn *websocket.Conn, cancel context.CancelFunc, log *zap.Logger) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		log.Debug("Received unexpected message from client (ignored)", zap.Int("size", len(message)))
	}
}
