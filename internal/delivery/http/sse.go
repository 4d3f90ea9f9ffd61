package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// sseSink пишет кадры Server-Sent Events: "data: <json>\n\n".
type sseSink struct {
	w gin.ResponseWriter
}

func (s *sseSink) WriteMessage(data []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.w.Flush()
	return nil
}

// streamEvents держит SSE поток сессии до отключения клиента.
func (h *Handler) streamEvents(c *gin.Context) {
	sessionID, err := h.service.ResolveSubscription(c.Query("sessionToken"))
	if err != nil {
		handleServiceError(c, err)
		return
	}

	sub, err := h.subscriptions.Subscribe(sessionID, &sseSink{w: c.Writer})
	if err != nil {
		handleServiceError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	log := h.logger.With(zap.String("session_id", sessionID), zap.String("subscriber_id", sub.ID))
	log.Debug("SSE stream opened")

	err = h.subscriptions.Serve(c.Request.Context(), sub)
	log.Debug("SSE stream closed", zap.Error(err))
}
