package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"storyteller-server/internal/broadcast"
	"storyteller-server/internal/domain"
)

func handleServiceError(c *gin.Context, err error) {
	var statusCode int
	var errResp domain.ErrorResponse

	switch {
	case errors.Is(err, domain.ErrInvalidSession):
		statusCode = http.StatusUnauthorized
		errResp = domain.ErrorResponse{Code: domain.ErrCodeInvalidSession, Error: "Invalid session"}
	case errors.Is(err, domain.ErrSessionNotFound):
		statusCode = http.StatusNotFound
		errResp = domain.ErrorResponse{Code: domain.ErrCodeSessionNotFound, Error: "Session not found"}
	case errors.Is(err, domain.ErrGenerationInProgress):
		statusCode = http.StatusForbidden
		errResp = domain.ErrorResponse{Code: domain.ErrCodeGenerationInProgress, Error: domain.ErrGenerationInProgress.Error()}
	case errors.Is(err, domain.ErrInvalidInput):
		statusCode = http.StatusBadRequest
		errResp = domain.ErrorResponse{Code: domain.ErrCodeBadRequest, Error: err.Error()}
	case errors.Is(err, domain.ErrCredentialsRejected):
		statusCode = http.StatusUnauthorized
		errResp = domain.ErrorResponse{Code: domain.ErrCodeUnauthorized, Error: "Credentials rejected"}
	case errors.Is(err, broadcast.ErrClosed):
		statusCode = http.StatusServiceUnavailable
		errResp = domain.ErrorResponse{Code: domain.ErrCodeUnavailable, Error: "Server is shutting down"}
	default:
		zap.L().Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = domain.ErrorResponse{Code: domain.ErrCodeInternal, Error: "An unexpected internal error occurred"}
	}

	c.AbortWithStatusJSON(statusCode, errResp)
}
