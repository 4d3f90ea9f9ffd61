package domain

import "errors"

// Ошибки уровня приложения
var (
	// Сессии и участники
	ErrInvalidSession  = errors.New("invalid session")   // Неизвестный токен сессии
	ErrSessionNotFound = errors.New("session not found") // Никто еще не вызвал /join
	ErrNoActiveTurn    = errors.New("no generation in progress for this session")

	// Генерация
	ErrGenerationInProgress = errors.New("AI is generating, please wait")
	ErrGenerationFailed     = errors.New("story generation failed")

	// Запросы и учетные данные
	ErrInvalidInput        = errors.New("invalid input data")
	ErrCredentialsRejected = errors.New("credentials rejected")
)

// Коды ошибок в теле HTTP ответа
const (
	ErrCodeBadRequest           = "BAD_REQUEST"
	ErrCodeInvalidSession       = "INVALID_SESSION"
	ErrCodeSessionNotFound      = "SESSION_NOT_FOUND"
	ErrCodeGenerationInProgress = "GENERATION_IN_PROGRESS"
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeUnavailable          = "UNAVAILABLE"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// ErrorResponse - стандартное тело ответа об ошибке.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
