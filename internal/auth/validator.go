package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"storyteller-server/internal/domain"
)

// placeholderDiscordID записывается в пользователя, если внешний токен не проверяется.
const placeholderDiscordID = "dummy"

// Validator проверяет внешний токен (например, Discord) перед выдачей токена сессии.
type Validator interface {
	// Validate возвращает внешний идентификатор пользователя или ошибку,
	// обернутую в domain.ErrCredentialsRejected.
	Validate(ctx context.Context, externalToken string) (string, error)
}

// NoopValidator принимает любой токен.
type NoopValidator struct{}

// Validate всегда успешен.
func (NoopValidator) Validate(_ context.Context, _ string) (string, error) {
	return placeholderDiscordID, nil
}

// JWTValidator принимает внешний токен как HS256 JWT, подписанный общим секретом.
// Внешний идентификатор берется из claim "sub".
type JWTValidator struct {
	secret []byte
}

// NewJWTValidator создает валидатор. Пустой секрет недопустим.
func NewJWTValidator(secret string) (*JWTValidator, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("jwt validator: empty secret")
	}
	return &JWTValidator{secret: []byte(secret)}, nil
}

// Validate разбирает и проверяет токен.
func (v *JWTValidator) Validate(_ context.Context, externalToken string) (string, error) {
	if externalToken == "" {
		return "", fmt.Errorf("%w: missing token", domain.ErrCredentialsRejected)
	}

	token, err := jwt.Parse(externalToken, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCredentialsRejected, err)
	}

	subject, err := token.Claims.GetSubject()
	if err != nil || subject == "" {
		return "", fmt.Errorf("%w: token has no subject", domain.ErrCredentialsRejected)
	}
	return subject, nil
}
