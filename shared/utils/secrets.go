package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultSecretsDir - стандартный путь Docker Secrets.
const DefaultSecretsDir = "/run/secrets"

// ErrSecretNotFound - файла секрета нет.
var ErrSecretNotFound = errors.New("secret not found")

// ReadSecretFrom читает секрет dir/secretName. Отсутствующий файл - ErrSecretNotFound.
func ReadSecretFrom(dir, secretName string) (string, error) {
	filePath := filepath.Join(dir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, filePath)
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// SecretOrValue возвращает секрет из файла, если он есть, иначе fallback
// (обычно значение из переменной окружения).
func SecretOrValue(dir, secretName, fallback string) (string, error) {
	secret, err := ReadSecretFrom(dir, secretName)
	if err == nil {
		return secret, nil
	}
	if errors.Is(err, ErrSecretNotFound) {
		return fallback, nil
	}
	return "", err
}
