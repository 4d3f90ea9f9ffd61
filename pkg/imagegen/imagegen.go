package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrImageGenerationFailed - ошибка при генерации изображения сервером.
	ErrImageGenerationFailed = errors.New("image generation failed")
	// ErrImageSaveFailed - ошибка при сохранении файла.
	ErrImageSaveFailed = errors.New("image save failed")
)

const defaultRatio = "16:9"

// Generator рисует иллюстрацию по описанию сцены и возвращает ее публичный URL.
type Generator interface {
	Generate(ctx context.Context, sceneDescription string) (string, error)
}

// Config - параметры клиента SANA-совместимого сервера.
type Config struct {
	ServerURL         string
	Timeout           time.Duration
	Ratio             string
	PromptStyleSuffix string
	SavePath          string
	PublicBaseURL     string
}

// SanaClient вызывает POST {ServerURL}/generate, сохраняет картинку в SavePath
// и отдает URL вида {PublicBaseURL}/{uuid}.jpg.
type SanaClient struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
	newName    func() string
}

// sanaAPIRequest - структура запроса к SANA API.
type sanaAPIRequest struct {
	Prompt string `json:"prompt"`
	Ratio  string `json:"ratio"`
}

// New создает клиент. Директория SavePath создается при необходимости.
func New(cfg Config, logger *zap.Logger) (*SanaClient, error) {
	if cfg.ServerURL == "" {
		return nil, errors.New("image server URL (IMAGE_SERVER_URL) is not configured")
	}
	if cfg.SavePath == "" {
		return nil, errors.New("image save path (IMAGE_SAVE_PATH) is not configured")
	}
	if cfg.PublicBaseURL == "" {
		return nil, errors.New("image public base URL (IMAGE_PUBLIC_BASE_URL) is not configured")
	}
	if cfg.Ratio == "" {
		cfg.Ratio = defaultRatio
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if err := os.MkdirAll(cfg.SavePath, 0o755); err != nil {
		return nil, fmt.Errorf("create image save path %s: %w", cfg.SavePath, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &SanaClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
		newName:    uuid.NewString,
	}, nil
}

// Generate генерирует и сохраняет изображение.
func (c *SanaClient) Generate(ctx context.Context, sceneDescription string) (string, error) {
	if strings.TrimSpace(sceneDescription) == "" {
		return "", fmt.Errorf("%w: empty scene description", ErrImageGenerationFailed)
	}

	fileName := c.newName() + ".jpg"
	log := c.logger.With(zap.String("file", fileName))
	log.Info("Generating scene image...")

	imageData, err := c.callSanaAPI(ctx, sceneDescription+c.cfg.PromptStyleSuffix)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	if len(imageData) == 0 {
		return "", fmt.Errorf("%w: API returned empty data", ErrImageGenerationFailed)
	}

	filePath := filepath.Join(c.cfg.SavePath, fileName)
	if err := os.WriteFile(filePath, imageData, 0o644); err != nil {
		log.Error("Failed to save image to file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrImageSaveFailed, err)
	}

	imageURL := strings.TrimSuffix(c.cfg.PublicBaseURL, "/") + "/" + fileName
	log.Info("Scene image saved", zap.String("url", imageURL), zap.Int("size_bytes", len(imageData)))
	return imageURL, nil
}

func (c *SanaClient) callSanaAPI(ctx context.Context, prompt string) ([]byte, error) {
	reqBodyBytes, err := json.Marshal(sanaAPIRequest{Prompt: prompt, Ratio: c.cfg.Ratio})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request payload: %w", err)
	}

	endpointURL := strings.TrimSuffix(c.cfg.ServerURL, "/") + "/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "image/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		c.logger.Error("SANA API returned non-OK status",
			zap.Int("status_code", resp.StatusCode),
			zap.ByteString("response_body", bodyBytes),
		)
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return bodyBytes, nil
}
