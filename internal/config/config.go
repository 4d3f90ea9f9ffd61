package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"storyteller-server/shared/utils"
)

// Config содержит конфигурацию приложения
type Config struct {
	Env         string `envconfig:"ENV" default:"development"`
	Port        string `envconfig:"PORT" default:"3000"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	HeartbeatInterval        time.Duration `envconfig:"HEARTBEAT_INTERVAL" default:"15s"`
	SubscriberBuffer         int           `envconfig:"SUBSCRIBER_BUFFER" default:"64"`
	GenerationTimeout        time.Duration `envconfig:"GENERATION_TIMEOUT" default:"60s"`
	MaxContributionLength    int           `envconfig:"MAX_CONTRIBUTION_LENGTH" default:"2000"`
	MaxConcurrentGenerations int           `envconfig:"MAX_CONCURRENT_GENERATIONS" default:"16"`
	ShutdownTimeout          time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`

	AI       AIConfig       `envconfig:"AI"`
	Image    ImageConfig    `envconfig:"IMAGE"`
	Auth     AuthConfig     `envconfig:"AUTH"`
	RabbitMQ RabbitMQConfig `envconfig:"RABBITMQ"`
}

// AIConfig - генератор продолжений (AI_*).
type AIConfig struct {
	Provider         string        `envconfig:"PROVIDER" default:"echo"` // openai | ollama | echo
	APIKey           string        `envconfig:"API_KEY"`                 // Секрет ai_api_key имеет приоритет
	BaseURL          string        `envconfig:"BASE_URL"`
	Model            string        `envconfig:"MODEL"`
	MaxAttempts      int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	MaxTokens        int           `envconfig:"MAX_TOKENS" default:"300"`
	Temperature      float64       `envconfig:"TEMPERATURE" default:"0.8"`
	ContextTokens    int           `envconfig:"CONTEXT_TOKENS" default:"0"` // 0 - без обрезки лога
	SystemPromptFile string        `envconfig:"SYSTEM_PROMPT_FILE"`
	Timeout          time.Duration `envconfig:"TIMEOUT" default:"60s"`
}

// ImageConfig - генератор иллюстраций (IMAGE_*). Пустой ServerURL отключает картинки.
type ImageConfig struct {
	ServerURL         string        `envconfig:"SERVER_URL"`
	Timeout           time.Duration `envconfig:"TIMEOUT" default:"60s"`
	Ratio             string        `envconfig:"RATIO" default:"16:9"`
	PromptStyleSuffix string        `envconfig:"PROMPT_STYLE_SUFFIX"`
	SavePath          string        `envconfig:"SAVE_PATH" default:"./data/images"`
	PublicBaseURL     string        `envconfig:"PUBLIC_BASE_URL" default:"/images"`
}

// Enabled сообщает, настроен ли сервер изображений.
func (c ImageConfig) Enabled() bool {
	return c.ServerURL != ""
}

// AuthConfig - проверка внешнего токена (AUTH_*). Пустой секрет - проверка отключена.
type AuthConfig struct {
	JWTSecret string `envconfig:"JWT_SECRET"`
}

// RabbitMQConfig - зеркалирование событий (RABBITMQ_*). Пустой URL отключает зеркало.
type RabbitMQConfig struct {
	URL             string        `envconfig:"URL"`
	Exchange        string        `envconfig:"EXCHANGE" default:"story_events"`
	ConnectAttempts int           `envconfig:"CONNECT_ATTEMPTS" default:"5"`
	ConnectDelay    time.Duration `envconfig:"CONNECT_DELAY" default:"5s"`
	QueueSize       int           `envconfig:"QUEUE_SIZE" default:"256"`
}

// IsProduction сообщает, запущен ли сервис в production окружении.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadConfig загружает конфигурацию из .env (если есть), переменных окружения и секретов.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return load(utils.DefaultSecretsDir)
}

func load(secretsDir string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	var err error
	cfg.AI.APIKey, err = utils.SecretOrValue(secretsDir, "ai_api_key", cfg.AI.APIKey)
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWTSecret, err = utils.SecretOrValue(secretsDir, "jwt_secret", cfg.Auth.JWTSecret)
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT must not be empty"))
	}
	switch strings.ToLower(c.AI.Provider) {
	case "openai", "ollama", "echo":
	default:
		errs = append(errs, fmt.Errorf("AI_PROVIDER must be one of openai, ollama, echo; got %q", c.AI.Provider))
	}
	if strings.EqualFold(c.AI.Provider, "openai") && c.AI.APIKey == "" {
		errs = append(errs, errors.New("AI_API_KEY (or secret ai_api_key) is required for the openai provider"))
	}
	if c.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("HEARTBEAT_INTERVAL must be positive"))
	}
	if c.GenerationTimeout <= 0 {
		errs = append(errs, errors.New("GENERATION_TIMEOUT must be positive"))
	}
	if c.SubscriberBuffer <= 0 {
		errs = append(errs, errors.New("SUBSCRIBER_BUFFER must be positive"))
	}
	if c.MaxContributionLength <= 0 {
		errs = append(errs, errors.New("MAX_CONTRIBUTION_LENGTH must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
