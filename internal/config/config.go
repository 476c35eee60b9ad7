package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config содержит конфигурацию для Story Server
type Config struct {
	// Настройки сервера
	Port        string `envconfig:"SERVER_PORT" default:"8080"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	// CORS
	AllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`

	// Бэкенд объектного хранилища: redis | postgres | memory
	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"redis"`

	// Настройки Redis
	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	// Настройки PostgreSQL (используются при STORAGE_BACKEND=postgres)
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"story"`
	DBSSLMode  string `envconfig:"DB_SSL_MODE" default:"disable"`

	// Генерация изображений: gemini | openai
	GenerationBackend string        `envconfig:"GENERATION_BACKEND" default:"gemini"`
	GenerationAPIKey  string        `envconfig:"GENERATION_API_KEY"`
	GenerationModel   string        `envconfig:"GENERATION_MODEL" default:"gemini-2.5-flash-image-preview"`
	GenerationBaseURL string        `envconfig:"GENERATION_BASE_URL" default:"https://generativelanguage.googleapis.com/v1beta"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"120s"`

	// Настройки авторизации редактора
	JWTSecret         string        `envconfig:"JWT_SECRET" required:"true"`
	AdminPasswordHash string        `envconfig:"ADMIN_PASSWORD_HASH" required:"true"` // bcrypt-хеш пароля редактора
	AdminTokenTTL     time.Duration `envconfig:"ADMIN_TOKEN_TTL" default:"12h"`

	// Настройки проигрывания
	StartNodeID     string        `envconfig:"START_NODE_ID" default:"opening_scene"`
	WordDelay       time.Duration `envconfig:"PLAYBACK_WORD_DELAY" default:"100ms"`
	ChunkPause      time.Duration `envconfig:"PLAYBACK_CHUNK_PAUSE" default:"350ms"`
	TransitionDelay time.Duration `envconfig:"PLAYBACK_TRANSITION_DELAY" default:"800ms"`
	FadeDelay       time.Duration `envconfig:"PLAYBACK_FADE_DELAY" default:"500ms"`
	FlashbackDelay  time.Duration `envconfig:"PLAYBACK_FLASHBACK_DELAY" default:"800ms"`
	AspectRatio     string        `envconfig:"PLAYBACK_ASPECT_RATIO" default:"landscape"`
	ContextStrategy string        `envconfig:"PLAYBACK_CONTEXT_STRATEGY" default:"locationMaster"`
	PreloadLimit    int           `envconfig:"PLAYBACK_PRELOAD_LIMIT" default:"4"`
}

// GetDSN возвращает строку подключения (DSN) для PostgreSQL
func (c *Config) GetDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}

// LoadConfig загружает конфигурацию из переменных окружения
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации story-server: %w", err)
	}
	return &cfg, nil
}
