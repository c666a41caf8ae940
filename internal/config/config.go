// Пакет config — загрузка и валидация конфигурации Data Import Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Data Import Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	// Таймаут чтения HTTP-сервера (по умолчанию 30s)
	HTTPReadTimeout time.Duration
	// Таймаут записи HTTP-сервера (по умолчанию 60s)
	HTTPWriteTimeout time.Duration
	// Таймаут простоя HTTP-сервера (по умолчанию 120s)
	HTTPIdleTimeout time.Duration
	// Таймаут graceful shutdown (по умолчанию 10s)
	ShutdownTimeout time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// --- Пайплайн обработки ---

	// Количество воркеров фоновой обработки
	Workers int
	// Ёмкость очереди заданий; при переполнении upload получает 429
	QueueCapacity int
	// Бюджет времени на одно задание; по истечении импорт помечается failed
	JobTimeout time.Duration
	// Максимальный размер загружаемого файла в байтах
	MaxUploadSize int64
	// Размер чанка батч-записи (число записей в одной транзакции)
	ChunkSize int

	// --- Эмбеддинги ---

	// Включена ли генерация эмбеддингов
	EmbeddingsEnabled bool
	// URL OpenAI-совместимого embedding API
	EmbeddingHost string
	// Имя модели эмбеддингов
	EmbeddingModel string
	// Размер батча текстов на один вызов embedding API
	EmbedBatchSize int
	// Число попыток на батч до деградации (записи сохраняются без вектора)
	EmbedMaxAttempts int

	// --- Валидация ---

	// Строгая политика для поля age: true — некорректный возраст
	// делает запись invalid, false — приводится к 0 с предупреждением
	StrictAge bool

	// --- Query Service ---

	// Максимальный размер страницы (запрошенные значения обрезаются)
	MaxPageSize int
	// Размер страницы по умолчанию
	DefaultPageSize int
	// Размер LRU-кэша терминальных импортов
	CacheSize int
	// TTL записи кэша
	CacheTTL time.Duration
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// DI_PORT — порт HTTP-сервера (по умолчанию 8040)
	cfg.Port, err = getEnvInt("DI_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("DI_PORT: %w", err)
	}

	// DI_LOG_LEVEL — уровень логирования (по умолчанию info)
	logLevel := getEnvDefault("DI_LOG_LEVEL", "info")
	cfg.LogLevel, err = parseLogLevel(logLevel)
	if err != nil {
		return nil, fmt.Errorf("DI_LOG_LEVEL: %w", err)
	}

	// DI_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("DI_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("DI_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- HTTP Server Timeouts ---

	cfg.HTTPReadTimeout, err = getEnvDuration("DI_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DI_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("DI_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DI_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("DI_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DI_HTTP_IDLE_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout, err = getEnvDuration("DI_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("DI_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	cfg.DBHost = getEnvDefault("DI_DB_HOST", "localhost")
	cfg.DBPort, err = getEnvInt("DI_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("DI_DB_PORT: %w", err)
	}
	cfg.DBName = getEnvDefault("DI_DB_NAME", "dataimport")
	cfg.DBUser, err = getEnvRequired("DI_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword, err = getEnvRequired("DI_DB_PASSWORD")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("DI_DB_SSL_MODE", "disable")

	// --- Пайплайн обработки ---

	cfg.Workers, err = getEnvInt("DI_WORKERS", 4)
	if err != nil {
		return nil, fmt.Errorf("DI_WORKERS: %w", err)
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("DI_WORKERS: значение должно быть >= 1")
	}

	cfg.QueueCapacity, err = getEnvInt("DI_QUEUE_CAPACITY", 64)
	if err != nil {
		return nil, fmt.Errorf("DI_QUEUE_CAPACITY: %w", err)
	}
	if cfg.QueueCapacity < 1 {
		return nil, fmt.Errorf("DI_QUEUE_CAPACITY: значение должно быть >= 1")
	}

	cfg.JobTimeout, err = getEnvDuration("DI_JOB_TIMEOUT", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DI_JOB_TIMEOUT: %w", err)
	}

	maxUpload, err := getEnvInt("DI_MAX_UPLOAD_SIZE", 32<<20)
	if err != nil {
		return nil, fmt.Errorf("DI_MAX_UPLOAD_SIZE: %w", err)
	}
	cfg.MaxUploadSize = int64(maxUpload)

	cfg.ChunkSize, err = getEnvInt("DI_CHUNK_SIZE", 500)
	if err != nil {
		return nil, fmt.Errorf("DI_CHUNK_SIZE: %w", err)
	}
	if cfg.ChunkSize < 1 {
		return nil, fmt.Errorf("DI_CHUNK_SIZE: значение должно быть >= 1")
	}

	// --- Эмбеддинги ---

	cfg.EmbeddingsEnabled, err = getEnvBool("DI_EMBEDDINGS_ENABLED", false)
	if err != nil {
		return nil, fmt.Errorf("DI_EMBEDDINGS_ENABLED: %w", err)
	}
	cfg.EmbeddingHost = getEnvDefault("DI_EMBEDDING_HOST", "")
	cfg.EmbeddingModel = getEnvDefault("DI_EMBEDDING_MODEL", "")
	if cfg.EmbeddingsEnabled {
		if cfg.EmbeddingHost == "" {
			return nil, fmt.Errorf("DI_EMBEDDING_HOST: обязательна при DI_EMBEDDINGS_ENABLED=true")
		}
		if cfg.EmbeddingModel == "" {
			return nil, fmt.Errorf("DI_EMBEDDING_MODEL: обязательна при DI_EMBEDDINGS_ENABLED=true")
		}
	}

	cfg.EmbedBatchSize, err = getEnvInt("DI_EMBED_BATCH_SIZE", 32)
	if err != nil {
		return nil, fmt.Errorf("DI_EMBED_BATCH_SIZE: %w", err)
	}
	if cfg.EmbedBatchSize < 1 {
		return nil, fmt.Errorf("DI_EMBED_BATCH_SIZE: значение должно быть >= 1")
	}

	cfg.EmbedMaxAttempts, err = getEnvInt("DI_EMBED_MAX_ATTEMPTS", 2)
	if err != nil {
		return nil, fmt.Errorf("DI_EMBED_MAX_ATTEMPTS: %w", err)
	}
	if cfg.EmbedMaxAttempts < 1 {
		return nil, fmt.Errorf("DI_EMBED_MAX_ATTEMPTS: значение должно быть >= 1")
	}

	// --- Валидация ---

	cfg.StrictAge, err = getEnvBool("DI_STRICT_AGE", false)
	if err != nil {
		return nil, fmt.Errorf("DI_STRICT_AGE: %w", err)
	}

	// --- Query Service ---

	cfg.MaxPageSize, err = getEnvInt("DI_MAX_PAGE_SIZE", 200)
	if err != nil {
		return nil, fmt.Errorf("DI_MAX_PAGE_SIZE: %w", err)
	}
	if cfg.MaxPageSize < 1 {
		return nil, fmt.Errorf("DI_MAX_PAGE_SIZE: значение должно быть >= 1")
	}
	cfg.DefaultPageSize, err = getEnvInt("DI_DEFAULT_PAGE_SIZE", 50)
	if err != nil {
		return nil, fmt.Errorf("DI_DEFAULT_PAGE_SIZE: %w", err)
	}
	if cfg.DefaultPageSize < 1 {
		return nil, fmt.Errorf("DI_DEFAULT_PAGE_SIZE: значение должно быть >= 1")
	}
	if cfg.DefaultPageSize > cfg.MaxPageSize {
		cfg.DefaultPageSize = cfg.MaxPageSize
	}

	cfg.CacheSize, err = getEnvInt("DI_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("DI_CACHE_SIZE: %w", err)
	}
	cfg.CacheTTL, err = getEnvDuration("DI_CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("DI_CACHE_TTL: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
