// Пакет config — загрузка и валидация конфигурации studydocs
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации studydocs.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория данных: uploads/ и fallback.json
	DataDir string
	// Путь к snapshot-файлу локального хранилища
	SnapshotFile string
	// Директория хранения payload-файлов
	UploadDir string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64
	// Допустимый MIME-тип payload
	AllowedMIME string

	// Параметры подключения к PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	// Таймаут установления соединения с PostgreSQL
	DBConnectTimeout time.Duration
	// Таймаут одиночного запроса к PostgreSQL
	DBQueryTimeout time.Duration

	// Интервал фоновых попыток переподключения к PostgreSQL
	ReconnectInterval time.Duration

	// Размер LRU-кэша payload (количество документов)
	CacheSize int
	// TTL записи в LRU-кэше payload
	CacheTTL time.Duration

	// URL JWKS endpoint для JWT-аутентификации admin endpoints (опционально)
	JWKSUrl string
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Имя сервиса (вершина графа topologymetrics)
	ServiceID string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// SD_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("SD_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("SD_PORT: %w", err)
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SD_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// SD_DATA_DIR — обязательный
	cfg.DataDir, err = getEnvRequired("SD_DATA_DIR")
	if err != nil {
		return nil, err
	}

	// SD_SNAPSHOT_FILE — путь к snapshot-файлу (по умолчанию <SD_DATA_DIR>/fallback.json)
	cfg.SnapshotFile = getEnvDefault("SD_SNAPSHOT_FILE", filepath.Join(cfg.DataDir, "fallback.json"))

	// SD_UPLOAD_DIR — директория payload-файлов (по умолчанию <SD_DATA_DIR>/uploads)
	cfg.UploadDir = getEnvDefault("SD_UPLOAD_DIR", filepath.Join(cfg.DataDir, "uploads"))

	// SD_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 10 MiB)
	maxFileSize, err := getEnvInt64("SD_MAX_FILE_SIZE", 10*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("SD_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("SD_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// SD_ALLOWED_MIME — допустимый MIME-тип payload (по умолчанию application/pdf)
	cfg.AllowedMIME = getEnvDefault("SD_ALLOWED_MIME", "application/pdf")

	// Параметры PostgreSQL. Host/user/name обязательны: без них невозможна
	// даже попытка подключения, и сервис работал бы только на fallback.
	cfg.DBHost, err = getEnvRequired("SD_DB_HOST")
	if err != nil {
		return nil, err
	}
	cfg.DBPort, err = getEnvInt("SD_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("SD_DB_PORT: %w", err)
	}
	cfg.DBUser, err = getEnvRequired("SD_DB_USER")
	if err != nil {
		return nil, err
	}
	cfg.DBPassword = getEnvDefault("SD_DB_PASSWORD", "")
	cfg.DBName, err = getEnvRequired("SD_DB_NAME")
	if err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("SD_DB_SSLMODE", "disable")

	// SD_DB_CONNECT_TIMEOUT — таймаут подключения (по умолчанию 5s)
	cfg.DBConnectTimeout, err = getEnvDuration("SD_DB_CONNECT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_DB_CONNECT_TIMEOUT: %w", err)
	}

	// SD_DB_QUERY_TIMEOUT — таймаут запроса (по умолчанию 3s)
	cfg.DBQueryTimeout, err = getEnvDuration("SD_DB_QUERY_TIMEOUT", 3*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_DB_QUERY_TIMEOUT: %w", err)
	}

	// SD_RECONNECT_INTERVAL — интервал фоновых переподключений (по умолчанию 30s)
	cfg.ReconnectInterval, err = getEnvDuration("SD_RECONNECT_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_RECONNECT_INTERVAL: %w", err)
	}

	// SD_CACHE_SIZE — размер LRU-кэша payload (по умолчанию 64)
	cfg.CacheSize, err = getEnvInt("SD_CACHE_SIZE", 64)
	if err != nil {
		return nil, fmt.Errorf("SD_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("SD_CACHE_SIZE: значение должно быть положительным")
	}

	// SD_CACHE_TTL — TTL кэша payload (по умолчанию 5m)
	cfg.CacheTTL, err = getEnvDuration("SD_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("SD_CACHE_TTL: %w", err)
	}

	// SD_JWKS_URL — опциональный: без него admin endpoints работают без аутентификации
	cfg.JWKSUrl = getEnvDefault("SD_JWKS_URL", "")

	// SD_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("SD_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// SD_JWKS_REFRESH_INTERVAL — интервал обновления JWKS-ключей (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("SD_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("SD_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// SD_JWT_LEEWAY — допустимое отклонение времени JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("SD_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_JWT_LEEWAY: %w", err)
	}

	// SD_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("SD_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// SD_DEPHEALTH_GROUP — имя группы в метриках topologymetrics
	cfg.DephealthGroup = getEnvDefault("SD_DEPHEALTH_GROUP", "studydocs")

	// SD_SERVICE_ID — имя вершины графа topologymetrics
	cfg.ServiceID = getEnvDefault("SD_SERVICE_ID", "studydocs")

	// SD_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("SD_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("SD_LOG_LEVEL: %w", err)
	}

	// SD_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("SD_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("SD_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// Таймауты HTTP-сервера
	cfg.HTTPReadTimeout, err = getEnvDuration("SD_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_HTTP_READ_TIMEOUT: %w", err)
	}
	cfg.HTTPWriteTimeout, err = getEnvDuration("SD_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_HTTP_WRITE_TIMEOUT: %w", err)
	}
	cfg.HTTPIdleTimeout, err = getEnvDuration("SD_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// SD_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("SD_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("SD_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// MigrateDSN возвращает URL подключения для golang-migrate (драйвер pgx5).
func (c *Config) MigrateDSN() string {
	return fmt.Sprintf(
		"pgx5://%s:%s@%s:%d/%s?sslmode=%s",
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

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 5m, 1h)", val)
	}
	return d, nil
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
