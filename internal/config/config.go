// Пакет config — загрузка и валидация конфигурации web-storage
// из переменных окружения (и необязательного .env файла).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	slogmulti "github.com/samber/slog-multi"
	slogsentry "github.com/samber/slog-sentry/v2"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Бэкенды хранилищ.
const (
	BackendJSON     = "json"
	BackendPostgres = "postgres"
	BackendLocal    = "local"
	BackendS3       = "s3"
)

// Config содержит все параметры конфигурации web-storage.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Директория документа метаданных (files.json)
	DataDir string
	// Корень хранилища blob-ов (локальный бэкенд)
	UploadDir string
	// Директория журнала транзакций
	WALDir string

	// Бэкенд метаданных: json или postgres
	MetadataBackend string
	// Параметры PostgreSQL (только для postgres)
	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string

	// Бэкенд blob-ов: local или s3
	BlobBackend string
	// Параметры S3 (только для s3)
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	// Ограничение времени одной операции хранилища
	IOTimeout time.Duration

	// Учётные данные администратора. Пароль — открытый текст или bcrypt-хэш
	AdminUsername string
	AdminPassword string
	// Секрет подписи HS256 и время жизни выпускаемых токенов
	JWTSecret string
	JWTTTL    time.Duration
	// URL JWKS endpoint (альтернатива секрету, RS256)
	JWKSURL string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration

	// Путь к TLS сертификату (опционально)
	TLSCert string
	// Путь к TLS приватному ключу (опционально)
	TLSKey string

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// DSN Sentry; пусто — отправка ошибок отключена
	SentryDSN string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// AuthEnabled сообщает, настроена ли проверка токенов.
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != "" || c.JWKSURL != ""
}

// Load загружает конфигурацию из переменных окружения, валидирует
// поля и возвращает Config или ошибку.
//
// Перед чтением переменных загружается .env файл (WS_ENV_FILE, по умолчанию
// ".env"), если он существует. Уже заданные переменные окружения не
// перезаписываются.
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvDefault("WS_ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// WS_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("WS_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("WS_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("WS_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	cfg.DataDir = getEnvDefault("WS_DATA_DIR", "data")
	cfg.UploadDir = getEnvDefault("WS_UPLOAD_DIR", filepath.Join("public", "uploads"))
	cfg.WALDir = getEnvDefault("WS_WAL_DIR", filepath.Join(cfg.DataDir, "wal"))

	// WS_METADATA_BACKEND — json (по умолчанию) или postgres
	cfg.MetadataBackend = strings.ToLower(getEnvDefault("WS_METADATA_BACKEND", BackendJSON))
	switch cfg.MetadataBackend {
	case BackendJSON:
	case BackendPostgres:
		if err := cfg.loadPostgres(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("WS_METADATA_BACKEND: недопустимое значение %q, допустимые: json, postgres", cfg.MetadataBackend)
	}

	// WS_BLOB_BACKEND — local (по умолчанию) или s3
	cfg.BlobBackend = strings.ToLower(getEnvDefault("WS_BLOB_BACKEND", BackendLocal))
	switch cfg.BlobBackend {
	case BackendLocal:
	case BackendS3:
		if err := cfg.loadS3(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("WS_BLOB_BACKEND: недопустимое значение %q, допустимые: local, s3", cfg.BlobBackend)
	}

	// WS_IO_TIMEOUT — ограничение одной операции (по умолчанию 30s)
	cfg.IOTimeout, err = getEnvDuration("WS_IO_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WS_IO_TIMEOUT: %w", err)
	}
	if cfg.IOTimeout < 0 {
		return nil, fmt.Errorf("WS_IO_TIMEOUT: значение не может быть отрицательным")
	}

	if err := cfg.loadAuth(); err != nil {
		return nil, err
	}

	// TLS — оба параметра или ни одного
	cfg.TLSCert = getEnvDefault("WS_TLS_CERT", "")
	cfg.TLSKey = getEnvDefault("WS_TLS_KEY", "")
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return nil, fmt.Errorf("WS_TLS_CERT и WS_TLS_KEY задаются только вместе")
	}

	// WS_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("WS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("WS_LOG_LEVEL: %w", err)
	}

	// WS_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("WS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("WS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.SentryDSN = getEnvDefault("WS_SENTRY_DSN", "")

	// WS_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 10s)
	cfg.ShutdownTimeout, err = getEnvDuration("WS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("WS_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// loadPostgres читает параметры подключения к PostgreSQL.
func (c *Config) loadPostgres() error {
	var err error

	c.DBHost, err = getEnvRequired("WS_DB_HOST")
	if err != nil {
		return err
	}
	c.DBPort, err = getEnvInt("WS_DB_PORT", 5432)
	if err != nil {
		return fmt.Errorf("WS_DB_PORT: %w", err)
	}
	c.DBName, err = getEnvRequired("WS_DB_NAME")
	if err != nil {
		return err
	}
	c.DBUser, err = getEnvRequired("WS_DB_USER")
	if err != nil {
		return err
	}
	c.DBPassword = getEnvDefault("WS_DB_PASSWORD", "")

	c.DBSSLMode = getEnvDefault("WS_DB_SSLMODE", "disable")
	switch c.DBSSLMode {
	case "disable", "require", "verify-ca", "verify-full":
	default:
		return fmt.Errorf("WS_DB_SSLMODE: недопустимое значение %q", c.DBSSLMode)
	}
	return nil
}

// loadS3 читает параметры S3-совместимого хранилища.
func (c *Config) loadS3() error {
	var err error

	c.S3Bucket, err = getEnvRequired("WS_S3_BUCKET")
	if err != nil {
		return err
	}
	c.S3Region = getEnvDefault("WS_S3_REGION", "us-east-1")
	c.S3Endpoint = getEnvDefault("WS_S3_ENDPOINT", "")
	c.S3AccessKey = getEnvDefault("WS_S3_ACCESS_KEY", "")
	c.S3SecretKey = getEnvDefault("WS_S3_SECRET_KEY", "")
	if (c.S3AccessKey == "") != (c.S3SecretKey == "") {
		return fmt.Errorf("WS_S3_ACCESS_KEY и WS_S3_SECRET_KEY задаются только вместе")
	}
	return nil
}

// loadAuth читает параметры аутентификации.
func (c *Config) loadAuth() error {
	var err error

	c.AdminUsername = getEnvDefault("WS_ADMIN_USERNAME", "admin")
	c.AdminPassword = getEnvDefault("WS_ADMIN_PASSWORD", "")
	c.JWTSecret = getEnvDefault("WS_JWT_SECRET", "")
	c.JWKSURL = getEnvDefault("WS_JWKS_URL", "")

	if c.JWTSecret != "" && len(c.JWTSecret) < 16 {
		return fmt.Errorf("WS_JWT_SECRET: длина секрета должна быть не меньше 16 символов")
	}

	c.JWTTTL, err = getEnvDuration("WS_JWT_TTL", 24*time.Hour)
	if err != nil {
		return fmt.Errorf("WS_JWT_TTL: %w", err)
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("WS_JWT_TTL: значение должно быть положительным")
	}

	c.JWKSRefreshInterval, err = getEnvDuration("WS_JWKS_REFRESH_INTERVAL", 15*time.Minute)
	if err != nil {
		return fmt.Errorf("WS_JWKS_REFRESH_INTERVAL: %w", err)
	}

	c.JWTLeeway, err = getEnvDuration("WS_JWT_LEEWAY", 5*time.Second)
	if err != nil {
		return fmt.Errorf("WS_JWT_LEEWAY: %w", err)
	}
	return nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
// При заданном WS_SENTRY_DSN записи уровня ERROR дополнительно
// отправляются в Sentry. Возвращаемая функция сбрасывает буфер Sentry,
// её нужно вызвать перед завершением процесса.
func SetupLogger(cfg *Config) (*slog.Logger, func()) {
	return setupLogger(cfg, os.Stdout)
}

func setupLogger(cfg *Config, w io.Writer) (*slog.Logger, func()) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	flush := func() {}
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.SentryDSN,
			Release: Version,
		})
		if err != nil {
			slog.New(handler).Warn("Sentry не инициализирован, отправка ошибок отключена",
				slog.String("error", err.Error()),
			)
		} else {
			handler = slogmulti.Fanout(
				handler,
				slogsentry.Option{Level: slog.LevelError}.NewSentryHandler(),
			)
			flush = func() { sentry.Flush(2 * time.Second) }
		}
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, flush
}

// --- Вспомогательные функции ---

// loadDotEnv загружает переменные из .env файла. Отсутствие файла не ошибка.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("загрузка %s: %w", path, err)
	}
	return nil
}

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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
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
