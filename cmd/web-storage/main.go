// Точка входа web-storage — однопользовательского файлового хранилища.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/crypto/bcrypt"

	"github.com/Oberon01/web-storage/internal/api/handlers"
	"github.com/Oberon01/web-storage/internal/api/middleware"
	"github.com/Oberon01/web-storage/internal/config"
	"github.com/Oberon01/web-storage/internal/server"
	"github.com/Oberon01/web-storage/internal/service"
	"github.com/Oberon01/web-storage/internal/storage/filestore"
	"github.com/Oberon01/web-storage/internal/storage/metastore"
	"github.com/Oberon01/web-storage/internal/storage/pgstore"
	"github.com/Oberon01/web-storage/internal/storage/s3store"
	"github.com/Oberon01/web-storage/internal/storage/wal"
)

func main() {
	// web-storage hash-password <пароль> — bcrypt-хэш для WS_ADMIN_PASSWORD
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		os.Exit(hashPassword(os.Args[2:]))
	}

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger, flushLogs := config.SetupLogger(cfg)
	defer flushLogs()

	logger.Info("web-storage запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("metadata_backend", cfg.MetadataBackend),
		slog.String("blob_backend", cfg.BlobBackend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Ошибка работы сервиса", slog.String("error", err.Error()))
		flushLogs()
		os.Exit(1)
	}
	logger.Info("web-storage остановлен")
}

// run собирает компоненты и блокируется до завершения сервера.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// --- Инициализация компонентов ---

	// 1. Хранилище метаданных
	meta, closeMeta, err := openMetadataStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("хранилище метаданных: %w", err)
	}
	defer closeMeta()

	// 2. Хранилище blob-ов
	blobs, disk, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("хранилище blob-ов: %w", err)
	}

	// 3. Журнал транзакций
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("журнал транзакций: %w", err)
	}

	// 4. Ядро хранилища и восстановление после сбоя
	engine := service.NewEngine(meta, blobs, journal, cfg.IOTimeout, logger)

	res, err := engine.Recover(ctx)
	if err != nil {
		// Непрошедшие транзакции остаются в журнале до следующего старта
		logger.Error("Восстановление по журналу завершено с ошибками",
			slog.Int("failed", res.Failed),
			slog.String("error", err.Error()),
		)
	}
	engine.RefreshMetrics(ctx)

	// 5. Аутентификация
	h := server.Handlers{
		Files:  handlers.NewFilesHandler(engine, logger),
		System: handlers.NewSystemHandler(engine, disk, logger),
		Health: handlers.NewHealthHandler(engine, cfg.WALDir),
	}
	if err := setupAuth(ctx, cfg, logger, &h); err != nil {
		return err
	}

	// 6. HTTP-сервер
	return server.New(cfg, logger, h).Run(ctx)
}

// openMetadataStore открывает хранилище метаданных выбранного бэкенда.
// Возвращаемая функция освобождает ресурсы.
func openMetadataStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.MetadataStore, func(), error) {
	if cfg.MetadataBackend != config.BackendPostgres {
		store, err := metastore.Open(cfg.DataDir, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("Метаданные в JSON-документе", slog.String("path", store.Path()))
		return store, func() {}, nil
	}

	dbCfg := pgstore.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		SSLMode:  cfg.DBSSLMode,
	}
	if err := pgstore.Migrate(dbCfg, logger); err != nil {
		return nil, nil, err
	}
	pool, err := pgstore.Connect(ctx, dbCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return pgstore.New(pool, logger), pool.Close, nil
}

// openBlobStore открывает хранилище blob-ов выбранного бэкенда.
// Для локального бэкенда дополнительно возвращается источник занятости диска.
func openBlobStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (service.BlobStore, handlers.DiskUsageProvider, error) {
	if cfg.BlobBackend != config.BackendS3 {
		store := filestore.New(cfg.UploadDir)
		logger.Info("Blob-ы на локальном диске", slog.String("root", store.Root()))
		return store, store, nil
	}

	store, err := s3store.New(ctx, s3store.Config{
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Endpoint:  cfg.S3Endpoint,
		Timeout:   cfg.IOTimeout,
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return store, nil, nil
}

// setupAuth настраивает проверку токенов и вход администратора.
func setupAuth(ctx context.Context, cfg *config.Config, logger *slog.Logger, h *server.Handlers) error {
	if !cfg.AuthEnabled() {
		logger.Warn("Аутентификация отключена: не заданы WS_JWT_SECRET и WS_JWKS_URL, API доступен без токена")
		return nil
	}

	auth, err := middleware.NewJWTAuth(ctx, middleware.JWTAuthConfig{
		Secret:          cfg.JWTSecret,
		JWKSURL:         cfg.JWKSURL,
		ClientTimeout:   cfg.IOTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		return fmt.Errorf("аутентификация: %w", err)
	}
	h.RequireAuth = auth.Middleware()

	// Вход доступен, только если сервис сам выпускает токены
	switch {
	case cfg.JWKSURL != "":
		logger.Info("Токены проверяются по JWKS, вход администратора отключён",
			slog.String("jwks_url", cfg.JWKSURL),
		)
	case cfg.AdminPassword == "":
		logger.Warn("WS_ADMIN_PASSWORD не задан, вход администратора отключён")
	default:
		if !handlers.IsBcryptHash(cfg.AdminPassword) {
			logger.Warn("WS_ADMIN_PASSWORD задан открытым текстом, используйте web-storage hash-password")
		}
		issuer := middleware.NewTokenIssuer([]byte(cfg.JWTSecret), cfg.JWTTTL)
		h.Auth = handlers.NewAuthHandler(cfg.AdminUsername, cfg.AdminPassword, issuer, logger)
	}
	return nil
}

// hashPassword печатает bcrypt-хэш пароля. Возвращает код завершения.
func hashPassword(args []string) int {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(os.Stderr, "Использование: web-storage hash-password <пароль>")
		return 2
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка хэширования: %v\n", err)
		return 1
	}
	fmt.Printf("WS_ADMIN_PASSWORD=%s\n", hash)
	return 0
}
