// Пакет server — HTTP-сервер web-storage с TLS и graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/Oberon01/web-storage/internal/api/handlers"
	"github.com/Oberon01/web-storage/internal/api/middleware"
	"github.com/Oberon01/web-storage/internal/config"
)

// Handlers — набор обработчиков, монтируемых в роутер.
type Handlers struct {
	Files  *handlers.FilesHandler
	System *handlers.SystemHandler
	Health *handlers.HealthHandler
	// Auth — вход администратора; nil — endpoint не монтируется
	Auth *handlers.AuthHandler
	// RequireAuth — middleware проверки токена; nil — API без аутентификации
	RequireAuth func(http.Handler) http.Handler
}

// Server — HTTP-сервер web-storage.
type Server struct {
	httpServer      *http.Server
	logger          *slog.Logger
	tlsCert, tlsKey string
	shutdownTimeout time.Duration
}

// NewRouter создаёт chi-роутер со всеми маршрутами и middleware.
//
// Публичные: /health/live, /health/ready, /metrics, POST /api/v1/auth/login.
// Защищённые (при заданном RequireAuth): /api/v1/files*, /api/v1/stats.
func NewRouter(logger *slog.Logger, h Handlers) http.Handler {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", h.Health.HealthLive)
	router.Get("/health/ready", h.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		if h.Auth != nil {
			r.Post("/auth/login", h.Auth.Login)
		}

		r.Group(func(r chi.Router) {
			if h.RequireAuth != nil {
				r.Use(h.RequireAuth)
			}

			r.Get("/stats", h.System.GetStats)

			r.Route("/files", func(r chi.Router) {
				r.Get("/", h.Files.ListFiles)
				r.Post("/upload", h.Files.UploadFile)
				r.Get("/{id}", h.Files.GetFileMetadata)
				r.Get("/{id}/content", h.Files.FileContent)
				r.Delete("/{id}", h.Files.DeleteFile)
			})
		})
	})

	return router
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers) *Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           NewRouter(logger, h),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		// ReadTimeout/WriteTimeout не задаются: загрузка и отдача файлов
		// не ограничены по размеру и длительности.
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	// Настройка TLS
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		srv.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	return &Server{
		httpServer:      srv,
		logger:          logger.With(slog.String("component", "server")),
		tlsCert:         cfg.TLSCert,
		tlsKey:          cfg.TLSKey,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Run запускает сервер и ожидает отмены ctx (обычно по SIGINT/SIGTERM).
// После отмены выполняется graceful shutdown с таймаутом WS_SHUTDOWN_TIMEOUT.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
			slog.Bool("tls", s.tlsCert != ""),
		)

		var err error
		if s.tlsCert != "" {
			err = s.httpServer.ListenAndServeTLS(s.tlsCert, s.tlsKey)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
		defer cancel()

		s.logger.Info("Выполняется graceful shutdown...")
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("ошибка при graceful shutdown: %w", err)
		}
		s.logger.Info("HTTP-сервер остановлен")
		return nil
	})

	return g.Wait()
}
