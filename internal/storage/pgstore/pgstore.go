// Пакет pgstore — хранилище метаданных в PostgreSQL.
// Альтернатива JSON-документу для WS_METADATA_BACKEND=postgres:
// таблица files, схема применяется встроенными миграциями (golang-migrate),
// запросы — чистый SQL через pgx.
package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Oberon01/web-storage/internal/domain/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config — параметры подключения к PostgreSQL.
type Config struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// url формирует URL подключения с указанной схемой.
func (c Config) url(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + strconv.Itoa(c.Port),
		Path:     "/" + c.Name,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}

// DSN возвращает строку подключения для pgxpool.
func (c Config) DSN() string {
	return c.url("postgres")
}

// Connect создаёт пул подключений к PostgreSQL.
// Выполняет ping для проверки доступности.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("ошибка парсинга DSN: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула подключений: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка подключения к PostgreSQL: %w", err)
	}

	logger.Info("Подключение к PostgreSQL установлено",
		slog.String("host", cfg.Host),
		slog.Int("port", cfg.Port),
		slog.String("database", cfg.Name),
	)
	return pool, nil
}

// Migrate применяет SQL-миграции из embedded FS (драйвер pgx5).
func Migrate(cfg Config, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, cfg.url("pgx5"))
	if err != nil {
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}

// Store — хранилище метаданных в таблице files.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New создаёт хранилище поверх пула подключений.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	return &Store{
		pool:   pool,
		logger: logger.With(slog.String("component", "pgstore")),
	}
}

const selectColumns = `id, name, type, category, size, upload_date, path, checksum`

// List возвращает все записи в порядке вставки.
func (s *Store) List(ctx context.Context) ([]model.FileRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectColumns+` FROM files ORDER BY seq`)
	if err != nil {
		return nil, mapErr("получение списка файлов", err)
	}
	defer rows.Close()

	result := make([]model.FileRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, mapErr("сканирование записи", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr("чтение списка файлов", err)
	}
	return result, nil
}

// Get возвращает запись по id.
func (s *Store) Get(ctx context.Context, id string) (model.FileRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM files WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.FileRecord{}, fmt.Errorf("%w: запись %s", model.ErrNotFound, id)
		}
		return model.FileRecord{}, mapErr("получение записи", err)
	}
	return rec, nil
}

// Insert добавляет запись. Повторяющийся id — ErrConflict.
func (s *Store) Insert(ctx context.Context, rec model.FileRecord) error {
	rec.Normalize()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO files (id, name, type, category, size, upload_date, path, checksum)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, rec.Name, string(rec.Type), string(rec.Category),
		rec.Size, rec.UploadDate, rec.Path, rec.Checksum,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: запись %s", model.ErrConflict, rec.ID)
		}
		return mapErr("вставка записи", err)
	}
	return nil
}

// Remove удаляет запись по id. Отсутствующий id — ErrNotFound.
func (s *Store) Remove(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id)
	if err != nil {
		return mapErr("удаление записи", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: запись %s", model.ErrNotFound, id)
	}
	return nil
}

// Ready проверяет подключение к PostgreSQL.
func (s *Store) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx) == nil
}

// scanRecord читает строку в FileRecord. Категория пересчитывается из типа.
func scanRecord(row pgx.Row) (model.FileRecord, error) {
	var (
		rec     model.FileRecord
		ft, cat string
	)
	if err := row.Scan(&rec.ID, &rec.Name, &ft, &cat, &rec.Size, &rec.UploadDate, &rec.Path, &rec.Checksum); err != nil {
		return model.FileRecord{}, err
	}
	rec.Type = model.FileType(ft)
	rec.Category = model.Category(cat)
	rec.UploadDate = rec.UploadDate.UTC()
	rec.Normalize()
	return rec, nil
}

// isUniqueViolation проверяет, является ли ошибка нарушением уникальности PostgreSQL.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// mapErr сопоставляет ошибку драйвера виду ошибки хранилища.
func mapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", model.ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", model.ErrIO, op, err)
}
