// Пакет s3store — хранилище blob-ов в S3-совместимом бакете
// (AWS S3, MinIO, Cloudflare R2 и т.п.) для WS_BLOB_BACKEND=s3.
//
// Каждый вызов ограничен таймаутом; истечение → model.ErrTimeout.
// Локатор — ключ объекта, генерируется так же, как для локального хранилища.
package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Oberon01/web-storage/internal/domain/model"
	"github.com/Oberon01/web-storage/internal/storage/filestore"
)

// defaultTimeout — таймаут вызова, если в конфигурации не задан.
const defaultTimeout = 30 * time.Second

// Config — параметры подключения к S3.
type Config struct {
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	// Endpoint — для S3-совместимых сервисов (MinIO и т.п.), включает path-style
	Endpoint string
	// Timeout — ограничение на один вызов S3
	Timeout time.Duration
}

// Store — blob-хранилище в бакете S3.
type Store struct {
	client  *s3.Client
	bucket  string
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// New создаёт клиента S3 и проверяет бакет, создавая его при отсутствии.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки конфигурации AWS: %w", err)
	}

	var client *s3.Client
	if cfg.Endpoint != "" {
		client = s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true // Требуется для MinIO и ряда S3-совместимых сервисов
			// Не все S3-совместимые сервисы принимают контрольные суммы по умолчанию
			o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
			o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
		})
	} else {
		client = s3.NewFromConfig(awsCfg)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	s := &Store{
		client:  client,
		bucket:  cfg.Bucket,
		timeout: timeout,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "s3store")),
	}

	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}

	s.logger.Info("S3 хранилище инициализировано",
		slog.String("bucket", cfg.Bucket),
		slog.String("region", cfg.Region),
		slog.String("endpoint", cfg.Endpoint),
	)
	return s, nil
}

// ensureBucket проверяет наличие бакета и создаёт его при отсутствии.
func (s *Store) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return mapErr(fmt.Sprintf("бакет %q не существует и не может быть создан", s.bucket), err)
	}

	s.logger.Info("Создан бакет S3", slog.String("bucket", s.bucket))
	return nil
}

// Put записывает blob. Данные сначала буферизуются во временный файл
// (SHA-256 на лету): PutObject требует перематываемое тело для подписи запроса.
func (s *Store) Put(ctx context.Context, originalFilename string, reader io.Reader) (model.PutResult, error) {
	tmp, err := os.CreateTemp("", "web-storage-s3-*.tmp")
	if err != nil {
		return model.PutResult{}, fmt.Errorf("%w: ошибка создания временного файла: %w", model.ErrIO, err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), reader)
	if err != nil {
		return model.PutResult{}, fmt.Errorf("%w: ошибка буферизации данных: %w", model.ErrIO, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return model.PutResult{}, fmt.Errorf("%w: seek: %w", model.ErrIO, err)
	}

	locator := filestore.GenerateLocator(originalFilename, s.now())

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(locator),
		Body:          tmp,
		ContentLength: aws.Int64(size),
	}
	if ct := mime.TypeByExtension(filepath.Ext(locator)); ct != "" {
		input.ContentType = aws.String(ct)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return model.PutResult{}, mapErr("загрузка в S3", err)
	}

	return model.PutResult{
		Locator:  locator,
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open открывает объект для чтения. Таймаут действует до закрытия reader.
func (s *Store) Open(ctx context.Context, locator string) (io.ReadCloser, model.BlobInfo, error) {
	if !filestore.ValidLocator(locator) {
		return nil, model.BlobInfo{}, fmt.Errorf("%w: недопустимый локатор %q", model.ErrValidation, locator)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		cancel()
		return nil, model.BlobInfo{}, mapErr("чтение из S3 "+locator, err)
	}

	info := model.BlobInfo{
		Size:        aws.ToInt64(out.ContentLength),
		ModTime:     aws.ToTime(out.LastModified),
		ContentType: aws.ToString(out.ContentType),
	}
	return &cancelReadCloser{ReadCloser: out.Body, cancel: cancel}, info, nil
}

// Delete удаляет объект. DeleteObject в S3 идемпотентен, поэтому наличие
// объекта проверяется заранее: отсутствие — ErrNotFound.
func (s *Store) Delete(ctx context.Context, locator string) error {
	exists, err := s.Exists(ctx, locator)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: blob %s", model.ErrNotFound, locator)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		return mapErr("удаление из S3 "+locator, err)
	}
	return nil
}

// Exists проверяет наличие объекта через HeadObject.
func (s *Store) Exists(ctx context.Context, locator string) (bool, error) {
	if !filestore.ValidLocator(locator) {
		return false, fmt.Errorf("%w: недопустимый локатор %q", model.ErrValidation, locator)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(locator),
	})
	if err != nil {
		mapped := mapErr("HeadObject "+locator, err)
		if errors.Is(mapped, model.ErrNotFound) {
			return false, nil
		}
		return false, mapped
	}
	return true, nil
}

// Ready проверяет доступность бакета.
func (s *Store) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	return err == nil
}

// cancelReadCloser освобождает контекст запроса при закрытии тела.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// mapErr сопоставляет ошибку SDK виду ошибки хранилища.
func mapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %w", model.ErrTimeout, op, err)
	}

	var noSuchKey *types.NoSuchKey
	var notFound *types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
		return fmt.Errorf("%w: %s: %w", model.ErrNotFound, op, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s: %w", model.ErrNotFound, op, err)
		case "RequestTimeout":
			return fmt.Errorf("%w: %s: %w", model.ErrTimeout, op, err)
		}
	}

	return fmt.Errorf("%w: %s: %w", model.ErrIO, op, err)
}
