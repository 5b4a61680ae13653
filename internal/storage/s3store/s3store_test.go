package s3store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/Oberon01/web-storage/internal/domain/model"
)

// testLogger возвращает логгер для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// fakeS3 — минимальный in-memory S3 (path-style) для тестов.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	types   map[string]string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		buckets: make(map[string]bool),
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeS3) object(key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[key]
}

func (f *fakeS3) hasBucket(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.buckets[name]
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]

	// Операции с бакетом
	if len(parts) == 1 || parts[1] == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.buckets[bucket] = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	key := bucket + "/" + parts[1]
	switch r.Method {
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		f.types[key] = r.Header.Get("Content-Type")
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)

	case http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)

	case http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>`)
			return
		}
		w.Header().Set("Content-Type", f.types[key])
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		w.Write(data)

	case http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// newTestStore поднимает fake S3 и создаёт Store поверх него.
func newTestStore(t *testing.T) (*Store, *fakeS3) {
	t.Helper()

	fake := newFakeS3()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := New(context.Background(), Config{
		Region:    "us-east-1",
		Bucket:    "uploads",
		AccessKey: "test",
		SecretKey: "test",
		Endpoint:  srv.URL,
		Timeout:   5 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, fake
}

// TestNew_CreatesBucket проверяет автосоздание бакета.
func TestNew_CreatesBucket(t *testing.T) {
	s, fake := newTestStore(t)

	if !fake.hasBucket("uploads") {
		t.Error("бакет должен быть создан")
	}
	if !s.Ready() {
		t.Error("хранилище должно быть готово")
	}
}

// TestPutOpenDelete проверяет полный цикл работы с объектом.
func TestPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	s, fake := newTestStore(t)

	content := "PDF содержимое"
	res, err := s.Put(ctx, "Отчёт за год.pdf", strings.NewReader(content))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	sum := sha256.Sum256([]byte(content))
	if res.Checksum != hex.EncodeToString(sum[:]) {
		t.Errorf("checksum не совпадает: %s", res.Checksum)
	}
	if res.Size != int64(len(content)) {
		t.Errorf("размер: ожидалось %d, получено %d", len(content), res.Size)
	}
	if !strings.HasSuffix(res.Locator, ".pdf") {
		t.Errorf("локатор должен сохранять расширение: %s", res.Locator)
	}
	if got := string(fake.object("uploads/" + res.Locator)); got != content {
		t.Errorf("объект в бакете: %q", got)
	}

	rc, info, err := s.Open(ctx, res.Locator)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != content {
		t.Errorf("прочитано %q, ожидалось %q", data, content)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("BlobInfo.Size: %d", info.Size)
	}
	if info.ContentType != "application/pdf" {
		t.Errorf("BlobInfo.ContentType: %q", info.ContentType)
	}

	if err := s.Delete(ctx, res.Locator); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := s.Exists(ctx, res.Locator); ok {
		t.Error("объект должен быть удалён")
	}
}

// TestDelete_NotFound проверяет, что удаление отсутствующего объекта — ErrNotFound.
func TestDelete_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	if err := s.Delete(context.Background(), "1-abc-missing.txt"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestOpen_NotFound проверяет чтение отсутствующего объекта.
func TestOpen_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	if _, _, err := s.Open(context.Background(), "1-abc-missing.txt"); !errors.Is(err, model.ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
}

// TestInvalidLocator проверяет отказ для локаторов с путями.
func TestInvalidLocator(t *testing.T) {
	s, _ := newTestStore(t)

	if _, _, err := s.Open(context.Background(), "../secret"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("Open: ожидалась ErrValidation, получено %v", err)
	}
	if err := s.Delete(context.Background(), "a/b"); !errors.Is(err, model.ErrValidation) {
		t.Errorf("Delete: ожидалась ErrValidation, получено %v", err)
	}
}

// TestMapErr проверяет сопоставление ошибок SDK.
func TestMapErr(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"deadline", context.DeadlineExceeded, model.ErrTimeout},
		{"canceled", fmt.Errorf("op: %w", context.Canceled), model.ErrTimeout},
		{"no such key", &types.NoSuchKey{}, model.ErrNotFound},
		{"not found", &types.NotFound{}, model.ErrNotFound},
		{"generic not found", &smithy.GenericAPIError{Code: "NotFound"}, model.ErrNotFound},
		{"request timeout", &smithy.GenericAPIError{Code: "RequestTimeout"}, model.ErrTimeout},
		{"access denied", &smithy.GenericAPIError{Code: "AccessDenied"}, model.ErrIO},
		{"other", errors.New("connection refused"), model.ErrIO},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mapErr("op", tt.err); !errors.Is(got, tt.want) {
				t.Errorf("ожидалась %v, получено %v", tt.want, got)
			}
		})
	}
}
