package middleware

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// testKeyID — идентификатор ключа для тестов.
const testKeyID = "test-key"

var testSecret = []byte("test-secret-0123456789")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// buildJWKSetJSON строит JWKS JSON из RSA публичного ключа.
func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{
			{
				"kty": "RSA",
				"kid": kid,
				"use": "sig",
				"alg": "RS256",
				"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			},
		},
	}

	data, _ := json.Marshal(jwks)
	return data
}

// newTestJWKSAuth создаёт RS256 JWTAuth и ключ для подписи.
func newTestJWKSAuth(t *testing.T) (*JWTAuth, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("не удалось создать keyfunc из JWKS JSON: %v", err)
	}
	return NewJWTAuthWithKeyfunc(kf, 0, testLogger()), key
}

// serve прогоняет запрос с заголовком Authorization через middleware.
func serve(auth *JWTAuth, header string) (*httptest.ResponseRecorder, string) {
	var subject string
	handler := auth.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, subject
}

// TestHMAC_IssuedToken проверяет, что выпущенный токен принимается middleware.
func TestHMAC_IssuedToken(t *testing.T) {
	auth := NewHMACAuth(testSecret, 0, testLogger())
	token, expiresAt, err := NewTokenIssuer(testSecret, time.Hour).Issue("admin")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Errorf("срок действия в прошлом: %v", expiresAt)
	}

	rec, subject := serve(auth, "Bearer "+token)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if subject != "admin" {
		t.Errorf("ожидался sub=admin, получен %q", subject)
	}
}

// TestHMAC_WrongSecret проверяет отказ для токена с чужой подписью.
func TestHMAC_WrongSecret(t *testing.T) {
	auth := NewHMACAuth(testSecret, 0, testLogger())
	token, _, _ := NewTokenIssuer([]byte("other-secret"), time.Hour).Issue("admin")

	if rec, _ := serve(auth, "Bearer "+token); rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestHMAC_ExpiredToken проверяет просроченный токен.
func TestHMAC_ExpiredToken(t *testing.T) {
	auth := NewHMACAuth(testSecret, 0, testLogger())
	issuer := NewTokenIssuer(testSecret, time.Hour)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, _ := issuer.Issue("admin")

	if rec, _ := serve(auth, "Bearer "+token); rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestHMAC_RejectsRS256 проверяет, что HS256 middleware не принимает чужой алгоритм.
func TestHMAC_RejectsRS256(t *testing.T) {
	_, key := newTestJWKSAuth(t)
	auth := NewHMACAuth(testSecret, 0, testLogger())

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "admin",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	signed, _ := token.SignedString(key)

	if rec, _ := serve(auth, "Bearer "+signed); rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestJWKS_ValidToken проверяет валидный RS256 токен.
func TestJWKS_ValidToken(t *testing.T) {
	auth, key := newTestJWKSAuth(t)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "test-user",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}})
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}

	rec, subject := serve(auth, "Bearer "+signed)
	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался статус 200, получен %d, тело: %s", rec.Code, rec.Body.String())
	}
	if subject != "test-user" {
		t.Errorf("ожидался sub=test-user, получен %q", subject)
	}
}

// TestJWKS_NoExpiration проверяет отказ для токена без exp.
func TestJWKS_NoExpiration(t *testing.T) {
	auth, key := newTestJWKSAuth(t)

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject: "test-user",
	}})
	token.Header["kid"] = testKeyID
	signed, _ := token.SignedString(key)

	if rec, _ := serve(auth, "Bearer "+signed); rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

// TestMiddleware_InvalidHeader проверяет отсутствующий и некорректный Authorization.
func TestMiddleware_InvalidHeader(t *testing.T) {
	auth := NewHMACAuth(testSecret, 0, testLogger())

	tests := []struct {
		name   string
		header string
	}{
		{"missing", ""},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"no bearer prefix", "token123"},
		{"empty token", "Bearer "},
		{"garbage", "Bearer not.a.jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := serve(auth, tt.header)
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("ожидался статус 401, получен %d", rec.Code)
			}
		})
	}
}

// TestMiddleware_MissingSubject проверяет отказ для токена без sub.
func TestMiddleware_MissingSubject(t *testing.T) {
	auth := NewHMACAuth(testSecret, 0, testLogger())
	token, _, _ := NewTokenIssuer(testSecret, time.Hour).Issue("")

	if rec, _ := serve(auth, "Bearer "+token); rec.Code != http.StatusUnauthorized {
		t.Errorf("ожидался статус 401, получен %d", rec.Code)
	}
}

func TestNewJWTAuth_NotConfigured(t *testing.T) {
	_, err := NewJWTAuth(context.Background(), JWTAuthConfig{}, testLogger())
	if !errors.Is(err, ErrAuthNotConfigured) {
		t.Errorf("ожидалась ErrAuthNotConfigured, получено %v", err)
	}
}

func TestNewJWTAuth_Secret(t *testing.T) {
	auth, err := NewJWTAuth(context.Background(), JWTAuthConfig{Secret: string(testSecret)}, testLogger())
	if err != nil {
		t.Fatalf("NewJWTAuth: %v", err)
	}
	if len(auth.methods) != 1 || auth.methods[0] != "HS256" {
		t.Errorf("ожидался HS256, получено %v", auth.methods)
	}
}

func TestSubjectFromContext_Empty(t *testing.T) {
	if sub := SubjectFromContext(context.Background()); sub != "" {
		t.Errorf("ожидалась пустая строка, получено %q", sub)
	}
}
