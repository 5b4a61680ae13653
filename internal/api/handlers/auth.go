// auth.go — обработчик входа администратора.
package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	apierrors "github.com/Oberon01/web-storage/internal/api/errors"
)

// TokenIssuer выпускает токены доступа. Реализация: middleware.TokenIssuer.
type TokenIssuer interface {
	Issue(subject string) (string, time.Time, error)
}

// AuthHandler — обработчик POST /api/v1/auth/login.
type AuthHandler struct {
	username string
	// password — открытый текст или bcrypt-хэш ($2a$, $2b$, $2y$)
	password string
	issuer   TokenIssuer
	logger   *slog.Logger
}

// NewAuthHandler создаёт обработчик входа.
func NewAuthHandler(username, password string, issuer TokenIssuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		username: username,
		password: password,
		issuer:   issuer,
		logger:   logger.With(slog.String("component", "auth_handler")),
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Login проверяет учётные данные администратора и выпускает bearer token.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректный JSON: "+err.Error())
		return
	}
	if req.Username == "" || req.Password == "" {
		apierrors.ValidationError(w, "Поля username и password обязательны")
		return
	}

	if !h.checkCredentials(req.Username, req.Password) {
		h.logger.Warn("Неудачная попытка входа",
			slog.String("username", req.Username),
			slog.String("remote_addr", r.RemoteAddr),
		)
		apierrors.Unauthorized(w, "Неверное имя пользователя или пароль")
		return
	}

	token, expiresAt, err := h.issuer.Issue(req.Username)
	if err != nil {
		h.logger.Error("Ошибка выпуска токена", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Не удалось выпустить токен")
		return
	}

	h.logger.Info("Вход администратора", slog.String("username", req.Username))
	writeJSON(w, http.StatusOK, loginResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresAt:   expiresAt.UTC(),
	})
}

// checkCredentials сравнивает учётные данные с настроенными.
// Пустой настроенный пароль запрещает вход.
func (h *AuthHandler) checkCredentials(username, password string) bool {
	if h.password == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(username), []byte(h.username)) != 1 {
		return false
	}
	if IsBcryptHash(h.password) {
		return bcrypt.CompareHashAndPassword([]byte(h.password), []byte(password)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(password), []byte(h.password)) == 1
}

// IsBcryptHash сообщает, является ли строка bcrypt-хэшем.
func IsBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}
