// backend/src/handlers/user_handler.go
package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/username/maplefolio/backend/src/config"
	"github.com/username/maplefolio/backend/src/database"
	"github.com/username/maplefolio/backend/src/logger"
	"github.com/username/maplefolio/backend/src/model"
	"github.com/username/maplefolio/backend/src/security"
)

type contextKey string

const userIDContextKey contextKey = "userID"

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
var passwordRegex = regexp.MustCompile(`^.{6,}$`)

type UserHandler struct {
	authService *security.AuthService
}

func NewUserHandler(authService *security.AuthService) *UserHandler {
	return &UserHandler{authService: authService}
}

func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	logger.L.Warn("Sending JSON error to client", "message", message, "statusCode", statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func sendJSON(w http.ResponseWriter, payload any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

type credentialsPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *UserHandler) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var credentials credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	credentials.Email = strings.ToLower(strings.TrimSpace(credentials.Email))

	if !emailRegex.MatchString(credentials.Email) {
		sendJSONError(w, "Invalid email address", http.StatusBadRequest)
		return
	}
	if !passwordRegex.MatchString(credentials.Password) {
		sendJSONError(w, "Password must be at least 6 characters", http.StatusBadRequest)
		return
	}

	if _, err := model.GetUserByEmail(r.Context(), database.DB, credentials.Email); err == nil {
		sendJSONError(w, "An account with this email already exists", http.StatusConflict)
		return
	} else if !errors.Is(err, sql.ErrNoRows) {
		ctxLogger.Error("Failed to check existing user", "error", err)
		sendJSONError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	hashedPassword, err := h.authService.HashPassword(credentials.Password)
	if err != nil {
		ctxLogger.Error("Failed to hash password", "error", err)
		sendJSONError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	user, err := model.CreateUser(r.Context(), database.DB, credentials.Email, hashedPassword)
	if err != nil {
		ctxLogger.Error("Failed to create user", "error", err)
		sendJSONError(w, "Failed to create account", http.StatusInternalServerError)
		return
	}

	ctxLogger.Info("User registered", "userID", user.ID)
	sendJSON(w, user, http.StatusCreated)
}

func (h *UserHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var credentials credentialsPayload
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	credentials.Email = strings.ToLower(strings.TrimSpace(credentials.Email))

	user, err := model.GetUserByEmail(r.Context(), database.DB, credentials.Email)
	if err != nil {
		ctxLogger.Debug("Login failed: user lookup", "email", credentials.Email)
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}
	if err := h.authService.CheckPassword(user.PasswordHash, credentials.Password); err != nil {
		ctxLogger.Debug("Login failed: password mismatch", "userID", user.ID)
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	accessToken, err := h.authService.GenerateToken(strconv.FormatInt(user.ID, 10))
	if err != nil {
		ctxLogger.Error("Failed to generate access token", "userID", user.ID, "error", err)
		sendJSONError(w, "Failed to log in", http.StatusInternalServerError)
		return
	}

	refreshToken, err := h.issueRefreshToken(r.Context(), user.ID)
	if err != nil {
		ctxLogger.Error("Failed to create session", "userID", user.ID, "error", err)
		sendJSONError(w, "Failed to log in", http.StatusInternalServerError)
		return
	}

	ctxLogger.Info("User logged in", "userID", user.ID)
	sendJSON(w, map[string]any{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(config.Cfg.AccessTokenExpiry.Seconds()),
		"user":          user,
	}, http.StatusOK)
}

func (h *UserHandler) issueRefreshToken(ctx context.Context, userID int64) (string, error) {
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		return "", err
	}
	expiresAt := time.Now().UTC().Add(config.Cfg.RefreshTokenExpiry)
	if _, err := model.CreateSession(ctx, database.DB, userID, refreshToken, expiresAt); err != nil {
		return "", err
	}
	return refreshToken, nil
}

// RefreshTokenHandler exchanges a valid refresh token for a new access token.
// The refresh token is rotated: the presented one is revoked and a fresh one
// is returned alongside the access token.
func (h *UserHandler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	ctxLogger := logger.FromContext(r.Context())

	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.RefreshToken == "" {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	session, err := model.GetSessionByRefreshToken(r.Context(), database.DB, payload.RefreshToken)
	if err != nil {
		ctxLogger.Warn("Refresh token lookup failed", "error", err)
		sendJSONError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}
	if time.Now().After(session.ExpiresAt) {
		model.DeleteSessionByRefreshToken(r.Context(), database.DB, payload.RefreshToken)
		sendJSONError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	if err := model.DeleteSessionByRefreshToken(r.Context(), database.DB, payload.RefreshToken); err != nil {
		ctxLogger.Error("Failed to rotate session", "userID", session.UserID, "error", err)
		sendJSONError(w, "Failed to refresh session", http.StatusInternalServerError)
		return
	}
	newRefreshToken, err := h.issueRefreshToken(r.Context(), session.UserID)
	if err != nil {
		ctxLogger.Error("Failed to create rotated session", "userID", session.UserID, "error", err)
		sendJSONError(w, "Failed to refresh session", http.StatusInternalServerError)
		return
	}

	accessToken, err := h.authService.GenerateToken(strconv.FormatInt(session.UserID, 10))
	if err != nil {
		ctxLogger.Error("Failed to generate access token", "userID", session.UserID, "error", err)
		sendJSONError(w, "Failed to refresh session", http.StatusInternalServerError)
		return
	}

	sendJSON(w, map[string]any{
		"access_token":  accessToken,
		"refresh_token": newRefreshToken,
		"token_type":    "Bearer",
		"expires_in":    int(config.Cfg.AccessTokenExpiry.Seconds()),
	}, http.StatusOK)
}

// LogoutHandler revokes the presented refresh token. The short-lived access
// token simply expires.
func (h *UserHandler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.RefreshToken == "" {
		sendJSONError(w, "Invalid request payload", http.StatusBadRequest)
		return
	}

	if err := model.DeleteSessionByRefreshToken(r.Context(), database.DB, payload.RefreshToken); err != nil {
		logger.FromContext(r.Context()).Error("Failed to revoke session", "error", err)
		sendJSONError(w, "Failed to log out", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	user, err := model.GetUserByID(r.Context(), database.DB, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}
	sendJSON(w, user, http.StatusOK)
}
