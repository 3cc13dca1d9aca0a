package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/ec-order-engine/internal/api/middleware"
	"github.com/example/ec-order-engine/internal/auth"
	"github.com/example/ec-order-engine/internal/domain/user"
	"github.com/example/ec-order-engine/internal/infrastructure/store"
)

// AuthHandlers serves registration and login for the order API.
type AuthHandlers struct {
	users  store.UserStore
	tokens *auth.TokenService
	logger *zap.Logger
}

func NewAuthHandlers(users store.UserStore, tokens *auth.TokenService, logger *zap.Logger) *AuthHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandlers{users: users, tokens: tokens, logger: logger}
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	User      *user.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt time.Time  `json:"expires_at"`
}

// Register creates an account and signs the caller in.
func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	u, err := user.New(uuid.New().String(), req.Email, hash, req.Name, user.RoleCustomer)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.users.CreateUser(r.Context(), u); err != nil {
		if errors.Is(err, user.ErrEmailTaken) || errors.Is(err, store.ErrAlreadyExists) {
			respondMessage(w, http.StatusConflict, "email already registered")
			return
		}
		h.logger.Error("failed to create user", zap.Error(err))
		respondMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.issueToken(w, r, u, http.StatusCreated)
}

// Login verifies credentials and issues an access token.
func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	u, err := h.users.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, user.ErrUserNotFound) {
			respondMessage(w, http.StatusUnauthorized, "invalid email or password")
			return
		}
		h.logger.Error("failed to look up user", zap.Error(err))
		respondMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if !u.IsActive {
		respondMessage(w, http.StatusForbidden, "account is deactivated")
		return
	}
	if !auth.CheckPassword(req.Password, u.PasswordHash) {
		respondMessage(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	h.issueToken(w, r, u, http.StatusOK)
}

// Me returns the authenticated account.
func (h *AuthHandlers) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	u, err := h.users.GetUser(r.Context(), claims.UserID)
	if err != nil {
		respondMessage(w, http.StatusNotFound, "user not found")
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (h *AuthHandlers) issueToken(w http.ResponseWriter, r *http.Request, u *user.User, status int) {
	token, expiresAt, err := h.tokens.Issue(u.ID, u.Email, u.Role)
	if err != nil {
		h.logger.Error("failed to issue token", zap.Error(err))
		respondMessage(w, http.StatusInternalServerError, "internal server error")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})

	respondJSON(w, status, authResponse{User: u, Token: token, ExpiresAt: expiresAt})
}
