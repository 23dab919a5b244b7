package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"expense-dashboard/internal/apperr"
	"expense-dashboard/internal/auth"
	"expense-dashboard/internal/models"
	"expense-dashboard/internal/storage"

	"github.com/sirupsen/logrus"
)

// Context key type to avoid collisions.
type contextKey string

const (
	// UserContextKey is the context key for the authenticated user.
	UserContextKey contextKey = "user"
	// SessionCookieName is the name of the session cookie.
	SessionCookieName = "session"
	// DefaultSessionDuration is how long sessions last unless configured (30 days).
	DefaultSessionDuration = 30 * 24 * time.Hour
)

// Store is the persistence the handlers need.
type Store interface {
	CreateUser(ctx context.Context, name, email, passwordHash string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	CreateSession(ctx context.Context, token string, userID int64, expiresAt time.Time) error
	ValidateSession(ctx context.Context, token string) (*models.User, error)
	ValidateSessionWithInfo(ctx context.Context, token string) (*storage.SessionInfo, error)
	RenewSession(ctx context.Context, token string, newExpiresAt time.Time) error
	DeleteSession(ctx context.Context, token string) error

	CreateExpense(ctx context.Context, e *models.Expense) (int64, error)
	ListExpenses(ctx context.Context, userID int64) ([]models.Expense, error)
	DeleteExpense(ctx context.Context, id, userID int64) (int64, error)

	Ping(ctx context.Context) error
}

// Options tune session handling.
type Options struct {
	SessionDuration time.Duration
	SecureCookie    bool
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store           Store
	log             logrus.FieldLogger
	sessionDuration time.Duration
	secureCookie    bool
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(store Store, log logrus.FieldLogger, opts Options) *Handlers {
	if opts.SessionDuration <= 0 {
		opts.SessionDuration = DefaultSessionDuration
	}
	return &Handlers{
		store:           store,
		log:             log,
		sessionDuration: opts.SessionDuration,
		secureCookie:    opts.SecureCookie,
	}
}

// GetUserFromContext retrieves the authenticated user from request context.
func GetUserFromContext(r *http.Request) *models.User {
	if user, ok := r.Context().Value(UserContextKey).(*models.User); ok {
		return user
	}
	return nil
}

// sessionToken reads the session token from the Authorization header,
// falling back to the session cookie.
func sessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// AuthMiddleware wraps handlers to require a valid session.
// It also implements rolling sessions: if a session is past the halfway point
// of its lifetime, it automatically renews the session.
func (h *Handlers) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			h.writeError(w, r, apperr.Auth("Authentication required"))
			return
		}

		sessionInfo, err := h.store.ValidateSessionWithInfo(r.Context(), token)
		if errors.Is(err, storage.ErrNotFound) {
			h.clearSessionCookie(w)
			h.writeError(w, r, apperr.Auth("Session expired or invalid"))
			return
		}
		if err != nil {
			h.writeError(w, r, apperr.Internal("Server error", err))
			return
		}

		now := time.Now()
		if sessionInfo.ExpiresAt.Sub(now) < h.sessionDuration/2 {
			newExpiresAt := now.Add(h.sessionDuration)
			if err := h.store.RenewSession(r.Context(), token, newExpiresAt); err == nil {
				h.setSessionCookie(w, token)
			} else {
				// The current session is still valid; keep serving it.
				h.log.WithError(err).Warn("session renewal failed")
			}
		}

		ctx := context.WithValue(r.Context(), UserContextKey, sessionInfo.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required"`
}

type registerResponse struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

// Register creates a new user account. No session is created.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		h.writeError(w, r, apperr.Validation("All fields are required"))
		return
	}
	if err := validateStruct(&req); err != nil {
		h.writeError(w, r, err)
		return
	}

	if len(req.Password) > auth.MaxPasswordBytes {
		h.writeError(w, r, apperr.Validation(fmt.Sprintf("password must be at most %d bytes", auth.MaxPasswordBytes)))
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeError(w, r, apperr.Internal("Server error during registration", err))
		return
	}

	user, err := h.store.CreateUser(r.Context(), req.Name, req.Email, hash)
	if errors.Is(err, storage.ErrEmailTaken) {
		h.writeError(w, r, apperr.Conflict("Email already registered"))
		return
	}
	if err != nil {
		h.writeError(w, r, apperr.Internal("Database error during registration", err))
		return
	}

	h.log.WithField("user_id", user.ID).Info("user registered")
	writeJSON(w, http.StatusOK, registerResponse{ID: user.ID, Message: "User registered successfully"})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message   string         `json:"message"`
	User      models.Profile `json:"user"`
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// errInvalidCredentials is shared by every login failure so callers cannot
// tell which field was wrong.
var errInvalidCredentials = apperr.Auth("Invalid email or password")

// Login checks the credentials and issues a session token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		h.writeError(w, r, errInvalidCredentials)
		return
	}

	user, err := h.store.GetUserByEmail(r.Context(), email)
	if errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, r, errInvalidCredentials)
		return
	}
	if err != nil {
		h.writeError(w, r, apperr.Internal("Server error during login", err))
		return
	}
	if !auth.CheckPassword(req.Password, user.PasswordHash) {
		h.writeError(w, r, errInvalidCredentials)
		return
	}

	token, err := auth.GenerateSessionToken()
	if err != nil {
		h.writeError(w, r, apperr.Internal("Server error during login", err))
		return
	}

	expiresAt := time.Now().Add(h.sessionDuration).UTC()
	if err := h.store.CreateSession(r.Context(), token, user.ID, expiresAt); err != nil {
		h.writeError(w, r, apperr.Internal("Server error during login", err))
		return
	}

	h.setSessionCookie(w, token)
	h.log.WithField("user_id", user.ID).Info("user logged in")
	writeJSON(w, http.StatusOK, loginResponse{
		Message:   "Login successful",
		User:      user.Profile(),
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// Logout ends the current session, if any.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := h.store.DeleteSession(r.Context(), token); err != nil {
			h.log.WithError(err).Error("failed to delete session")
		}
	}
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

// Me returns the profile of the logged-in user.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, GetUserFromContext(r).Profile())
}

// Healthz reports whether the database is reachable.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		h.log.WithError(err).Warn("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
