package identity

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/anac-tg/incident-desk/internal/domain"
	"github.com/anac-tg/incident-desk/internal/pkg/ctxlog"
	"github.com/anac-tg/incident-desk/internal/pkg/httputil"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// Paging bounds for GET /users.
const (
	DefaultUserListLimit = 50
	MaxUserListLimit     = 200
)

// CookieSettings contains settings for authentication cookies.
type CookieSettings struct {
	Secure               bool
	Domain               string
	AccessTokenDuration  time.Duration
	RefreshTokenDuration time.Duration
}

// Handler serves registration, sessions, the current user's profile and
// account administration.
type Handler struct {
	service        *Service
	validator      *validator.Validate
	cookieSettings CookieSettings
	loginLimiter   func(http.Handler) http.Handler
}

// NewHandler creates a new identity handler.
func NewHandler(service *Service, cookieSettings CookieSettings) *Handler {
	return &Handler{
		service:        service,
		validator:      validator.New(),
		cookieSettings: cookieSettings,
	}
}

// WithLoginLimiter throttles POST /auth/login with mw.
func (h *Handler) WithLoginLimiter(mw func(http.Handler) http.Handler) *Handler {
	h.loginLimiter = mw
	return h
}

// RegisterRoutes registers the public session routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", h.Register)
		login := r.With()
		if h.loginLimiter != nil {
			login = r.With(h.loginLimiter)
		}
		login.Post("/login", h.Login)
		r.Post("/refresh", h.Refresh)
		r.Post("/logout", h.Logout)
	})
}

// RegisterProtectedRoutes registers routes that require authentication.
func (h *Handler) RegisterProtectedRoutes(r chi.Router) {
	r.Get("/me", h.Me)
	r.Put("/me/password", h.ChangePassword)
}

// RegisterOperatorRoutes registers the account directory used to pick
// assignees. Callers must require the operator role.
func (h *Handler) RegisterOperatorRoutes(r chi.Router) {
	r.Get("/users", h.ListUsers)
	r.Get("/users/{id}", h.GetUser)
}

// RegisterAdminRoutes registers account administration. Callers must
// require the admin role.
func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Patch("/users/{id}", h.UpdateUser)
	r.Delete("/users/{id}", h.DeactivateUser)
	r.Post("/users/{id}/restore", h.RestoreUser)
	r.Delete("/users/{id}/permanent", h.DeleteUser)
}

// RegisterRequest is the body of POST /auth/register.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
}

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse carries the user and its tokens. Tokens are also set as cookies.
type LoginResponse struct {
	User         *domain.User `json:"user"`
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
}

// ChangePasswordRequest is the body of PUT /me/password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8,max=72,nefield=CurrentPassword"`
}

// UpdateUserRequest is the body of PATCH /users/{id}.
type UpdateUserRequest struct {
	FirstName *string      `json:"first_name" validate:"omitempty,max=100"`
	LastName  *string      `json:"last_name" validate:"omitempty,max=100"`
	Role      *domain.Role `json:"role" validate:"omitempty,oneof=user operator admin"`
}

// decode reads a JSON body into dst and validates it. On failure the
// response is already written and false is returned.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := h.validator.Struct(dst); err != nil {
		httputil.ValidationError(w, err)
		return false
	}
	return true
}

// Register handles POST /auth/register. New accounts get the user role.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput(req))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusCreated, user)
}

// Login handles POST /auth/login.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, tokens, err := h.service.Login(r.Context(), LoginInput(req))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.setSessionCookies(w, tokens)
	httputil.Success(w, http.StatusOK, LoginResponse{
		User:         user,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
	})
}

// Refresh handles POST /auth/refresh. The refresh token is rotated.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	refreshToken := refreshTokenFrom(r)
	if refreshToken == "" {
		httputil.Error(w, http.StatusBadRequest, "missing refresh token")
		return
	}

	tokens, err := h.service.RefreshTokens(r.Context(), refreshToken)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.setSessionCookies(w, tokens)
	httputil.Success(w, http.StatusOK, tokens)
}

// Logout handles POST /auth/logout. It always succeeds and clears the cookies.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if refreshToken := refreshTokenFrom(r); refreshToken != "" {
		if err := h.service.Logout(r.Context(), refreshToken); err != nil {
			ctxlog.FromContext(r.Context()).Warn("logout error", "error", err)
		}
	}

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /me.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r.Context())
	if userID == "" {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.service.GetUserByID(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, user)
}

// ChangePassword handles PUT /me/password. Every session of the user ends.
func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	var req ChangePasswordRequest
	if !h.decode(w, r, &req) {
		return
	}

	userID := httputil.GetUserID(r.Context())
	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// ListUsers handles GET /users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	filter, err := parseUserFilter(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	users, total, err := h.service.ListUsers(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, map[string]interface{}{
		"users":  users,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetUser handles GET /users/{id}.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, user)
}

// UpdateUser handles PATCH /users/{id}.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	var req UpdateUserRequest
	if !h.decode(w, r, &req) {
		return
	}

	user, err := h.service.UpdateUser(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id"), UpdateUserInput(req))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, user)
}

// DeactivateUser handles DELETE /users/{id}. The account is kept.
func (h *Handler) DeactivateUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivateUser(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RestoreUser handles POST /users/{id}/restore.
func (h *Handler) RestoreUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.RestoreUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	httputil.Success(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /users/{id}/permanent.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), httputil.GetUserID(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUserFilter(r *http.Request) (UserFilter, error) {
	q := r.URL.Query()
	filter := UserFilter{Limit: DefaultUserListLimit, Query: strings.TrimSpace(q.Get("q"))}

	if l := q.Get("limit"); l != "" {
		parsed, err := strconv.Atoi(l)
		if err != nil || parsed < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = min(parsed, MaxUserListLimit)
	}
	if o := q.Get("offset"); o != "" {
		parsed, err := strconv.Atoi(o)
		if err != nil || parsed < 0 {
			return filter, errors.New("offset must be a non-negative integer")
		}
		filter.Offset = parsed
	}
	if v := q.Get("role"); v != "" {
		role := domain.Role(v)
		if !role.IsValid() {
			return filter, fmt.Errorf("invalid role %q", v)
		}
		filter.Role = &role
	}
	if v := q.Get("include_deleted"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return filter, errors.New("include_deleted must be a boolean")
		}
		filter.IncludeDeleted = parsed
	}
	return filter, nil
}

// sessionCookie describes one of the cookies making up a browser session.
type sessionCookie struct {
	name     string
	path     string
	httpOnly bool
	sameSite http.SameSite
}

var (
	accessCookie  = sessionCookie{httputil.AccessTokenCookie, "/", true, http.SameSiteLaxMode}
	refreshCookie = sessionCookie{httputil.RefreshTokenCookie, "/api/v1/auth", true, http.SameSiteStrictMode}
	// The CSRF cookie is read by the browser client and echoed in a header.
	csrfCookie = sessionCookie{httputil.CSRFTokenCookie, "/", false, http.SameSiteLaxMode}
)

func (h *Handler) writeCookie(w http.ResponseWriter, c sessionCookie, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     c.path,
		Domain:   h.cookieSettings.Domain,
		MaxAge:   maxAge,
		HttpOnly: c.httpOnly,
		Secure:   h.cookieSettings.Secure,
		SameSite: c.sameSite,
	})
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, tokens *TokenPair) {
	accessAge := int(h.cookieSettings.AccessTokenDuration.Seconds())
	h.writeCookie(w, accessCookie, tokens.AccessToken, accessAge)
	h.writeCookie(w, refreshCookie, tokens.RefreshToken, int(h.cookieSettings.RefreshTokenDuration.Seconds()))
	h.writeCookie(w, csrfCookie, rand.Text(), accessAge)
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	for _, c := range []sessionCookie{accessCookie, refreshCookie, csrfCookie} {
		h.writeCookie(w, c, "", -1)
	}
}

// refreshTokenFrom reads the refresh token from its cookie, falling back to
// a JSON body for non-browser clients.
func refreshTokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(httputil.RefreshTokenCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	var body struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
		return body.RefreshToken
	}
	return ""
}

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrUserNotFound, Status: http.StatusNotFound},
	{Error: ErrEmailExists, Status: http.StatusConflict},
	{Error: ErrInvalidCredentials, Status: http.StatusUnauthorized},
	{Error: ErrInvalidToken, Status: http.StatusUnauthorized, Message: "invalid token"},
	{Error: ErrInvalidRole, Status: http.StatusBadRequest},
	{Error: ErrSelfModification, Status: http.StatusConflict},
	{Error: ErrUserInUse, Status: http.StatusConflict, Message: "user declared incidents, deactivate the account instead"},
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	httputil.HandleError(r.Context(), w, err, errorMappings)
}
