package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"
	"libraryhub/internal/ratelimit"
	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
	"libraryhub/services/library/internal/app"
)

const maxJSONBody = 1 << 20

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config wires required dependencies for the HTTP server.
type Config struct {
	App               *app.App
	AllowUserIDHeader bool
	CORSOrigins       []string
	TrustedProxies    *util.TrustedProxies
	// Limiters guard login and register per client ip. Nil falls back to
	// in-process windows sized by the per-minute limits.
	LoginLimiter               ratelimit.Limiter
	RegisterLimiter            ratelimit.Limiter
	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int
	// Ready reports dependency health for /api/health. Optional.
	Ready func(context.Context) error
}

// Server exposes the library REST API.
type Server struct {
	app               *app.App
	router            chi.Router
	allowUserIDHeader bool
	corsOrigins       []string
	trusted           *util.TrustedProxies
	loginLimiter      ratelimit.Limiter
	registerLimiter   ratelimit.Limiter
	ready             func(context.Context) error
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("server requires an app")
	}
	loginLimiter, err := limiterOrMemory(cfg.LoginLimiter, cfg.LoginRateLimitPerMinute, 10)
	if err != nil {
		return nil, fmt.Errorf("init login limiter: %w", err)
	}
	registerLimiter, err := limiterOrMemory(cfg.RegisterLimiter, cfg.RegisterRateLimitPerMinute, 5)
	if err != nil {
		return nil, fmt.Errorf("init register limiter: %w", err)
	}
	s := &Server{
		app:               cfg.App,
		router:            chi.NewRouter(),
		allowUserIDHeader: cfg.AllowUserIDHeader,
		corsOrigins:       cfg.CORSOrigins,
		trusted:           cfg.TrustedProxies,
		loginLimiter:      loginLimiter,
		registerLimiter:   registerLimiter,
		ready:             cfg.Ready,
	}
	s.routes()
	return s, nil
}

func limiterOrMemory(l ratelimit.Limiter, perMinute, fallback int) (ratelimit.Limiter, error) {
	if l != nil {
		return l, nil
	}
	if perMinute <= 0 {
		perMinute = fallback
	}
	return ratelimit.NewMemoryFixedWindow(perMinute, time.Minute)
}

// Router returns the configured handler with the shared middleware chain.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.router
	h = util.WithRequestLog("library", s.trusted, h)
	h = util.WithRequestID(h)
	h = util.WithCORS(s.corsOrigins, h)
	return util.WithSecurityHeaders(h)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.authenticate)
			r.Post("/auth/logout", s.handleLogout)
			r.Get("/auth/me", s.handleMe)

			s.catalogRoutes(r)
			s.userRoutes(r)
			s.loanRoutes(r)
			s.fineRoutes(r)
			s.reservationRoutes(r)

			r.Route("/stats", func(r chi.Router) {
				r.Use(s.requireAdmin)
				r.Get("/dashboard", s.handleDashboard)
				r.Get("/books-by-category", s.handleBooksByCategory)
				r.Get("/users-by-role", s.handleUsersByRole)
				r.Get("/recent-loans", s.handleRecentLoans)
				r.Get("/loans", s.handleMonthlyLoans)
			})
		})
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			util.LoggerFromContext(r.Context()).Warn("health check failed", "err", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// identity

type userContextKey struct{}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := s.identify(r)
		if err != nil {
			if !errors.Is(err, app.ErrUnauthorized) {
				s.writeAppError(w, r, err)
				return
			}
			s.audit(r, "library.authorize", "fail", "reason", err.Error())
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey{}, user)
		ctx = util.ContextWithLogger(ctx, util.LoggerFromContext(ctx).With("user_id", user.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := currentUser(r)
		if !domain.IsAdministrative(user.Role) {
			s.audit(r, "library.admin.authorize", "fail", "reason", "forbidden")
			writeError(w, r, http.StatusForbidden, "forbidden", "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// identify resolves the caller from a bearer token or, when enabled, the
// X-User-Id header.
func (s *Server) identify(r *http.Request) (domain.User, error) {
	if token, ok := bearerToken(r); ok {
		return s.app.UserFromToken(r.Context(), token)
	}
	if s.allowUserIDHeader {
		if raw := strings.TrimSpace(r.Header.Get("X-User-Id")); raw != "" {
			id, err := strconv.ParseUint(raw, 10, 64)
			if err != nil || id == 0 {
				return domain.User{}, fmt.Errorf("%w: malformed X-User-Id", app.ErrUnauthorized)
			}
			return s.app.UserFromID(r.Context(), uint(id))
		}
	}
	return domain.User{}, fmt.Errorf("%w: missing credentials", app.ErrUnauthorized)
}

func currentUser(r *http.Request) domain.User {
	user, _ := r.Context().Value(userContextKey{}).(domain.User)
	return user
}

func currentActor(r *http.Request) app.Actor {
	return app.ActorOf(currentUser(r))
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

// request helpers

func decodeJSON(r *http.Request, dst any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody)).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", app.ErrInvalidArgument)
		}
		return fmt.Errorf("%w: invalid JSON body", app.ErrInvalidArgument)
	}
	return nil
}

func idParam(r *http.Request, name string) (uint, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", app.ErrInvalidArgument, name, raw)
	}
	return uint(id), nil
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", app.ErrInvalidArgument, name)
	}
	return v, nil
}

// responses

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

type listResponse struct {
	Items any `json:"items"`
	Count int `json:"count"`
}

func writeList[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, listResponse{Items: items, Count: len(items)})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: util.RequestIDFromRequest(r)})
}

// writeAppError maps service errors onto HTTP statuses. Unexpected errors are
// logged and hidden behind a generic message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	var code string
	switch {
	case errors.Is(err, app.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, app.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, app.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, app.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, app.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, app.ErrStorageDisabled):
		status, code = http.StatusServiceUnavailable, "storage_disabled"
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, r, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeError(w, r, status, code, err.Error())
}

// audit records security-relevant outcomes and administrative mutations.
func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	if user := currentUser(r); user.ID != 0 {
		logAttrs = append(logAttrs, "actor_id", user.ID)
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// allowRate writes a 429 with Retry-After when the caller is over the limit.
func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter ratelimit.Limiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.trusted)
	d := limiter.Allow(r.Context(), key)
	if d.Allowed {
		return true
	}
	retry := int(math.Ceil(d.RetryAfter.Seconds()))
	if retry < 1 {
		retry = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	writeError(w, r, http.StatusTooManyRequests, "rate_limited", msg)
	return false
}
