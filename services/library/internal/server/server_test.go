package server

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"libraryhub/internal/ratelimit"
	"libraryhub/internal/util"
	"libraryhub/pkg/domain"
	"libraryhub/pkg/store"
	"libraryhub/services/library/internal/app"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	app    *app.App
	server *Server
	srv    *httptest.Server
}

func newTestEnv(t *testing.T, configure func(*Config)) *testEnv {
	t.Helper()
	s, err := store.NewGormStore("sqlite:" + filepath.Join(t.TempDir(), "library.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	sessions, err := store.NewJWTSessionStore(testSecret, time.Hour, store.NewMemoryTokenRevoker())
	if err != nil {
		t.Fatalf("new sessions: %v", err)
	}
	a, err := app.New(app.Config{Store: s, Sessions: sessions})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	cfg := Config{App: a}
	if configure != nil {
		configure(&cfg)
	}
	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{app: a, server: srv, srv: ts}
}

func (e *testEnv) do(t *testing.T, method, path, token, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s %s response %q: %v", method, path, raw, err)
		}
	}
	return resp, out
}

// login creates a user through the service layer and signs in over HTTP.
func (e *testEnv) login(t *testing.T, email string, role domain.UserRole) (uint, string) {
	t.Helper()
	u, err := e.app.CreateUser(context.Background(), app.UserInput{
		Name:     email,
		Email:    email,
		Password: "pass1234",
		Role:     role,
	})
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	resp, body := e.do(t, http.MethodPost, "/api/auth/login", "", fmt.Sprintf(`{"email":%q,"password":"pass1234"}`, email))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s expected 200, got %d: %v", email, resp.StatusCode, body)
	}
	return u.ID, body["token"].(string)
}

func TestHealthAndUnknownRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, http.MethodGet, "/api/health", "", "")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Fatalf("health = %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}
	resp, body = env.do(t, http.MethodGet, "/api/nope", "", "")
	if resp.StatusCode != http.StatusNotFound || body["code"] != "not_found" {
		t.Fatalf("unknown route = %d %v", resp.StatusCode, body)
	}
}

func TestHealthReportsReadiness(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Ready = func(context.Context) error { return fmt.Errorf("db down") }
	})
	resp, _ := env.do(t, http.MethodGet, "/api/health", "", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestRegisterMeLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, body := env.do(t, http.MethodPost, "/api/auth/register", "", `{"name":"Ana","email":"ana@example.com","password":"pass1234"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register expected 201, got %d: %v", resp.StatusCode, body)
	}
	token := body["token"].(string)
	user := body["user"].(map[string]any)
	if user["role"] != string(domain.RoleExternal) {
		t.Fatalf("unexpected role: %v", user["role"])
	}
	if _, ok := user["passwordHash"]; ok {
		t.Fatalf("password hash must not be serialized")
	}

	resp, body = env.do(t, http.MethodPost, "/api/auth/register", "", `{"name":"Ana","email":"ana@example.com","password":"pass1234"}`)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register expected 409, got %d: %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodGet, "/api/auth/me", token, "")
	if resp.StatusCode != http.StatusOK || body["email"] != "ana@example.com" {
		t.Fatalf("me = %d %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodPost, "/api/auth/logout", token, "")
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("logout expected 204, got %d", resp.StatusCode)
	}
	resp, body = env.do(t, http.MethodGet, "/api/auth/me", token, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("revoked token expected 401, got %d", resp.StatusCode)
	}
	if body["code"] != "unauthorized" || body["requestId"] == "" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestBadCredentials(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "ana@example.com", domain.RoleStudent)
	resp, body := env.do(t, http.MethodPost, "/api/auth/login", "", `{"email":"ana@example.com","password":"wrong-pass1"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password expected 401, got %d: %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, http.MethodPost, "/api/auth/login", "", `{not json`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("malformed body expected 400, got %d", resp.StatusCode)
	}
}

func TestCheckoutFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	_, librarian := env.login(t, "lib@example.com", domain.RoleLibrarian)
	memberID, member := env.login(t, "ana@example.com", domain.RoleStudent)
	_, other := env.login(t, "bob@example.com", domain.RoleStudent)

	resp, _ := env.do(t, http.MethodPost, "/api/books", member, `{"title":"Dune"}`)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member create book expected 403, got %d", resp.StatusCode)
	}
	resp, body := env.do(t, http.MethodPost, "/api/books", librarian, `{"title":"Dune"}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create book expected 201, got %d: %v", resp.StatusCode, body)
	}
	bookID := uint(body["id"].(float64))

	resp, body = env.do(t, http.MethodPost, fmt.Sprintf("/api/books/%d/copies", bookID), librarian, `{"count":1}`)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add copies expected 201, got %d: %v", resp.StatusCode, body)
	}
	copyItem := body["items"].([]any)[0].(map[string]any)
	if copyItem["barcode"] != fmt.Sprintf("LIB-%03d-001", bookID) {
		t.Fatalf("unexpected barcode: %v", copyItem["barcode"])
	}
	copyID := uint(copyItem["id"].(float64))

	resp, body = env.do(t, http.MethodGet, "/api/books/available", member, "")
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("available books = %d %v", resp.StatusCode, body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/loans", member, fmt.Sprintf(`{"copyId":%d}`, copyID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("borrow expected 201, got %d: %v", resp.StatusCode, body)
	}
	loanID := uint(body["id"].(float64))
	if uint(body["userId"].(float64)) != memberID || body["status"] != string(domain.LoanActive) {
		t.Fatalf("unexpected loan: %v", body)
	}

	resp, body = env.do(t, http.MethodPost, "/api/loans", librarian, fmt.Sprintf(`{"userId":%d,"copyId":%d}`, memberID, copyID))
	if resp.StatusCode != http.StatusConflict || body["code"] != "conflict" {
		t.Fatalf("second checkout expected 409, got %d: %v", resp.StatusCode, body)
	}

	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/loans/%d", loanID), other, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign loan expected 403, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/books/%d", bookID), librarian, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("delete loaned book expected 409, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodPost, fmt.Sprintf("/api/loans/%d/return", loanID), member, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("return expected 200, got %d: %v", resp.StatusCode, body)
	}
	loan := body["loan"].(map[string]any)
	if loan["status"] != string(domain.LoanReturned) {
		t.Fatalf("unexpected returned loan: %v", loan)
	}
	if _, ok := body["fine"]; ok {
		t.Fatalf("on-time return must not assess a fine: %v", body)
	}
	resp, _ = env.do(t, http.MethodPost, fmt.Sprintf("/api/loans/%d/return", loanID), member, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second return expected 409, got %d", resp.StatusCode)
	}

	resp, body = env.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/history", memberID), member, "")
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 1 {
		t.Fatalf("history = %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/history", memberID), other, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign history expected 403, got %d", resp.StatusCode)
	}
}

func TestLoanPeriodsAreBounded(t *testing.T) {
	env := newTestEnv(t, nil)
	_, librarian := env.login(t, "lib@example.com", domain.RoleLibrarian)
	_, member := env.login(t, "ana@example.com", domain.RoleStudent)

	_, body := env.do(t, http.MethodPost, "/api/books", librarian, `{"title":"Dune"}`)
	bookID := uint(body["id"].(float64))
	_, body = env.do(t, http.MethodPost, fmt.Sprintf("/api/books/%d/copies", bookID), librarian, `{"count":1}`)
	copyID := uint(body["items"].([]any)[0].(map[string]any)["id"].(float64))

	resp, body := env.do(t, http.MethodPost, "/api/loans", member, fmt.Sprintf(`{"copyId":%d,"loanDays":1000000000}`, copyID))
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "invalid_argument" {
		t.Fatalf("huge loanDays expected 400, got %d: %v", resp.StatusCode, body)
	}
	resp, body = env.do(t, http.MethodPost, "/api/loans", member, fmt.Sprintf(`{"copyId":%d,"loanDays":365}`, copyID))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("year-long loan expected 201, got %d: %v", resp.StatusCode, body)
	}
	loanID := uint(body["id"].(float64))

	resp, body = env.do(t, http.MethodPost, fmt.Sprintf("/api/loans/%d/renew", loanID), member, `{"extraDays":1000000000}`)
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "invalid_argument" {
		t.Fatalf("huge extraDays expected 400, got %d: %v", resp.StatusCode, body)
	}
}

func TestReservationLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t, nil)
	_, librarian := env.login(t, "lib@example.com", domain.RoleLibrarian)
	_, member := env.login(t, "ana@example.com", domain.RoleStudent)
	_, body := env.do(t, http.MethodPost, "/api/books", librarian, `{"title":"Emma"}`)
	bookID := uint(body["id"].(float64))

	resp, body := env.do(t, http.MethodPost, "/api/reservations", member, fmt.Sprintf(`{"bookId":%d}`, bookID))
	if resp.StatusCode != http.StatusCreated || body["status"] != string(domain.ReservationPending) {
		t.Fatalf("reserve = %d %v", resp.StatusCode, body)
	}
	id := uint(body["id"].(float64))

	resp, body = env.do(t, http.MethodPut, fmt.Sprintf("/api/reservations/%d/cancel", id), member, "")
	if resp.StatusCode != http.StatusOK || body["status"] != string(domain.ReservationCancelled) {
		t.Fatalf("cancel = %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, http.MethodPut, fmt.Sprintf("/api/reservations/%d/complete", id), librarian, "")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("complete cancelled expected 409, got %d", resp.StatusCode)
	}
	resp, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/reservations/%d", id), member, "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("member delete expected 403, got %d", resp.StatusCode)
	}
}

func TestAdminOnlySurfaces(t *testing.T) {
	env := newTestEnv(t, nil)
	_, librarian := env.login(t, "lib@example.com", domain.RoleLibrarian)
	_, member := env.login(t, "ana@example.com", domain.RoleStudent)

	for _, path := range []string{"/api/stats/dashboard", "/api/fines", "/api/users", "/api/loans/overdue"} {
		resp, _ := env.do(t, http.MethodGet, path, member, "")
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("%s as member expected 403, got %d", path, resp.StatusCode)
		}
		resp, _ = env.do(t, http.MethodGet, path, librarian, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s as librarian expected 200, got %d", path, resp.StatusCode)
		}
	}
	resp, body := env.do(t, http.MethodGet, "/api/stats/loans", librarian, "")
	if resp.StatusCode != http.StatusOK || body["count"].(float64) != 12 {
		t.Fatalf("monthly stats = %d %v", resp.StatusCode, body)
	}
	resp, _ = env.do(t, http.MethodGet, "/api/stats/recent-loans?limit=abc", librarian, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit expected 400, got %d", resp.StatusCode)
	}
}

func TestCoverWithoutStorage(t *testing.T) {
	env := newTestEnv(t, nil)
	_, librarian := env.login(t, "lib@example.com", domain.RoleLibrarian)
	_, body := env.do(t, http.MethodPost, "/api/books", librarian, `{"title":"Emma"}`)
	bookID := uint(body["id"].(float64))

	req, _ := http.NewRequest(http.MethodPut, fmt.Sprintf("%s/api/books/%d/cover", env.srv.URL, bookID), strings.NewReader("png"))
	req.Header.Set("Authorization", "Bearer "+librarian)
	req.Header.Set("Content-Type", "image/png")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload cover: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("cover without storage expected 503, got %d", resp.StatusCode)
	}
}

func TestUserIDHeader(t *testing.T) {
	env := newTestEnv(t, func(c *Config) { c.AllowUserIDHeader = true })
	id, _ := env.login(t, "ana@example.com", domain.RoleStudent)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/api/auth/me", nil)
	req.Header.Set("X-User-Id", fmt.Sprint(id))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me via header: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("X-User-Id expected 200, got %d", resp.StatusCode)
	}

	strict := newTestEnv(t, nil)
	req, _ = http.NewRequest(http.MethodGet, strict.srv.URL+"/api/auth/me", nil)
	req.Header.Set("X-User-Id", "1")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("me via header: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("disabled X-User-Id expected 401, got %d", resp.StatusCode)
	}
}

func TestLoginRateLimit(t *testing.T) {
	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindow(redis.Addr(), "", "library:test:login", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	env := newTestEnv(t, func(c *Config) { c.LoginLimiter = limiter })

	body := `{"email":"u@example.com","password":"pass1234"}`
	resp, _ := env.do(t, http.MethodPost, "/api/auth/login", "", body)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first request expected 401, got %d", resp.StatusCode)
	}
	resp, out := env.do(t, http.MethodPost, "/api/auth/login", "", body)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" || out["code"] != "rate_limited" {
		t.Fatalf("expected Retry-After and rate_limited code, got %q %v", resp.Header.Get("Retry-After"), out)
	}
}

func TestLoginRateLimitKeysOnForwardedClient(t *testing.T) {
	limiter, err := ratelimit.NewMemoryFixedWindow(1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	trusted, err := util.NewTrustedProxies([]string{"127.0.0.0/8", "::1"})
	if err != nil {
		t.Fatalf("trusted proxies: %v", err)
	}
	env := newTestEnv(t, func(c *Config) {
		c.LoginLimiter = limiter
		c.TrustedProxies = trusted
	})

	login := func(forwardedFor string) int {
		req, _ := http.NewRequest(http.MethodPost, env.srv.URL+"/api/auth/login", strings.NewReader(`{"email":"u@example.com","password":"pass1234"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("login: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if got := login("203.0.113.5"); got != http.StatusUnauthorized {
		t.Fatalf("first client expected 401, got %d", got)
	}
	if got := login("203.0.113.5"); got != http.StatusTooManyRequests {
		t.Fatalf("first client again expected 429, got %d", got)
	}
	if got := login("203.0.113.6"); got != http.StatusUnauthorized {
		t.Fatalf("second client behind the same proxy expected 401, got %d", got)
	}
}

func TestWriteAppErrorMapping(t *testing.T) {
	s := &Server{}
	cases := []struct {
		err  error
		want int
	}{
		{app.ErrCopyUnavailable, http.StatusConflict},
		{fmt.Errorf("%w: book 9", app.ErrNotFound), http.StatusNotFound},
		{app.ErrInvalidCredentials, http.StatusUnauthorized},
		{app.ErrForbidden, http.StatusForbidden},
		{app.ErrInvalidArgument, http.StatusBadRequest},
		{app.ErrStorageDisabled, http.StatusServiceUnavailable},
		{fmt.Errorf("pq: connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/x", nil)
		s.writeAppError(rec, req, tc.err)
		if rec.Code != tc.want {
			t.Fatalf("%v mapped to %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
	rec := httptest.NewRecorder()
	s.writeAppError(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil), fmt.Errorf("pq: secret detail"))
	if strings.Contains(rec.Body.String(), "secret") {
		t.Fatalf("internal errors must not leak: %s", rec.Body.String())
	}
}
