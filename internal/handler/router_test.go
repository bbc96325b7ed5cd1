package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/seoman/internal/metrics"
	"github.com/hitoshi/seoman/internal/middleware"
	"github.com/hitoshi/seoman/internal/model"
	"github.com/prometheus/client_golang/prometheus"
)

type mockSessionFinder struct{}

func (mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if id == "valid-session" {
		return &model.Session{ID: id, UserID: "user-1"}, nil
	}
	return nil, nil
}

type routerFixture struct {
	handler  http.Handler
	registry *fakeRegistry
	mirror   *fakeMirror
	users    *mockUserService
}

func newRouterFixture(t *testing.T, limits middleware.RateLimiterConfig) *routerFixture {
	t.Helper()
	rl := middleware.NewRateLimiter(limits)
	t.Cleanup(rl.Stop)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	collector.RecordProjectCreated()

	mirror := newFakeMirror(model.Project{ID: "p1", Name: "Acme"})
	f := &routerFixture{
		registry: &fakeRegistry{mirror: mirror},
		mirror:   mirror,
		users:    &mockUserService{},
	}
	f.handler = NewRouter(&RouterDeps{
		SessionFinder:     mockSessionFinder{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		AuthService:       &mockAuthService{},
		AuthConfig:        testAuthConfig(),
		Mirrors:           f.registry,
		Analyzer:          &mockAnalyzer{result: &model.WebsiteAnalysis{Industry: "Other"}},
		UserService:       f.users,
		MetricsHandler:    metrics.Handler(reg),
	})
	return f
}

func (f *routerFixture) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

var validSession = &http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"}

func TestRouter_PublicRoutes(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	if w := f.do(http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("/health status = %d", w.Code)
	}
	w := f.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "seoman_projects_created_total") {
		t.Errorf("/metrics status = %d body=%s", w.Code, w.Body.String())
	}
	if w := f.do(http.MethodGet, "/auth/google/login", ""); w.Code != http.StatusTemporaryRedirect {
		t.Errorf("/auth/google/login status = %d", w.Code)
	}
	if w := f.do(http.MethodGet, "/auth/me", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("/auth/me status = %d", w.Code)
	}
}

func TestRouter_SecurityHeaders(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	w := f.do(http.MethodGet, "/health", "")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied to every route")
	}
}

func TestRouter_AuthenticatedRoutesRequireSession(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/projects"},
		{http.MethodPost, "/api/projects"},
		{http.MethodDelete, "/api/projects/p1"},
		{http.MethodGet, "/api/projects/events"},
		{http.MethodGet, "/analyze-website?url=acme.com"},
		{http.MethodDelete, "/api/users/me"},
	} {
		w := f.do(tc.method, tc.path, "")
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want 401", tc.method, tc.path, w.Code)
		}
	}
	if len(f.registry.acquiredKeys()) != 0 {
		t.Error("mirror should not be acquired for unauthenticated requests")
	}
}

func TestRouter_ListProjects(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	w := f.do(http.MethodGet, "/api/projects", "", validSession)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got []model.Project
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil || len(got) != 1 {
		t.Fatalf("projects = %v (err=%v)", got, err)
	}
	if keys := f.registry.acquiredKeys(); len(keys) != 1 || keys[0] != "valid-session/user-1" {
		t.Errorf("acquired = %v", keys)
	}
}

func TestRouter_CreateProjectRequiresCSRFToken(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())
	body := `{"name":"Acme","url":"https://acme.com"}`

	if w := f.do(http.MethodPost, "/api/projects", body, validSession); w.Code != http.StatusForbidden {
		t.Fatalf("without token status = %d, want 403", w.Code)
	}

	tokenResp := f.do(http.MethodGet, "/api/csrf-token", "")
	var token struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(tokenResp.Body).Decode(&token); err != nil || token.Token == "" {
		t.Fatalf("csrf token response: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/projects", strings.NewReader(body))
	req.AddCookie(validSession)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: token.Token})
	req.Header.Set("X-CSRF-Token", token.Token)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Errorf("with token status = %d, want 201; body=%s", w.Code, w.Body.String())
	}
}

func TestRouter_AnalyzeRateLimit(t *testing.T) {
	f := newRouterFixture(t, middleware.PerMinuteRateLimiterConfig(120, 2))

	for i := 0; i < 2; i++ {
		if w := f.do(http.MethodGet, "/analyze-website?url=acme.com", "", validSession); w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d, want 200", i+1, w.Code)
		}
	}
	w := f.do(http.MethodGet, "/analyze-website?url=acme.com", "", validSession)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body["error"] == "" {
		t.Errorf("analyze 429 should use the {error} shape: %v", body)
	}

	// 一般APIは解析の制限とは独立している
	if w := f.do(http.MethodGet, "/api/projects", "", validSession); w.Code != http.StatusOK {
		t.Errorf("/api/projects status = %d, want 200", w.Code)
	}
}

func TestRouter_CORSPreflight(t *testing.T) {
	f := newRouterFixture(t, middleware.DefaultRateLimiterConfig())

	req := httptest.NewRequest(http.MethodOptions, "/api/projects", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Allow-Origin = %q", got)
	}
}
