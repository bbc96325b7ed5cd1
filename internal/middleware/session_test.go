package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hitoshi/seoman/internal/model"
)

type mockSessionFinder struct {
	sessions map[string]*model.Session
	err      error
}

func (m *mockSessionFinder) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.sessions[id], nil
}

func newSessionFinder() *mockSessionFinder {
	return &mockSessionFinder{sessions: map[string]*model.Session{
		"valid-session": {
			ID:        "valid-session",
			UserID:    "user-1",
			ExpiresAt: time.Now().Add(time.Hour),
		},
	}}
}

func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("エラーレスポンスのデコードに失敗: %v", err)
	}
	return body
}

func TestSessionMiddleware_ValidSession(t *testing.T) {
	var gotUserID, gotSessionID string
	handler := NewSessionMiddleware(newSessionFinder())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUserID, _ = UserIDFromContext(r.Context())
		gotSessionID = SessionIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "valid-session"})
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if gotUserID != "user-1" {
		t.Errorf("userID = %q, want user-1", gotUserID)
	}
	if gotSessionID != "valid-session" {
		t.Errorf("sessionID = %q, want valid-session", gotSessionID)
	}
}

func TestSessionMiddleware_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		cookie *http.Cookie
		finder *mockSessionFinder
	}{
		{"Cookieなし", nil, newSessionFinder()},
		{"空のCookie", &http.Cookie{Name: SessionCookieName, Value: ""}, newSessionFinder()},
		{"期限切れまたは不明", &http.Cookie{Name: SessionCookieName, Value: "unknown"}, newSessionFinder()},
		{"検索エラー", &http.Cookie{Name: SessionCookieName, Value: "valid-session"}, &mockSessionFinder{err: errors.New("db down")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewSessionMiddleware(tt.finder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if called {
				t.Error("未認証リクエストが次のハンドラーに到達した")
			}
			if w.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", w.Code)
			}
			if body := decodeErrorBody(t, w); body.Code != model.ErrCodeUnauthenticated {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeUnauthenticated)
			}
		})
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("ユーザーIDがないコンテキストではエラーになるべき")
	}
	if got := SessionIDFromContext(context.Background()); got != "" {
		t.Errorf("SessionIDFromContext = %q, want empty", got)
	}
}

func TestContextWithUserID_WritesSink(t *testing.T) {
	var sink string
	ctx := withUserIDSink(context.Background(), &sink)
	ContextWithUserID(ctx, "user-42")

	if sink != "user-42" {
		t.Errorf("sink = %q, want user-42", sink)
	}
}
