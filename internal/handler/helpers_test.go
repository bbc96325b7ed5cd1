package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"

	"github.com/hitoshi/seoman/internal/middleware"
	"github.com/hitoshi/seoman/internal/model"
)

// --- モック定義 ---

// fakeMirror はProjectMirrorのモック実装。
type fakeMirror struct {
	mu       sync.Mutex
	projects []model.Project
	createFn func(ctx context.Context, draft model.NewProjectDraft) (*model.Project, error)
	deleteFn func(ctx context.Context, id string) error
	deleted  []string
	changes  chan model.ProjectChange
	watched  int
}

func newFakeMirror(projects ...model.Project) *fakeMirror {
	return &fakeMirror{
		projects: projects,
		changes:  make(chan model.ProjectChange, 4),
	}
}

func (m *fakeMirror) List() []model.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Project, len(m.projects))
	copy(out, m.projects)
	return out
}

func (m *fakeMirror) Create(ctx context.Context, draft model.NewProjectDraft) (*model.Project, error) {
	if m.createFn != nil {
		return m.createFn(ctx, draft)
	}
	return &model.Project{ID: "project-1", Name: draft.Name, URL: draft.URL}, nil
}

func (m *fakeMirror) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	m.deleted = append(m.deleted, id)
	m.mu.Unlock()
	if m.deleteFn != nil {
		return m.deleteFn(ctx, id)
	}
	return nil
}

func (m *fakeMirror) Watch() (<-chan model.ProjectChange, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.watched++
	return m.changes, func() {}
}

// fakeRegistry はMirrorRegistryのモック実装。
type fakeRegistry struct {
	mu       sync.Mutex
	mirror   *fakeMirror
	err      error
	acquired []string
	released []string
}

func (g *fakeRegistry) Acquire(ctx context.Context, sessionID, userID string) (ProjectMirror, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.acquired = append(g.acquired, sessionID+"/"+userID)
	if g.err != nil {
		return nil, g.err
	}
	return g.mirror, nil
}

func (g *fakeRegistry) Release(sessionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.released = append(g.released, sessionID)
}

func (g *fakeRegistry) acquiredKeys() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.acquired...)
}

// --- ヘルパー ---

func withSession(r *http.Request, sessionID, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), sessionID, userID))
}

func decodeAPIError(t *testing.T, resp *http.Response) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
