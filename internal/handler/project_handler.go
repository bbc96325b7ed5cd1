package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/seoman/internal/middleware"
	"github.com/hitoshi/seoman/internal/model"
)

const maxDraftBodySize = 64 << 10

// ProjectMirror はセッションごとのプロジェクトキャッシュ。
type ProjectMirror interface {
	List() []model.Project
	Create(ctx context.Context, draft model.NewProjectDraft) (*model.Project, error)
	Delete(ctx context.Context, id string) error
	Watch() (<-chan model.ProjectChange, func())
}

// MirrorRegistry はWebセッションIDからProjectMirrorを引き当てる。
type MirrorRegistry interface {
	Acquire(ctx context.Context, sessionID, userID string) (ProjectMirror, error)
	Release(sessionID string)
}

// ProjectHandler はプロジェクト管理のHTTPハンドラー。
type ProjectHandler struct {
	mirrors MirrorRegistry
}

// NewProjectHandler はProjectHandlerを生成する。
func NewProjectHandler(mirrors MirrorRegistry) *ProjectHandler {
	return &ProjectHandler{mirrors: mirrors}
}

// ListProjects はプロジェクト一覧を作成日時の降順で返す。
// GET /api/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	m, ok := acquireMirror(w, r, h.mirrors)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.List())
}

// CreateProject はプロジェクトを登録する。
// POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	m, ok := acquireMirror(w, r, h.mirrors)
	if !ok {
		return
	}

	var draft model.NewProjectDraft
	r.Body = http.MaxBytesReader(w, r.Body, maxDraftBodySize)
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		middleware.WriteError(w, r, model.NewInvalidProjectError("リクエストボディが不正です"))
		return
	}

	p, err := m.Create(r.Context(), draft)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// DeleteProject はプロジェクトを削除する。存在しないIDも成功として扱う。
// DELETE /api/projects/{id}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	m, ok := acquireMirror(w, r, h.mirrors)
	if !ok {
		return
	}

	if err := m.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// acquireMirror はリクエストのセッションに対応するミラーを返す。
// 失敗時はエラーレスポンスを書き込みfalseを返す。
func acquireMirror(w http.ResponseWriter, r *http.Request, mirrors MirrorRegistry) (ProjectMirror, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
		return nil, false
	}

	m, err := mirrors.Acquire(r.Context(), middleware.SessionIDFromContext(r.Context()), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return nil, false
	}
	return m, true
}
