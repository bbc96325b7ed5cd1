package handler

import (
	"context"

	"github.com/hitoshi/seoman/internal/project"
)

// RegistryAdapter は project.Registry を MirrorRegistry に適合させるアダプタ。
type RegistryAdapter struct {
	registry *project.Registry
}

// NewRegistryAdapter はRegistryAdapterを生成する。
func NewRegistryAdapter(registry *project.Registry) *RegistryAdapter {
	return &RegistryAdapter{registry: registry}
}

// Acquire はセッションのミラーを返す。
func (a *RegistryAdapter) Acquire(ctx context.Context, sessionID, userID string) (ProjectMirror, error) {
	repo, err := a.registry.Acquire(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

// Release はセッションのミラーを破棄する。
func (a *RegistryAdapter) Release(sessionID string) {
	a.registry.Release(sessionID)
}
