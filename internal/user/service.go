// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/seoman/internal/model"
	"github.com/hitoshi/seoman/internal/repository"
)

// ProjectDeleter はプロジェクトの一括削除インターフェース。
type ProjectDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// MirrorReleaser はユーザーのダッシュボードミラーを解放する。
// project.Registryが実装する。
type MirrorReleaser interface {
	ReleaseUser(userID string)
}

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	projects    ProjectDeleter
	mirrors     MirrorReleaser
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。mirrorsはnilでもよい。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	projects ProjectDeleter,
	mirrors MirrorReleaser,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		projects:    projects,
		mirrors:     mirrors,
		logger:      logger,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: projects → sessions → user（identitiesはCASCADE削除）
// 最後にそのユーザーのミラーをすべて解放する。
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	s.logger.Info("退会処理を開始します", slog.String("user_id", userID))

	if err := s.projects.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("プロジェクトの削除に失敗しました: %w", err)
	}
	if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
		return fmt.Errorf("セッションの削除に失敗しました: %w", err)
	}
	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	if s.mirrors != nil {
		s.mirrors.ReleaseUser(userID)
	}

	s.logger.Info("退会処理が完了しました", slog.String("user_id", userID))
	return nil
}
