// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"

	"github.com/hitoshi/seoman/internal/model"
)

// ErrDuplicateURLKey は (user_id, url_key) の一意制約違反を表す。
var ErrDuplicateURLKey = errors.New("project with the same url key already exists")

// ErrUserNotFound は削除対象のユーザーが存在しないことを表す。
var ErrUserNotFound = errors.New("user not found")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// CreateWithIdentity はユーザーとidentityを同一トランザクションで作成する。
	CreateWithIdentity(ctx context.Context, user *model.User, identity *model.Identity) error

	// DeleteByID は指定IDのユーザーを削除する。
	// 関連するidentities、sessions、projectsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// IdentityRepository は外部IdP紐付け情報の永続化インターフェース。
type IdentityRepository interface {
	// FindByProviderAndProviderUserID はproviderとprovider_user_idでidentityを検索する。
	// 見つからない場合はnilを返す。
	FindByProviderAndProviderUserID(ctx context.Context, provider, providerUserID string) (*model.Identity, error)
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// ProjectRepository はプロジェクトの永続化インターフェース。
// すべての操作はuser_idでスコープされる。
type ProjectRepository interface {
	// ListByUserID はユーザーのプロジェクトをcreated_at降順で返す。
	ListByUserID(ctx context.Context, userID string) ([]*model.Project, error)

	// FindByURLKey はurl_keyが完全一致するプロジェクトを返す。見つからない場合はnilを返す。
	FindByURLKey(ctx context.Context, userID, urlKey string) (*model.Project, error)

	// FindByURLKeyContaining はurl_keyにurlKeyを部分文字列として含むプロジェクトを返す。
	// 見つからない場合はnilを返す。
	FindByURLKeyContaining(ctx context.Context, userID, urlKey string) (*model.Project, error)

	// Insert はプロジェクトを作成し、採番済みの行を返す。
	// 一意制約違反の場合はErrDuplicateURLKeyを返す。
	Insert(ctx context.Context, project *model.Project, urlKey string) (*model.Project, error)

	// Delete は指定IDのプロジェクトを削除する。存在しない場合も成功とする。
	Delete(ctx context.Context, userID, id string) error

	// DeleteByUserID はユーザーの全プロジェクトを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}
