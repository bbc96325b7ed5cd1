package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, project, analyzer, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因（ログ用。レスポンスには含めない）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated  = "UNAUTHENTICATED"
	ErrCodeDuplicateProject = "DUPLICATE_PROJECT"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeAnalyzerFailure  = "ANALYZER_FAILURE"
	ErrCodeInvalidURL       = "INVALID_URL"
	ErrCodeInvalidProject   = "INVALID_PROJECT"
	ErrCodeSSRFBlocked      = "SSRF_BLOCKED"
	ErrCodeUserNotFound     = "USER_NOT_FOUND"
)

// HasCode はerrがcodeを持つAPIErrorかどうかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// NewUnauthenticatedError は未認証エラーを生成する。
func NewUnauthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewDuplicateProjectError は同じURLのプロジェクトが既に存在する場合のエラーを生成する。
func NewDuplicateProjectError(url string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateProject,
		Message:  fmt.Sprintf("このURLのプロジェクトは既に存在します: %s", url),
		Category: "project",
		Action:   "ダッシュボードから既存のプロジェクトを確認してください。",
	}
}

// NewStoreUnavailableError はデータストアへのアクセス失敗を表すエラーを生成する。
func NewStoreUnavailableError(err error) *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "データストアに接続できませんでした。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewAnalyzerFailureError はWebサイト解析の失敗を表すエラーを生成する。
func NewAnalyzerFailureError(reason string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeAnalyzerFailure,
		Message:  fmt.Sprintf("Webサイトの解析に失敗しました: %s", reason),
		Category: "analyzer",
		Action:   "URLを確認し、しばらく待ってから再度お試しください。",
		Err:      err,
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "正しいURL形式（http:// または https:// で始まるURL）を入力してください。",
	}
}

// NewInvalidProjectError はプロジェクト入力の検証エラーを生成する。
func NewInvalidProjectError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProject,
		Message:  fmt.Sprintf("プロジェクトの入力が不正です: %s", reason),
		Category: "validation",
		Action:   "プロジェクト名とURLを入力してください。",
	}
}

// NewSSRFBlockedError はSSRFブロックエラーを生成する。
func NewSSRFBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeSSRFBlocked,
		Message:  "セキュリティポリシーにより、指定されたURLへのアクセスがブロックされました。",
		Category: "validation",
		Action:   "公開されているWebサイトのURLを入力してください。ローカルネットワークやプライベートIPへのアクセスは許可されていません。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
