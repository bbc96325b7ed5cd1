// Package model はドメインモデルを定義する。
package model

import "time"

// Project はユーザーが登録したSEOプロジェクトを表す。
// industry はトップレベルの列として保持し、TargetAudience には含めない。
type Project struct {
	ID             string         `json:"id"`
	UserID         string         `json:"user_id"`
	Name           string         `json:"name"`
	URL            string         `json:"url"`
	Industry       string         `json:"industry"`
	Services       []string       `json:"services"`
	TargetAudience TargetAudience `json:"target_audience"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// TargetAudience は永続化されるターゲット層の属性。
type TargetAudience struct {
	Gender    []string `json:"gender"`
	Languages []string `json:"languages"`
	Location  []string `json:"location"`
}

// NewProjectDraft はプロジェクト作成フォームから送られる入力。
type NewProjectDraft struct {
	Name           string              `json:"name"`
	URL            string              `json:"url"`
	Services       []string            `json:"services"`
	TargetAudience DraftTargetAudience `json:"target_audience"`
}

// DraftTargetAudience は作成フォーム上のターゲット層。
// Industry は先頭要素のみがProject.Industryに昇格する。
type DraftTargetAudience struct {
	Gender    []string `json:"gender"`
	Languages []string `json:"languages"`
	Location  []string `json:"location"`
	Industry  []string `json:"industry"`
}

// ChangeType は変更通知の種類を表す。
type ChangeType string

const (
	// ChangeInsert は行の追加。
	ChangeInsert ChangeType = "insert"
	// ChangeUpdate は行の更新。
	ChangeUpdate ChangeType = "update"
	// ChangeDelete は行の削除。Projectには削除前の行が入る。
	ChangeDelete ChangeType = "delete"
	// ChangeResync は通知ストリームの再接続を表す。受信側は全件を再取得する。
	ChangeResync ChangeType = "resync"
)

// ProjectChange はprojectsテーブルの変更通知。
type ProjectChange struct {
	Type    ChangeType `json:"event_type"`
	Project Project    `json:"row"`
}

// WebsiteAnalysis はWebサイト解析の結果を表す。
// 外部サービスの応答を語彙に合わせて補正した後の値を保持する。
type WebsiteAnalysis struct {
	ProjectName    string                 `json:"projectName,omitempty"`
	Industry       string                 `json:"industry"`
	Services       []string               `json:"services"`
	TargetAudience AnalysisTargetAudience `json:"targetAudience"`
}

// AnalysisTargetAudience は解析結果のターゲット層。
type AnalysisTargetAudience struct {
	Gender    []string `json:"gender"`
	Languages []string `json:"languages"`
	Location  []string `json:"location"`
}
