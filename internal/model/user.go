package model

import "time"

// User はGoogleアカウントでサインインした利用者を表す。
type User struct {
	ID        string
	Email     string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Identity はユーザーと外部IdPアカウントの対応を表す。
type Identity struct {
	ID             string
	UserID         string
	Provider       string
	ProviderUserID string
	CreatedAt      time.Time
}

// Session はCookieで識別されるログインセッション。
// ダッシュボードのミラーはこのIDを単位に保持される。
type Session struct {
	ID        string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
