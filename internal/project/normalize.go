// Package project はセッション単位のプロジェクト一覧ミラーと作成・削除の仲介を提供する。
package project

import (
	"fmt"
	"strings"
)

// NormalizeURL は重複判定用にURLをホスト部分へ正規化する。
// 小文字化し、先頭のスキームと "www." を取り除き、最初の "/" 以降を切り捨てる。
func NormalizeURL(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, prefix := range []string{"https://", "http://"} {
		if strings.HasPrefix(s, prefix) {
			s = s[len(prefix):]
			break
		}
	}
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// MatchMode は既存プロジェクトとのURL照合方法。
type MatchMode string

const (
	// MatchSubstring は正規化済みURLの部分一致で重複とみなす。
	MatchSubstring MatchMode = "substring"
	// MatchExact は正規化済みURLの完全一致のみを重複とみなす。
	MatchExact MatchMode = "exact"
)

// ParseMatchMode は設定値からMatchModeを返す。空文字はMatchSubstring。
func ParseMatchMode(s string) (MatchMode, error) {
	switch MatchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchSubstring:
		return MatchSubstring, nil
	case MatchExact:
		return MatchExact, nil
	default:
		return "", fmt.Errorf("unknown duplicate match mode %q (want substring or exact)", s)
	}
}
