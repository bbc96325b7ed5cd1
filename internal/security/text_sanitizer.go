package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はWebページから取り出した断片をプレーンテキストにする。
// 解析用プロンプトに埋め込む前に使用する。
type TextSanitizer struct {
	policy   *bluemonday.Policy
	maxRunes int
}

// NewTextSanitizer はTextSanitizerを生成する。maxRunesが0以下なら長さを制限しない。
func NewTextSanitizer(maxRunes int) *TextSanitizer {
	return &TextSanitizer{
		policy:   bluemonday.StrictPolicy(),
		maxRunes: maxRunes,
	}
}

// Text はタグを除去し、実体参照を戻し、空白を1つにまとめる。
func (s *TextSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	text := strings.Join(strings.Fields(stripped), " ")

	if s.maxRunes > 0 && utf8.RuneCountInString(text) > s.maxRunes {
		runes := []rune(text)
		text = strings.TrimSpace(string(runes[:s.maxRunes])) + "…"
	}
	return text
}
