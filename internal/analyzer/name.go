package analyzer

import (
	"net/url"
	"strings"
)

// SuggestName はURLのホスト名からプロジェクト名を組み立てる。
// サブドメインがある場合は "blog.emb.global" → "Blog EMB"、
// ない場合は "my-shop.com" → "My Shop" のように単語ごとに先頭を大文字にする。
func SuggestName(rawURL string) string {
	host := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")

	parts := strings.Split(host, ".")
	if len(parts) == 0 || parts[0] == "" {
		return ""
	}
	if len(parts) > 2 {
		return capitalize(parts[0]) + " " + strings.ToUpper(parts[1])
	}

	words := strings.FieldsFunc(parts[0], func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		words[i] = capitalize(w)
	}
	return strings.Join(words, " ")
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
