package analyzer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/hitoshi/seoman/internal/security"
)

const (
	defaultProbeMaxSize = 2 * 1024 * 1024
	maxHeadings         = 8
	maxRecentPosts      = 5
	userAgent           = "Seoman/1.0 Website Analyzer"
)

// SiteInfo はトップページから取得したサイトの概要。
type SiteInfo struct {
	Title       string
	Description string
	Headings    []string
	FeedURL     string
	RecentPosts []string
}

// Empty は解析に使える情報が何もない場合にtrueを返す。
func (s *SiteInfo) Empty() bool {
	return s.Title == "" && s.Description == "" && len(s.Headings) == 0 && len(s.RecentPosts) == 0
}

// Prober はサイトの概要を取得する。
type Prober interface {
	Probe(ctx context.Context, pageURL string) (*SiteInfo, error)
}

// SiteProbe はトップページとフィードを取得してSiteInfoを組み立てる。
type SiteProbe struct {
	client    *http.Client
	sanitizer *security.TextSanitizer
	parser    *gofeed.Parser
	maxSize   int64
	logger    *slog.Logger
}

// NewSiteProbe はSiteProbeを生成する。clientにはSSRF防止付きのクライアントを渡す。
func NewSiteProbe(client *http.Client, sanitizer *security.TextSanitizer, maxSize int64, logger *slog.Logger) *SiteProbe {
	if maxSize <= 0 {
		maxSize = defaultProbeMaxSize
	}
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer(300)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SiteProbe{
		client:    client,
		sanitizer: sanitizer,
		parser:    gofeed.NewParser(),
		maxSize:   maxSize,
		logger:    logger,
	}
}

// Probe はpageURLのHTMLからタイトル、説明、見出し、フィードを取り出す。
// フィードの取得に失敗しても、ページから得た情報は返す。
func (p *SiteProbe) Probe(ctx context.Context, pageURL string) (*SiteInfo, error) {
	body, contentType, err := p.fetch(ctx, pageURL, "text/html, application/xhtml+xml")
	if err != nil {
		return nil, err
	}
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType != "" && !strings.Contains(strings.ToLower(mediaType), "html") {
		return nil, fmt.Errorf("not an HTML page: %s", mediaType)
	}

	info := parseSiteHTML(body, pageURL)
	info.Title = p.sanitizer.Text(info.Title)
	info.Description = p.sanitizer.Text(info.Description)
	info.Headings = p.cleanAll(info.Headings, maxHeadings)

	if info.FeedURL != "" {
		posts, err := p.recentPosts(ctx, info.FeedURL)
		if err != nil {
			p.logger.Info("フィードの取得に失敗しました",
				slog.String("feed_url", info.FeedURL),
				slog.String("error", err.Error()),
			)
		} else {
			info.RecentPosts = posts
		}
	}
	return info, nil
}

func (p *SiteProbe) fetch(ctx context.Context, target, accept string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, target)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.maxSize))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", target, err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

func (p *SiteProbe) recentPosts(ctx context.Context, feedURL string) ([]string, error) {
	body, _, err := p.fetch(ctx, feedURL, "application/rss+xml, application/atom+xml, application/xml, text/xml")
	if err != nil {
		return nil, err
	}
	feed, err := p.parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed: %w", err)
	}

	titles := make([]string, 0, maxRecentPosts)
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		titles = append(titles, item.Title)
	}
	return p.cleanAll(titles, maxRecentPosts), nil
}

// cleanAll はテキスト化した空でない要素を最大limit件返す。
func (p *SiteProbe) cleanAll(values []string, limit int) []string {
	out := make([]string, 0, limit)
	for _, v := range values {
		if t := p.sanitizer.Text(v); t != "" {
			out = append(out, t)
			if len(out) == limit {
				break
			}
		}
	}
	return out
}

// parseSiteHTML はHTMLを走査してSiteInfoの素材を集める。
// 値はまだサニタイズしていない。
func parseSiteHTML(body []byte, pageURL string) *SiteInfo {
	info := &SiteInfo{}
	base, _ := url.Parse(pageURL)

	tokenizer := html.NewTokenizer(bytes.NewReader(body))
	var capture string // 収集中のタグ (title, h1, h2)
	var text strings.Builder

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return info

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := tokenizer.TagName()
			tag := string(tn)

			switch tag {
			case "title", "h1", "h2":
				if tt == html.StartTagToken && capture == "" {
					capture = tag
					text.Reset()
				}
			case "meta":
				if hasAttr && info.Description == "" {
					info.Description = metaDescription(readAttrs(tokenizer))
				}
			case "link":
				if hasAttr && info.FeedURL == "" {
					info.FeedURL = feedLink(readAttrs(tokenizer), base)
				}
			}

		case html.TextToken:
			if capture != "" {
				text.Write(tokenizer.Text())
				text.WriteByte(' ')
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if string(tn) != capture {
				continue
			}
			value := strings.TrimSpace(text.String())
			if capture == "title" {
				if info.Title == "" {
					info.Title = value
				}
			} else if value != "" {
				info.Headings = append(info.Headings, value)
			}
			capture = ""
		}
	}
}

func readAttrs(tokenizer *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := tokenizer.TagAttr()
		attrs[strings.ToLower(string(key))] = string(val)
		if !more {
			break
		}
	}
	return attrs
}

func metaDescription(attrs map[string]string) string {
	name := strings.ToLower(attrs["name"])
	property := strings.ToLower(attrs["property"])
	if name == "description" || property == "og:description" {
		return attrs["content"]
	}
	return ""
}

// feedLink はrel="alternate"なRSS/Atomリンクを絶対URLにして返す。
func feedLink(attrs map[string]string, base *url.URL) string {
	isAlternate := false
	for _, r := range strings.Fields(strings.ToLower(attrs["rel"])) {
		if r == "alternate" {
			isAlternate = true
		}
	}
	typ := strings.ToLower(attrs["type"])
	if !isAlternate || attrs["href"] == "" {
		return ""
	}
	if typ != "application/rss+xml" && typ != "application/atom+xml" {
		return ""
	}

	ref, err := url.Parse(attrs["href"])
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
