// Package analyzer はWebサイトを解析して業種・サービス・ターゲット層を推定する。
package analyzer

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/hitoshi/seoman/internal/metrics"
	"github.com/hitoshi/seoman/internal/model"
)

const (
	defaultAnalyzeTimeout = 30 * time.Second
	defaultCacheTTL       = time.Hour
	temperature           = 0.3
	maxTokens             = 500
)

// URLValidator はSSRF対策の事前検証。security.SSRFGuardServiceが実装する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// ServiceConfig はServiceの動作設定。
type ServiceConfig struct {
	Timeout  time.Duration
	CacheTTL time.Duration
	Metrics  metrics.MetricsCollector
	Logger   *slog.Logger
}

// Service はWebサイト解析のサービス層。
type Service struct {
	llm      llms.Model
	guard    URLValidator
	probe    Prober
	cache    Cache
	timeout  time.Duration
	cacheTTL time.Duration
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewService はServiceを生成する。probeとcacheはnilでもよい。
func NewService(llm llms.Model, guard URLValidator, probe Prober, cache Cache, cfg ServiceConfig) *Service {
	s := &Service{
		llm:      llm,
		guard:    guard,
		probe:    probe,
		cache:    cache,
		timeout:  cfg.Timeout,
		cacheTTL: cfg.CacheTTL,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
	}
	if s.timeout <= 0 {
		s.timeout = defaultAnalyzeTimeout
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = defaultCacheTTL
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Analyze はURLのWebサイトを解析する。
// 解析サービスの応答が空・不正な場合は部分的な結果を返さずANALYZER_FAILUREとする。
func (s *Service) Analyze(ctx context.Context, rawURL string) (*model.WebsiteAnalysis, error) {
	start := time.Now()
	analysis, err := s.analyze(ctx, rawURL)
	s.metrics.RecordAnalyzeLatency(time.Since(start))

	switch {
	case err == nil:
		s.metrics.RecordAnalyzeRequest(metrics.ResultSuccess)
	case model.HasCode(err, model.ErrCodeSSRFBlocked):
		s.metrics.RecordAnalyzeRequest(metrics.ResultBlocked)
	default:
		s.metrics.RecordAnalyzeRequest(metrics.ResultFailure)
	}
	return analysis, err
}

func (s *Service) analyze(ctx context.Context, rawURL string) (*model.WebsiteAnalysis, error) {
	target, err := normalizeTarget(rawURL)
	if err != nil {
		return nil, err
	}
	if s.guard != nil {
		if err := s.guard.ValidateURL(target.String()); err != nil {
			s.logger.Warn("SSRF検証によりブロックされました",
				slog.String("url", target.String()),
				slog.String("error", err.Error()),
			)
			return nil, model.NewSSRFBlockedError()
		}
	}

	key := cacheKey(target)
	if cached := s.lookupCache(ctx, key); cached != nil {
		return cached, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var site *SiteInfo
	if s.probe != nil {
		info, err := s.probe.Probe(ctx, target.String())
		if err != nil {
			s.logger.Info("サイト情報の取得に失敗しました。URLのみで解析します",
				slog.String("url", target.String()),
				slog.String("error", err.Error()),
			)
		} else {
			site = info
		}
	}

	content, err := s.complete(ctx, target.String(), site)
	if err != nil {
		return nil, err
	}

	analysis, err := parseAnalysis(content)
	if err != nil {
		s.logger.Warn("解析結果の読み取りに失敗しました",
			slog.String("url", target.String()),
			slog.String("error", err.Error()),
		)
		reason := "解析結果を読み取れませんでした"
		if errors.Is(err, errEmptyContent) {
			reason = "解析結果が空でした"
		}
		return nil, model.NewAnalyzerFailureError(reason, err)
	}
	if analysis.ProjectName == "" {
		analysis.ProjectName = SuggestName(target.String())
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, analysis, s.cacheTTL); err != nil {
			s.logger.Warn("解析結果のキャッシュに失敗しました", slog.String("error", err.Error()))
		}
	}
	return analysis, nil
}

func (s *Service) lookupCache(ctx context.Context, key string) *model.WebsiteAnalysis {
	if s.cache == nil {
		return nil
	}
	cached, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn("解析結果キャッシュの参照に失敗しました", slog.String("error", err.Error()))
		return nil
	}
	s.metrics.RecordAnalysisCache(cached != nil)
	return cached
}

func (s *Service) complete(ctx context.Context, target string, site *SiteInfo) (string, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildPrompt(target, site)),
	}
	resp, err := s.llm.GenerateContent(ctx, messages,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		s.logger.Error("解析サービスの呼び出しに失敗しました",
			slog.String("url", target),
			slog.String("error", err.Error()),
		)
		return "", model.NewAnalyzerFailureError("解析サービスを呼び出せませんでした", err)
	}
	if resp == nil || len(resp.Choices) == 0 || resp.Choices[0] == nil {
		return "", model.NewAnalyzerFailureError("解析結果が空でした", errEmptyContent)
	}
	return resp.Choices[0].Content, nil
}

// normalizeTarget は入力URLを検証し、スキームがなければhttps://を補う。
func normalizeTarget(rawURL string) (*url.URL, error) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return nil, model.NewInvalidURLError("URLが入力されていません")
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if strings.Contains(raw, "://") {
			return nil, model.NewInvalidURLError("http または https のURLを指定してください")
		}
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return nil, model.NewInvalidURLError("URLの形式が正しくありません")
	}
	return u, nil
}

// cacheKey は同じサイトの表記揺れを同一キーにまとめる。
func cacheKey(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host + strings.TrimSuffix(u.EscapedPath(), "/")
}
