package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/hitoshi/seoman/internal/model"
)

const (
	// maxClientResponseSize は解析エンドポイント応答の読み取り上限。
	maxClientResponseSize = 1 << 20
	sessionCookieName     = "session_id"
)

// Client は GET /analyze-website を呼び出す解析エンドポイントのクライアント。
// 作成フォームのように、サーバー外から解析結果を取得する呼び出し元が使う。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
	sessionID  string
}

// NewClient はClientを生成する。endpointは /analyze-website のURL。
func NewClient(httpClient *http.Client, endpoint string, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// WithSession はセッションCookieを付けて呼び出すClientを返す。
// 解析エンドポイントは認証済みルートのため、サーバー外の呼び出し元はこれを使う。
func (c *Client) WithSession(sessionID string) *Client {
	cp := *c
	cp.sessionID = sessionID
	return &cp
}

// Analyze はtargetURLの解析を依頼する。
// 2xx以外の応答、またはerrorキーを含む応答はANALYZER_FAILUREになる。
func (c *Client) Analyze(ctx context.Context, targetURL string) (*model.WebsiteAnalysis, error) {
	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid analyzer endpoint: %w", err)
	}
	q := reqURL.Query()
	q.Set("url", targetURL)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build analyzer request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.sessionID != "" {
		req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: c.sessionID})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("解析エンドポイントの呼び出しに失敗しました",
			slog.String("url", targetURL),
			slog.String("error", err.Error()),
		)
		return nil, model.NewAnalyzerFailureError("解析エンドポイントに接続できませんでした", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxClientResponseSize))
	if err != nil {
		return nil, model.NewAnalyzerFailureError("応答を読み取れませんでした", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		reason := errorMessage(body)
		if reason == "" {
			reason = fmt.Sprintf("ステータス %d", resp.StatusCode)
		}
		c.logger.Warn("解析エンドポイントがエラーを返しました",
			slog.String("url", targetURL),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, model.NewAnalyzerFailureError(reason, nil)
	}

	analysis, err := parseAnalysis(string(body))
	if err != nil {
		reason := "応答を読み取れませんでした"
		if msg := errorMessage(body); msg != "" {
			reason = msg
		}
		return nil, model.NewAnalyzerFailureError(reason, err)
	}
	return analysis, nil
}

// errorMessage は {"error": "..."} 形式の本文からメッセージを取り出す。
func errorMessage(body []byte) string {
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	return strings.TrimSpace(resp.Error)
}
