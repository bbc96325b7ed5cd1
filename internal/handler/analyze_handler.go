package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/seoman/internal/middleware"
	"github.com/hitoshi/seoman/internal/model"
)

// WebsiteAnalyzer はURLからプロジェクト情報を推定する。
type WebsiteAnalyzer interface {
	Analyze(ctx context.Context, rawURL string) (*model.WebsiteAnalysis, error)
}

// AnalyzeHandler はWebサイト解析のHTTPハンドラー。
// エラーは統一フォーマットではなく {"error": "..."} で返す。
type AnalyzeHandler struct {
	analyzer WebsiteAnalyzer
}

// NewAnalyzeHandler はAnalyzeHandlerを生成する。
func NewAnalyzeHandler(analyzer WebsiteAnalyzer) *AnalyzeHandler {
	return &AnalyzeHandler{analyzer: analyzer}
}

// Analyze はクエリのURLを解析する。
// GET /analyze-website?url=<encoded>
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	result, err := h.analyzer.Analyze(r.Context(), r.URL.Query().Get("url"))
	if err != nil {
		var apiErr *model.APIError
		if !errors.As(err, &apiErr) {
			slog.Error("website analysis failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "内部エラーが発生しました。"})
			return
		}
		if apiErr.Err != nil {
			slog.Warn("website analysis failed",
				slog.String("code", apiErr.Code),
				slog.String("error", apiErr.Err.Error()),
			)
		}
		writeJSON(w, middleware.StatusForCode(apiErr.Code), map[string]string{"error": apiErr.Message})
		return
	}
	writeJSON(w, http.StatusOK, result)
}
