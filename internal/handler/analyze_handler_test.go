package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/seoman/internal/model"
)

type mockAnalyzer struct {
	gotURL string
	result *model.WebsiteAnalysis
	err    error
}

func (m *mockAnalyzer) Analyze(ctx context.Context, rawURL string) (*model.WebsiteAnalysis, error) {
	m.gotURL = rawURL
	return m.result, m.err
}

func TestAnalyzeHandler_Success(t *testing.T) {
	analyzer := &mockAnalyzer{result: &model.WebsiteAnalysis{
		ProjectName: "Acme",
		Industry:    "Technology",
		Services:    []string{"SEO audit"},
		TargetAudience: model.AnalysisTargetAudience{
			Languages: []string{"English"},
			Location:  []string{"Global"},
		},
	}}
	h := NewAnalyzeHandler(analyzer)

	w := httptest.NewRecorder()
	h.Analyze(w, httptest.NewRequest(http.MethodGet, "/analyze-website?url=https%3A%2F%2Facme.com%2Fpricing", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if analyzer.gotURL != "https://acme.com/pricing" {
		t.Errorf("url = %q", analyzer.gotURL)
	}
	var got model.WebsiteAnalysis
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ProjectName != "Acme" || got.TargetAudience.Location[0] != "Global" {
		t.Errorf("analysis = %+v", got)
	}
}

func TestAnalyzeHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid url", model.NewInvalidURLError("empty"), http.StatusBadRequest},
		{"ssrf", model.NewSSRFBlockedError(), http.StatusForbidden},
		{"analyzer failure", model.NewAnalyzerFailureError("timeout", errors.New("deadline")), http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewAnalyzeHandler(&mockAnalyzer{err: tt.err})

			w := httptest.NewRecorder()
			h.Analyze(w, httptest.NewRequest(http.MethodGet, "/analyze-website?url=x", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var body map[string]string
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] == "" {
				t.Errorf("body should carry an error message: %v", body)
			}
			if _, ok := body["code"]; ok {
				t.Error("analyze errors use the {error} shape only")
			}
		})
	}
}
