package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/hitoshi/seoman/internal/model"
)

// maxServices は解析結果に残すサービス数の上限。
const maxServices = 10

var (
	errEmptyContent = errors.New("empty analysis content")
	errErrorField   = errors.New("analysis contains error field")
)

type rawAudience struct {
	Gender    []string `json:"gender"`
	Languages []string `json:"languages"`
	Location  []string `json:"location"`
}

type rawAnalysis struct {
	ProjectName string       `json:"projectName"`
	Industry    string       `json:"industry"`
	Services    []string     `json:"services"`
	Audience    *rawAudience `json:"targetAudience"`
	// 一部の応答はsnake_caseで返ってくる
	AudienceSnake *rawAudience `json:"target_audience"`
}

// parseAnalysis は解析サービスの応答本文をWebsiteAnalysisに変換する。
// コードフェンスで囲まれたJSONも受け付ける。空、JSONでない、errorキーを含む応答はエラー。
func parseAnalysis(content string) (*model.WebsiteAnalysis, error) {
	content = stripCodeFence(content)
	if content == "" {
		return nil, errEmptyContent
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &fields); err != nil {
		return nil, fmt.Errorf("analysis is not a JSON object: %w", err)
	}
	if _, ok := fields["error"]; ok {
		return nil, errErrorField
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("unexpected analysis shape: %w", err)
	}
	return coerce(raw), nil
}

func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

// coerce は応答を語彙に合わせて補正する。
func coerce(raw rawAnalysis) *model.WebsiteAnalysis {
	audience := raw.Audience
	if audience == nil {
		audience = raw.AudienceSnake
	}
	if audience == nil {
		audience = &rawAudience{}
	}

	return &model.WebsiteAnalysis{
		ProjectName: strings.TrimSpace(raw.ProjectName),
		Industry:    model.CoerceIndustry(strings.TrimSpace(raw.Industry)),
		Services:    cleanServices(raw.Services),
		TargetAudience: model.AnalysisTargetAudience{
			Gender:    model.CoerceGenders(audience.Gender),
			Languages: model.CoerceLanguages(audience.Languages),
			Location:  model.CoerceLocations(audience.Location),
		},
	}
}

// cleanServices は空要素と重複を除き、上限件数までに切り詰める。
func cleanServices(services []string) []string {
	out := make([]string, 0, len(services))
	seen := make(map[string]struct{}, len(services))
	for _, s := range services {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if len(out) == maxServices {
			break
		}
	}
	return out
}
