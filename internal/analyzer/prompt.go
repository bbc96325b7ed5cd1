package analyzer

import (
	"fmt"
	"strings"

	"github.com/hitoshi/seoman/internal/model"
)

const systemPrompt = "You are an expert business analyst. Provide accurate, concise analysis based on website content. " +
	"Always respond in valid JSON format. For industry classification, if none of the predefined categories closely match, use 'Other'. " +
	"For languages and locations, use only the provided options or 'Other'."

// buildPrompt は解析対象URLとサイトから取得した情報から問い合わせ文を組み立てる。
func buildPrompt(targetURL string, site *SiteInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze this website: %s\n\n", targetURL)

	if site != nil && !site.Empty() {
		b.WriteString("Content found on the website:\n")
		if site.Title != "" {
			fmt.Fprintf(&b, "- Title: %s\n", site.Title)
		}
		if site.Description != "" {
			fmt.Fprintf(&b, "- Description: %s\n", site.Description)
		}
		if len(site.Headings) > 0 {
			fmt.Fprintf(&b, "- Headings: %s\n", strings.Join(site.Headings, " / "))
		}
		if len(site.RecentPosts) > 0 {
			fmt.Fprintf(&b, "- Recent posts: %s\n", strings.Join(site.RecentPosts, " / "))
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `Please analyze this website and provide the following information:

1. Project Name: A suitable name based on the website
2. Industry: The main business category. Choose the closest match from these options:
   %s
   If none of these categories closely match, respond with "Other"
3. Services: 3-5 main services or products offered
4. Target Audience:
   - Gender: Target gender demographics (%s)
   - Languages: Primary languages from: %s. Use "Other" for unlisted languages.
   - Location: Geographic regions from: %s

Format your response as JSON following this exact format:
{
  "projectName": "string",
  "industry": "string",
  "services": ["string"],
  "targetAudience": {
    "gender": ["string"],
    "languages": ["string"],
    "location": ["string"]
  }
}`,
		strings.Join(model.Industries[:len(model.Industries)-1], ", "),
		strings.Join(model.Genders, ", "),
		strings.Join(model.Languages[:len(model.Languages)-1], ", "),
		strings.Join(model.Locations, ", "),
	)
	return b.String()
}
