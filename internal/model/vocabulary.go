package model

// 業種・性別・言語・地域の選択肢。作成ウィザードの選択肢と一致させる。
const (
	IndustryOther  = "Other"
	LanguageOther  = "Other"
	LocationGlobal = "Global"
)

// Industries は業種の選択肢。
var Industries = []string{
	"Technology",
	"Marketing & Advertising",
	"Healthcare",
	"Education",
	"Finance",
	"E-commerce",
	"Real Estate",
	"Travel & Tourism",
	"Manufacturing",
	"Retail",
	IndustryOther,
}

// Genders は性別の選択肢。
var Genders = []string{"Male", "Female", "Others"}

// Languages は言語の選択肢。
var Languages = []string{
	"English",
	"French",
	"Spanish",
	"German",
	"Italian",
	"Portuguese",
	"Russian",
	"Chinese",
	"Japanese",
	"Korean",
	"Arabic",
	"Hindi",
	LanguageOther,
}

// Locations は地域の選択肢。
var Locations = []string{
	"North America",
	"South America",
	"Europe",
	"Asia Pacific",
	"Middle East",
	"Africa",
	"Australia & NZ",
	LocationGlobal,
}

// CoerceIndustry は選択肢にない業種を"Other"に丸める。
func CoerceIndustry(industry string) string {
	if contains(Industries, industry) {
		return industry
	}
	return IndustryOther
}

// CoerceLanguages は選択肢にない言語を"Other"に置き換え、重複を除く。
func CoerceLanguages(values []string) []string {
	return coerceAll(values, Languages, LanguageOther)
}

// CoerceLocations は選択肢にない地域を"Global"に置き換え、重複を除く。
func CoerceLocations(values []string) []string {
	return coerceAll(values, Locations, LocationGlobal)
}

// CoerceGenders は選択肢にない性別を取り除き、重複を除く。
func CoerceGenders(values []string) []string {
	return coerceAll(values, Genders, "")
}

// coerceAll は values を allowed に合わせて補正する。
// fallback が空の場合、選択肢にない値は捨てる。出現順は維持する。
func coerceAll(values, allowed []string, fallback string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if !contains(allowed, v) {
			if fallback == "" {
				continue
			}
			v = fallback
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
