package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"cvtriage/internal/models"
)

// DefaultSummary is used when the model omits the summary.
const DefaultSummary = "Sem resumo disponível."

// Normalize turns raw model output into an AnalysisResult. Only empty text
// and unparseable JSON are errors; every field falls back to a safe default.
func Normalize(raw string) (*models.AnalysisResult, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, &Error{Kind: KindEmpty, Message: MsgEmpty}
	}

	data, err := decodeObject(raw)
	if err != nil {
		return nil, &Error{Kind: KindMalformed, Message: MsgMalformed, Err: err}
	}
	if data == nil {
		return nil, &Error{Kind: KindMalformed, Message: MsgMalformed, Err: fmt.Errorf("response is not a JSON object")}
	}

	return &models.AnalysisResult{
		Recommendation: coerceRecommendation(data["recommendation"]),
		MatchScore:     coerceScore(data["matchScore"]),
		Summary:        coerceSummary(data["summary"]),
		Pros:           coerceList(data["pros"]),
		Cons:           coerceList(data["cons"]),
	}, nil
}

// decodeObject parses the first-'{'-to-last-'}' slice. When trailing prose
// carries its own braces that slice is invalid, so the first complete JSON
// value starting at the first '{' is decoded instead.
func decodeObject(raw string) (map[string]any, error) {
	cleaned := extractJSON(raw)
	var data map[string]any
	err := json.Unmarshal([]byte(cleaned), &data)
	if err == nil {
		return data, nil
	}
	unfenced := stripFences(raw)
	first := strings.Index(unfenced, "{")
	if first == -1 {
		return nil, err
	}
	var fallback map[string]any
	if derr := json.NewDecoder(strings.NewReader(unfenced[first:])).Decode(&fallback); derr != nil {
		return nil, err
	}
	return fallback, nil
}

func stripFences(raw string) string {
	raw = strings.ReplaceAll(raw, "```json", "")
	raw = strings.ReplaceAll(raw, "```", "")
	return strings.TrimSpace(raw)
}

// extractJSON drops markdown fences and keeps the text between the first
// '{' and the last '}'. Without a usable pair the text is returned as is
// and left for the parser to reject.
func extractJSON(raw string) string {
	raw = stripFences(raw)

	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first != -1 && last > first {
		raw = raw[first : last+1]
	}
	return raw
}

// coerceRecommendation fails safe: anything but an exact INTERVIEW is DISCARD.
func coerceRecommendation(v any) models.Recommendation {
	if s, ok := v.(string); ok && models.Recommendation(s) == models.RecommendationInterview {
		return models.RecommendationInterview
	}
	return models.RecommendationDiscard
}

func coerceScore(v any) int {
	f, ok := v.(float64)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	f = math.Round(f)
	// Out-of-range float to int conversion is implementation defined.
	switch {
	case f >= math.MaxInt:
		return math.MaxInt
	case f <= math.MinInt:
		return math.MinInt
	}
	return int(f)
}

func coerceSummary(v any) string {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return DefaultSummary
	}
	return strings.TrimSpace(s)
}

func coerceList(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case nil:
		return ""
	default:
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
