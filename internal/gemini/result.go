package gemini

import (
	"encoding/json"
	"errors"
	"strings"
)

// Default field values filled in when the model response omits them, and the
// confidence markers used by the two fallback paths.
const (
	defaultSentiment  = "neutral"
	defaultUrgency    = "medium"
	defaultImportance = "medium"
	defaultCategory   = "general"
	defaultSummary    = "No summary available"
	defaultAction     = "none"

	fallbackModelName      = "fallback"
	parseFallbackScore     = 50
	callFallbackScore      = 30
	fallbackSummaryRuneMax = 50
	fallbackSummaryRunes   = 47
)

// AnalysisResult is the fully-populated enrichment outcome. Every field is
// always set; when the remote call or parse fails the result is a
// deterministic fallback tagged with ModelUsed = "fallback".
type AnalysisResult struct {
	Sentiment         string   `json:"sentiment"`
	Urgency           string   `json:"urgency"`
	Importance        string   `json:"importance"`
	Category          string   `json:"category"`
	Keywords          []string `json:"keywords"`
	Summary           string   `json:"summary"`
	ActionRequired    string   `json:"action_required"`
	ConfidenceScore   int      `json:"confidence_score"`
	BusinessIntent    string   `json:"business_intent,omitempty"`
	SuggestedResponse string   `json:"suggested_response,omitempty"`
	ProcessingTimeMs  int64    `json:"processing_time_ms"`
	ModelUsed         string   `json:"model_used"`
}

// rawAnalysis mirrors the JSON object the model is asked to produce. Pointer
// fields keep "missing" distinguishable from "empty" so defaults are applied
// only at this boundary; the untyped shape never leaves the parse step.
type rawAnalysis struct {
	Sentiment         *string  `json:"sentiment"`
	Urgency           *string  `json:"urgency"`
	Importance        *string  `json:"importance"`
	Category          *string  `json:"category"`
	Keywords          []string `json:"keywords"`
	Summary           *string  `json:"summary"`
	ActionRequired    *string  `json:"action_required"`
	ConfidenceScore   *float64 `json:"confidence_score"`
	BusinessIntent    *string  `json:"business_intent"`
	SuggestedResponse *string  `json:"suggested_response"`
}

var errNoJSONObject = errors.New("response contains no JSON object")

// parseAnalysis extracts and decodes the first JSON object from a raw model
// response, filling defaults for missing fields and clamping the confidence
// score to [0,100].
func parseAnalysis(response string) (*AnalysisResult, error) {
	text := stripCodeFences(response)
	obj := firstJSONObject(text)
	if obj == "" {
		return nil, errNoJSONObject
	}

	var raw rawAnalysis
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, err
	}

	result := &AnalysisResult{
		Sentiment:       stringOr(raw.Sentiment, defaultSentiment),
		Urgency:         stringOr(raw.Urgency, defaultUrgency),
		Importance:      stringOr(raw.Importance, defaultImportance),
		Category:        stringOr(raw.Category, defaultCategory),
		Keywords:        raw.Keywords,
		Summary:         stringOr(raw.Summary, defaultSummary),
		ActionRequired:  stringOr(raw.ActionRequired, defaultAction),
		ConfidenceScore: clampScore(raw.ConfidenceScore),
	}
	if result.Keywords == nil {
		result.Keywords = []string{}
	}
	if raw.BusinessIntent != nil {
		result.BusinessIntent = *raw.BusinessIntent
	}
	if raw.SuggestedResponse != nil {
		result.SuggestedResponse = *raw.SuggestedResponse
	}
	return result, nil
}

// fallbackResult builds the deterministic substitute used when the remote
// call (confidence 30) or the response parse (confidence 50) fails.
func fallbackResult(text string, confidence int) *AnalysisResult {
	return &AnalysisResult{
		Sentiment:       defaultSentiment,
		Urgency:         defaultUrgency,
		Importance:      defaultImportance,
		Category:        defaultCategory,
		Keywords:        []string{},
		Summary:         fallbackSummary(text),
		ActionRequired:  defaultAction,
		ConfidenceScore: confidence,
		ModelUsed:       fallbackModelName,
	}
}

// fallbackSummary truncates the input to its first 47 characters plus an
// ellipsis when it exceeds 50 characters.
func fallbackSummary(text string) string {
	runes := []rune(text)
	if len(runes) <= fallbackSummaryRuneMax {
		return text
	}
	return string(runes[:fallbackSummaryRunes]) + "..."
}

func stringOr(s *string, def string) string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return def
	}
	return *s
}

func clampScore(score *float64) int {
	if score == nil {
		return parseFallbackScore
	}
	n := int(*score)
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}

// stripCodeFences removes a surrounding markdown code fence from a model
// response, if present.
func stripCodeFences(input string) string {
	startIndex := strings.Index(input, "```json")
	if startIndex == -1 {
		startIndex = strings.Index(input, "```")
		if startIndex == -1 {
			return strings.TrimSpace(input)
		}
		startIndex += 3
	} else {
		startIndex += len("```json")
	}

	endIndex := strings.Index(input[startIndex:], "```")
	if endIndex == -1 {
		return strings.TrimSpace(input[startIndex:])
	}
	return strings.TrimSpace(input[startIndex : startIndex+endIndex])
}

// firstJSONObject returns the first balanced {...} substring, tracking string
// literals and escapes so braces inside values don't break the balance.
func firstJSONObject(text string) string {
	start := strings.IndexByte(text, '{')
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		ch := text[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == '{':
			depth++
		case ch == '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
