// Package extract converts free-text message content into a structured
// key/value mapping. Two strategies exist: separator-based line parsing and
// fixed labeled-entity pattern matching. Both implement the Extractor
// interface and are selected by the pipeline via configuration.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Extractor converts raw message text into a structured mapping. Values are
// int, float64, or string. Implementations never return an error; internal
// failures yield an error-tagged mapping instead.
type Extractor interface {
	Extract(text string) map[string]any
}

// Strategy names accepted by New.
const (
	StrategySeparator = "separator"
	StrategyPattern   = "pattern"
)

// New returns the extractor for the given strategy name, defaulting to the
// separator strategy for unknown names.
func New(strategy string) Extractor {
	if strategy == StrategyPattern {
		return &PatternExtractor{}
	}
	return &SeparatorExtractor{}
}

// recoverExtract turns an extractor panic into an error-tagged mapping so the
// Extract contract of never failing outward holds.
func recoverExtract(result *map[string]any, text string) {
	if r := recover(); r != nil {
		*result = map[string]any{
			"error":         fmt.Sprintf("extraction failed: %v", r),
			"original_text": text,
		}
	}
}

var (
	intRe   = regexp.MustCompile(`^\d+$`)
	floatRe = regexp.MustCompile(`^\d+\.\d+$`)
	wsRunRe = regexp.MustCompile(`\s+`)
)

// separatorCandidates are checked in order; ties go to the earliest entry and
// a text with no separator at all defaults to the full-width colon.
var separatorCandidates = []string{"：", ":", "="}

// SeparatorExtractor splits each line of the text on the dominant separator
// character and builds a key/value mapping. Later lines with a duplicate key
// overwrite earlier ones.
type SeparatorExtractor struct{}

func (e *SeparatorExtractor) Extract(text string) (result map[string]any) {
	defer recoverExtract(&result, text)

	sep := detectSeparator(text)

	result = make(map[string]any)
	for _, line := range splitLines(text) {
		parts := strings.Split(line, sep)
		if len(parts) < 2 {
			continue
		}
		key := normalizeKey(parts[0])
		value := strings.TrimSpace(strings.Join(parts[1:], sep))
		if key == "" || value == "" {
			continue
		}
		result[key] = coerceValue(value)
	}

	return cleanup(result)
}

// detectSeparator counts each candidate separator across the whole text and
// picks the most frequent one.
func detectSeparator(text string) string {
	best := separatorCandidates[0]
	bestCount := 0
	for _, cand := range separatorCandidates {
		if n := strings.Count(text, cand); n > bestCount {
			best = cand
			bestCount = n
		}
	}
	return best
}

func splitLines(text string) []string {
	var lines []string
	for _, line := range strings.FieldsFunc(text, func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// normalizeKey lower-cases the key and strips all whitespace, including the
// full-width space used in Japanese text.
func normalizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToLower(r)
	}, key)
}

// coerceValue infers the value type from its lexical shape.
func coerceValue(value string) any {
	if intRe.MatchString(value) {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	if floatRe.MatchString(value) {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return value
}

// cleanup drops entries with empty values and collapses internal whitespace
// runs in string values to a single space.
func cleanup(data map[string]any) map[string]any {
	for key, value := range data {
		s, ok := value.(string)
		if !ok {
			continue
		}
		s = strings.TrimSpace(wsRunRe.ReplaceAllString(s, " "))
		if s == "" {
			delete(data, key)
			continue
		}
		data[key] = s
	}
	return data
}

var (
	nameRe    = regexp.MustCompile(`(?i)(?:名前|氏名|name)\s*[:：=]\s*([^\r\n]+)`)
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phoneRe   = regexp.MustCompile(`0\d{1,4}-?\d{1,4}-?\d{3,4}`)
	companyRe = regexp.MustCompile(`(?i)(?:会社名|会社|企業|company)\s*[:：=]\s*([^\r\n]+)`)
)

// urgentKeywords trigger the high urgency marker when present anywhere in the
// text, matched literally and case-insensitively.
var urgentKeywords = []string{"緊急", "至急", "urgent", "immediately", "asap"}

// PatternExtractor searches the raw text with fixed labeled-entity patterns
// for name, email, phone, and company, independent of line structure. Every
// result carries the full original text, a capture timestamp, and an urgency
// marker derived from a fixed keyword set.
type PatternExtractor struct{}

func (e *PatternExtractor) Extract(text string) (out map[string]any) {
	defer recoverExtract(&out, text)

	result := map[string]any{
		"message":   text,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"urgency":   detectUrgency(text),
	}

	if m := nameRe.FindStringSubmatch(text); m != nil {
		result["name"] = strings.TrimSpace(m[1])
	}
	if m := emailRe.FindString(text); m != "" {
		result["email"] = m
	}
	if m := phoneRe.FindString(text); m != "" {
		result["phone"] = m
	}
	if m := companyRe.FindStringSubmatch(text); m != nil {
		result["company"] = strings.TrimSpace(m[1])
	}

	return result
}

func detectUrgency(text string) string {
	lowered := strings.ToLower(text)
	for _, kw := range urgentKeywords {
		if strings.Contains(lowered, kw) {
			return "high"
		}
	}
	return "medium"
}
