package extract_test

import (
	"testing"

	"github.com/edgard/sheetpipe/internal/extract"
)

func TestSeparatorExtract(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected map[string]any
	}{
		{
			name:     "empty string",
			input:    "",
			expected: map[string]any{},
		},
		{
			name:     "no recognized separator",
			input:    "just some free text\nwith two lines",
			expected: map[string]any{},
		},
		{
			name:  "full-width colon",
			input: "Name：Alice\nEmail：a@b.com",
			expected: map[string]any{
				"name":  "Alice",
				"email": "a@b.com",
			},
		},
		{
			name:  "half-width colon wins by count",
			input: "name: Bob\nemail: bob@example.com\ncity: Osaka",
			expected: map[string]any{
				"name":  "Bob",
				"email": "bob@example.com",
				"city":  "Osaka",
			},
		},
		{
			name:  "equals separator",
			input: "name=Carol\nrole=admin",
			expected: map[string]any{
				"name": "Carol",
				"role": "admin",
			},
		},
		{
			name:  "integer coercion",
			input: "Count：42",
			expected: map[string]any{
				"count": 42,
			},
		},
		{
			name:  "float coercion",
			input: "Ratio：3.14",
			expected: map[string]any{
				"ratio": 3.14,
			},
		},
		{
			name:  "string stays string",
			input: "City：Tokyo",
			expected: map[string]any{
				"city": "Tokyo",
			},
		},
		{
			name:  "key whitespace stripped including full-width space",
			input: "お 名　前：山田太郎",
			expected: map[string]any{
				"お名前": "山田太郎",
			},
		},
		{
			name:  "value keeps separator in remainder",
			input: "url：https：//example.com",
			expected: map[string]any{
				"url": "https：//example.com",
			},
		},
		{
			name:  "duplicate keys last write wins",
			input: "name：Alice\nname：Bob",
			expected: map[string]any{
				"name": "Bob",
			},
		},
		{
			name:  "empty key or value skipped",
			input: "：value only\nkey only：\nname：Alice",
			expected: map[string]any{
				"name": "Alice",
			},
		},
		{
			name:  "internal whitespace collapsed",
			input: "note：hello   wide \t world",
			expected: map[string]any{
				"note": "hello wide world",
			},
		},
		{
			name:  "blank and CRLF lines ignored",
			input: "name：Alice\r\n\r\n\r\nemail：a@b.com\r\n",
			expected: map[string]any{
				"name":  "Alice",
				"email": "a@b.com",
			},
		},
	}

	e := &extract.SeparatorExtractor{}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := e.Extract(tc.input)
			if len(got) != len(tc.expected) {
				t.Fatalf("Extract(%q) = %v, want %v", tc.input, got, tc.expected)
			}
			for key, want := range tc.expected {
				if got[key] != want {
					t.Errorf("Extract(%q)[%q] = %v (%T), want %v (%T)", tc.input, key, got[key], got[key], want, want)
				}
			}
		})
	}
}

func TestPatternExtract(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		input      string
		wantFields map[string]string
		wantAbsent []string
	}{
		{
			name:  "all entities present",
			input: "名前：山田太郎\nメール: taro@example.co.jp\n電話: 090-1234-5678\n会社：テスト商事",
			wantFields: map[string]string{
				"name":    "山田太郎",
				"email":   "taro@example.co.jp",
				"phone":   "090-1234-5678",
				"company": "テスト商事",
				"urgency": "medium",
			},
		},
		{
			name:  "english labels",
			input: "Name: Alice Smith\ncompany = Acme Corp",
			wantFields: map[string]string{
				"name":    "Alice Smith",
				"company": "Acme Corp",
				"urgency": "medium",
			},
			wantAbsent: []string{"email", "phone"},
		},
		{
			name:  "urgent keyword raises urgency",
			input: "至急連絡ください",
			wantFields: map[string]string{
				"urgency": "high",
			},
			wantAbsent: []string{"name", "email", "phone", "company"},
		},
		{
			name:  "english urgent keyword case-insensitive",
			input: "Please reply ASAP",
			wantFields: map[string]string{
				"urgency": "high",
			},
		},
		{
			name:       "plain text has no entities",
			input:      "hello there",
			wantFields: map[string]string{"urgency": "medium"},
			wantAbsent: []string{"name", "email", "phone", "company"},
		},
	}

	e := &extract.PatternExtractor{}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := e.Extract(tc.input)

			if got["message"] != tc.input {
				t.Errorf("message = %v, want original text", got["message"])
			}
			if _, ok := got["timestamp"].(string); !ok {
				t.Errorf("timestamp missing or not a string: %v", got["timestamp"])
			}
			for key, want := range tc.wantFields {
				if got[key] != want {
					t.Errorf("Extract(%q)[%q] = %v, want %q", tc.input, key, got[key], want)
				}
			}
			for _, key := range tc.wantAbsent {
				if _, ok := got[key]; ok {
					t.Errorf("Extract(%q)[%q] = %v, want absent", tc.input, key, got[key])
				}
			}
		})
	}
}

func TestNewSelectsStrategy(t *testing.T) {
	t.Parallel()

	if _, ok := extract.New(extract.StrategyPattern).(*extract.PatternExtractor); !ok {
		t.Error("New(pattern) did not return a PatternExtractor")
	}
	if _, ok := extract.New(extract.StrategySeparator).(*extract.SeparatorExtractor); !ok {
		t.Error("New(separator) did not return a SeparatorExtractor")
	}
	if _, ok := extract.New("unknown").(*extract.SeparatorExtractor); !ok {
		t.Error("New(unknown) should default to SeparatorExtractor")
	}
}
