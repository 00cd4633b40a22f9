package gemini

// Exported for tests.
var (
	ParseAnalysis   = parseAnalysis
	FallbackResult  = fallbackResult
	FirstJSONObject = firstJSONObject
	StripCodeFences = stripCodeFences
	AnalyzeInChunks = analyzeInChunks
)
