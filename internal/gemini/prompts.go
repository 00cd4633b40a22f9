package gemini

import "fmt"

// analysisPromptTemplate instructs the model to classify one chat message and
// answer with nothing but a JSON object using a fixed set of keys. The parser
// still strips fences and surrounding prose from the response.
const analysisPromptTemplate = `Analyze the following chat message and classify it.

Respond with ONLY a JSON object, no other text, using exactly these keys:
{
  "sentiment": "positive" | "neutral" | "negative",
  "urgency": "high" | "medium" | "low",
  "importance": "high" | "medium" | "low",
  "category": "<short category label such as inquiry, complaint, order, general>",
  "keywords": ["<up to 5 keywords>"],
  "summary": "<one-sentence summary of the message>",
  "action_required": "<next action, or 'none'>",
  "confidence_score": <integer 0-100>,
  "business_intent": "<optional business intent>",
  "suggested_response": "<optional suggested reply>"
}

Message:
%s`

// BuildAnalysisPrompt renders the classification prompt for one message.
func BuildAnalysisPrompt(text string) string {
	return fmt.Sprintf(analysisPromptTemplate, text)
}
