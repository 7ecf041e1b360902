package translator

import (
	"bytes"
	"encoding/json"
	"strings"
)

// CursorMarker marks the position between prompt and suffix in the user message.
const CursorMarker = "<CURSOR>"

const completionSystemPrompt = "You are a code completion assistant embedded in an editor. " +
	"You receive the code before the cursor, the code after the cursor and some editor context. " +
	"Reply only with the code that belongs at the cursor position."

const completionInstructions = "Complete the code at " + CursorMarker + ". " +
	"Do not repeat the first line of the code after the cursor. " +
	"Do not wrap the answer in markdown code fences and do not add explanations."

// BuildMessages renders the synthetic chat exchange sent to the backend for a
// legacy completions request.
func BuildMessages(req LegacyCompletionRequest) []ChatMessage {
	var b strings.Builder
	b.WriteString("Code before the cursor:\n")
	b.WriteString(req.Prompt)
	b.WriteString(CursorMarker)
	b.WriteString(req.Suffix)
	b.WriteString("\n\nEditor context:\n")
	b.WriteString(extraContext(req.Extra))
	b.WriteString("\n\n")
	b.WriteString(completionInstructions)

	return []ChatMessage{
		{Role: RoleSystem, Content: completionSystemPrompt},
		{Role: RoleUser, Content: b.String()},
	}
}

// extraContext serializes the opaque "extra" object compactly, or "{}".
func extraContext(extra json.RawMessage) string {
	trimmed := bytes.TrimSpace(extra)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "{}"
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, trimmed); err != nil {
		return "{}"
	}
	return compact.String()
}
