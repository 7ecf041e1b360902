// Package translator converts between the legacy completions protocol spoken
// by code-completion clients and the chat completions protocol spoken by the
// configured backend model.
package translator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// Protocol identifies the wire protocol served to the client.
type Protocol string

const (
	// ProtocolChat is the multi-message chat completions protocol.
	ProtocolChat Protocol = "chat"
	// ProtocolLegacy is the single-prompt completions protocol.
	ProtocolLegacy Protocol = "legacy"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is one entry of a chat completions conversation.
type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Legacy request defaults applied when the client omits a field.
const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.2
	DefaultTopP        = 1.0
	DefaultN           = 3
)

// LegacyCompletionRequest is the body of a legacy completions request.
type LegacyCompletionRequest struct {
	Prompt      string          `json:"prompt"`
	Suffix      string          `json:"suffix,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	TopP        float64         `json:"top_p"`
	N           int             `json:"n"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream"`
	Extra       json.RawMessage `json:"extra,omitempty"`
}

// UnmarshalJSON decodes a legacy request, ignoring unknown fields and
// substituting the documented defaults for absent ones.
func (r *LegacyCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias LegacyCompletionRequest
	decoded := alias{
		MaxTokens:   DefaultMaxTokens,
		Temperature: DefaultTemperature,
		TopP:        DefaultTopP,
		N:           DefaultN,
		Stream:      true,
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*r = LegacyCompletionRequest(decoded)
	return nil
}

// ParseLegacyRequest decodes a legacy completions request body.
func ParseLegacyRequest(body []byte) (LegacyCompletionRequest, error) {
	var req LegacyCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return LegacyCompletionRequest{}, fmt.Errorf("parse legacy completion request: %w", err)
	}
	return req, nil
}

// ChatCompletionRequest is the body sent to the backend model.
type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    json.RawMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens"`
	TopP        *float64        `json:"top_p,omitempty"`
	N           *int            `json:"n,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	Stream      bool            `json:"stream"`
}

// Chat pass-through requests always use these generation settings.
const (
	ChatPassthroughTemperature = 0.0
	ChatPassthroughMaxTokens   = 2500
)

// ExtractMessages returns the raw "messages" array of a chat completions
// request body. The messages are forwarded verbatim so fields the proxy
// does not model (tool calls, images) survive.
func ExtractMessages(body []byte) (json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("parse chat completion request: invalid JSON")
	}
	messages := gjson.GetBytes(body, "messages")
	if !messages.Exists() {
		return nil, fmt.Errorf("parse chat completion request: missing messages")
	}
	if !messages.IsArray() {
		return nil, fmt.Errorf("parse chat completion request: messages is %s, want array", messages.Type)
	}
	return json.RawMessage(messages.Raw), nil
}

// ChatDelta is one streamed chat completion event.
type ChatDelta struct {
	ID      string        `json:"id"`
	Created int64         `json:"created"`
	Choices []DeltaChoice `json:"choices"`
}

// DeltaChoice is a single choice within a ChatDelta.
type DeltaChoice struct {
	Index int `json:"index"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	FinishReason *string        `json:"finish_reason"`
	Logprobs     json.RawMessage `json:"logprobs"`
}

// ParseChatDelta decodes one upstream event payload. A missing created
// timestamp defaults to now.
func ParseChatDelta(payload []byte, now func() time.Time) (ChatDelta, error) {
	var delta ChatDelta
	if err := json.Unmarshal(payload, &delta); err != nil {
		return ChatDelta{}, err
	}
	if delta.Created == 0 {
		delta.Created = now().Unix()
	}
	return delta, nil
}

// LegacyChoice is one re-shaped choice in a legacy completion chunk.
type LegacyChoice struct {
	Text         string          `json:"text"`
	Index        int             `json:"index"`
	FinishReason *string         `json:"finish_reason"`
	Logprobs     json.RawMessage `json:"logprobs"`
}

// LegacyChunk is one streamed legacy completion event.
type LegacyChunk struct {
	ID      string         `json:"id"`
	Created int64          `json:"created"`
	Choices []LegacyChoice `json:"choices"`
}
