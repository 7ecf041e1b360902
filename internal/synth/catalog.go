// Package synth builds the fixed control documents a Copilot client needs
// before it will send completion requests: the model catalog and the
// short-lived session token.
package synth

import "encoding/json"

// ContentTypeJSON is the content type of every synthesized document.
const ContentTypeJSON = "application/json"

// ModelLimits are the token limits advertised for a model.
type ModelLimits struct {
	MaxPromptTokens int `json:"max_prompt_tokens,omitempty"`
	MaxInputs       int `json:"max_inputs,omitempty"`
}

// ModelCapabilities describes what a model can be used for.
type ModelCapabilities struct {
	Family string       `json:"family"`
	Limits *ModelLimits `json:"limits,omitempty"`
	Object string       `json:"object"`
	Type   string       `json:"type"`
}

// ModelInfo is one entry of the model catalog.
type ModelInfo struct {
	Capabilities ModelCapabilities `json:"capabilities"`
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Object       string            `json:"object"`
	Version      string            `json:"version"`
}

// ModelList is the catalog document.
type ModelList struct {
	Data   []ModelInfo `json:"data"`
	Object string      `json:"object"`
}

func chatModel(id, name, family, version string, maxPrompt int) ModelInfo {
	return ModelInfo{
		Capabilities: ModelCapabilities{
			Family: family,
			Limits: &ModelLimits{MaxPromptTokens: maxPrompt},
			Object: "model_capabilities",
			Type:   "chat",
		},
		ID:      id,
		Name:    name,
		Object:  "model",
		Version: version,
	}
}

func embeddingModel(id, name, family string, maxInputs int) ModelInfo {
	m := ModelInfo{
		Capabilities: ModelCapabilities{
			Family: family,
			Object: "model_capabilities",
			Type:   "embeddings",
		},
		ID:      id,
		Name:    name,
		Object:  "model",
		Version: family,
	}
	if maxInputs > 0 {
		m.Capabilities.Limits = &ModelLimits{MaxInputs: maxInputs}
	}
	return m
}

// Models returns the fixed model descriptors advertised to the client.
func Models() []ModelInfo {
	return []ModelInfo{
		chatModel("gpt-3.5-turbo", "GPT 3.5 Turbo", "gpt-3.5-turbo", "gpt-3.5-turbo-0613", 7168),
		chatModel("gpt-3.5-turbo-0613", "GPT 3.5 Turbo (2023-06-13)", "gpt-3.5-turbo", "gpt-3.5-turbo-0613", 7168),
		chatModel("gpt-4", "GPT 4", "gpt-4", "gpt-4-0613", 6144),
		chatModel("gpt-4-0613", "GPT 4 (2023-06-13)", "gpt-4", "gpt-4-0613", 6144),
		chatModel("gpt-4-0125-preview", "GPT 4 Turbo (2024-01-25 Preview)", "gpt-4-turbo", "gpt-4-0125-preview", 6144),
		embeddingModel("text-embedding-ada-002", "Embedding V2 Ada", "text-embedding-ada-002", 256),
		embeddingModel("text-embedding-ada-002-index", "Embedding V2 Ada (Index)", "text-embedding-ada-002", 0),
		embeddingModel("text-embedding-3-small", "Embedding V3 small", "text-embedding-3-small", 0),
		embeddingModel("text-embedding-3-small-inference", "Embedding V3 small (Inference)", "text-embedding-3-small", 0),
	}
}

// ModelCatalog returns the catalog document and its content type.
func ModelCatalog() ([]byte, string) {
	body, _ := json.Marshal(ModelList{Data: Models(), Object: "list"})
	return body, ContentTypeJSON
}
