package synth

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// TokenLifetime is how long a synthesized token claims to be valid.
	TokenLifetime = 15 * time.Minute
	// TokenRefreshIn is the refresh hint, in seconds, sent with each token.
	TokenRefreshIn = 1500

	tokenSKU = "monthly_subscriber"
)

// TokenEndpoints lists the service hosts the client should talk to.
type TokenEndpoints struct {
	API           string `json:"api"`
	OriginTracker string `json:"origin-tracker"`
	Proxy         string `json:"proxy"`
	Telemetry     string `json:"telemetry"`
}

// TokenDocument is the session token document, including the feature
// flags the client checks before enabling completions and chat.
type TokenDocument struct {
	AnnotationsEnabled                 bool           `json:"annotations_enabled"`
	ChatEnabled                        bool           `json:"chat_enabled"`
	ChatJetbrainsEnabled               bool           `json:"chat_jetbrains_enabled"`
	CodeQuoteEnabled                   bool           `json:"code_quote_enabled"`
	Codesearch                         bool           `json:"codesearch"`
	CopilotIDEAgentChatGPT4SmallPrompt bool           `json:"copilot_ide_agent_chat_gpt4_small_prompt"`
	CopilotignoreEnabled               bool           `json:"copilotignore_enabled"`
	Endpoints                          TokenEndpoints `json:"endpoints"`
	ExpiresAt                          int64          `json:"expires_at"`
	Individual                         bool           `json:"individual"`
	NESEnabled                         bool           `json:"nes_enabled"`
	Prompt8K                           bool           `json:"prompt_8k"`
	PublicSuggestions                  string         `json:"public_suggestions"`
	RefreshIn                          int            `json:"refresh_in"`
	SKU                                string         `json:"sku"`
	SnippyLoadTestEnabled              bool           `json:"snippy_load_test_enabled"`
	Telemetry                          string         `json:"telemetry"`
	Token                              string         `json:"token"`
	TrackingID                         string         `json:"tracking_id"`
	VSCElectronFetcher                 bool           `json:"vsc_electron_fetcher"`
}

// NewTokenDocument builds a token valid for TokenLifetime from now. Every
// call draws new identifiers.
func NewTokenDocument(now time.Time) TokenDocument {
	trackingID := TrackingID()
	expiresAt := now.Add(TokenLifetime).Unix()
	token := fmt.Sprintf("tid=%s;exp=%d;sku=%s;st=dotcom;chat=1;8kp=1;ip=%s;asn=%s",
		trackingID, expiresAt, tokenSKU, FakeIP(), FakeASN())

	return TokenDocument{
		ChatEnabled:          true,
		ChatJetbrainsEnabled: true,
		CodeQuoteEnabled:     true,
		Endpoints: TokenEndpoints{
			API:           "https://api.githubcopilot.com",
			OriginTracker: "https://origin-tracker.githubusercontent.com",
			Proxy:         "https://copilot-proxy.githubusercontent.com",
			Telemetry:     "https://copilot-telemetry-service.githubusercontent.com",
		},
		ExpiresAt:         expiresAt,
		Individual:        true,
		Prompt8K:          true,
		PublicSuggestions: "disabled",
		RefreshIn:         TokenRefreshIn,
		SKU:               tokenSKU,
		Telemetry:         "disabled",
		Token:             token,
		TrackingID:        trackingID,
	}
}

// Token returns a freshly generated token document and its content type.
func Token(now time.Time) ([]byte, string) {
	body, _ := json.Marshal(NewTokenDocument(now))
	return body, ContentTypeJSON
}
