package config

import (
	"strings"
	"sync/atomic"
	"time"
)

// Backend describes the chat completions endpoint that replaces the real
// code-assistant model.
type Backend struct {
	// URL is the full chat completions endpoint, e.g. https://host/v1/chat/completions.
	URL string `yaml:"url" json:"url"`

	// APIKey is sent as a bearer token.
	APIKey string `yaml:"api-key" json:"api-key"`

	// Model is the model identifier sent in every request.
	Model string `yaml:"model" json:"model"`

	// ProxyURL is an optional HTTP(S) proxy for backend requests.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// TimeoutSeconds bounds connection setup and response headers.
	// nil means default (30). The streamed body itself is not bounded.
	TimeoutSeconds *int `yaml:"timeout-seconds,omitempty" json:"timeout-seconds,omitempty"`
}

// Missing returns the names of required settings that are absent or blank.
func (b Backend) Missing() []string {
	var missing []string
	if strings.TrimSpace(b.URL) == "" {
		missing = append(missing, "url")
	}
	if strings.TrimSpace(b.APIKey) == "" {
		missing = append(missing, "api-key")
	}
	if strings.TrimSpace(b.Model) == "" {
		missing = append(missing, "model")
	}
	return missing
}

// GetTimeout returns the header timeout, defaulting to 30 seconds.
func (b Backend) GetTimeout() time.Duration {
	if b.TimeoutSeconds == nil || *b.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(*b.TimeoutSeconds) * time.Second
}

// BackendStore holds the current backend settings. Readers take a snapshot
// per request, so a reload never changes a flow that is already streaming.
type BackendStore struct {
	v atomic.Pointer[Backend]
}

// NewBackendStore returns a store initialised with b.
func NewBackendStore(b Backend) *BackendStore {
	s := &BackendStore{}
	s.Store(b)
	return s
}

// Load returns the current backend settings.
func (s *BackendStore) Load() Backend {
	if s == nil {
		return Backend{}
	}
	if b := s.v.Load(); b != nil {
		return *b
	}
	return Backend{}
}

// Store replaces the backend settings.
func (s *BackendStore) Store(b Backend) {
	s.v.Store(&b)
}
