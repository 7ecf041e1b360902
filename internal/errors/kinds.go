package errors

import (
	"fmt"
	"strings"
)

// ConfigurationError reports backend settings that are absent or empty.
// It is raised before any network call is made.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("backend is not configured: missing %s (set MODEL_URL, MODEL_API_KEY and MODEL_NAME)", strings.Join(e.Missing, ", "))
}

// UpstreamHTTPError reports a non-2xx answer from the backend model endpoint.
type UpstreamHTTPError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamHTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Body)
}

// StreamDecodeError reports a transport failure while reading an upstream body.
type StreamDecodeError struct {
	Err error
}

func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("decode upstream stream: %v", e.Err)
}

func (e *StreamDecodeError) Unwrap() error { return e.Err }

// MalformedUpstreamEvent reports a single SSE payload that is not valid JSON.
// Translators skip the event and keep streaming.
type MalformedUpstreamEvent struct {
	Payload string
	Err     error
}

func (e *MalformedUpstreamEvent) Error() string {
	payload := e.Payload
	if len(payload) > 120 {
		payload = payload[:120] + "..."
	}
	if e.Err == nil {
		return fmt.Sprintf("malformed upstream event %q", payload)
	}
	return fmt.Sprintf("malformed upstream event %q: %v", payload, e.Err)
}

func (e *MalformedUpstreamEvent) Unwrap() error { return e.Err }
