package host

import (
	"io"
	"net/http"
)

// DecisionKind tags what an addon decided to do with a flow.
type DecisionKind int

const (
	// Passthrough leaves the flow alone.
	Passthrough DecisionKind = iota
	// Synthesized answers the flow with a buffered response.
	Synthesized
	// Streaming answers the flow with a response body produced lazily.
	Streaming
)

func (k DecisionKind) String() string {
	switch k {
	case Synthesized:
		return "synthesized"
	case Streaming:
		return "streaming"
	default:
		return "passthrough"
	}
}

// Decision is the outcome of one addon hook.
type Decision struct {
	Kind     DecisionKind
	Response *Response
}

// Pass is the zero decision.
func Pass() Decision { return Decision{} }

// Synthesize answers with status, header and a fixed body.
func Synthesize(status int, header http.Header, body []byte) Decision {
	return Decision{Kind: Synthesized, Response: NewResponse(status, header, body)}
}

// Stream answers with status, header and a body pulled on demand.
func Stream(status int, header http.Header, body io.ReadCloser) Decision {
	return Decision{Kind: Streaming, Response: NewStreamingResponse(status, header, body)}
}

// Decided reports whether d replaces the flow's response.
func (d Decision) Decided() bool {
	return d.Kind != Passthrough && d.Response != nil
}

func (d Decision) state() State {
	switch d.Kind {
	case Synthesized:
		return StateSynthesized
	case Streaming:
		return StateStreaming
	default:
		return StatePassthrough
	}
}
