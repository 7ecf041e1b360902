package host

import (
	"fmt"
	"io"
	"runtime/debug"
	"sync"

	"github.com/proxypilot/copilot-proxy/internal/metrics"
	log "github.com/sirupsen/logrus"
)

// Addon is anything registered with an Engine. It takes part in a phase by
// also implementing the matching hook interface.
type Addon interface {
	Name() string
}

// RequestHook observes a flow when the client request has arrived.
type RequestHook interface {
	Request(f *Flow)
}

// ResponseHeadersHook runs before the real server is contacted. A decided
// result answers the flow without any upstream call.
type ResponseHeadersHook interface {
	ResponseHeaders(f *Flow) Decision
}

// ResponseHook runs once the full response is available and may replace it.
type ResponseHook interface {
	Response(f *Flow) Decision
}

// ForwardFunc sends the flow's request to the real server.
type ForwardFunc func(f *Flow) (*Response, error)

// Engine runs registered addons in registration order.
type Engine struct {
	addons []Addon
}

// NewEngine returns an engine over addons.
func NewEngine(addons ...Addon) *Engine {
	return &Engine{addons: addons}
}

// Addons returns the registered addons in order.
func (e *Engine) Addons() []Addon {
	out := make([]Addon, len(e.addons))
	copy(out, e.addons)
	return out
}

// OnRequest runs every RequestHook.
func (e *Engine) OnRequest(f *Flow) {
	for _, a := range e.addons {
		if h, ok := a.(RequestHook); ok {
			e.guard(a, f, "request", func() { h.Request(f) })
		}
	}
}

// OnResponseHeaders runs ResponseHeadersHooks until one decides. The
// decision is installed as the flow's response.
func (e *Engine) OnResponseHeaders(f *Flow) Decision {
	f.State = StateHeadersSeen
	for _, a := range e.addons {
		h, ok := a.(ResponseHeadersHook)
		if !ok {
			continue
		}
		var d Decision
		e.guard(a, f, "response headers", func() { d = h.ResponseHeaders(f) })
		if d.Decided() {
			e.apply(f, d)
			return d
		}
	}
	f.State = StatePassthrough
	return Pass()
}

// OnResponse runs every ResponseHook. Later decisions override earlier
// ones. The flow is completed afterwards, except a streaming flow, which
// completes when its body is closed.
func (e *Engine) OnResponse(f *Flow) Decision {
	final := Pass()
	for _, a := range e.addons {
		h, ok := a.(ResponseHook)
		if !ok {
			continue
		}
		var d Decision
		e.guard(a, f, "response", func() { d = h.Response(f) })
		if d.Decided() {
			e.apply(f, d)
			final = d
		}
	}
	metrics.RecordFlow(flowLabel(f, final))
	if f.State != StateStreaming {
		f.State = StateCompleted
	}
	return final
}

// Serve runs a flow through every phase. forward is only called when no
// addon answered the flow in the response headers phase.
func (e *Engine) Serve(f *Flow, forward ForwardFunc) (*Response, error) {
	e.OnRequest(f)
	if d := e.OnResponseHeaders(f); !d.Decided() {
		resp, err := forward(f)
		if err != nil {
			return nil, err
		}
		f.Response = resp
	}
	e.OnResponse(f)
	return f.Response, nil
}

func (e *Engine) apply(f *Flow, d Decision) {
	f.Response = d.Response
	f.State = d.state()
	if d.Kind == Streaming && d.Response.body != nil {
		d.Response.body = &streamBody{ReadCloser: d.Response.body, flow: f}
	}
}

// streamBody completes its flow once the host closes the streamed body.
type streamBody struct {
	io.ReadCloser
	flow *Flow
	once sync.Once
}

// WriteTo keeps the wrapped body's per-chunk writes when it has them.
func (b *streamBody) WriteTo(w io.Writer) (int64, error) {
	if wt, ok := b.ReadCloser.(io.WriterTo); ok {
		return wt.WriteTo(w)
	}
	return io.Copy(w, struct{ io.Reader }{b.ReadCloser})
}

func (b *streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(func() {
		b.flow.State = StateCompleted
		log.WithField("flow", b.flow.ID).Debug("stream completed")
	})
	return err
}

func flowLabel(f *Flow, d Decision) string {
	if d.Decided() {
		return d.Kind.String()
	}
	return f.State.String()
}

// guard runs fn and logs any panic instead of propagating it.
func (e *Engine) guard(a Addon, f *Flow, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"addon": a.Name(),
				"phase": phase,
				"flow":  f.ID,
				"stack": string(debug.Stack()),
			}).Error(fmt.Sprintf("addon panicked: %v", r))
		}
	}()
	fn()
}
