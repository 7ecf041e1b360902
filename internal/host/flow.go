// Package host models intercepted HTTP flows and drives an ordered set of
// addons over them. Two front-ends feed flows into an Engine: a TLS
// intercepting forward proxy and a plain HTTP server for clients pointed
// directly at the proxy.
package host

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// State is the lifecycle position of a flow.
type State int

const (
	StateArrived State = iota
	StateHeadersSeen
	StatePassthrough
	StateSynthesized
	StateStreaming
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateArrived:
		return "arrived"
	case StateHeadersSeen:
		return "headers_seen"
	case StatePassthrough:
		return "passthrough"
	case StateSynthesized:
		return "synthesized"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Request is the client side of a flow. Body is nil when the request had none.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// HasBody reports whether the request carried a non-empty body.
func (r *Request) HasBody() bool {
	return r != nil && len(r.Body) > 0
}

// Text returns the request body with any content encoding removed.
func (r *Request) Text() string {
	if r == nil || len(r.Body) == 0 {
		return ""
	}
	decoded, err := DecodeContent(r.Header.Get("Content-Encoding"), r.Body)
	if err != nil {
		return string(r.Body)
	}
	return string(decoded)
}

// Response is the server side of a flow. Its body is either a stream the
// host drains incrementally or a buffered payload loaded on demand.
type Response struct {
	StatusCode int
	Header     http.Header

	body    io.ReadCloser
	content []byte
	loaded  bool
	stream  bool
}

// NewResponse returns a buffered response.
func NewResponse(status int, header http.Header, content []byte) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{StatusCode: status, Header: header, content: content, loaded: true}
}

// NewStreamingResponse returns a response whose body is pulled from body
// as the host writes it out. Its content is never buffered.
func NewStreamingResponse(status int, header http.Header, body io.ReadCloser) *Response {
	if header == nil {
		header = http.Header{}
	}
	return &Response{StatusCode: status, Header: header, body: body, stream: true}
}

// WrapResponse adopts a response received from the real server. The body
// is only read if Content is called.
func WrapResponse(resp *http.Response) *Response {
	header := resp.Header
	if header == nil {
		header = http.Header{}
	}
	return &Response{StatusCode: resp.StatusCode, Header: header, body: resp.Body}
}

// IsStream reports whether the body is a live stream.
func (r *Response) IsStream() bool { return r != nil && r.stream }

// Content buffers and returns the full body. Streaming responses return nil
// without touching their stream.
func (r *Response) Content() ([]byte, error) {
	if r == nil || r.stream {
		return nil, nil
	}
	if r.loaded {
		return r.content, nil
	}
	r.loaded = true
	if r.body == nil {
		return nil, nil
	}
	defer func() { _ = r.body.Close() }()
	content, err := io.ReadAll(r.body)
	r.body = nil
	r.content = content
	return content, err
}

// Text returns the buffered body with any content encoding removed.
func (r *Response) Text() string {
	content, _ := r.Content()
	if len(content) == 0 {
		return ""
	}
	decoded, err := DecodeContent(r.Header.Get("Content-Encoding"), content)
	if err != nil {
		return string(content)
	}
	return string(decoded)
}

// Body returns a reader for the response payload. For streaming responses
// this is the live stream itself and can be taken only once.
func (r *Response) Body() io.ReadCloser {
	if r.stream || !r.loaded {
		if r.body == nil {
			return http.NoBody
		}
		b := r.body
		r.body = nil
		return b
	}
	return io.NopCloser(bytes.NewReader(r.content))
}

// HTTP converts r into a net/http response for req.
func (r *Response) HTTP(req *http.Request) *http.Response {
	resp := &http.Response{
		StatusCode:    r.StatusCode,
		Status:        http.StatusText(r.StatusCode),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header.Clone(),
		Body:          r.Body(),
		ContentLength: -1,
		Request:       req,
	}
	if r.loaded && !r.stream {
		resp.ContentLength = int64(len(r.content))
	}
	return resp
}

// Flow is one intercepted request/response pair.
type Flow struct {
	ID       string
	Request  *Request
	Response *Response
	State    State

	ctx context.Context
}

// NewFlow starts a flow for req. ctx bounds any upstream work done on the
// flow's behalf and is cancelled when the client goes away.
func NewFlow(ctx context.Context, req *Request) *Flow {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.Header == nil {
		req.Header = http.Header{}
	}
	return &Flow{ID: uuid.NewString(), Request: req, State: StateArrived, ctx: ctx}
}

// RequestFromHTTP reads r's body and builds a flow request from it. The
// body of r is replaced so r can still be forwarded.
func RequestFromHTTP(r *http.Request) (*Request, error) {
	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		b, err := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if err != nil {
			return nil, err
		}
		if len(b) > 0 {
			body = b
		}
		r.Body = io.NopCloser(bytes.NewReader(b))
	}
	return &Request{
		Method: r.Method,
		URL:    requestURL(r),
		Header: r.Header.Clone(),
		Body:   body,
	}, nil
}

// requestURL returns the absolute URL of r in canonical form: tunnelled
// requests name their CONNECT target, which carries the scheme's default
// port, so "https://host:443/x" and "https://host/x" are the same flow URL.
func requestURL(r *http.Request) string {
	u := *r.URL
	if !u.IsAbs() {
		u.Host = r.Host
		u.Scheme = "http"
		if r.TLS != nil {
			u.Scheme = "https"
		}
	}
	return CanonicalURL(&u)
}

// CanonicalURL renders u without the default port of its scheme.
func CanonicalURL(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	host, port := c.Hostname(), c.Port()
	if (c.Scheme == "https" && port == "443") || (c.Scheme == "http" && port == "80") {
		if strings.Contains(host, ":") {
			host = "[" + host + "]"
		}
		c.Host = host
	}
	return strings.TrimSpace(c.String())
}

// Context returns the flow's context.
func (f *Flow) Context() context.Context { return f.ctx }
