// Package upstream talks to the backend chat completions model that answers
// on behalf of the real code-assistant service.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/proxypilot/copilot-proxy/internal/config"
	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/metrics"
	"github.com/proxypilot/copilot-proxy/internal/stream"
	"github.com/proxypilot/copilot-proxy/internal/translator"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
)

const (
	// DefaultChunkSize is the size of each read from the backend body.
	DefaultChunkSize = 32 * 1024

	// maxErrorBody bounds how much of a failed response is kept for the error.
	maxErrorBody = 64 * 1024
)

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for every backend request.
// Proxy and timeout settings from the backend config are then ignored.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithChunkSize sets the read size for backend bodies.
func WithChunkSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// Client posts chat completion requests to the configured backend and
// exposes each response body as a lazy stream of byte chunks.
type Client struct {
	store      *config.BackendStore
	httpClient *http.Client
	chunkSize  int

	mu      sync.Mutex
	clients map[transportKey]*http.Client
}

type transportKey struct {
	proxyURL string
	timeout  time.Duration
}

// New returns a client reading backend settings from store on every call.
func New(store *config.BackendStore, opts ...Option) *Client {
	c := &Client{
		store:     store,
		chunkSize: DefaultChunkSize,
		clients:   make(map[transportKey]*http.Client),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Legacy sends a legacy completion request, rewritten as a chat exchange.
// A ConfigurationError is returned immediately when backend settings are
// incomplete; otherwise the POST is issued on the first call to Next.
func (c *Client) Legacy(ctx context.Context, req translator.LegacyCompletionRequest) (stream.Iterator[[]byte], error) {
	backend, err := c.backend()
	if err != nil {
		return nil, err
	}
	messages, err := json.Marshal(translator.BuildMessages(req))
	if err != nil {
		return nil, fmt.Errorf("encode legacy messages: %w", err)
	}
	topP, n := req.TopP, req.N
	body, err := json.Marshal(translator.ChatCompletionRequest{
		Model:       backend.Model,
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        &topP,
		N:           &n,
		Stop:        req.Stop,
		Stream:      true,
	})
	if err != nil {
		return nil, fmt.Errorf("encode legacy request: %w", err)
	}
	return c.newBodyStream(ctx, translator.ProtocolLegacy, backend, body), nil
}

// Chat forwards the client's chat messages verbatim with fixed generation
// settings. Like Legacy, configuration is checked before returning.
func (c *Client) Chat(ctx context.Context, messages json.RawMessage) (stream.Iterator[[]byte], error) {
	backend, err := c.backend()
	if err != nil {
		return nil, err
	}
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "model", backend.Model)
	body, err = sjson.SetRawBytes(body, "messages", messages)
	if err != nil {
		return nil, fmt.Errorf("encode chat messages: %w", err)
	}
	body, _ = sjson.SetBytes(body, "temperature", translator.ChatPassthroughTemperature)
	body, _ = sjson.SetBytes(body, "max_tokens", translator.ChatPassthroughMaxTokens)
	body, _ = sjson.SetBytes(body, "stream", true)
	return c.newBodyStream(ctx, translator.ProtocolChat, backend, body), nil
}

func (c *Client) backend() (config.Backend, error) {
	backend := c.store.Load()
	if missing := backend.Missing(); len(missing) > 0 {
		return config.Backend{}, &proxyerrors.ConfigurationError{Missing: missing}
	}
	return backend, nil
}

func (c *Client) clientFor(backend config.Backend) *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	key := transportKey{proxyURL: strings.TrimSpace(backend.ProxyURL), timeout: backend.GetTimeout()}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.clients[key]; ok {
		return hc
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = key.timeout
	if key.proxyURL != "" {
		u, err := url.Parse(key.proxyURL)
		if err != nil {
			log.Warnf("upstream: ignoring invalid proxy-url %q: %v", key.proxyURL, err)
		} else {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	// No client timeout: the streamed body is bounded only by the flow context.
	hc := &http.Client{Transport: transport}
	c.clients[key] = hc
	return hc
}

func (c *Client) newBodyStream(ctx context.Context, protocol translator.Protocol, backend config.Backend, body []byte) *bodyStream {
	return &bodyStream{
		ctx:      ctx,
		client:   c,
		protocol: protocol,
		backend:  backend,
		payload:  body,
		buf:      make([]byte, c.chunkSize),
	}
}

// bodyStream issues its request on the first Next and then yields the body
// in chunks of at most len(buf) bytes.
type bodyStream struct {
	ctx      context.Context
	client   *Client
	protocol translator.Protocol
	backend  config.Backend
	payload  []byte

	resp    *http.Response
	buf     []byte
	readErr error
	done    bool
}

func (s *bodyStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	if s.resp == nil {
		resp, err := s.open()
		if err != nil {
			s.done = true
			return nil, err
		}
		s.resp = resp
	}
	if s.readErr != nil {
		return s.finish(s.readErr)
	}
	for {
		n, err := s.resp.Body.Read(s.buf)
		if n > 0 {
			s.readErr = err
			return bytes.Clone(s.buf[:n]), nil
		}
		if err != nil {
			return s.finish(err)
		}
	}
}

func (s *bodyStream) finish(err error) ([]byte, error) {
	_ = s.Close()
	if err == io.EOF {
		return nil, io.EOF
	}
	return nil, err
}

func (s *bodyStream) open() (*http.Response, error) {
	req, err := http.NewRequestWithContext(s.ctx, http.MethodPost, s.backend.URL, bytes.NewReader(s.payload))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+s.backend.APIKey)

	log.Debugf("upstream: POST %s (%s, model=%s, %d bytes)", s.backend.URL, s.protocol, s.backend.Model, len(s.payload))

	start := time.Now()
	resp, err := s.client.clientFor(s.backend).Do(req)
	if err != nil {
		metrics.RecordUpstream(string(s.protocol), 0, 0)
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	metrics.RecordUpstream(string(s.protocol), resp.StatusCode, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if errClose := resp.Body.Close(); errClose != nil {
			log.Errorf("upstream: close response body error: %v", errClose)
		}
		log.Debugf("upstream: request error, status: %d, body: %s", resp.StatusCode, b)
		return nil, &proxyerrors.UpstreamHTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	return resp, nil
}

// Close releases the backend connection. Calling it before the first Next
// means no request is ever sent.
func (s *bodyStream) Close() error {
	s.done = true
	if s.resp == nil {
		return nil
	}
	err := s.resp.Body.Close()
	s.resp = nil
	return err
}
