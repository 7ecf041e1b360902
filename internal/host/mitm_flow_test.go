package host_test

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/proxypilot/copilot-proxy/internal/config"
	"github.com/proxypilot/copilot-proxy/internal/host"
	"github.com/proxypilot/copilot-proxy/internal/interceptor"
	"github.com/proxypilot/copilot-proxy/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const backendEvents = "data: {\"id\":\"x\",\"created\":5,\"choices\":[{\"index\":0,\"delta\":{\"content\":\"ok\"}}]}\n\ndata: [DONE]\n\n"

type tunnelFixture struct {
	client *http.Client

	mu          sync.Mutex
	backendHits int
	originPaths []string
}

func (f *tunnelFixture) hits() (int, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.backendHits, append([]string(nil), f.originPaths...)
}

// newTunnelFixture runs the interceptor behind the MITM proxy with the
// default intercepted URLs. Clients reach it through CONNECT and TLS; the
// real Copilot hosts are replaced by a local TLS origin.
func newTunnelFixture(t *testing.T) *tunnelFixture {
	t.Helper()
	f := &tunnelFixture{}

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.backendHits++
		f.mu.Unlock()
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, backendEvents)
	}))
	t.Cleanup(backend.Close)

	origin := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.originPaths = append(f.originPaths, r.URL.Path)
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"origin"}`)
	}))
	t.Cleanup(origin.Close)

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	opts, err := interceptor.OptionsFromConfig(cfg.Intercept)
	require.NoError(t, err)
	opts.Now = func() time.Time { return time.Unix(1700000000, 0) }
	store := config.NewBackendStore(config.Backend{URL: backend.URL, APIKey: "k", Model: "m"})

	proxy := host.NewMITMProxy(host.NewEngine(interceptor.New(upstream.New(store), opts)), nil)
	proxy.Tr = &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", origin.Listener.Addr().String())
		},
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}
	front := httptest.NewServer(proxy)
	t.Cleanup(front.Close)

	proxyURL, err := url.Parse(front.URL)
	require.NoError(t, err)
	f.client = &http.Client{Transport: &http.Transport{
		Proxy:           http.ProxyURL(proxyURL),
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	return f
}

func (f *tunnelFixture) do(t *testing.T, method, target, body string) (*http.Response, string) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, target, reader)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-7")
	resp, err := f.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(b)
}

func TestMITMProxy_TunnelledCopilotEndpoints(t *testing.T) {
	f := newTunnelFixture(t)

	resp, body := f.do(t, http.MethodPost, config.DefaultChatCompletionsURL, `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "req-7", resp.Header.Get("X-Request-Id"))
	assert.Equal(t, backendEvents, body)

	resp, body = f.do(t, http.MethodPost, config.DefaultLegacyCompletionsURL, `{"prompt":"a"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t,
		`data: {"id":"x","created":5,"choices":[{"text":"ok","index":0,"finish_reason":null,"logprobs":null}]}`+"\n\ndata: [DONE]\n\n",
		body)

	resp, body = f.do(t, http.MethodGet, config.DefaultModelsURL, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"gpt-4"`)

	resp, body = f.do(t, http.MethodGet, config.DefaultTokenURL, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var token struct {
		ExpiresAt  int64  `json:"expires_at"`
		TrackingID string `json:"tracking_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &token))
	assert.Equal(t, int64(1700000900), token.ExpiresAt)
	assert.Len(t, token.TrackingID, 32)

	resp, body = f.do(t, http.MethodGet, "https://api.github.com/copilot_internal/user", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"message":"origin"}`, body)

	backendHits, originPaths := f.hits()
	assert.Equal(t, 2, backendHits)
	assert.Equal(t, []string{"/models", "/copilot_internal/v2/token", "/copilot_internal/user"}, originPaths)
}
