package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/proxypilot/copilot-proxy/internal/config"
	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/stream"
	"github.com/proxypilot/copilot-proxy/internal/translator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backendFor(url string) *config.BackendStore {
	return config.NewBackendStore(config.Backend{URL: url, APIKey: "sk-test", Model: "test-model"})
}

func TestClient_MissingConfigurationMakesNoRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tests := []struct {
		name    string
		backend config.Backend
		missing []string
	}{
		{name: "all missing", backend: config.Backend{}, missing: []string{"url", "api-key", "model"}},
		{name: "blank key", backend: config.Backend{URL: srv.URL, APIKey: "  ", Model: "m"}, missing: []string{"api-key"}},
		{name: "no model", backend: config.Backend{URL: srv.URL, APIKey: "k"}, missing: []string{"model"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(config.NewBackendStore(tt.backend))

			it, err := c.Chat(context.Background(), json.RawMessage(`[]`))
			assert.Nil(t, it)
			var cfgErr *proxyerrors.ConfigurationError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.missing, cfgErr.Missing)

			it, err = c.Legacy(context.Background(), translator.LegacyCompletionRequest{Prompt: "x"})
			assert.Nil(t, it)
			require.True(t, errors.As(err, &cfgErr))
		})
	}
	assert.Zero(t, hits.Load())
}

func TestClient_LazyRequest(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	it, err := New(backendFor(srv.URL)).Chat(context.Background(), json.RawMessage(`[]`))
	require.NoError(t, err)
	assert.Zero(t, hits.Load(), "request must wait for the first pull")

	chunks, err := stream.Collect(it)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, "data: [DONE]\n\n", string(joinChunks(chunks)))
}

func TestClient_RequestBodies(t *testing.T) {
	var gotAuth, gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer srv.Close()

	c := New(backendFor(srv.URL + "/v1/chat/completions"))

	t.Run("chat", func(t *testing.T) {
		it, err := c.Chat(context.Background(), json.RawMessage(`[{"role":"user","content":"hi","name":"x"}]`))
		require.NoError(t, err)
		_, err = stream.Collect(it)
		require.NoError(t, err)

		assert.Equal(t, "Bearer sk-test", gotAuth)
		assert.Equal(t, "/v1/chat/completions", gotPath)
		assert.Equal(t, "test-model", gotBody["model"])
		assert.EqualValues(t, 0, gotBody["temperature"])
		assert.EqualValues(t, 2500, gotBody["max_tokens"])
		assert.Equal(t, true, gotBody["stream"])
		messages := gotBody["messages"].([]any)
		require.Len(t, messages, 1)
		assert.Equal(t, "x", messages[0].(map[string]any)["name"], "messages are forwarded verbatim")
	})

	t.Run("legacy", func(t *testing.T) {
		req, err := translator.ParseLegacyRequest([]byte(`{"prompt":"def f(","suffix":")","stop":["\n\n"]}`))
		require.NoError(t, err)
		it, err := c.Legacy(context.Background(), req)
		require.NoError(t, err)
		_, err = stream.Collect(it)
		require.NoError(t, err)

		assert.Equal(t, "test-model", gotBody["model"])
		assert.EqualValues(t, 500, gotBody["max_tokens"])
		assert.EqualValues(t, 0.2, gotBody["temperature"])
		assert.EqualValues(t, 1, gotBody["top_p"])
		assert.EqualValues(t, 3, gotBody["n"])
		assert.Equal(t, []any{"\n\n"}, gotBody["stop"])
		assert.Equal(t, true, gotBody["stream"])

		messages := gotBody["messages"].([]any)
		require.Len(t, messages, 2)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		user := messages[1].(map[string]any)["content"].(string)
		assert.Contains(t, user, "def f("+translator.CursorMarker+")")
	})
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	it, err := New(backendFor(srv.URL)).Chat(context.Background(), json.RawMessage(`[]`))
	require.NoError(t, err)

	_, err = it.Next()
	var httpErr *proxyerrors.UpstreamHTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Contains(t, httpErr.Body, "rate limited")

	_, err = it.Next()
	assert.Equal(t, io.EOF, err)
}

func TestClient_StreamsBeforeBodyCompletes(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {\"a\":1}\n\n")
		w.(http.Flusher).Flush()
		<-release
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()
	defer close(release)

	it, err := New(backendFor(srv.URL)).Chat(context.Background(), json.RawMessage(`[]`))
	require.NoError(t, err)
	defer it.Close()

	got := make(chan []byte, 1)
	go func() {
		chunk, _ := it.Next()
		got <- chunk
	}()

	select {
	case chunk := <-got:
		assert.Equal(t, "data: {\"a\":1}\n\n", string(chunk))
	case <-time.After(5 * time.Second):
		t.Fatal("first chunk was not delivered before the body completed")
	}
}

func TestClient_ChunkSize(t *testing.T) {
	payload := strings.Repeat("x", 100)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	it, err := New(backendFor(srv.URL), WithChunkSize(16)).Chat(context.Background(), json.RawMessage(`[]`))
	require.NoError(t, err)
	chunks, err := stream.Collect(it)
	require.NoError(t, err)

	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 16)
	}
	assert.Equal(t, payload, string(joinChunks(chunks)))
}

func TestClient_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "data: {}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	it, err := New(backendFor(srv.URL)).Chat(ctx, json.RawMessage(`[]`))
	require.NoError(t, err)
	defer it.Close()

	_, err = it.Next()
	require.NoError(t, err)

	cancel()
	_, err = it.Next()
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestClient_CloseBeforeFirstPull(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	it, err := New(backendFor(srv.URL)).Chat(context.Background(), json.RawMessage(`[]`))
	require.NoError(t, err)
	require.NoError(t, it.Close())

	_, err = it.Next()
	assert.Equal(t, io.EOF, err)
	assert.Zero(t, hits.Load())
}

func joinChunks(chunks [][]byte) []byte {
	var out []byte
	for _, c := range chunks {
		out = append(out, c...)
	}
	return out
}
