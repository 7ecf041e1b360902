package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/sse"
	"github.com/proxypilot/copilot-proxy/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Unix(1700000000, 0)

func fixedClock() time.Time { return fixedNow }

func collectStrings(t *testing.T, it stream.Iterator[[]byte]) []string {
	t.Helper()
	chunks, err := stream.Collect(it)
	require.NoError(t, err)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, string(c))
	}
	return out
}

func TestToLegacyChunks_Example(t *testing.T) {
	upstream := "data: {\"id\":\"x\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"return a+b\"}}]}\n\ndata: [DONE]\n\n"
	events := sse.NewDecoder(stream.FromSlice([]byte(upstream)))

	got := collectStrings(t, ToLegacyChunks(events, WithClock(fixedClock)))

	require.Len(t, got, 2)
	assert.Equal(t,
		`data: {"id":"x","created":1700000000,"choices":[{"text":"return a+b","index":0,"finish_reason":null,"logprobs":null}]}`+"\n\n",
		got[0])
	assert.Equal(t, "data: [DONE]\n\n", got[1])
}

func TestToLegacyChunks_CountsContentEventsAndAppendsOneDone(t *testing.T) {
	tests := []struct {
		name     string
		content  int
		empty    int
		withDone bool
	}{
		{name: "no events, upstream done", withDone: true},
		{name: "no events, no done"},
		{name: "content only", content: 3, withDone: true},
		{name: "mixed without done", content: 4, empty: 5},
		{name: "empty only", empty: 2, withDone: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var payloads []string
			var wantTexts []string
			c, e := 0, 0
			for c < tt.content || e < tt.empty {
				content := ""
				if c < tt.content && (e >= tt.empty || (c+e)%2 == 0) {
					content = fmt.Sprintf("tok%d", c)
					wantTexts = append(wantTexts, content)
					c++
				} else {
					e++
				}
				payloads = append(payloads, fmt.Sprintf(`{"id":"c","created":5,"choices":[{"index":0,"delta":{"content":%q}}]}`, content))
			}
			if tt.withDone {
				payloads = append(payloads, sse.DoneMarker)
			}
			require.Len(t, wantTexts, tt.content)

			got := collectStrings(t, ToLegacyChunks(stream.FromSlice(payloads...)))

			require.Len(t, got, tt.content+1)
			for i, text := range wantTexts {
				var chunk LegacyChunk
				raw := strings.TrimSuffix(strings.TrimPrefix(got[i], "data: "), "\n\n")
				require.NoError(t, json.Unmarshal([]byte(raw), &chunk))
				require.Len(t, chunk.Choices, 1)
				assert.Equal(t, text, chunk.Choices[0].Text)
			}
			assert.Equal(t, "data: [DONE]\n\n", got[len(got)-1])
		})
	}
}

func TestToLegacyChunks_OneChunkPerChoice(t *testing.T) {
	payload := `{"id":"m","created":42,"choices":[` +
		`{"index":0,"delta":{"content":"a"},"finish_reason":null},` +
		`{"index":1,"delta":{"content":""}},` +
		`{"index":2,"delta":{"content":"c"},"finish_reason":"stop","logprobs":{"tokens":["c"]}}]}`

	got := collectStrings(t, ToLegacyChunks(stream.FromSlice(payload)))

	require.Len(t, got, 3)
	assert.Contains(t, got[0], `"text":"a","index":0,"finish_reason":null`)
	assert.Contains(t, got[1], `"text":"c","index":2,"finish_reason":"stop","logprobs":{"tokens":["c"]}`)
	assert.Contains(t, got[1], `"created":42`)
}

func TestToLegacyChunks_SkipsMalformedEvents(t *testing.T) {
	var skipped []string
	payloads := []string{
		`{"id":"1","choices":[{"index":0,"delta":{"content":"x"}}]}`,
		`{not json`,
		`{"id":"1","choices":[{"index":0,"delta":{"content":"y"}}]}`,
	}

	got := collectStrings(t, ToLegacyChunks(stream.FromSlice(payloads...),
		WithClock(fixedClock),
		WithMalformedHandler(func(e *proxyerrors.MalformedUpstreamEvent) { skipped = append(skipped, e.Payload) }),
	))

	require.Len(t, got, 3)
	assert.Contains(t, got[0], `"text":"x"`)
	assert.Contains(t, got[1], `"text":"y"`)
	assert.Contains(t, got[1], `"created":1700000000`)
	assert.Equal(t, []string{`{not json`}, skipped)
}

func TestToLegacyChunks_SourceErrorAbortsWithoutDone(t *testing.T) {
	cause := &proxyerrors.StreamDecodeError{Err: errors.New("reset")}
	calls := 0
	src := &stream.Func[string]{
		NextFunc: func() (string, error) {
			calls++
			if calls == 1 {
				return `{"id":"1","choices":[{"index":0,"delta":{"content":"x"}}]}`, nil
			}
			return "", cause
		},
	}

	it := ToLegacyChunks(src)
	first, err := it.Next()
	require.NoError(t, err)
	assert.Contains(t, string(first), `"text":"x"`)

	_, err = it.Next()
	assert.ErrorIs(t, err, cause)
}

func TestToChatChunks_Identity(t *testing.T) {
	raw := []string{"data: {\"a\":1}\n", "\ndata: [DONE]\n\n"}
	src := stream.FromSlice([]byte(raw[0]), []byte(raw[1]))
	assert.Equal(t, raw, collectStrings(t, ToChatChunks(src)))
}
