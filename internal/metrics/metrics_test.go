package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordersAreNoopsWhileDisabled(t *testing.T) {
	SetEnabled(false)
	before := testutil.ToFloat64(flowsTotal.WithLabelValues("disabled-check"))
	RecordFlow("disabled-check")
	assert.Equal(t, before, testutil.ToFloat64(flowsTotal.WithLabelValues("disabled-check")))
}

func TestRecorders(t *testing.T) {
	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(false) })

	flows := testutil.ToFloat64(flowsTotal.WithLabelValues("streaming"))
	RecordFlow("streaming")
	assert.Equal(t, flows+1, testutil.ToFloat64(flowsTotal.WithLabelValues("streaming")))

	ok := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("legacy", "200"))
	failed := testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("legacy", "error"))
	RecordUpstream("legacy", 200, 10*time.Millisecond)
	RecordUpstream("legacy", 0, 0)
	assert.Equal(t, ok+1, testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("legacy", "200")))
	assert.Equal(t, failed+1, testutil.ToFloat64(upstreamRequestsTotal.WithLabelValues("legacy", "error")))

	relayed := testutil.ToFloat64(relayedBytesTotal.WithLabelValues("chat"))
	RecordRelayed("chat", 42)
	RecordRelayed("chat", 0)
	assert.Equal(t, relayed+42, testutil.ToFloat64(relayedBytesTotal.WithLabelValues("chat")))

	malformed := testutil.ToFloat64(malformedEventsTotal)
	RecordMalformedEvent()
	assert.Equal(t, malformed+1, testutil.ToFloat64(malformedEventsTotal))
}

func TestHandler(t *testing.T) {
	SetEnabled(false)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(false) })
	RecordFlow("passthrough")

	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "copilot_proxy_flows_total"))
}
