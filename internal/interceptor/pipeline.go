package interceptor

import (
	"net/http"
	"sync"

	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/metrics"
	"github.com/proxypilot/copilot-proxy/internal/sse"
	"github.com/proxypilot/copilot-proxy/internal/stream"
	"github.com/proxypilot/copilot-proxy/internal/translator"
	"github.com/proxypilot/copilot-proxy/internal/util"
	log "github.com/sirupsen/logrus"
)

func newDecoder(raw stream.Iterator[[]byte]) stream.Iterator[string] {
	return sse.NewDecoder(raw)
}

func onMalformed(*proxyerrors.MalformedUpstreamEvent) {
	metrics.RecordMalformedEvent()
}

// relay is the response body of a streaming flow.
type relay struct {
	*stream.Reader
	flowID   string
	protocol translator.Protocol
	bytes    int
	once     sync.Once
}

func newRelay(flowID string, protocol translator.Protocol, chunks stream.Iterator[[]byte]) *relay {
	r := &relay{Reader: stream.NewReader(chunks), flowID: flowID, protocol: protocol}
	r.OnChunk = func(n int) {
		r.bytes += n
		metrics.RecordRelayed(string(protocol), n)
	}
	metrics.StreamStarted()
	return r
}

// Close ends the stream and releases the backend connection.
func (r *relay) Close() error {
	err := r.Reader.Close()
	r.once.Do(func() {
		metrics.StreamFinished()
		log.WithFields(log.Fields{"flow": r.flowID, "protocol": r.protocol, "bytes": r.bytes}).Debug("stream closed")
	})
	return err
}

func redactHeaders(h http.Header) map[string]string {
	return util.RedactHeaders(h)
}

func redactBody(text string) string {
	return string(util.RedactSensitiveJSON([]byte(text)))
}
