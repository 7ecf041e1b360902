package translator

import (
	"encoding/json"
	"errors"
	"io"
	"time"

	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/sse"
	"github.com/proxypilot/copilot-proxy/internal/stream"
	log "github.com/sirupsen/logrus"
)

// LegacyOption configures ToLegacyChunks.
type LegacyOption func(*legacyTranslator)

// WithClock overrides the wall clock used for missing "created" timestamps.
func WithClock(now func() time.Time) LegacyOption {
	return func(t *legacyTranslator) { t.now = now }
}

// WithMalformedHandler observes every skipped upstream event.
func WithMalformedHandler(fn func(*proxyerrors.MalformedUpstreamEvent)) LegacyOption {
	return func(t *legacyTranslator) { t.onMalformed = fn }
}

type legacyTranslator struct {
	events      stream.Iterator[string]
	now         func() time.Time
	onMalformed func(*proxyerrors.MalformedUpstreamEvent)

	pending  [][]byte
	doneSent bool
	failed   bool
}

// ToLegacyChunks translates decoded chat completion payloads into framed
// legacy completion events. Every choice with non-empty content becomes
// one event; malformed payloads are skipped. Exactly one [DONE] frame
// follows the last event once the input ends, whether or not upstream sent
// its own marker. A source error ends the sequence without a terminator.
func ToLegacyChunks(events stream.Iterator[string], opts ...LegacyOption) stream.Iterator[[]byte] {
	t := &legacyTranslator{events: events, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *legacyTranslator) Next() ([]byte, error) {
	for {
		if len(t.pending) > 0 {
			chunk := t.pending[0]
			t.pending = t.pending[1:]
			return chunk, nil
		}
		if t.doneSent || t.failed {
			return nil, io.EOF
		}

		payload, err := t.events.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				t.doneSent = true
				return sse.DoneFrame(), nil
			}
			t.failed = true
			return nil, err
		}
		if payload == sse.DoneMarker {
			t.doneSent = true
			return sse.DoneFrame(), nil
		}
		t.translate(payload)
	}
}

func (t *legacyTranslator) Close() error {
	t.pending = nil
	t.failed = true
	return t.events.Close()
}

func (t *legacyTranslator) translate(payload string) {
	delta, err := ParseChatDelta([]byte(payload), t.now)
	if err != nil {
		malformed := &proxyerrors.MalformedUpstreamEvent{Payload: payload, Err: err}
		log.WithError(err).Warn("legacy translator: skipping malformed upstream event")
		if t.onMalformed != nil {
			t.onMalformed(malformed)
		}
		return
	}
	for _, choice := range delta.Choices {
		if choice.Delta.Content == "" {
			continue
		}
		chunk := LegacyChunk{
			ID:      delta.ID,
			Created: delta.Created,
			Choices: []LegacyChoice{{
				Text:         choice.Delta.Content,
				Index:        choice.Index,
				FinishReason: choice.FinishReason,
				Logprobs:     choice.Logprobs,
			}},
		}
		data, errMarshal := json.Marshal(chunk)
		if errMarshal != nil {
			log.WithError(errMarshal).Warn("legacy translator: failed to encode chunk")
			continue
		}
		t.pending = append(t.pending, sse.FrameData(data))
	}
}
