// Package interceptor is the host addon that answers a Copilot client's
// traffic: it streams completions from the configured backend model, fakes
// the model catalog and session token, and lets everything else through.
package interceptor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/proxypilot/copilot-proxy/internal/config"
	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/host"
	"github.com/proxypilot/copilot-proxy/internal/stream"
	"github.com/proxypilot/copilot-proxy/internal/synth"
	"github.com/proxypilot/copilot-proxy/internal/translator"
	log "github.com/sirupsen/logrus"
)

const (
	contentTypeJSON        = "application/json"
	contentTypeEventStream = "text/event-stream"
	contentSecurityPolicy  = "default-src 'none'; sandbox"
)

// Completer produces raw backend response bytes for a completion request.
// *upstream.Client implements it.
type Completer interface {
	Legacy(ctx context.Context, req translator.LegacyCompletionRequest) (stream.Iterator[[]byte], error)
	Chat(ctx context.Context, messages json.RawMessage) (stream.Iterator[[]byte], error)
}

// Options selects the endpoints the interceptor answers. URLs are matched
// exactly against the full request URL.
type Options struct {
	ChatCompletionsURL   string
	LegacyCompletionsURL string
	ModelsURL            string
	TokenURL             string

	// Interest selects flows whose bodies are logged. Nil logs no bodies.
	Interest *regexp.Regexp

	// Now is the clock used for synthesized tokens and missing timestamps.
	Now func() time.Time
}

// OptionsFromConfig builds Options from the intercept section of the config.
func OptionsFromConfig(cfg config.InterceptConfig) (Options, error) {
	interest, err := regexp.Compile(cfg.InterestPattern)
	if err != nil {
		return Options{}, fmt.Errorf("compile interest-pattern: %w", err)
	}
	return Options{
		ChatCompletionsURL:   cfg.ChatCompletionsURL,
		LegacyCompletionsURL: cfg.LegacyCompletionsURL,
		ModelsURL:            cfg.ModelsURL,
		TokenURL:             cfg.TokenURL,
		Interest:             interest,
	}, nil
}

// Interceptor implements the request, response headers and response hooks.
type Interceptor struct {
	opts      Options
	completer Completer
}

// New returns an interceptor that streams completions from completer.
func New(completer Completer, opts Options) *Interceptor {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Interceptor{opts: opts, completer: completer}
}

// Name implements host.Addon.
func (i *Interceptor) Name() string { return "copilot-interceptor" }

func (i *Interceptor) interesting(url string) bool {
	return i.opts.Interest != nil && i.opts.Interest.MatchString(url)
}

// Request logs the arriving request.
func (i *Interceptor) Request(f *host.Flow) {
	req := f.Request
	entry := log.WithFields(log.Fields{"flow": f.ID, "method": req.Method, "url": req.URL})
	entry.WithField("headers", redactHeaders(req.Header)).Info("request")
	if req.HasBody() && i.interesting(req.URL) {
		entry.WithField("body", redactBody(req.Text())).Info("request body")
	}
}

// ResponseHeaders answers the completion endpoints before the real server
// is contacted. Both always answer 200: the client holds a fabricated token
// the real service would reject.
func (i *Interceptor) ResponseHeaders(f *host.Flow) host.Decision {
	req := f.Request
	if !req.HasBody() {
		return host.Pass()
	}
	switch req.URL {
	case i.opts.ChatCompletionsURL:
		return i.streamChat(f)
	case i.opts.LegacyCompletionsURL:
		return i.streamLegacy(f)
	default:
		return host.Pass()
	}
}

func (i *Interceptor) streamChat(f *host.Flow) host.Decision {
	messages, err := translator.ExtractMessages([]byte(f.Request.Text()))
	if err != nil {
		return i.reject(f, proxyerrors.New(http.StatusBadRequest, "invalid_request_error", err.Error(), err))
	}
	raw, err := i.completer.Chat(f.Context(), messages)
	if err != nil {
		return i.reject(f, proxyerrors.FromError(err))
	}
	return i.streaming(f, translator.ProtocolChat, contentTypeJSON, translator.ToChatChunks(raw))
}

func (i *Interceptor) streamLegacy(f *host.Flow) host.Decision {
	req, err := translator.ParseLegacyRequest([]byte(f.Request.Text()))
	if err != nil {
		return i.reject(f, proxyerrors.New(http.StatusBadRequest, "invalid_request_error", err.Error(), err))
	}
	raw, err := i.completer.Legacy(f.Context(), req)
	if err != nil {
		return i.reject(f, proxyerrors.FromError(err))
	}
	chunks := translator.ToLegacyChunks(newDecoder(raw),
		translator.WithClock(i.opts.Now),
		translator.WithMalformedHandler(onMalformed))
	return i.streaming(f, translator.ProtocolLegacy, contentTypeEventStream, chunks)
}

func (i *Interceptor) streaming(f *host.Flow, protocol translator.Protocol, contentType string, chunks stream.Iterator[[]byte]) host.Decision {
	header := http.Header{}
	header.Set("Content-Type", contentType)
	if id := f.Request.Header.Get("X-Request-Id"); id != "" {
		header.Set("X-Request-Id", id)
	}
	header.Set("Content-Security-Policy", contentSecurityPolicy)

	log.WithFields(log.Fields{"flow": f.ID, "protocol": protocol}).Info("streaming completion from backend")
	return host.Stream(http.StatusOK, header, newRelay(f.ID, protocol, chunks))
}

func (i *Interceptor) reject(f *host.Flow, appErr *proxyerrors.AppError) host.Decision {
	log.WithFields(log.Fields{"flow": f.ID, "url": f.Request.URL}).WithError(appErr).Error("cannot serve completion")
	header := http.Header{}
	header.Set("Content-Type", contentTypeJSON)
	return host.Synthesize(appErr.HTTPStatusCode, header, appErr.ToJSON())
}

// Response replaces the catalog and token documents and logs interesting
// responses. Streaming flows are never touched.
func (i *Interceptor) Response(f *host.Flow) host.Decision {
	if f.State == host.StateStreaming || f.Response == nil {
		return host.Pass()
	}

	resp := f.Response
	entry := log.WithFields(log.Fields{"flow": f.ID, "url": f.Request.URL, "status": resp.StatusCode})
	entry.WithField("headers", redactHeaders(resp.Header)).Info("response")
	if i.interesting(f.Request.URL) {
		if text := resp.Text(); text != "" {
			entry.WithField("body", redactBody(text)).Info("response body")
		}
	}

	switch f.Request.URL {
	case i.opts.ModelsURL:
		body, contentType := synth.ModelCatalog()
		return host.Synthesize(http.StatusOK, http.Header{"Content-Type": {contentType}}, body)
	case i.opts.TokenURL:
		body, contentType := synth.Token(i.opts.Now())
		return host.Synthesize(http.StatusOK, http.Header{"Content-Type": {contentType}}, body)
	default:
		return host.Pass()
	}
}
