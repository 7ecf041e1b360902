// Package api provides the direct HTTP server. Clients that can be pointed
// at a base URL (instead of trusting an intercepting proxy) talk to it; every
// request is mapped onto the upstream host it was meant for and runs through
// the same addon engine as intercepted traffic.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/proxypilot/copilot-proxy/internal/api/middleware"
	"github.com/proxypilot/copilot-proxy/internal/config"
	proxyerrors "github.com/proxypilot/copilot-proxy/internal/errors"
	"github.com/proxypilot/copilot-proxy/internal/host"
	"github.com/proxypilot/copilot-proxy/internal/logging"
	"github.com/proxypilot/copilot-proxy/internal/metrics"
	"github.com/proxypilot/copilot-proxy/internal/sse"
	log "github.com/sirupsen/logrus"
)

type serverOptionConfig struct {
	extraMiddleware []gin.HandlerFunc
	forwardClient   *http.Client
}

// ServerOption customises server construction.
type ServerOption func(*serverOptionConfig)

// WithMiddleware appends middleware after the built-in chain.
func WithMiddleware(mw ...gin.HandlerFunc) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.extraMiddleware = append(cfg.extraMiddleware, mw...)
	}
}

// WithForwardClient sets the client used for pass-through requests.
func WithForwardClient(client *http.Client) ServerOption {
	return func(cfg *serverOptionConfig) {
		cfg.forwardClient = client
	}
}

// Server is the direct HTTP server.
type Server struct {
	engine *gin.Engine
	server *http.Server

	flows  *host.Engine
	routes []config.DirectRoute
	client *http.Client
}

// NewServer builds the direct server for cfg. flows is the addon engine
// every request is run through.
func NewServer(cfg *config.Config, flows *host.Engine, opts ...ServerOption) *Server {
	optionState := &serverOptionConfig{}
	for i := range opts {
		opts[i](optionState)
	}
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())
	engine.Use(middleware.PrometheusMiddleware())
	engine.Use(middleware.FlowTrackerMiddleware(middleware.ActiveFlows))
	engine.Use(middleware.RequestDecompressionMiddleware())
	for _, mw := range optionState.extraMiddleware {
		engine.Use(mw)
	}

	client := optionState.forwardClient
	if client == nil {
		client = &http.Client{
			// Redirects are the client's business.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		}
	}

	s := &Server{
		engine: engine,
		flows:  flows,
		routes: sortRoutes(cfg.Direct.Routes),
		client: client,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Direct.Port),
		Handler:           engine,
		ReadHeaderTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		logging.SkipGinRequestLogging(c)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "in_flight": middleware.ActiveFlows.Count()})
	})
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.engine.NoRoute(s.handleFlow)
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens until Stop is called.
func (s *Server) Start() error {
	if s == nil || s.server == nil {
		return fmt.Errorf("failed to start direct server: server not initialized")
	}
	log.Debugf("Starting direct server on %s", s.server.Addr)
	if errServe := s.server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
		return fmt.Errorf("failed to start direct server: %v", errServe)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	log.Debug("Stopping direct server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown direct server: %v", err)
	}
	log.Debug("Direct server stopped")
	return nil
}

// sortRoutes orders routes longest prefix first.
func sortRoutes(routes []config.DirectRoute) []config.DirectRoute {
	out := make([]config.DirectRoute, len(routes))
	copy(out, routes)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i].Prefix) > len(out[j].Prefix) })
	return out
}

// resolve maps a request path and query onto the upstream URL it targets.
func (s *Server) resolve(r *http.Request) (string, bool) {
	for _, route := range s.routes {
		if strings.HasPrefix(r.URL.Path, route.Prefix) {
			target := strings.TrimRight(route.Upstream, "/") + r.URL.Path
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			return target, true
		}
	}
	return "", false
}

func (s *Server) handleFlow(c *gin.Context) {
	target, ok := s.resolve(c.Request)
	if !ok {
		writeError(c, proxyerrors.New(http.StatusNotFound, "no_route", "no upstream route for "+c.Request.URL.Path, nil))
		return
	}

	req, err := host.RequestFromHTTP(c.Request)
	if err != nil {
		writeError(c, proxyerrors.New(http.StatusBadRequest, "invalid_request_error", "failed to read request body", err))
		return
	}
	req.URL = target

	f := host.NewFlow(c.Request.Context(), req)
	resp, err := s.flows.Serve(f, s.forward)
	if err != nil {
		log.WithField("flow", f.ID).WithError(err).Warn("direct: forward failed")
		writeError(c, proxyerrors.New(http.StatusBadGateway, "upstream_unreachable", "failed to reach "+target, err))
		return
	}
	s.writeResponse(c, f, resp)
}

// forward sends a pass-through flow to its upstream host.
func (s *Server) forward(f *host.Flow) (*host.Response, error) {
	var body io.Reader = http.NoBody
	if f.Request.HasBody() {
		body = bytes.NewReader(f.Request.Body)
	}
	out, err := http.NewRequestWithContext(f.Context(), f.Request.Method, f.Request.URL, body)
	if err != nil {
		return nil, err
	}
	out.Header = f.Request.Header.Clone()
	removeHopHeaders(out.Header)
	out.Header.Del("Content-Length")
	out.ContentLength = int64(len(f.Request.Body))

	resp, err := s.client.Do(out)
	if err != nil {
		return nil, err
	}
	return host.WrapResponse(resp), nil
}

func (s *Server) writeResponse(c *gin.Context, f *host.Flow, resp *host.Response) {
	header := c.Writer.Header()
	for k, values := range resp.Header {
		for _, v := range values {
			header.Add(k, v)
		}
	}
	removeHopHeaders(header)
	if resp.IsStream() {
		header.Del("Content-Length")
	}
	c.Status(resp.StatusCode)

	body := resp.Body()
	defer func() { _ = body.Close() }()

	if !resp.IsStream() {
		c.Writer.WriteHeaderNow()
		if _, err := io.Copy(c.Writer, body); err != nil {
			log.WithField("flow", f.ID).WithError(err).Debug("direct: copy response body")
		}
		return
	}

	c.Writer.WriteHeaderNow()
	c.Writer.Flush()
	if _, err := io.Copy(c.Writer, body); err != nil {
		log.WithField("flow", f.ID).WithError(err).Warn("direct: stream aborted")
		if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
			_ = sse.WriteError(c.Writer, proxyerrors.FromError(err).ToJSON())
			c.Writer.Flush()
		}
	}
}

func writeError(c *gin.Context, appErr *proxyerrors.AppError) {
	c.Data(appErr.HTTPStatusCode, "application/json", appErr.ToJSON())
}

var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(h http.Header) {
	for _, k := range hopHeaders {
		h.Del(k)
	}
}
