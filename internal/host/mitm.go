package host

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"

	"github.com/elazarl/goproxy"
	log "github.com/sirupsen/logrus"
)

// LoadCA reads a PEM certificate and key pair used to sign intercepted hosts.
func LoadCA(certFile, keyFile string) (*tls.Certificate, error) {
	ca, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load mitm ca: %w", err)
	}
	leaf, err := x509.ParseCertificate(ca.Certificate[0])
	if err != nil {
		return nil, fmt.Errorf("parse mitm ca: %w", err)
	}
	ca.Leaf = leaf
	return &ca, nil
}

// NewMITMProxy returns a forward proxy that decrypts every CONNECT tunnel
// and runs the decrypted flows through engine. With a nil ca the proxy
// signs hosts with goproxy's built-in authority.
func NewMITMProxy(engine *Engine, ca *tls.Certificate) *goproxy.ProxyHttpServer {
	proxy := goproxy.NewProxyHttpServer()
	proxy.Logger = log.StandardLogger()
	proxy.Verbose = log.IsLevelEnabled(log.TraceLevel)

	if ca == nil {
		proxy.OnRequest().HandleConnect(goproxy.AlwaysMitm)
	} else {
		action := &goproxy.ConnectAction{Action: goproxy.ConnectMitm, TLSConfig: goproxy.TLSConfigFromCA(ca)}
		proxy.OnRequest().HandleConnectFunc(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			return action, host
		})
	}

	proxy.OnRequest().DoFunc(func(r *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		req, err := RequestFromHTTP(r)
		if err != nil {
			log.Warnf("mitm: read request body for %s: %v", r.URL, err)
			return r, nil
		}
		f := NewFlow(r.Context(), req)
		ctx.UserData = f

		engine.OnRequest(f)
		if d := engine.OnResponseHeaders(f); d.Decided() {
			return r, f.Response.HTTP(r)
		}
		return r, nil
	})

	proxy.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		f, ok := ctx.UserData.(*Flow)
		if !ok || resp == nil {
			return resp
		}

		answered := f.Response != nil
		if !answered {
			f.Response = WrapResponse(resp)
		}
		before := f.Response
		engine.OnResponse(f)

		if f.Response != before {
			return f.Response.HTTP(ctx.Req)
		}
		if answered {
			return resp
		}
		// The body may have been buffered for logging.
		if f.Response.loaded {
			resp.Body = f.Response.Body()
			resp.ContentLength = int64(len(f.Response.content))
			resp.TransferEncoding = nil
		}
		return resp
	})

	return proxy
}
