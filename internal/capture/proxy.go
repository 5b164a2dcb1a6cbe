// internal/capture/proxy.go
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/xkilldash9x/trident-cli/api/schemas"
	"github.com/xkilldash9x/trident-cli/internal/config"
)

// stashedRequest carries request details across the proxy round trip so the
// response hook can assemble a complete exchange.
type stashedRequest struct {
	startedAt time.Time
	method    string
	url       string
	headers   http.Header
	body      []byte
}

// Proxy is a forward HTTP proxy that records plain-HTTP traffic into a
// TrafficLog. HTTPS CONNECT requests are tunneled untouched; encrypted
// traffic is the recorder's job, not the proxy's.
type Proxy struct {
	cfg    config.ProxyConfig
	log    *TrafficLog
	logger *zap.Logger

	mu        sync.Mutex
	server    *http.Server
	listener  net.Listener
	isStarted bool
}

// NewProxy creates a capture proxy writing into log. Call Start to listen.
func NewProxy(cfg config.ProxyConfig, log *TrafficLog, logger *zap.Logger) *Proxy {
	return &Proxy{
		cfg:    cfg,
		log:    log,
		logger: logger.Named("capture_proxy"),
	}
}

// Start binds the configured address and begins serving. The effective
// address (useful with port 0) is available from Addr afterwards.
func (p *Proxy) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isStarted {
		return fmt.Errorf("capture proxy already started on %s", p.listener.Addr())
	}

	listener, err := net.Listen("tcp", p.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to bind capture proxy to %s: %w", p.cfg.Address, err)
	}

	proxy := goproxy.NewProxyHttpServer()
	proxy.Verbose = false
	// Keep the client's Accept-Encoding so encoded bodies travel end to end;
	// recordResponse decodes them for the log via Content-Encoding.
	proxy.KeepAcceptEncoding = true

	// Tunnel TLS as-is. No MITM: the CDP recorder sees decrypted traffic
	// already, the proxy only needs the plain HTTP side.
	proxy.OnRequest().HandleConnectFunc(func(host string, _ *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
		return goproxy.OkConnect, host
	})

	proxy.OnRequest().DoFunc(p.stashRequest)
	proxy.OnResponse().DoFunc(p.recordResponse)

	p.listener = listener
	p.server = &http.Server{Handler: proxy}
	p.isStarted = true

	server := p.server
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.logger.Error("Capture proxy server terminated unexpectedly.", zap.Error(err))
		}
	}()

	p.logger.Info("Capture proxy listening.", zap.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address, or "" before Start.
func (p *Proxy) Addr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Stop gracefully shuts the proxy down, waiting for in-flight requests up to
// the context deadline.
func (p *Proxy) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isStarted {
		return nil
	}
	p.isStarted = false

	err := p.server.Shutdown(ctx)
	p.server = nil
	p.listener = nil
	return err
}

// stashRequest captures the outbound request and parks it on the proxy
// context for the response hook. The body is restored for the upstream.
func (p *Proxy) stashRequest(req *http.Request, pctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
	stash := &stashedRequest{
		startedAt: time.Now(),
		method:    req.Method,
		url:       req.URL.String(),
		headers:   req.Header.Clone(),
	}

	if req.Body != nil && req.ContentLength != 0 {
		raw, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			p.logger.Warn("Failed to read request body for capture.", zap.String("url", stash.url), zap.Error(err))
		} else {
			stash.body = raw
			req.Body = io.NopCloser(bytes.NewReader(raw))
		}
	}

	pctx.UserData = stash
	return req, nil
}

// recordResponse appends the completed exchange to the log and hands the
// response back to the client with its body intact.
func (p *Proxy) recordResponse(resp *http.Response, pctx *goproxy.ProxyCtx) *http.Response {
	stash, ok := pctx.UserData.(*stashedRequest)
	if !ok {
		return resp
	}

	ex := schemas.Exchange{
		RequestID:  fmt.Sprintf("proxy-%d", pctx.Session),
		Method:     stash.method,
		URL:        stash.url,
		StartedAt:  stash.startedAt,
		ReqHeaders: stash.headers,
		ReqBody:    stash.body,
	}

	if resp == nil {
		ex.Failed = true
		if pctx.Error != nil {
			ex.FailureText = pctx.Error.Error()
		}
		p.log.Append(ex)
		return resp
	}

	ex.Status = resp.StatusCode
	ex.MimeType = mimeFromContentType(resp.Header.Get("Content-Type"))
	ex.RespHeaders = resp.Header.Clone()

	if resp.Body != nil && isTextMime(ex.MimeType) {
		raw, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if err != nil {
			p.logger.Warn("Failed to read response body for capture.", zap.String("url", stash.url), zap.Error(err))
			resp.Body = io.NopCloser(bytes.NewReader(nil))
		} else {
			resp.Body = io.NopCloser(bytes.NewReader(raw))

			decoded, derr := DecodeBody(raw, resp.Header.Values("Content-Encoding"))
			if derr != nil {
				p.logger.Debug("Could not decode captured response body.", zap.String("url", stash.url), zap.Error(derr))
			}
			ex.RespBody = decoded
		}
	}

	p.log.Append(ex)
	return resp
}

// mimeFromContentType strips parameters like charset from a Content-Type.
func mimeFromContentType(contentType string) string {
	mime, _, found := strings.Cut(contentType, ";")
	if !found {
		mime = contentType
	}
	return strings.TrimSpace(mime)
}
