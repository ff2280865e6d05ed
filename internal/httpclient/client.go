package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/nettrace"
	"github.com/unkn0wn-root/reqflow/internal/telemetry"
)

const transportCacheSize = 32

// Options is the per-request transport policy.
type Options struct {
	Timeout            time.Duration
	FollowRedirects    bool
	MaxRedirects       int
	InsecureSkipVerify bool
	ProxyMode          config.ProxyMode
	Proxy              config.ProxySpec
	CACertFile         string
	KeepDefaultCAs     bool
	ClientCerts        []config.ClientCert
	BaseDir            string
	SendCookies        bool
	StoreCookies       bool
	Trace              bool
	Name               string
}

// Wrapper decorates the transport of a single request, for example to sign it.
type Wrapper func(http.RoundTripper) http.RoundTripper

type Client struct {
	jar        http.CookieJar
	transports *lru.Cache[string, http.RoundTripper]
	telemetry  telemetry.Instrumenter
	log        logr.Logger
	dial       func(opts Options) (http.RoundTripper, error)
}

func NewClient(log *logr.Logger) *Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	cache, _ := lru.New[string, http.RoundTripper](transportCacheSize)
	c := &Client{jar: jar, transports: cache, telemetry: telemetry.Noop(), log: logr.Discard()}
	if log != nil {
		c.log = *log
	}
	c.dial = c.transportFor
	return c
}

// SetTelemetry configures the instrumenter used to emit OpenTelemetry spans. Passing nil restores the no-op implementation.
func (c *Client) SetTelemetry(instr telemetry.Instrumenter) {
	if instr == nil {
		instr = telemetry.Noop()
	}
	c.telemetry = instr
}

// SetTransportFactory overrides how base transports are built. nil restores
// the cached default.
func (c *Client) SetTransportFactory(fn func(Options) (http.RoundTripper, error)) {
	if fn == nil {
		c.dial = c.transportFor
		return
	}
	c.dial = fn
}

func (c *Client) Jar() http.CookieJar { return c.jar }

type TimelineEntry struct {
	Time    time.Time `json:"time"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
}

type Response struct {
	Status         string
	StatusCode     int
	Proto          string
	Headers        http.Header
	RequestHeaders http.Header
	Body           []byte
	Duration       time.Duration
	EffectiveURL   string
	Redirects      int
	Timeline       []TimelineEntry

	// Phases is the connection timing of the final hop.
	Phases *nettrace.Timeline
}

func (r *Response) note(kind, format string, args ...any) {
	msg := format
	if len(args) > 0 {
		msg = fmt.Sprintf(format, args...)
	}
	r.Timeline = append(r.Timeline, TimelineEntry{Time: time.Now(), Type: kind, Message: msg})
}

// Do sends req and follows redirects itself so that method rewriting, body
// replay, header scrubbing and cookie handling stay under our control.
// Exceeding MaxRedirects returns the last redirect response, not an error.
func (c *Client) Do(ctx context.Context, req *http.Request, opts Options, wrap Wrapper) (resp *Response, err error) {
	if req == nil {
		return nil, errdef.New(errdef.CodeHTTP, "request is nil")
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	body, err := drainBody(req)
	if err != nil {
		return nil, err
	}

	instrumenter := c.telemetry
	if !opts.Trace || instrumenter == nil {
		instrumenter = telemetry.Noop()
	}
	spanCtx, span := instrumenter.Start(ctx, telemetry.RequestStart{Name: opts.Name, HTTPRequest: req})

	resp = &Response{}
	defer func() {
		span.End(telemetry.RequestResult{Err: err, StatusCode: resp.StatusCode, Redirects: resp.Redirects})
	}()

	baseHeader := req.Header.Clone()
	method := req.Method
	target := req.URL
	start := time.Now()

	for {
		hop, buildErr := http.NewRequestWithContext(spanCtx, method, target.String(), bodyReader(body))
		if buildErr != nil {
			return resp, errdef.Wrap(errdef.CodeHTTP, buildErr, "build request")
		}
		hop.Header = baseHeader.Clone()
		if req.Host != "" && target == req.URL {
			hop.Host = req.Host
		}
		if opts.SendCookies && c.jar != nil {
			for _, ck := range c.jar.Cookies(target) {
				hop.AddCookie(ck)
			}
		}
		resp.note("request", "%s %s", method, target.String())
		for name, values := range hop.Header {
			for _, v := range values {
				resp.note("requestHeader", "%s: %s", name, v)
			}
		}

		hc, dialErr := c.clientFor(opts, target, wrap)
		if dialErr != nil {
			return resp, dialErr
		}
		session := newTraceSession()
		httpResp, doErr := hc.Do(session.bind(hop))
		if doErr != nil {
			resp.Phases = session.finish(doErr)
			resp.Duration = time.Since(start)
			resp.note("error", "%s", doErr.Error())
			code := errdef.CodeHTTP
			if errors.Is(ctx.Err(), context.Canceled) {
				code = errdef.CodeCanceled
			}
			return resp, errdef.Wrap(code, doErr, "perform request")
		}
		payload, readErr := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		resp.Phases = session.finish(readErr)
		if readErr != nil {
			return resp, errdef.Wrap(errdef.CodeHTTP, readErr, "read response body")
		}

		if opts.StoreCookies && c.jar != nil {
			if cookies := httpResp.Cookies(); len(cookies) > 0 {
				c.jar.SetCookies(target, cookies)
			}
		}

		resp.Status = httpResp.Status
		resp.StatusCode = httpResp.StatusCode
		resp.Proto = httpResp.Proto
		resp.Headers = httpResp.Header.Clone()
		resp.RequestHeaders = hop.Header.Clone()
		resp.Body = payload
		resp.EffectiveURL = target.String()
		resp.note("response", "%s %s", httpResp.Proto, httpResp.Status)

		if !opts.FollowRedirects || !isRedirect(httpResp.StatusCode) {
			break
		}
		loc := strings.TrimSpace(httpResp.Header.Get("Location"))
		if loc == "" {
			break
		}
		if resp.Redirects >= opts.MaxRedirects {
			resp.note("info", "stopped after %d redirects", resp.Redirects)
			break
		}
		next, parseErr := target.Parse(loc)
		if parseErr != nil {
			return resp, errdef.Wrap(errdef.CodeHTTP, parseErr, "parse redirect location %q", loc)
		}
		if next.Scheme != "http" && next.Scheme != "https" {
			resp.note("info", "not following redirect to %s", next.String())
			break
		}

		switch httpResp.StatusCode {
		case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
			if method != http.MethodGet && method != http.MethodHead {
				method = http.MethodGet
			}
			body = nil
			baseHeader.Del("Content-Type")
			baseHeader.Del("Content-Length")
		}
		if !sameHost(target, next) {
			baseHeader.Del("Authorization")
			baseHeader.Del("Cookie")
		}

		span.RecordRedirect(target.String(), next.String(), httpResp.StatusCode)
		c.log.V(1).Info("following redirect", "from", target.String(), "to", next.String(), "status", httpResp.StatusCode)
		resp.note("info", "redirecting to %s", next.String())
		resp.Redirects++
		target = next
	}

	resp.Duration = time.Since(start)
	resp.note("info", "request completed in %d ms", resp.Duration.Milliseconds())
	return resp, nil
}

// clientFor narrows client certificates to the target host before picking a
// transport, so a redirect to another host never presents the wrong cert.
func (c *Client) clientFor(opts Options, target *url.URL, wrap Wrapper) (*http.Client, error) {
	opts.ClientCerts = MatchClientCerts(opts.ClientCerts, target.Host)
	rt, err := c.dial(opts)
	if err != nil {
		return nil, err
	}
	if wrap != nil {
		rt = wrap(rt)
	}
	return &http.Client{
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

// HandshakeClient returns a client for upgrade handshakes such as websocket
// dials. It speaks HTTP/1.1 only, honours the proxy and TLS settings in opts
// and does not follow redirects.
func HandshakeClient(opts Options, target *url.URL) (*http.Client, error) {
	opts.ClientCerts = MatchClientCerts(opts.ClientCerts, target.Host)
	rt, err := http1Transport(opts)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: rt,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func sameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname())
}

func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "read request body")
	}
	return data, nil
}

func bodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return bytes.NewReader(body)
}
