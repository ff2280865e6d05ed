package httpclient

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/http2"

	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

// transportFor returns a cached transport for the proxy and TLS shape of
// opts. ClientCerts must already be narrowed to the request host.
func (c *Client) transportFor(opts Options) (http.RoundTripper, error) {
	key := transportKey(opts)
	if rt, ok := c.transports.Get(key); ok {
		return rt, nil
	}
	rt, err := buildTransport(opts)
	if err != nil {
		return nil, err
	}
	c.transports.Add(key, rt)
	return rt, nil
}

func transportKey(opts Options) string {
	var b strings.Builder
	fmt.Fprintf(&b, "insecure=%t;ca=%s;keep=%t;", opts.InsecureSkipVerify, opts.CACertFile, opts.KeepDefaultCAs)
	fmt.Fprintf(&b, "proxy=%s;%s://%s:%d;bypass=%s;", opts.ProxyMode, opts.Proxy.Protocol, opts.Proxy.Hostname, opts.Proxy.Port, opts.Proxy.BypassProxy)
	if opts.Proxy.Auth.Enabled {
		fmt.Fprintf(&b, "user=%s;pass=%s;", opts.Proxy.Auth.Username, opts.Proxy.Auth.Password)
	}
	for _, cert := range opts.ClientCerts {
		fmt.Fprintf(&b, "cert=%s|%s|%s|%s;", cert.Type, cert.CertFilePath, cert.KeyFilePath, cert.PFXFilePath)
	}
	fmt.Fprintf(&b, "base=%s", opts.BaseDir)
	return b.String()
}

func buildTransport(opts Options) (*http.Transport, error) {
	transport, err := http1Transport(opts)
	if err != nil {
		return nil, err
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, errdef.Wrap(errdef.CodeHTTP, err, "enable http2")
	}
	return transport, nil
}

func http1Transport(opts Options) (*http.Transport, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	proxy, err := proxyFunc(opts)
	if err != nil {
		return nil, err
	}
	transport.Proxy = proxy

	tlsCfg, err := buildTLS(opts)
	if err != nil {
		return nil, err
	}
	transport.TLSClientConfig = tlsCfg
	return transport, nil
}

// proxyFunc maps the resolved proxy mode onto a transport proxy. Explicit
// proxies honour the bypass list, which uses NO_PROXY syntax.
func proxyFunc(opts Options) (func(*http.Request) (*url.URL, error), error) {
	switch opts.ProxyMode {
	case config.ProxySystem:
		fn := httpproxy.FromEnvironment().ProxyFunc()
		return func(req *http.Request) (*url.URL, error) { return fn(req.URL) }, nil
	case config.ProxyOn:
		proxyURL, err := ProxyURL(opts.Proxy)
		if err != nil {
			return nil, err
		}
		if proxyURL == nil {
			return nil, nil
		}
		fn := (&httpproxy.Config{
			HTTPProxy:  proxyURL.String(),
			HTTPSProxy: proxyURL.String(),
			NoProxy:    opts.Proxy.BypassProxy,
		}).ProxyFunc()
		return func(req *http.Request) (*url.URL, error) { return fn(req.URL) }, nil
	default:
		return nil, nil
	}
}

// ProxyURL renders a proxy spec, or nil when no host is configured.
func ProxyURL(spec config.ProxySpec) (*url.URL, error) {
	if spec.Empty() {
		return nil, nil
	}
	scheme := strings.ToLower(strings.TrimSpace(spec.Protocol))
	if scheme == "" {
		scheme = "http"
	}
	switch scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, errdef.New(errdef.CodeConfig, "unsupported proxy protocol %q", spec.Protocol)
	}
	host := strings.TrimSpace(spec.Hostname)
	if spec.Port > 0 {
		host = net.JoinHostPort(host, strconv.Itoa(spec.Port))
	}
	u := &url.URL{Scheme: scheme, Host: host}
	if spec.Auth.Enabled {
		u.User = url.UserPassword(spec.Auth.Username, spec.Auth.Password)
	}
	return u, nil
}
