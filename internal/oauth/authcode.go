package oauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

const (
	defaultCallbackPath = "/oauth/callback"
	stateBytes          = 24
)

var launchBrowser = openBrowser

// AuthorizationRequest describes one interactive authorization. BuildURL
// receives the redirect URI actually being listened on.
type AuthorizationRequest struct {
	CallbackURL string
	Header      http.Header
	Implicit    bool
	BuildURL    func(redirectURI string) (string, error)
}

// Callback carries the parameters the provider redirected back with. For
// implicit grants they come from the URL fragment.
type Callback struct {
	RedirectURI string
	Params      url.Values
}

type Authorizer interface {
	Authorize(ctx context.Context, req AuthorizationRequest) (Callback, error)
}

// LoopbackAuthorizer opens the system browser and captures the redirect on a
// local listener. Only loopback http callback URLs can be served.
type LoopbackAuthorizer struct {
	Open func(link string) error
	Out  io.Writer
}

func (a *LoopbackAuthorizer) Authorize(ctx context.Context, req AuthorizationRequest) (Callback, error) {
	redirect, ln, err := prepareRedirect(req.CallbackURL)
	if err != nil {
		return Callback{}, err
	}
	defer func() {
		_ = ln.Close()
	}()

	srv := newCallbackServer(redirect, req.Implicit)
	srv.serve(ln)
	defer srv.shutdown(context.Background())

	link, err := req.BuildURL(redirect.String())
	if err != nil {
		return Callback{}, err
	}

	open := a.Open
	if open == nil {
		open = launchBrowser
	}
	if err := open(link); err != nil {
		out := a.Out
		if out == nil {
			out = os.Stderr
		}
		fmt.Fprintf(out, "Open this URL to complete OAuth: %s\n", link)
	}

	params, err := srv.wait(ctx)
	if err != nil {
		return Callback{}, err
	}
	return Callback{RedirectURI: redirect.String(), Params: params}, nil
}

func authCodeURL(cfg collection.OAuth2Config, redirectURI, state, verifier string) string {
	oc := oauth2.Config{
		ClientID:    cfg.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: strings.TrimSpace(cfg.AuthorizationURL)},
		RedirectURL: redirectURI,
	}
	if scope := strings.TrimSpace(cfg.Scope); scope != "" {
		oc.Scopes = []string{scope}
	}
	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.S256ChallengeOption(verifier))
	}
	for _, p := range enabledParams(cfg.AdditionalParameters.Authorization) {
		if p.SendIn == collection.SendInQuery {
			opts = append(opts, oauth2.SetAuthURLParam(p.Name, p.Value))
		}
	}
	return oc.AuthCodeURL(state, opts...)
}

func implicitURL(cfg collection.OAuth2Config, redirectURI, state string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.AuthorizationURL))
	if err != nil {
		return "", errdef.Wrap(errdef.CodeOAuth, err, "parse authorization url")
	}
	q := u.Query()
	q.Set("response_type", "token")
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", redirectURI)
	if scope := strings.TrimSpace(cfg.Scope); scope != "" {
		q.Set("scope", scope)
	}
	if state != "" {
		q.Set("state", state)
	}
	for _, p := range enabledParams(cfg.AdditionalParameters.Authorization) {
		if p.SendIn == collection.SendInQuery {
			q.Set(p.Name, p.Value)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func newVerifier() string {
	return oauth2.GenerateVerifier()
}

func pickState(raw string) (string, error) {
	if s := strings.TrimSpace(raw); s != "" {
		return s, nil
	}
	return randString(stateBytes)
}

func prepareRedirect(raw string) (*url.URL, net.Listener, error) {
	var (
		host  = "127.0.0.1"
		path  = defaultCallbackPath
		query string
	)

	raw = strings.TrimSpace(raw)
	if raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, nil, errdef.Wrap(errdef.CodeOAuth, err, "parse callback url")
		}
		if u.Scheme != "" && u.Scheme != "http" {
			return nil, nil, errdef.New(errdef.CodeOAuth, "callback url must use http to be captured locally")
		}
		if u.Path != "" {
			path = u.Path
		}
		if u.Host != "" {
			host = u.Host
		}
		query = u.RawQuery
	}

	h, p := splitHostPort(host)
	if h == "" {
		h = "127.0.0.1"
	}
	if !isLoopback(h) {
		return nil, nil, errdef.New(errdef.CodeOAuth, "callback url host must be loopback")
	}
	if p == "" {
		p = "0"
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(h, p))
	if err != nil {
		return nil, nil, errdef.Wrap(errdef.CodeOAuth, err, "listen for oauth redirect")
	}

	addr := ln.Addr().(*net.TCPAddr)
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := &url.URL{
		Scheme:   "http",
		Host:     net.JoinHostPort(h, strconv.Itoa(addr.Port)),
		Path:     path,
		RawQuery: query,
	}
	return u, ln, nil
}

func splitHostPort(input string) (string, string) {
	if input == "" {
		return "", ""
	}
	if strings.Contains(input, ":") {
		host, port, err := net.SplitHostPort(input)
		if err == nil {
			return host, port
		}
	}
	return input, ""
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// fragmentRelay turns the fragment into a query string so the server sees it.
const fragmentRelay = `<html><body><script>
var h = window.location.hash.substring(1);
window.location.replace(window.location.pathname + "?" + (h || "error=missing_fragment"));
</script><p>Completing sign in...</p></body></html>`

type callbackServer struct {
	path     string
	implicit bool
	paramsCh chan url.Values
	errCh    chan error
	srv      *http.Server
	once     sync.Once
}

func newCallbackServer(redirect *url.URL, implicit bool) *callbackServer {
	path := redirect.Path
	if path == "" {
		path = defaultCallbackPath
	}
	return &callbackServer{
		path:     path,
		implicit: implicit,
		paramsCh: make(chan url.Values, 1),
		errCh:    make(chan error, 1),
	}
}

func (s *callbackServer) serve(ln net.Listener) {
	handler := http.NewServeMux()
	handler.HandleFunc("/", s.handle)

	s.srv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
}

func (s *callbackServer) shutdown(ctx context.Context) {
	s.once.Do(func() {
		if s.srv != nil {
			_ = s.srv.Shutdown(ctx)
		}
	})
}

func (s *callbackServer) wait(ctx context.Context) (url.Values, error) {
	defer s.shutdown(context.Background())
	select {
	case params := <-s.paramsCh:
		return params, nil
	case err := <-s.errCh:
		return nil, errdef.Wrap(errdef.CodeOAuth, err, "oauth callback server")
	case <-ctx.Done():
		return nil, errdef.Wrap(errdef.CodeCanceled, ctx.Err(), "waiting for oauth authorization")
	}
}

func (s *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != s.path {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	if s.implicit && r.URL.RawQuery == "" {
		_, _ = w.Write([]byte(fragmentRelay))
		return
	}

	select {
	case s.paramsCh <- r.URL.Query():
	default:
	}
	_, _ = w.Write([]byte("<html><body><p>Authentication complete. You can close this window.</p></body></html>"))
	go s.shutdown(context.Background())
}

func openBrowser(link string) error {
	cmd := browserCommand(link)
	if cmd == nil {
		return errdef.New(errdef.CodeOAuth, "unsupported platform for browser launch")
	}
	return cmd.Start()
}

func browserCommand(link string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", link)
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", link)
	default:
		return exec.Command("xdg-open", link)
	}
}

func randString(size int) (string, error) {
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", errdef.Wrap(errdef.CodeOAuth, err, "generate random string")
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
