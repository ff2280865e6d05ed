package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/httpclient"
)

// RequestFunc sends one token endpoint request.
type RequestFunc func(ctx context.Context, req *http.Request, opts httpclient.Options) (*httpclient.Response, error)

// Result is the outcome of a token lookup. Credentials is nil when no token
// is available and fetching is disabled.
type Result struct {
	Key         CacheKey
	Credentials *Credentials
	FromCache   bool
	DebugInfo   DebugInfo
}

// AccessToken returns the token or "" when there is none.
func (r Result) AccessToken() string {
	if r.Credentials == nil {
		return ""
	}
	return r.Credentials.AccessToken
}

// Engine obtains, caches and refreshes OAuth2 tokens. Lookups for the same
// cache key are serialized so a refresh can never overwrite a fresher token.
type Engine struct {
	client     *httpclient.Client
	store      Store
	authorizer Authorizer
	log        logr.Logger
	now        func() time.Time

	mu       sync.Mutex
	inflight map[CacheKey]*call
	do       RequestFunc
}

type call struct {
	done   chan struct{}
	result Result
	err    error
}

type Option func(*Engine)

func WithStore(s Store) Option {
	return func(e *Engine) {
		if s != nil {
			e.store = s
		}
	}
}

func WithAuthorizer(a Authorizer) Option {
	return func(e *Engine) {
		if a != nil {
			e.authorizer = a
		}
	}
}

func WithLogger(l logr.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func NewEngine(client *httpclient.Client, opts ...Option) *Engine {
	if client == nil {
		client = httpclient.NewClient(nil)
	}
	e := &Engine{
		client:     client,
		store:      NewMemoryStore(),
		authorizer: &LoopbackAuthorizer{},
		log:        logr.Discard(),
		now:        time.Now,
		inflight:   make(map[CacheKey]*call),
	}
	e.do = e.defaultDo
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) defaultDo(ctx context.Context, req *http.Request, opts httpclient.Options) (*httpclient.Response, error) {
	return e.client.Do(ctx, req, opts, nil)
}

// SetRequestFunc swaps the token endpoint transport. nil restores the client.
func (e *Engine) SetRequestFunc(fn RequestFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if fn == nil {
		e.do = e.defaultDo
		return
	}
	e.do = fn
}

func (e *Engine) requestFunc() RequestFunc {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.do
}

// KeyFor builds the cache key a config is stored under.
func KeyFor(collectionUID string, cfg collection.OAuth2Config) CacheKey {
	return CacheKey{
		CollectionUID: collectionUID,
		URL:           cfg.TokenEndpoint(),
		CredentialsID: cfg.CredentialsKey(),
	}
}

// Token returns cached credentials when valid and otherwise applies the
// refresh and auto-fetch policy of cfg.
func (e *Engine) Token(ctx context.Context, collectionUID string, cfg collection.OAuth2Config, opts httpclient.Options) (Result, error) {
	key := KeyFor(collectionUID, cfg)
	return e.single(ctx, key, func() (Result, error) {
		return e.resolve(ctx, key, cfg, opts)
	})
}

// Fetch runs the grant flow regardless of what is cached.
func (e *Engine) Fetch(ctx context.Context, collectionUID string, cfg collection.OAuth2Config, opts httpclient.Options) (Result, error) {
	key := KeyFor(collectionUID, cfg)
	return e.single(ctx, key, func() (Result, error) {
		g, err := grantFor(cfg)
		if err != nil {
			return Result{Key: key}, err
		}
		return e.fetch(ctx, key, g, opts)
	})
}

// Refresh exchanges the cached refresh token. It fails when none is cached.
func (e *Engine) Refresh(ctx context.Context, collectionUID string, cfg collection.OAuth2Config, opts httpclient.Options) (Result, error) {
	key := KeyFor(collectionUID, cfg)
	return e.single(ctx, key, func() (Result, error) {
		stored, ok, err := e.store.Get(ctx, key)
		if err != nil {
			return Result{Key: key}, err
		}
		if !ok || stored.RefreshToken == "" {
			_ = e.store.Delete(ctx, key)
			return Result{Key: key}, errdef.New(errdef.CodeOAuth, "no refresh token cached")
		}
		return e.refresh(ctx, key, cfg, stored, opts)
	})
}

// Clear removes exactly the matching entry. Clearing a missing entry is fine.
func (e *Engine) Clear(ctx context.Context, key CacheKey) error {
	return e.store.Delete(ctx, key)
}

// Entries lists the stored credentials of a collection.
func (e *Engine) Entries(ctx context.Context, collectionUID string) ([]Entry, error) {
	return e.store.List(ctx, collectionUID)
}

// ClearCollection removes every stored credential of a collection and
// reports how many were dropped.
func (e *Engine) ClearCollection(ctx context.Context, collectionUID string) (int, error) {
	entries, err := e.store.List(ctx, collectionUID)
	if err != nil {
		return 0, err
	}
	for i, entry := range entries {
		if err := e.store.Delete(ctx, entry.Key); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

// Variables exposes a collection's credentials as $oauth2.<credentialsId>.<field>.
func (e *Engine) Variables(ctx context.Context, collectionUID string) (map[string]string, error) {
	entries, err := e.store.List(ctx, collectionUID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, entry := range entries {
		prefix := "$oauth2." + entry.Key.CredentialsID + "."
		for k, v := range entry.Credentials.Fields() {
			out[prefix+k] = v
		}
	}
	return out, nil
}

// single lets one goroutine work a key at a time. Waiters receive the
// leader's result instead of hitting the provider again.
func (e *Engine) single(ctx context.Context, key CacheKey, fn func() (Result, error)) (Result, error) {
	e.mu.Lock()
	if c, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		select {
		case <-ctx.Done():
			return Result{Key: key}, errdef.Wrap(errdef.CodeCanceled, ctx.Err(), "waiting for oauth2 token")
		case <-c.done:
			return c.result, c.err
		}
	}
	c := &call{done: make(chan struct{})}
	e.inflight[key] = c
	e.mu.Unlock()

	c.result, c.err = fn()
	close(c.done)

	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
	return c.result, c.err
}

func (e *Engine) resolve(ctx context.Context, key CacheKey, cfg collection.OAuth2Config, opts httpclient.Options) (Result, error) {
	g, err := grantFor(cfg)
	if err != nil {
		return Result{Key: key}, err
	}

	stored, ok, err := e.store.Get(ctx, key)
	if err != nil {
		e.log.Error(err, "reading cached oauth2 credentials", "url", key.URL, "credentialsId", key.CredentialsID)
		ok = false
	}
	if !ok {
		if !cfg.ShouldAutoFetch() {
			return Result{Key: key}, nil
		}
		return e.fetch(ctx, key, g, opts)
	}

	if !stored.Expired(e.now()) {
		return Result{Key: key, Credentials: &stored, FromCache: true}, nil
	}

	var debug DebugInfo
	if cfg.AutoRefreshToken && stored.RefreshToken != "" && g.refreshable() {
		res, err := e.refresh(ctx, key, cfg, stored, opts)
		if err == nil {
			return res, nil
		}
		debug = res.DebugInfo
		e.log.V(1).Info("oauth2 refresh failed", "url", key.URL, "error", err.Error())
		_ = e.store.Delete(ctx, key)
		if !cfg.ShouldAutoFetch() {
			return Result{Key: key, Credentials: &stored, FromCache: true, DebugInfo: debug}, nil
		}
	} else if !cfg.ShouldAutoFetch() {
		return Result{Key: key, Credentials: &stored, FromCache: true}, nil
	}

	_ = e.store.Delete(ctx, key)
	res, err := e.fetch(ctx, key, g, opts)
	res.DebugInfo.Exchanges = append(debug.Exchanges, res.DebugInfo.Exchanges...)
	return res, err
}

func (e *Engine) fetch(ctx context.Context, key CacheKey, g grant, opts httpclient.Options) (Result, error) {
	creds, debug, err := g.obtain(ctx, e, opts)
	res := Result{Key: key, DebugInfo: debug}
	if err != nil {
		return res, err
	}
	if err := e.persist(ctx, key, &creds); err != nil {
		return res, err
	}
	res.Credentials = &creds
	return res, nil
}

func (e *Engine) persist(ctx context.Context, key CacheKey, creds *Credentials) error {
	if creds.AccessToken == "" {
		return nil
	}
	creds.CreatedAt = e.now()
	return e.store.Put(ctx, key, *creds)
}

// refresh posts to the refresh URL, falling back to the token URL. The new
// entry replaces the old one under the same key.
func (e *Engine) refresh(ctx context.Context, key CacheKey, cfg collection.OAuth2Config, stored Credentials, opts httpclient.Options) (Result, error) {
	endpoint := strings.TrimSpace(cfg.RefreshTokenURL)
	if endpoint == "" {
		endpoint = strings.TrimSpace(cfg.AccessTokenURL)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", cfg.ClientID)
	form.Set("refresh_token", stored.RefreshToken)
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}

	creds, ex, err := e.postForm(ctx, tokenRequest{
		endpoint: endpoint,
		form:     form,
		params:   cfg.AdditionalParameters.Refresh,
	}, opts)
	res := Result{Key: key, DebugInfo: DebugInfo{Exchanges: []Exchange{ex}}}
	if err != nil {
		return res, err
	}
	if creds.RefreshToken == "" {
		creds.RefreshToken = stored.RefreshToken
	}
	if err := e.persist(ctx, key, &creds); err != nil {
		return res, err
	}
	res.Credentials = &creds
	return res, nil
}
