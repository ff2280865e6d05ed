package oauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/httpclient"
)

type capturedRequest struct {
	URL    *url.URL
	Header http.Header
	Form   url.Values
}

type fakeEndpoint struct {
	mu        sync.Mutex
	requests  []capturedRequest
	responses []*httpclient.Response
}

func (f *fakeEndpoint) do(t *testing.T) RequestFunc {
	return func(ctx context.Context, req *http.Request, opts httpclient.Options) (*httpclient.Response, error) {
		data, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		form, err := url.ParseQuery(string(data))
		if err != nil {
			t.Fatalf("parse form: %v", err)
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		f.requests = append(f.requests, capturedRequest{URL: req.URL, Header: req.Header.Clone(), Form: form})
		if len(f.responses) == 0 {
			t.Fatalf("unexpected token request to %s", req.URL)
		}
		resp := f.responses[0]
		f.responses = f.responses[1:]
		return resp, nil
	}
}

func (f *fakeEndpoint) calls() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedRequest(nil), f.requests...)
}

func jsonResponse(status int, body string) *httpclient.Response {
	return &httpclient.Response{
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		StatusCode: status,
		Headers:    http.Header{"Content-Type": {"application/json"}},
		Body:       []byte(body),
	}
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, fake *fakeEndpoint, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e := NewEngine(nil, opts...)
	e.SetRequestFunc(fake.do(t))
	return e
}

func clientCredsConfig() collection.OAuth2Config {
	return collection.OAuth2Config{
		GrantType:      collection.GrantClientCredentials,
		AccessTokenURL: "https://auth.local/token",
		ClientID:       "my-client",
		ClientSecret:   "my-secret",
		Scope:          "read write",
	}
}

func boolPtr(v bool) *bool { return &v }

func TestTokenClientCredentialsCachesResult(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(200, `{"access_token":"tok-1","expires_in":3600}`),
	}}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()

	res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if res.AccessToken() != "tok-1" || res.Credentials.TokenType != "Bearer" {
		t.Fatalf("unexpected credentials %+v", res.Credentials)
	}
	if res.FromCache {
		t.Fatalf("first lookup should not come from cache")
	}
	if len(res.DebugInfo.Exchanges) != 1 || res.DebugInfo.Exchanges[0].RequestID == "" {
		t.Fatalf("expected one recorded exchange, got %+v", res.DebugInfo)
	}

	calls := fake.calls()
	form := calls[0].Form
	if form.Get("grant_type") != "client_credentials" || form.Get("client_id") != "my-client" {
		t.Fatalf("unexpected form %v", form)
	}
	if form.Get("client_secret") != "my-secret" || form.Get("scope") != "read write" {
		t.Fatalf("expected secret and scope in body, got %v", form)
	}
	if ct := calls[0].Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if accept := calls[0].Header.Get("Accept"); accept != "application/json" {
		t.Fatalf("unexpected accept %q", accept)
	}

	again, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("second token: %v", err)
	}
	if !again.FromCache || again.AccessToken() != "tok-1" {
		t.Fatalf("expected cached token, got %+v", again)
	}
	if n := len(fake.calls()); n != 1 {
		t.Fatalf("expected a single token request, got %d", n)
	}
}

func TestTokenBasicHeaderPlacement(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(200, `{"access_token":"tok"}`),
	}}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()
	cfg.CredentialsPlacement = collection.CredentialsInBasicHeader

	if _, err := e.Token(context.Background(), "col", cfg, httpclient.Options{}); err != nil {
		t.Fatalf("token: %v", err)
	}
	call := fake.calls()[0]
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("my-client:my-secret"))
	if got := call.Header.Get("Authorization"); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if call.Form.Has("client_secret") {
		t.Fatalf("secret must not be in body with basic placement")
	}
	if call.Form.Get("client_id") != "my-client" {
		t.Fatalf("client_id should still be sent in body")
	}
}

func TestTokenRefreshesExpiredCredentials(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(200, `{"access_token":"fresh","expires_in":60}`),
	}}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()
	cfg.AutoRefreshToken = true
	cfg.RefreshTokenURL = "https://auth.local/refresh"
	cfg.AdditionalParameters.Refresh = []collection.AdditionalParam{
		{Name: "audience", Value: "api", Enabled: true, SendIn: collection.SendInBody},
	}

	key := KeyFor("col", cfg)
	stale := Credentials{AccessToken: "old", RefreshToken: "r-1", ExpiresIn: 60, CreatedAt: testNow.Add(-2 * time.Minute)}
	if err := e.store.Put(context.Background(), key, stale); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if res.AccessToken() != "fresh" {
		t.Fatalf("expected refreshed token, got %q", res.AccessToken())
	}
	if res.Credentials.RefreshToken != "r-1" {
		t.Fatalf("refresh token should carry over, got %q", res.Credentials.RefreshToken)
	}

	call := fake.calls()[0]
	if call.URL.String() != "https://auth.local/refresh" {
		t.Fatalf("expected refresh url, got %s", call.URL)
	}
	if call.Form.Get("grant_type") != "refresh_token" || call.Form.Get("refresh_token") != "r-1" {
		t.Fatalf("unexpected refresh form %v", call.Form)
	}
	if call.Form.Get("audience") != "api" {
		t.Fatalf("expected refresh body param, got %v", call.Form)
	}
	if call.Header.Get("Authorization") != "" {
		t.Fatalf("refresh must not send a basic header")
	}

	stored, ok, _ := e.store.Get(context.Background(), key)
	if !ok || stored.AccessToken != "fresh" || !stored.CreatedAt.Equal(testNow) {
		t.Fatalf("expected refreshed entry to replace the old one, got %+v", stored)
	}
}

func TestTokenRefreshFailureFallsBackToFetch(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(400, `{"error":"invalid_grant"}`),
		jsonResponse(200, `{"access_token":"new"}`),
	}}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()
	cfg.AutoRefreshToken = true

	key := KeyFor("col", cfg)
	stale := Credentials{AccessToken: "old", RefreshToken: "r-1", ExpiresIn: 1, CreatedAt: testNow.Add(-time.Hour)}
	_ = e.store.Put(context.Background(), key, stale)

	res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if res.AccessToken() != "new" {
		t.Fatalf("expected fetched token, got %q", res.AccessToken())
	}
	calls := fake.calls()
	if len(calls) != 2 {
		t.Fatalf("expected refresh then fetch, got %d calls", len(calls))
	}
	if calls[0].Form.Get("grant_type") != "refresh_token" || calls[1].Form.Get("grant_type") != "client_credentials" {
		t.Fatalf("unexpected call order: %v then %v", calls[0].Form, calls[1].Form)
	}
	if len(res.DebugInfo.Exchanges) != 2 || res.DebugInfo.Exchanges[0].Error == "" {
		t.Fatalf("expected both exchanges in debug info, got %+v", res.DebugInfo.Exchanges)
	}
}

func TestTokenRefreshFailureWithoutAutoFetchReturnsStale(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(401, `{"error":"invalid_grant"}`),
	}}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()
	cfg.AutoRefreshToken = true
	cfg.AutoFetchToken = boolPtr(false)

	key := KeyFor("col", cfg)
	_ = e.store.Put(context.Background(), key, Credentials{AccessToken: "old", RefreshToken: "r", ExpiresIn: 1, CreatedAt: testNow.Add(-time.Hour)})

	res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if res.AccessToken() != "old" {
		t.Fatalf("expected stale token, got %q", res.AccessToken())
	}
	if _, ok, _ := e.store.Get(context.Background(), key); ok {
		t.Fatalf("failed refresh should clear the entry")
	}
}

func TestTokenWithoutAutoFetch(t *testing.T) {
	fake := &fakeEndpoint{}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()
	cfg.AutoFetchToken = boolPtr(false)

	res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if res.Credentials != nil {
		t.Fatalf("expected no credentials, got %+v", res.Credentials)
	}

	key := KeyFor("col", cfg)
	_ = e.store.Put(context.Background(), key, Credentials{AccessToken: "expired", ExpiresIn: 10, CreatedAt: testNow.Add(-time.Hour)})
	res, err = e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if res.AccessToken() != "expired" {
		t.Fatalf("expected expired token to be returned as is, got %q", res.AccessToken())
	}
	if len(fake.calls()) != 0 {
		t.Fatalf("no token requests expected")
	}
}

func TestTokenAdditionalParamsRouting(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(200, `{"access_token":"tok"}`),
	}}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()
	cfg.AdditionalParameters.Token = []collection.AdditionalParam{
		{Name: "X-Tenant", Value: "acme", Enabled: true, SendIn: collection.SendInHeaders},
		{Name: "resource", Value: "api://x", Enabled: true, SendIn: collection.SendInQuery},
		{Name: "audience", Value: "", Enabled: true, SendIn: collection.SendInBody},
		{Name: "skipped", Value: "no", Enabled: false, SendIn: collection.SendInBody},
		{Name: "", Value: "nameless", Enabled: true, SendIn: collection.SendInBody},
	}

	if _, err := e.Token(context.Background(), "col", cfg, httpclient.Options{}); err != nil {
		t.Fatalf("token: %v", err)
	}
	call := fake.calls()[0]
	if call.Header.Get("X-Tenant") != "acme" {
		t.Fatalf("expected header param, got %v", call.Header)
	}
	if call.URL.Query().Get("resource") != "api://x" {
		t.Fatalf("expected query param, got %s", call.URL)
	}
	if !call.Form.Has("audience") || call.Form.Get("audience") != "" {
		t.Fatalf("expected empty body param, got %v", call.Form)
	}
	if call.Form.Has("skipped") || strings.Contains(call.Form.Encode(), "nameless") {
		t.Fatalf("disabled or unnamed params leaked: %v", call.Form)
	}
}

func TestTokenEndpointErrorIsOAuthError(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(400, `{"error":"invalid_client","error_description":"bad secret"}`),
	}}
	e := newTestEngine(t, fake)

	_, err := e.Token(context.Background(), "col", clientCredsConfig(), httpclient.Options{})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errdef.Is(err, errdef.CodeOAuth) || !strings.Contains(err.Error(), "bad secret") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestTokenValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  collection.OAuth2Config
		want string
	}{
		{name: "client credentials without secret", cfg: collection.OAuth2Config{GrantType: collection.GrantClientCredentials, AccessTokenURL: "https://a/t", ClientID: "c"}, want: "clientSecret"},
		{name: "password without token url", cfg: collection.OAuth2Config{GrantType: collection.GrantPassword, ClientID: "c"}, want: "accessTokenUrl"},
		{name: "auth code without callback", cfg: collection.OAuth2Config{GrantType: collection.GrantAuthorizationCode, AuthorizationURL: "https://a/auth", AccessTokenURL: "https://a/t", ClientID: "c"}, want: "callbackUrl"},
		{name: "implicit without auth url", cfg: collection.OAuth2Config{GrantType: collection.GrantImplicit, CallbackURL: "http://127.0.0.1/cb", ClientID: "c"}, want: "authorizationUrl"},
		{name: "unknown grant", cfg: collection.OAuth2Config{GrantType: "device"}, want: "unsupported"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			e := newTestEngine(t, &fakeEndpoint{})
			_, err := e.Token(context.Background(), "col", tc.cfg, httpclient.Options{})
			if err == nil || errdef.CodeOf(err) != errdef.CodeAuth {
				t.Fatalf("expected auth error, got %v", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in %v", tc.want, err)
			}
		})
	}
}

type fakeAuthorizer struct {
	t        *testing.T
	link     *url.URL
	respond  func(link *url.URL) url.Values
	implicit bool
}

func (f *fakeAuthorizer) Authorize(ctx context.Context, req AuthorizationRequest) (Callback, error) {
	raw, err := req.BuildURL("http://127.0.0.1:9999/cb")
	if err != nil {
		return Callback{}, err
	}
	u, err := url.Parse(raw)
	if err != nil {
		f.t.Fatalf("parse auth url: %v", err)
	}
	f.link = u
	f.implicit = req.Implicit
	return Callback{RedirectURI: "http://127.0.0.1:9999/cb", Params: f.respond(u)}, nil
}

func TestAuthorizationCodeWithPKCE(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(200, `{"access_token":"code-token","refresh_token":"r"}`),
	}}
	authz := &fakeAuthorizer{t: t, respond: func(link *url.URL) url.Values {
		return url.Values{"code": {"abc"}, "state": {link.Query().Get("state")}}
	}}
	e := newTestEngine(t, fake, WithAuthorizer(authz))

	cfg := collection.OAuth2Config{
		GrantType:        collection.GrantAuthorizationCode,
		AuthorizationURL: "https://auth.local/authorize",
		AccessTokenURL:   "https://auth.local/token",
		CallbackURL:      "http://127.0.0.1:9999/cb",
		ClientID:         "web",
		Scope:            "openid profile",
		PKCE:             true,
		AdditionalParameters: collection.AdditionalParams{Authorization: []collection.AdditionalParam{
			{Name: "prompt", Value: "consent", Enabled: true, SendIn: collection.SendInQuery},
		}},
	}

	res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if res.AccessToken() != "code-token" {
		t.Fatalf("unexpected token %q", res.AccessToken())
	}

	q := authz.link.Query()
	if q.Get("response_type") != "code" || q.Get("client_id") != "web" {
		t.Fatalf("unexpected authorization query %v", q)
	}
	if q.Get("code_challenge_method") != "S256" || q.Get("code_challenge") == "" {
		t.Fatalf("expected pkce challenge, got %v", q)
	}
	if q.Get("scope") != "openid profile" || q.Get("prompt") != "consent" {
		t.Fatalf("expected scope and extra params, got %v", q)
	}

	form := fake.calls()[0].Form
	if form.Get("grant_type") != "authorization_code" || form.Get("code") != "abc" {
		t.Fatalf("unexpected token form %v", form)
	}
	if form.Get("redirect_uri") != "http://127.0.0.1:9999/cb" {
		t.Fatalf("unexpected redirect_uri %q", form.Get("redirect_uri"))
	}
	if len(form.Get("code_verifier")) < 43 {
		t.Fatalf("expected code_verifier, got %q", form.Get("code_verifier"))
	}
	if form.Has("scope") {
		t.Fatalf("authorization code exchange does not send scope")
	}
}

func TestAuthorizationCodeStateMismatch(t *testing.T) {
	authz := &fakeAuthorizer{t: t, respond: func(*url.URL) url.Values {
		return url.Values{"code": {"abc"}, "state": {"forged"}}
	}}
	e := newTestEngine(t, &fakeEndpoint{}, WithAuthorizer(authz))
	cfg := collection.OAuth2Config{
		GrantType:        collection.GrantAuthorizationCode,
		AuthorizationURL: "https://auth.local/authorize",
		AccessTokenURL:   "https://auth.local/token",
		CallbackURL:      "http://127.0.0.1:9999/cb",
		ClientID:         "web",
		State:            "expected",
	}
	_, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err == nil || !strings.Contains(err.Error(), "state mismatch") {
		t.Fatalf("expected state mismatch, got %v", err)
	}
}

func TestImplicitGrantReadsFragment(t *testing.T) {
	authz := &fakeAuthorizer{t: t, respond: func(link *url.URL) url.Values {
		return url.Values{
			"access_token": {"imp-token"},
			"expires_in":   {"120"},
			"state":        {link.Query().Get("state")},
		}
	}}
	e := newTestEngine(t, &fakeEndpoint{}, WithAuthorizer(authz))
	cfg := collection.OAuth2Config{
		GrantType:        collection.GrantImplicit,
		AuthorizationURL: "https://auth.local/authorize",
		CallbackURL:      "http://127.0.0.1:9999/cb",
		ClientID:         "spa",
		AutoRefreshToken: true,
	}

	res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if !authz.implicit {
		t.Fatalf("authorizer should be told the grant is implicit")
	}
	if q := authz.link.Query(); q.Get("response_type") != "token" || q.Get("redirect_uri") != "http://127.0.0.1:9999/cb" {
		t.Fatalf("unexpected implicit query %v", q)
	}
	if res.AccessToken() != "imp-token" || res.Credentials.TokenType != "Bearer" || res.Credentials.ExpiresIn != 120 {
		t.Fatalf("unexpected credentials %+v", res.Credentials)
	}
	if res.Key.URL != "https://auth.local/authorize" {
		t.Fatalf("implicit tokens are keyed by the authorization url, got %q", res.Key.URL)
	}
}

func TestClearAndVariables(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(200, `{"access_token":"tok","refresh_token":"r","expires_in":30}`),
	}}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()
	cfg.CredentialsID = "svc"

	res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("token: %v", err)
	}

	vars, err := e.Variables(context.Background(), "col")
	if err != nil {
		t.Fatalf("variables: %v", err)
	}
	if vars["$oauth2.svc.access_token"] != "tok" || vars["$oauth2.svc.refresh_token"] != "r" || vars["$oauth2.svc.expires_in"] != "30" {
		t.Fatalf("unexpected variables %v", vars)
	}
	if other, _ := e.Variables(context.Background(), "other"); len(other) != 0 {
		t.Fatalf("variables must be scoped per collection, got %v", other)
	}

	if err := e.Clear(context.Background(), res.Key); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := e.Clear(context.Background(), res.Key); err != nil {
		t.Fatalf("second clear: %v", err)
	}
	if vars, _ := e.Variables(context.Background(), "col"); len(vars) != 0 {
		t.Fatalf("expected cleared store, got %v", vars)
	}
}

func TestConcurrentLookupsShareOneFetch(t *testing.T) {
	var count int32
	release := make(chan struct{})
	e := NewEngine(nil, WithClock(func() time.Time { return testNow }))
	e.SetRequestFunc(func(ctx context.Context, req *http.Request, opts httpclient.Options) (*httpclient.Response, error) {
		atomic.AddInt32(&count, 1)
		<-release
		return jsonResponse(200, `{"access_token":"shared"}`), nil
	})

	cfg := clientCredsConfig()
	var wg sync.WaitGroup
	tokens := make([]string, 5)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := e.Token(context.Background(), "col", cfg, httpclient.Options{})
			if err != nil {
				t.Errorf("token: %v", err)
				return
			}
			tokens[i] = res.AccessToken()
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&count); n != 1 {
		t.Fatalf("expected one token request, got %d", n)
	}
	for i, tok := range tokens {
		if tok != "shared" {
			t.Fatalf("caller %d got %q", i, tok)
		}
	}
}

func TestRefreshWithoutCachedToken(t *testing.T) {
	e := newTestEngine(t, &fakeEndpoint{})
	_, err := e.Refresh(context.Background(), "col", clientCredsConfig(), httpclient.Options{})
	if err == nil || errdef.CodeOf(err) != errdef.CodeOAuth {
		t.Fatalf("expected oauth error, got %v", err)
	}
}

func TestFetchIgnoresCache(t *testing.T) {
	fake := &fakeEndpoint{responses: []*httpclient.Response{
		jsonResponse(200, `{"access_token":"second"}`),
	}}
	e := newTestEngine(t, fake)
	cfg := clientCredsConfig()
	_ = e.store.Put(context.Background(), KeyFor("col", cfg), Credentials{AccessToken: "first"})

	res, err := e.Fetch(context.Background(), "col", cfg, httpclient.Options{})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if res.AccessToken() != "second" {
		t.Fatalf("expected a new token, got %q", res.AccessToken())
	}
}

func TestClearCollection(t *testing.T) {
	e := newTestEngine(t, &fakeEndpoint{})
	ctx := context.Background()
	for _, k := range []CacheKey{
		{CollectionUID: "col", URL: "https://a/token", CredentialsID: "one"},
		{CollectionUID: "col", URL: "https://b/token", CredentialsID: "two"},
		{CollectionUID: "other", URL: "https://a/token", CredentialsID: "one"},
	} {
		if err := e.store.Put(ctx, k, Credentials{AccessToken: "t", CreatedAt: testNow}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}

	n, err := e.ClearCollection(ctx, "col")
	if err != nil || n != 2 {
		t.Fatalf("expected two cleared, got %d %v", n, err)
	}
	if left, _ := e.Entries(ctx, "col"); len(left) != 0 {
		t.Fatalf("expected no entries left, got %v", left)
	}
	if kept, _ := e.Entries(ctx, "other"); len(kept) != 1 {
		t.Fatalf("other collections must be untouched, got %v", kept)
	}
}
