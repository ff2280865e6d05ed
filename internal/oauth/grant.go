package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/httpclient"
)

type grant interface {
	obtain(ctx context.Context, e *Engine, opts httpclient.Options) (Credentials, DebugInfo, error)
	refreshable() bool
}

// grantFor validates cfg for its grant type. Validation failures carry
// errdef.CodeAuth so callers can skip auth instead of failing the request.
func grantFor(cfg collection.OAuth2Config) (grant, error) {
	missing := func(field string) error {
		return errdef.New(errdef.CodeAuth, "oauth2 %s grant requires %s", cfg.GrantType, field)
	}
	blank := func(s string) bool { return strings.TrimSpace(s) == "" }

	switch cfg.GrantType {
	case collection.GrantAuthorizationCode:
		switch {
		case blank(cfg.AuthorizationURL):
			return nil, missing("authorizationUrl")
		case blank(cfg.AccessTokenURL):
			return nil, missing("accessTokenUrl")
		case blank(cfg.CallbackURL):
			return nil, missing("callbackUrl")
		case blank(cfg.ClientID):
			return nil, missing("clientId")
		}
		return authorizationCode{cfg: cfg}, nil
	case collection.GrantClientCredentials:
		switch {
		case blank(cfg.AccessTokenURL):
			return nil, missing("accessTokenUrl")
		case blank(cfg.ClientID):
			return nil, missing("clientId")
		case blank(cfg.ClientSecret):
			return nil, missing("clientSecret")
		}
		return clientCredentials{cfg: cfg}, nil
	case collection.GrantPassword:
		switch {
		case blank(cfg.AccessTokenURL):
			return nil, missing("accessTokenUrl")
		case blank(cfg.ClientID):
			return nil, missing("clientId")
		}
		return passwordGrant{cfg: cfg}, nil
	case collection.GrantImplicit:
		switch {
		case blank(cfg.AuthorizationURL):
			return nil, missing("authorizationUrl")
		case blank(cfg.CallbackURL):
			return nil, missing("callbackUrl")
		case blank(cfg.ClientID):
			return nil, missing("clientId")
		}
		return implicitGrant{cfg: cfg}, nil
	default:
		return nil, errdef.New(errdef.CodeAuth, "unsupported oauth2 grant type %q", cfg.GrantType)
	}
}

// clientForm starts a token request body. The secret moves to a basic
// header when the config asks for it.
func clientForm(cfg collection.OAuth2Config, grantType string) (url.Values, *basicCreds) {
	form := url.Values{}
	form.Set("grant_type", grantType)
	form.Set("client_id", cfg.ClientID)
	if cfg.CredentialsPlacement == collection.CredentialsInBasicHeader {
		return form, &basicCreds{user: cfg.ClientID, pass: cfg.ClientSecret}
	}
	if cfg.ClientSecret != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}
	return form, nil
}

func setScope(form url.Values, scope string) {
	if strings.TrimSpace(scope) != "" {
		form.Set("scope", scope)
	}
}

type clientCredentials struct{ cfg collection.OAuth2Config }

func (g clientCredentials) refreshable() bool { return true }

func (g clientCredentials) obtain(ctx context.Context, e *Engine, opts httpclient.Options) (Credentials, DebugInfo, error) {
	form, basic := clientForm(g.cfg, "client_credentials")
	setScope(form, g.cfg.Scope)
	creds, ex, err := e.postForm(ctx, tokenRequest{
		endpoint: g.cfg.AccessTokenURL,
		form:     form,
		basic:    basic,
		params:   g.cfg.AdditionalParameters.Token,
	}, opts)
	return creds, DebugInfo{Exchanges: []Exchange{ex}}, err
}

type passwordGrant struct{ cfg collection.OAuth2Config }

func (g passwordGrant) refreshable() bool { return true }

func (g passwordGrant) obtain(ctx context.Context, e *Engine, opts httpclient.Options) (Credentials, DebugInfo, error) {
	form, basic := clientForm(g.cfg, "password")
	form.Set("username", g.cfg.Username)
	form.Set("password", g.cfg.Password)
	setScope(form, g.cfg.Scope)
	creds, ex, err := e.postForm(ctx, tokenRequest{
		endpoint: g.cfg.AccessTokenURL,
		form:     form,
		basic:    basic,
		params:   g.cfg.AdditionalParameters.Token,
	}, opts)
	return creds, DebugInfo{Exchanges: []Exchange{ex}}, err
}

type authorizationCode struct{ cfg collection.OAuth2Config }

func (g authorizationCode) refreshable() bool { return true }

func (g authorizationCode) obtain(ctx context.Context, e *Engine, opts httpclient.Options) (Credentials, DebugInfo, error) {
	state, err := pickState(g.cfg.State)
	if err != nil {
		return Credentials{}, DebugInfo{}, err
	}
	var verifier string
	if g.cfg.PKCE {
		verifier = newVerifier()
	}

	cb, err := e.authorizer.Authorize(ctx, AuthorizationRequest{
		CallbackURL: g.cfg.CallbackURL,
		Header:      paramHeader(g.cfg.AdditionalParameters.Authorization),
		BuildURL: func(redirectURI string) (string, error) {
			return authCodeURL(g.cfg, redirectURI, state, verifier), nil
		},
	})
	if err != nil {
		return Credentials{}, DebugInfo{}, err
	}
	if err := checkCallback(cb.Params, state); err != nil {
		return Credentials{}, DebugInfo{}, err
	}
	code := strings.TrimSpace(cb.Params.Get("code"))
	if code == "" {
		return Credentials{}, DebugInfo{}, errdef.New(errdef.CodeOAuth, "authorization response missing code")
	}

	redirect := cb.RedirectURI
	if redirect == "" {
		redirect = g.cfg.CallbackURL
	}
	form, basic := clientForm(g.cfg, "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", redirect)
	if verifier != "" {
		form.Set("code_verifier", verifier)
	}
	creds, ex, err := e.postForm(ctx, tokenRequest{
		endpoint: g.cfg.AccessTokenURL,
		form:     form,
		basic:    basic,
		params:   g.cfg.AdditionalParameters.Token,
	}, opts)
	return creds, DebugInfo{Exchanges: []Exchange{ex}}, err
}

// implicitGrant never talks to a token endpoint. The token arrives in the
// redirect fragment and cannot be refreshed.
type implicitGrant struct{ cfg collection.OAuth2Config }

func (g implicitGrant) refreshable() bool { return false }

func (g implicitGrant) obtain(ctx context.Context, e *Engine, _ httpclient.Options) (Credentials, DebugInfo, error) {
	state, err := pickState(g.cfg.State)
	if err != nil {
		return Credentials{}, DebugInfo{}, err
	}
	cb, err := e.authorizer.Authorize(ctx, AuthorizationRequest{
		CallbackURL: g.cfg.CallbackURL,
		Header:      paramHeader(g.cfg.AdditionalParameters.Authorization),
		Implicit:    true,
		BuildURL: func(redirectURI string) (string, error) {
			return implicitURL(g.cfg, redirectURI, state)
		},
	})
	if err != nil {
		return Credentials{}, DebugInfo{}, err
	}
	if err := checkCallback(cb.Params, state); err != nil {
		return Credentials{}, DebugInfo{}, err
	}
	p := cb.Params
	creds, err := buildCredentials(tokenResponse{
		AccessToken: p.Get("access_token"),
		TokenType:   p.Get("token_type"),
		ExpiresIn:   jsonNumber(p.Get("expires_in")),
		Scope:       p.Get("scope"),
		IDToken:     p.Get("id_token"),
	}, buildRawMap(p))
	return creds, DebugInfo{}, err
}

func checkCallback(params url.Values, state string) error {
	if msg := strings.TrimSpace(params.Get("error")); msg != "" {
		if desc := strings.TrimSpace(params.Get("error_description")); desc != "" {
			msg += ": " + desc
		}
		return errdef.New(errdef.CodeOAuth, "authorization failed: %s", msg)
	}
	if state != "" && params.Get("state") != state {
		return errdef.New(errdef.CodeOAuth, "state mismatch")
	}
	return nil
}

func paramHeader(params []collection.AdditionalParam) http.Header {
	h := http.Header{}
	for _, p := range enabledParams(params) {
		if p.SendIn == collection.SendInHeaders {
			h.Set(p.Name, p.Value)
		}
	}
	return h
}

func enabledParams(params []collection.AdditionalParam) []collection.AdditionalParam {
	out := make([]collection.AdditionalParam, 0, len(params))
	for _, p := range params {
		if !p.Enabled || strings.TrimSpace(p.Name) == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
