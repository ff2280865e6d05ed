package auth

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/go-logr/logr"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

// QueryParam is appended to the request URL after interpolation.
type QueryParam struct {
	Key   string
	Value string
}

// Prepared carries everything auth contributes to an outgoing request.
// Header entries overwrite same-named request headers. The credential
// fields are consumed by Apply and WrapTransport.
type Prepared struct {
	Header http.Header
	Basic  *collection.BasicAuth
	Digest *collection.DigestAuth
	AWSV4  *collection.AWSV4Auth
	NTLM   *collection.NTLMAuth
	OAuth1 *collection.OAuth1Auth
	OAuth2 *collection.OAuth2Config
	Query  []QueryParam

	awsCreds aws.CredentialsProvider
	oauth1   OAuth1Signer
}

func (p *Prepared) setQuery(key, value string) {
	for i := range p.Query {
		if p.Query[i].Key == key {
			p.Query[i].Value = value
			return
		}
	}
	p.Query = append(p.Query, QueryParam{Key: key, Value: value})
}

// TokenSource hands out OAuth2 access tokens. An empty token with a nil error
// means none is available and the request goes out without one.
type TokenSource interface {
	AccessToken(ctx context.Context, cfg collection.OAuth2Config) (string, error)
}

// OAuth1Signer signs a finished request. It is optional.
type OAuth1Signer interface {
	Sign(req *http.Request, cfg collection.OAuth1Auth) error
}

type Options struct {
	Tokens TokenSource
	OAuth1 OAuth1Signer
	Logger logr.Logger

	// AWSCredentials overrides static and profile credential lookup.
	AWSCredentials func(ctx context.Context, cfg collection.AWSV4Auth) (aws.CredentialsProvider, error)

	Now   func() time.Time
	Nonce func() (string, error)
}

func (o Options) logger() logr.Logger {
	if o.Logger.GetSink() == nil {
		return logr.Discard()
	}
	return o.Logger
}

func (o Options) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Compile turns auth config into request mutations. collectionAuth applies
// only when requestAuth inherits and must already be the resolved folder or
// collection auth. Missing fields skip the mode and are logged at V(1).
// The only error is a failed OAuth2 token fetch.
func Compile(ctx context.Context, p *Prepared, requestAuth, collectionAuth collection.AuthConfig, opts Options) (*Prepared, error) {
	if p == nil {
		p = &Prepared{}
	}
	if p.Header == nil {
		p.Header = make(http.Header)
	}
	c := compiler{ctx: ctx, p: p, opts: opts, log: opts.logger()}

	if requestAuth.Mode == collection.AuthInherit {
		c.apply(collectionAuth, "inherited")
	} else {
		c.apply(requestAuth, "request")
	}

	if p.OAuth2 != nil {
		if err := c.placeOAuth2Token(); err != nil {
			return p, err
		}
	}
	return p, nil
}

type compiler struct {
	ctx  context.Context
	p    *Prepared
	opts Options
	log  logr.Logger
}

func (c *compiler) skip(mode collection.AuthMode, origin, reason string) {
	c.log.V(1).Info("auth not applied", "mode", string(mode), "origin", origin, "reason", reason)
}

func (c *compiler) apply(a collection.AuthConfig, origin string) {
	p := c.p
	switch a.Mode {
	case collection.AuthBasic:
		if a.Basic == nil || (a.Basic.Username == "" && a.Basic.Password == "") {
			c.skip(a.Mode, origin, "missing username and password")
			return
		}
		v := *a.Basic
		p.Basic = &v
	case collection.AuthBearer:
		if a.Bearer == nil || strings.TrimSpace(a.Bearer.Token) == "" {
			c.skip(a.Mode, origin, "missing token")
			return
		}
		p.Header.Set("Authorization", "Bearer "+strings.TrimSpace(a.Bearer.Token))
	case collection.AuthDigest:
		if a.Digest == nil || a.Digest.Username == "" {
			c.skip(a.Mode, origin, "missing username")
			return
		}
		v := *a.Digest
		p.Digest = &v
	case collection.AuthAWSV4:
		c.applyAWSV4(a.AWSV4, origin)
	case collection.AuthNTLM:
		if a.NTLM == nil || a.NTLM.Username == "" {
			c.skip(a.Mode, origin, "missing username")
			return
		}
		v := *a.NTLM
		p.NTLM = &v
	case collection.AuthWSSE:
		if a.WSSE == nil || a.WSSE.Username == "" {
			c.skip(a.Mode, origin, "missing username")
			return
		}
		header, err := wsseHeader(a.WSSE.Username, a.WSSE.Password, c.opts.now(), c.opts.Nonce)
		if err != nil {
			c.skip(a.Mode, origin, err.Error())
			return
		}
		p.Header.Set("X-WSSE", header)
	case collection.AuthAPIKey:
		if a.APIKey == nil || a.APIKey.Key == "" {
			c.skip(a.Mode, origin, "missing key")
			return
		}
		switch a.APIKey.Placement {
		case collection.PlacementHeader, "":
			p.Header.Set(a.APIKey.Key, a.APIKey.Value)
		case collection.PlacementQuery:
			p.setQuery(a.APIKey.Key, a.APIKey.Value)
		default:
			c.skip(a.Mode, origin, "unknown placement "+string(a.APIKey.Placement))
		}
	case collection.AuthOAuth1:
		if a.OAuth1 == nil || a.OAuth1.ConsumerKey == "" {
			c.skip(a.Mode, origin, "missing consumer key")
			return
		}
		v := *a.OAuth1
		p.OAuth1 = &v
		p.oauth1 = c.opts.OAuth1
	case collection.AuthOAuth2:
		if a.OAuth2 == nil || a.OAuth2.GrantType == "" {
			c.skip(a.Mode, origin, "missing grant type")
			return
		}
		v := a.Clone().OAuth2
		p.OAuth2 = v
	}
}

func (c *compiler) applyAWSV4(cfg *collection.AWSV4Auth, origin string) {
	if cfg == nil {
		c.skip(collection.AuthAWSV4, origin, "missing config")
		return
	}
	var (
		provider aws.CredentialsProvider
		err      error
	)
	if c.opts.AWSCredentials != nil {
		provider, err = c.opts.AWSCredentials(c.ctx, *cfg)
	} else {
		provider, err = resolveAWSCredentials(c.ctx, *cfg)
	}
	if err != nil {
		c.log.Info("skipping aws sigv4 signing", "origin", origin, "error", err.Error())
		return
	}
	if provider == nil {
		c.log.Info("skipping aws sigv4 signing: neither profile nor access key pair set", "origin", origin)
		return
	}
	v := *cfg
	c.p.AWSV4 = &v
	c.p.awsCreds = provider
}

func (c *compiler) placeOAuth2Token() error {
	cfg := *c.p.OAuth2
	if c.opts.Tokens == nil {
		c.skip(collection.AuthOAuth2, "token", "no token source")
		return nil
	}
	token, err := c.opts.Tokens.AccessToken(c.ctx, cfg)
	if err != nil {
		return errdef.Wrap(errdef.CodeOAuth, err, "oauth2 token")
	}
	if token == "" {
		c.skip(collection.AuthOAuth2, "token", "no access token available")
		return nil
	}
	if cfg.TokenPlacement == collection.TokenInURL {
		c.p.setQuery(cfg.QueryKey(), token)
		return nil
	}
	c.p.Header.Set("Authorization", strings.TrimSpace(cfg.HeaderPrefix()+" "+token))
	return nil
}

// Apply writes p onto req. Query params are set on the already interpolated
// URL so templated values are encoded exactly once.
func Apply(req *http.Request, p *Prepared) error {
	if req == nil || p == nil {
		return nil
	}
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for name, values := range p.Header {
		req.Header[name] = append([]string(nil), values...)
	}
	if len(p.Query) > 0 && req.URL != nil {
		q := req.URL.Query()
		for _, qp := range p.Query {
			q.Set(qp.Key, qp.Value)
		}
		req.URL.RawQuery = q.Encode()
	}
	switch {
	case p.NTLM != nil:
		req.SetBasicAuth(ntlmUser(*p.NTLM), p.NTLM.Password)
	case p.Basic != nil:
		req.SetBasicAuth(p.Basic.Username, p.Basic.Password)
	}
	if p.OAuth1 != nil && p.oauth1 != nil {
		if err := p.oauth1.Sign(req, *p.OAuth1); err != nil {
			return errdef.Wrap(errdef.CodeAuth, err, "oauth1 sign")
		}
	}
	return nil
}
