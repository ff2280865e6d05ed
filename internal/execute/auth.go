package execute

import (
	"context"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/httpclient"
	"github.com/unkn0wn-root/reqflow/internal/oauth"
	"github.com/unkn0wn-root/reqflow/internal/vars"
)

// interpolateAuth expands templates in every credential field of a. a must
// already be a private copy.
func interpolateAuth(a *collection.AuthConfig, r *vars.Resolver) {
	x := r.ExpandTemplates
	switch {
	case a.Basic != nil:
		a.Basic.Username, a.Basic.Password = x(a.Basic.Username), x(a.Basic.Password)
	case a.Bearer != nil:
		a.Bearer.Token = x(a.Bearer.Token)
	case a.Digest != nil:
		a.Digest.Username, a.Digest.Password = x(a.Digest.Username), x(a.Digest.Password)
	case a.AWSV4 != nil:
		c := a.AWSV4
		c.AccessKeyID = x(c.AccessKeyID)
		c.SecretAccessKey = x(c.SecretAccessKey)
		c.SessionToken = x(c.SessionToken)
		c.Service = x(c.Service)
		c.Region = x(c.Region)
		c.ProfileName = x(c.ProfileName)
	case a.NTLM != nil:
		a.NTLM.Username, a.NTLM.Password, a.NTLM.Domain = x(a.NTLM.Username), x(a.NTLM.Password), x(a.NTLM.Domain)
	case a.WSSE != nil:
		a.WSSE.Username, a.WSSE.Password = x(a.WSSE.Username), x(a.WSSE.Password)
	case a.APIKey != nil:
		a.APIKey.Key, a.APIKey.Value = x(a.APIKey.Key), x(a.APIKey.Value)
	case a.OAuth1 != nil:
		c := a.OAuth1
		c.ConsumerKey = x(c.ConsumerKey)
		c.ConsumerSecret = x(c.ConsumerSecret)
		c.AccessToken = x(c.AccessToken)
		c.TokenSecret = x(c.TokenSecret)
		c.PrivateKey = x(c.PrivateKey)
		c.Realm = x(c.Realm)
	case a.OAuth2 != nil:
		c := a.OAuth2
		c.AccessTokenURL = x(c.AccessTokenURL)
		c.RefreshTokenURL = x(c.RefreshTokenURL)
		c.AuthorizationURL = x(c.AuthorizationURL)
		c.CallbackURL = x(c.CallbackURL)
		c.ClientID = x(c.ClientID)
		c.ClientSecret = x(c.ClientSecret)
		c.Username = x(c.Username)
		c.Password = x(c.Password)
		c.Scope = x(c.Scope)
		c.State = x(c.State)
		c.CredentialsID = x(c.CredentialsID)
		c.TokenHeaderPrefix = x(c.TokenHeaderPrefix)
		c.TokenQueryKey = x(c.TokenQueryKey)
		params := &c.AdditionalParameters
		for _, list := range [][]collection.AdditionalParam{params.Authorization, params.Token, params.Refresh} {
			for i := range list {
				list[i].Name, list[i].Value = x(list[i].Name), x(list[i].Value)
			}
		}
	}
}

// engineTokens adapts the OAuth2 engine to the compiler's token source for
// one collection.
type engineTokens struct {
	engine        *oauth.Engine
	collectionUID string
	opts          httpclient.Options
}

func (t engineTokens) AccessToken(ctx context.Context, cfg collection.OAuth2Config) (string, error) {
	res, err := t.engine.Token(ctx, t.collectionUID, cfg, t.opts)
	if err != nil {
		return "", err
	}
	return res.AccessToken(), nil
}
