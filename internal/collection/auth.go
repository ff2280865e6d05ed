package collection

import "strings"

type AuthMode string

const (
	AuthNone    AuthMode = "none"
	AuthInherit AuthMode = "inherit"
	AuthBasic   AuthMode = "basic"
	AuthBearer  AuthMode = "bearer"
	AuthDigest  AuthMode = "digest"
	AuthAWSV4   AuthMode = "awsv4"
	AuthNTLM    AuthMode = "ntlm"
	AuthWSSE    AuthMode = "wsse"
	AuthAPIKey  AuthMode = "apikey"
	AuthOAuth1  AuthMode = "oauth1"
	AuthOAuth2  AuthMode = "oauth2"
)

// Explicit reports whether the mode names a concrete scheme.
func (m AuthMode) Explicit() bool {
	switch m {
	case "", AuthNone, AuthInherit:
		return false
	default:
		return true
	}
}

func ParseAuthMode(raw string) AuthMode {
	mode := AuthMode(strings.ToLower(strings.TrimSpace(raw)))
	switch mode {
	case AuthNone, AuthInherit, AuthBasic, AuthBearer, AuthDigest, AuthAWSV4,
		AuthNTLM, AuthWSSE, AuthAPIKey, AuthOAuth1, AuthOAuth2:
		return mode
	default:
		return AuthNone
	}
}

// AuthConfig is a tagged union. Only the payload matching Mode may be set.
type AuthConfig struct {
	Mode   AuthMode      `yaml:"mode"`
	Basic  *BasicAuth    `yaml:"basic,omitempty"`
	Bearer *BearerAuth   `yaml:"bearer,omitempty"`
	Digest *DigestAuth   `yaml:"digest,omitempty"`
	AWSV4  *AWSV4Auth    `yaml:"awsv4,omitempty"`
	NTLM   *NTLMAuth     `yaml:"ntlm,omitempty"`
	WSSE   *WSSEAuth     `yaml:"wsse,omitempty"`
	APIKey *APIKeyAuth   `yaml:"apikey,omitempty"`
	OAuth1 *OAuth1Auth   `yaml:"oauth1,omitempty"`
	OAuth2 *OAuth2Config `yaml:"oauth2,omitempty"`
}

type BasicAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type BearerAuth struct {
	Token string `yaml:"token"`
}

type DigestAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AWSV4Auth struct {
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	SessionToken    string `yaml:"sessionToken,omitempty"`
	Service         string `yaml:"service"`
	Region          string `yaml:"region"`
	ProfileName     string `yaml:"profileName,omitempty"`
}

type NTLMAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Domain   string `yaml:"domain,omitempty"`
}

type WSSEAuth struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type APIKeyPlacement string

const (
	PlacementHeader APIKeyPlacement = "header"
	PlacementQuery  APIKeyPlacement = "queryparams"
)

type APIKeyAuth struct {
	Key       string          `yaml:"key"`
	Value     string          `yaml:"value"`
	Placement APIKeyPlacement `yaml:"placement"`
}

type OAuth1Auth struct {
	ConsumerKey     string `yaml:"consumerKey"`
	ConsumerSecret  string `yaml:"consumerSecret"`
	AccessToken     string `yaml:"accessToken,omitempty"`
	TokenSecret     string `yaml:"tokenSecret,omitempty"`
	SignatureMethod string `yaml:"signatureMethod,omitempty"`
	PrivateKey      string `yaml:"privateKey,omitempty"`
	Realm           string `yaml:"realm,omitempty"`
	AddParamsTo     string `yaml:"addParamsTo,omitempty"`
	IncludeBodyHash bool   `yaml:"includeBodyHash,omitempty"`
}

type GrantType string

const (
	GrantAuthorizationCode GrantType = "authorization_code"
	GrantClientCredentials GrantType = "client_credentials"
	GrantPassword          GrantType = "password"
	GrantImplicit          GrantType = "implicit"
)

const (
	DefaultCredentialsID     = "credentials"
	DefaultTokenHeaderPrefix = "Bearer"
	DefaultTokenQueryKey     = "access_token"

	CredentialsInBody        = "body"
	CredentialsInBasicHeader = "basic_auth_header"

	TokenInHeader = "header"
	TokenInURL    = "url"
)

type ParamTarget string

const (
	SendInQuery   ParamTarget = "queryparams"
	SendInBody    ParamTarget = "body"
	SendInHeaders ParamTarget = "headers"
)

type AdditionalParam struct {
	Name    string      `yaml:"name"`
	Value   string      `yaml:"value"`
	Enabled bool        `yaml:"enabled"`
	SendIn  ParamTarget `yaml:"sendIn"`
}

type AdditionalParams struct {
	Authorization []AdditionalParam `yaml:"authorization,omitempty"`
	Token         []AdditionalParam `yaml:"token,omitempty"`
	Refresh       []AdditionalParam `yaml:"refresh,omitempty"`
}

type OAuth2Config struct {
	GrantType            GrantType        `yaml:"grantType"`
	AccessTokenURL       string           `yaml:"accessTokenUrl,omitempty"`
	RefreshTokenURL      string           `yaml:"refreshTokenUrl,omitempty"`
	AuthorizationURL     string           `yaml:"authorizationUrl,omitempty"`
	CallbackURL          string           `yaml:"callbackUrl,omitempty"`
	ClientID             string           `yaml:"clientId,omitempty"`
	ClientSecret         string           `yaml:"clientSecret,omitempty"`
	Username             string           `yaml:"username,omitempty"`
	Password             string           `yaml:"password,omitempty"`
	Scope                string           `yaml:"scope,omitempty"`
	State                string           `yaml:"state,omitempty"`
	PKCE                 bool             `yaml:"pkce,omitempty"`
	CredentialsPlacement string           `yaml:"credentialsPlacement,omitempty"`
	CredentialsID        string           `yaml:"credentialsId,omitempty"`
	TokenPlacement       string           `yaml:"tokenPlacement,omitempty"`
	TokenHeaderPrefix    string           `yaml:"tokenHeaderPrefix,omitempty"`
	TokenQueryKey        string           `yaml:"tokenQueryKey,omitempty"`
	AutoFetchToken       *bool            `yaml:"autoFetchToken,omitempty"`
	AutoRefreshToken     bool             `yaml:"autoRefreshToken,omitempty"`
	AdditionalParameters AdditionalParams `yaml:"additionalParameters,omitempty"`
}

func (c OAuth2Config) CredentialsKey() string {
	if id := strings.TrimSpace(c.CredentialsID); id != "" {
		return id
	}
	return DefaultCredentialsID
}

// TokenEndpoint is the URL credentials are cached under. Implicit grants
// never reach a token endpoint so they key on the authorization URL.
func (c OAuth2Config) TokenEndpoint() string {
	if c.GrantType == GrantImplicit {
		return strings.TrimSpace(c.AuthorizationURL)
	}
	return strings.TrimSpace(c.AccessTokenURL)
}

func (c OAuth2Config) ShouldAutoFetch() bool {
	if c.AutoFetchToken == nil {
		return true
	}
	return *c.AutoFetchToken
}

func (c OAuth2Config) HeaderPrefix() string {
	if c.TokenHeaderPrefix == "" {
		return DefaultTokenHeaderPrefix
	}
	return strings.TrimSpace(c.TokenHeaderPrefix)
}

func (c OAuth2Config) QueryKey() string {
	if k := strings.TrimSpace(c.TokenQueryKey); k != "" {
		return k
	}
	return DefaultTokenQueryKey
}

// Normalize drops payloads that do not match Mode.
func (a *AuthConfig) Normalize() {
	if a == nil {
		return
	}
	if a.Mode == "" {
		a.Mode = AuthNone
	}
	keep := *a
	*a = AuthConfig{Mode: keep.Mode}
	switch keep.Mode {
	case AuthBasic:
		a.Basic = keep.Basic
	case AuthBearer:
		a.Bearer = keep.Bearer
	case AuthDigest:
		a.Digest = keep.Digest
	case AuthAWSV4:
		a.AWSV4 = keep.AWSV4
	case AuthNTLM:
		a.NTLM = keep.NTLM
	case AuthWSSE:
		a.WSSE = keep.WSSE
	case AuthAPIKey:
		a.APIKey = keep.APIKey
	case AuthOAuth1:
		a.OAuth1 = keep.OAuth1
	case AuthOAuth2:
		a.OAuth2 = keep.OAuth2
	}
}

// Clone deep-copies the config.
func (a AuthConfig) Clone() AuthConfig {
	out := AuthConfig{Mode: a.Mode}
	if a.Basic != nil {
		v := *a.Basic
		out.Basic = &v
	}
	if a.Bearer != nil {
		v := *a.Bearer
		out.Bearer = &v
	}
	if a.Digest != nil {
		v := *a.Digest
		out.Digest = &v
	}
	if a.AWSV4 != nil {
		v := *a.AWSV4
		out.AWSV4 = &v
	}
	if a.NTLM != nil {
		v := *a.NTLM
		out.NTLM = &v
	}
	if a.WSSE != nil {
		v := *a.WSSE
		out.WSSE = &v
	}
	if a.APIKey != nil {
		v := *a.APIKey
		out.APIKey = &v
	}
	if a.OAuth1 != nil {
		v := *a.OAuth1
		out.OAuth1 = &v
	}
	if a.OAuth2 != nil {
		v := *a.OAuth2
		if a.OAuth2.AutoFetchToken != nil {
			b := *a.OAuth2.AutoFetchToken
			v.AutoFetchToken = &b
		}
		v.AdditionalParameters = AdditionalParams{
			Authorization: append([]AdditionalParam(nil), a.OAuth2.AdditionalParameters.Authorization...),
			Token:         append([]AdditionalParam(nil), a.OAuth2.AdditionalParameters.Token...),
			Refresh:       append([]AdditionalParam(nil), a.OAuth2.AdditionalParameters.Refresh...),
		}
		out.OAuth2 = &v
	}
	return out
}

func None() AuthConfig {
	return AuthConfig{Mode: AuthNone}
}
