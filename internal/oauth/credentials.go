package oauth

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

// Credentials is a token endpoint response plus the time it was stored.
type Credentials struct {
	AccessToken  string         `json:"access_token"`
	TokenType    string         `json:"token_type,omitempty"`
	RefreshToken string         `json:"refresh_token,omitempty"`
	ExpiresIn    int64          `json:"expires_in,omitempty"`
	Scope        string         `json:"scope,omitempty"`
	IDToken      string         `json:"id_token,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	Raw          map[string]any `json:"raw,omitempty"`
}

// Expired treats a missing access token as expired and a token without
// expires_in or created_at as never expiring.
func (c Credentials) Expired(now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresIn <= 0 || c.CreatedAt.IsZero() {
		return false
	}
	return now.After(c.CreatedAt.Add(time.Duration(c.ExpiresIn) * time.Second))
}

// Fields flattens the credentials for variable interpolation.
func (c Credentials) Fields() map[string]string {
	out := map[string]string{
		"access_token": c.AccessToken,
		"token_type":   c.TokenType,
	}
	if c.RefreshToken != "" {
		out["refresh_token"] = c.RefreshToken
	}
	if c.ExpiresIn > 0 {
		out["expires_in"] = strconv.FormatInt(c.ExpiresIn, 10)
	}
	if c.Scope != "" {
		out["scope"] = c.Scope
	}
	if c.IDToken != "" {
		out["id_token"] = c.IDToken
	}
	return out
}

// ProviderError is an RFC 6749 error body returned by the provider.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return e.Code + ": " + e.Description
}

type tokenResponse struct {
	AccessToken      string      `json:"access_token"`
	TokenType        string      `json:"token_type"`
	ExpiresIn        json.Number `json:"expires_in"`
	RefreshToken     string      `json:"refresh_token"`
	Scope            string      `json:"scope"`
	IDToken          string      `json:"id_token"`
	Error            string      `json:"error"`
	ErrorDescription string      `json:"error_description"`
}

func parseTokenResponse(body []byte) (Credentials, error) {
	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// some providers answer form encoded unless Accept is honoured
		values, parseErr := url.ParseQuery(string(body))
		if parseErr != nil {
			return Credentials{}, errdef.Wrap(errdef.CodeOAuth, err, "decode oauth token response")
		}
		resp = tokenResponse{
			AccessToken:      values.Get("access_token"),
			TokenType:        values.Get("token_type"),
			RefreshToken:     values.Get("refresh_token"),
			Scope:            values.Get("scope"),
			IDToken:          values.Get("id_token"),
			Error:            values.Get("error"),
			ErrorDescription: values.Get("error_description"),
			ExpiresIn:        json.Number(values.Get("expires_in")),
		}
		return buildCredentials(resp, buildRawMap(values))
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err == nil {
		return buildCredentials(resp, raw)
	}
	return buildCredentials(resp, nil)
}

func buildCredentials(resp tokenResponse, raw map[string]any) (Credentials, error) {
	if resp.Error != "" {
		pe := &ProviderError{Code: resp.Error, Description: resp.ErrorDescription}
		return Credentials{Raw: raw}, errdef.Wrap(errdef.CodeOAuth, pe, "token endpoint rejected request")
	}
	if resp.AccessToken == "" {
		return Credentials{Raw: raw}, errdef.New(errdef.CodeOAuth, "oauth token response missing access_token")
	}
	if resp.TokenType == "" {
		resp.TokenType = "Bearer"
	}
	creds := Credentials{
		AccessToken:  resp.AccessToken,
		TokenType:    resp.TokenType,
		RefreshToken: resp.RefreshToken,
		Scope:        resp.Scope,
		IDToken:      resp.IDToken,
		Raw:          raw,
	}
	if s := strings.TrimSpace(resp.ExpiresIn.String()); s != "" {
		if seconds, err := strconv.ParseFloat(s, 64); err == nil && seconds > 0 {
			creds.ExpiresIn = int64(seconds)
		}
	}
	return creds, nil
}

func buildRawMap(values url.Values) map[string]any {
	if len(values) == 0 {
		return nil
	}
	raw := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			raw[k] = v[0]
			continue
		}
		raw[k] = v
	}
	return raw
}
