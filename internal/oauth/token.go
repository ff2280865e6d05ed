package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
	"github.com/unkn0wn-root/reqflow/internal/httpclient"
)

// Exchange records one token endpoint round trip for debugging.
type Exchange struct {
	RequestID       string        `json:"requestId"`
	Method          string        `json:"method"`
	URL             string        `json:"url"`
	RequestHeaders  http.Header   `json:"requestHeaders,omitempty"`
	RequestBody     string        `json:"requestBody,omitempty"`
	StatusCode      int           `json:"statusCode,omitempty"`
	ResponseHeaders http.Header   `json:"responseHeaders,omitempty"`
	ResponseBody    string        `json:"responseBody,omitempty"`
	Error           string        `json:"error,omitempty"`
	Duration        time.Duration `json:"duration"`
	Timestamp       time.Time     `json:"timestamp"`
}

type DebugInfo struct {
	Exchanges []Exchange `json:"exchanges,omitempty"`
}

type basicCreds struct {
	user string
	pass string
}

type tokenRequest struct {
	endpoint string
	form     url.Values
	basic    *basicCreds
	params   []collection.AdditionalParam
}

// postForm sends a form encoded token request. Enabled additional params are
// routed to the query string, the body or the headers by their target.
func (e *Engine) postForm(ctx context.Context, tr tokenRequest, opts httpclient.Options) (Credentials, Exchange, error) {
	ex := Exchange{
		RequestID: uuid.NewString(),
		Method:    http.MethodPost,
		URL:       tr.endpoint,
		Timestamp: e.now(),
	}
	fail := func(err error) (Credentials, Exchange, error) {
		ex.Error = err.Error()
		return Credentials{}, ex, err
	}

	target, err := url.Parse(strings.TrimSpace(tr.endpoint))
	if err != nil || target.Host == "" {
		if err == nil {
			err = errdef.New(errdef.CodeOAuth, "missing host")
		}
		return fail(errdef.Wrap(errdef.CodeOAuth, err, "parse token url %q", tr.endpoint))
	}

	form := url.Values{}
	for k, v := range tr.form {
		form[k] = append([]string(nil), v...)
	}
	header := http.Header{}
	query := target.Query()
	for _, p := range enabledParams(tr.params) {
		switch p.SendIn {
		case collection.SendInHeaders:
			header.Set(p.Name, p.Value)
		case collection.SendInQuery:
			query.Add(p.Name, p.Value)
		case collection.SendInBody:
			form.Add(p.Name, p.Value)
		}
	}
	target.RawQuery = query.Encode()
	ex.URL = target.String()

	body := form.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ex.URL, strings.NewReader(body))
	if err != nil {
		return fail(errdef.Wrap(errdef.CodeOAuth, err, "build token request"))
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	if tr.basic != nil {
		req.SetBasicAuth(tr.basic.user, tr.basic.pass)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	ex.RequestHeaders = req.Header.Clone()
	ex.RequestBody = body

	resp, err := e.requestFunc()(ctx, req, opts)
	if resp != nil {
		ex.Duration = resp.Duration
	}
	if err != nil {
		return fail(errdef.Wrap(errdef.CodeOAuth, err, "token request"))
	}
	ex.StatusCode = resp.StatusCode
	ex.ResponseHeaders = resp.Headers.Clone()
	ex.ResponseBody = string(resp.Body)

	creds, parseErr := parseTokenResponse(resp.Body)
	if resp.StatusCode >= 400 {
		var pe *ProviderError
		if errors.As(parseErr, &pe) {
			return fail(parseErr)
		}
		return fail(errdef.New(errdef.CodeOAuth, "token request failed: %s", strings.TrimSpace(resp.Status)))
	}
	if parseErr != nil {
		return fail(parseErr)
	}
	return creds, ex, nil
}

func jsonNumber(s string) json.Number {
	return json.Number(strings.TrimSpace(s))
}
