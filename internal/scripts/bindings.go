package scripts

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/dop251/goja"

	"github.com/unkn0wn-root/reqflow/internal/vars"
)

func (s *session) bruAPI() map[string]any {
	setNext := func(v goja.Value) {
		s.out.Next = Jump{Set: true}
		if v == nil || goja.IsNull(v) || goja.IsUndefined(v) {
			return
		}
		name := v.String()
		s.out.Next.Name = &name
	}
	return map[string]any{
		"getVar": func(name string) any {
			return lookup(s.out.RuntimeVars, name)
		},
		"setVar": func(name string, value goja.Value) {
			s.out.RuntimeVars[name] = stringify(value)
		},
		"hasVar": func(name string) bool {
			_, ok := s.out.RuntimeVars[name]
			return ok
		},
		"deleteVar": func(name string) {
			delete(s.out.RuntimeVars, name)
		},
		"getEnvVar": func(name string) any {
			return lookup(s.out.EnvVars, name)
		},
		"setEnvVar": func(name string, value goja.Value) {
			s.out.EnvVars[name] = stringify(value)
		},
		"getGlobalEnvVar": func(name string) any {
			return lookup(s.out.GlobalVars, name)
		},
		"setGlobalEnvVar": func(name string, value goja.Value) {
			s.out.GlobalVars[name] = stringify(value)
		},
		"getProcessEnv": func(name string) any {
			return lookup(s.in.ProcessEnv, name)
		},
		"getCollectionName": func() string {
			return s.in.CollectionName
		},
		"getCollectionPath": func() string {
			return s.in.CollectionPath
		},
		"interpolate": func(input string) string {
			scopes := vars.Scopes{
				Global:      s.out.GlobalVars,
				Environment: s.out.EnvVars,
				Runtime:     s.out.RuntimeVars,
				ProcessEnv:  s.in.ProcessEnv,
			}
			return scopes.Resolver().ExpandTemplates(input)
		},
		"sleep": func(ms int64) {
			t := time.NewTimer(time.Duration(ms) * time.Millisecond)
			defer t.Stop()
			select {
			case <-t.C:
			case <-s.ctx.Done():
			}
		},
		"setNextRequest": setNext,
		"runner": map[string]any{
			"setNextRequest": setNext,
			"skipRequest": func() {
				s.out.Skip = true
			},
			"stopExecution": func() {
				s.out.Stop = true
			},
		},
	}
}

func (s *session) requestAPI() map[string]any {
	req := s.req
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	return map[string]any{
		"getName": func() string {
			return req.Name
		},
		"getUrl": func() string {
			return req.URL
		},
		"setUrl": func(url string) {
			req.URL = url
		},
		"getMethod": func() string {
			return req.Method
		},
		"setMethod": func(method string) {
			req.Method = strings.ToUpper(strings.TrimSpace(method))
		},
		"getHeader": func(name string) string {
			return req.Headers.Get(name)
		},
		"getHeaders": func() map[string]string {
			return flattenHeaders(req.Headers)
		},
		"setHeader": func(name, value string) {
			req.Headers.Set(name, value)
		},
		"deleteHeader": func(name string) {
			req.Headers.Del(name)
		},
		"getBody": func() any {
			return decodeBody([]byte(req.Body))
		},
		"setBody": func(v goja.Value) {
			req.Body = stringify(v)
		},
		"getTimeout": func() int64 {
			return req.Timeout.Milliseconds()
		},
		"setTimeout": func(ms int64) {
			req.Timeout = time.Duration(ms) * time.Millisecond
		},
	}
}

func (s *session) responseAPI() map[string]any {
	res := s.in.Response
	headers := flattenHeaders(res.Headers)
	body := decodeBody(res.Body)
	elapsed := res.Duration.Milliseconds()
	api := map[string]any{
		"status":       res.StatusCode,
		"statusText":   res.Status,
		"headers":      headers,
		"body":         body,
		"responseTime": elapsed,
		"url":          res.URL,
	}
	api["getStatus"] = func() int { return res.StatusCode }
	api["getStatusText"] = func() string { return res.Status }
	api["getHeader"] = func(name string) string { return res.Headers.Get(name) }
	api["getHeaders"] = func() map[string]string { return headers }
	api["getBody"] = func() any { return body }
	api["getResponseTime"] = func() int64 { return elapsed }
	api["getUrl"] = func() string { return res.URL }
	return api
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		out[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	return out
}

// decodeBody returns parsed JSON when the payload is JSON, else the text.
func decodeBody(data []byte) any {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v
	}
	return string(data)
}

func lookup(m map[string]string, name string) any {
	if v, ok := m[name]; ok {
		return v
	}
	return nil
}

// stringify renders a script value the way it is stored in a variable:
// strings as is, objects and arrays as JSON.
func stringify(v goja.Value) string {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	switch exported := v.Export().(type) {
	case string:
		return exported
	case map[string]any, []any:
		data, err := json.Marshal(exported)
		if err == nil {
			return string(data)
		}
	}
	return v.String()
}
