package vars

import (
	"crypto/rand"
	"encoding/json"
	"math/big"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const processEnvPrefix = "process.env."

// maxDepth bounds how many times a value that itself holds templates is
// expanded again.
const maxDepth = 5

type Provider interface {
	Resolve(name string) (string, bool)
	Label() string
}

type Resolver struct {
	providers []Provider
	env       Provider
	now       func() time.Time
}

// NewResolver looks names up in the providers in order; the first hit wins.
func NewResolver(providers ...Provider) *Resolver {
	return &Resolver{providers: providers, env: EnvProvider{}, now: time.Now}
}

// SetProcessEnv replaces the provider consulted for {{process.env.NAME}}.
func (r *Resolver) SetProcessEnv(p Provider) {
	if p == nil {
		p = EnvProvider{}
	}
	r.env = p
}

func (r *Resolver) Resolve(name string) (string, bool) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", false
	}
	if key, ok := strings.CutPrefix(trimmed, processEnvPrefix); ok {
		return r.env.Resolve(key)
	}
	for _, provider := range r.providers {
		if value, ok := provider.Resolve(trimmed); ok {
			return value, true
		}
	}
	if strings.HasPrefix(trimmed, "$") {
		return r.dynamic(trimmed)
	}
	return "", false
}

var templateVarPattern = regexp.MustCompile(`\{\{([^{}]+)\}\}`)

// ExpandTemplates replaces every {{name}} it can resolve. Unknown names are
// left as written.
func (r *Resolver) ExpandTemplates(input string) string {
	return r.expand(input, nil)
}

// ExpandJSON is ExpandTemplates for JSON documents: a value substituted
// inside a string literal is escaped so the document stays well formed.
// Values placed outside string literals are inserted raw.
func (r *Resolver) ExpandJSON(input string) string {
	return r.expand(input, jsonEscape)
}

func (r *Resolver) expand(input string, escape func(string) string) string {
	out := input
	for depth := 0; depth < maxDepth; depth++ {
		next := r.expandOnce(out, escape)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func (r *Resolver) expandOnce(input string, escape func(string) string) string {
	locs := templateVarPattern.FindAllStringSubmatchIndex(input, -1)
	if len(locs) == 0 {
		return input
	}
	var (
		b       strings.Builder
		last    int
		scanned int
		inStr   bool
	)
	b.Grow(len(input))
	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if escape != nil {
			inStr = scanString(input[scanned:start], inStr)
			scanned = start
		}
		b.WriteString(input[last:start])
		last = end
		value, ok := r.Resolve(input[loc[2]:loc[3]])
		if !ok {
			b.WriteString(input[start:end])
			continue
		}
		if escape != nil && inStr {
			value = escape(value)
		}
		b.WriteString(value)
	}
	b.WriteString(input[last:])
	return b.String()
}

// scanString reports whether the end of s lies inside a JSON string literal
// given the state at its start.
func scanString(s string, inStr bool) bool {
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inStr && c == '\\':
			escaped = true
		case c == '"':
			inStr = !inStr
		}
	}
	return inStr
}

func jsonEscape(s string) string {
	data, err := json.Marshal(s)
	if err != nil {
		return s
	}
	return string(data[1 : len(data)-1])
}

// Unresolved lists the template names in input that no provider knows.
func (r *Resolver) Unresolved(input string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, m := range templateVarPattern.FindAllStringSubmatch(input, -1) {
		name := strings.TrimSpace(m[1])
		if _, ok := r.Resolve(name); ok {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func (r *Resolver) dynamic(name string) (string, bool) {
	now := r.now()
	switch strings.ToLower(name) {
	case "$timestamp":
		return strconv.FormatInt(now.Unix(), 10), true
	case "$isotimestamp", "$timestampiso8601":
		return now.UTC().Format(time.RFC3339), true
	case "$randomint":
		n, err := rand.Int(rand.Reader, big.NewInt(1000))
		if err != nil {
			return "0", true
		}
		return n.String(), true
	case "$uuid", "$guid":
		return uuid.NewString(), true
	default:
		return "", false
	}
}

type MapProvider struct {
	values map[string]string
	label  string
}

// Names are matched exactly.
func NewMapProvider(label string, values map[string]string) Provider {
	return &MapProvider{values: values, label: label}
}

func (p *MapProvider) Resolve(name string) (string, bool) {
	value, ok := p.values[name]
	return value, ok
}

func (p *MapProvider) Label() string {
	return p.label
}

type EnvProvider struct{}

func (EnvProvider) Resolve(name string) (string, bool) {
	return os.LookupEnv(name)
}

func (EnvProvider) Label() string {
	return "process.env"
}

// Scopes are the variable layers visible to one request run.
type Scopes struct {
	Global      map[string]string
	Collection  map[string]string
	Environment map[string]string
	// Folder holds one map per ancestor folder, root first.
	Folder     []map[string]string
	Request    map[string]string
	OAuth2     map[string]string
	Runtime    map[string]string
	ProcessEnv map[string]string
}

// Resolver orders the layers runtime, oauth2, request, folders leaf first,
// environment, collection, global.
func (s Scopes) Resolver() *Resolver {
	providers := []Provider{
		NewMapProvider("runtime", s.Runtime),
		NewMapProvider("oauth2", s.OAuth2),
		NewMapProvider("request", s.Request),
	}
	for i := len(s.Folder) - 1; i >= 0; i-- {
		providers = append(providers, NewMapProvider("folder", s.Folder[i]))
	}
	providers = append(providers,
		NewMapProvider("environment", s.Environment),
		NewMapProvider("collection", s.Collection),
		NewMapProvider("global", s.Global),
	)
	r := NewResolver(providers...)
	if s.ProcessEnv != nil {
		r.SetProcessEnv(NewMapProvider("process.env", s.ProcessEnv))
	}
	return r
}

// Merged flattens the layers into one map with the same precedence as
// Resolver.
func (s Scopes) Merged() map[string]string {
	out := make(map[string]string)
	layers := []map[string]string{s.Global, s.Collection, s.Environment}
	layers = append(layers, s.Folder...)
	layers = append(layers, s.Request, s.OAuth2, s.Runtime)
	for _, layer := range layers {
		for k, v := range layer {
			out[k] = v
		}
	}
	return out
}
