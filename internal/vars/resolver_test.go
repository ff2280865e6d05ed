package vars

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExpandTemplatesLeavesUnknownNames(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(NewMapProvider("env", map[string]string{
		"host":  "http://localhost:8080",
		"token": "abc123",
	}))

	got := resolver.ExpandTemplates("{{host}}/api?token={{ token }}&x={{missing}}")
	want := "http://localhost:8080/api?token=abc123&x={{missing}}"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	missing := resolver.Unresolved("{{missing}} {{token}} {{missing}}")
	if len(missing) != 1 || missing[0] != "missing" {
		t.Fatalf("unexpected unresolved %v", missing)
	}
}

func TestScopesPrecedence(t *testing.T) {
	t.Parallel()

	scopes := Scopes{
		Global:      map[string]string{"a": "global", "b": "global", "c": "global", "d": "global", "e": "global", "f": "global", "g": "global"},
		Collection:  map[string]string{"b": "collection", "c": "collection", "d": "collection", "e": "collection", "f": "collection", "g": "collection"},
		Environment: map[string]string{"c": "env", "d": "env", "e": "env", "f": "env", "g": "env"},
		Folder: []map[string]string{
			{"d": "outer", "e": "outer", "f": "outer", "g": "outer"},
			{"d": "inner"},
		},
		Request: map[string]string{"e": "request", "f": "request", "g": "request"},
		OAuth2:  map[string]string{"f": "oauth2", "g": "oauth2"},
		Runtime: map[string]string{"g": "runtime"},
	}

	want := map[string]string{
		"a": "global",
		"b": "collection",
		"c": "env",
		"d": "inner",
		"e": "request",
		"f": "oauth2",
		"g": "runtime",
	}
	resolver := scopes.Resolver()
	merged := scopes.Merged()
	for name, expected := range want {
		if got, _ := resolver.Resolve(name); got != expected {
			t.Fatalf("resolve %s: expected %q, got %q", name, expected, got)
		}
		if merged[name] != expected {
			t.Fatalf("merged %s: expected %q, got %q", name, expected, merged[name])
		}
	}
}

func TestProcessEnvLookup(t *testing.T) {
	t.Parallel()

	scopes := Scopes{ProcessEnv: map[string]string{"API_KEY": "from-dotenv"}}
	got := scopes.Resolver().ExpandTemplates("key={{process.env.API_KEY}}")
	if got != "key=from-dotenv" {
		t.Fatalf("unexpected expansion %q", got)
	}
}

func TestNestedTemplates(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(NewMapProvider("env", map[string]string{
		"base":   "{{scheme}}://api.example.com",
		"scheme": "https",
		"loop":   "{{loop}}",
	}))
	if got := resolver.ExpandTemplates("{{base}}/v1"); got != "https://api.example.com/v1" {
		t.Fatalf("unexpected nested expansion %q", got)
	}
	if got := resolver.ExpandTemplates("{{loop}}"); got != "{{loop}}" {
		t.Fatalf("self reference should stay intact, got %q", got)
	}
}

func TestDynamicVariables(t *testing.T) {
	t.Parallel()

	resolver := NewResolver()
	resolver.now = func() time.Time { return time.Unix(1700000000, 0) }

	if got := resolver.ExpandTemplates("{{$timestamp}}"); got != "1700000000" {
		t.Fatalf("unexpected timestamp %q", got)
	}
	if got := resolver.ExpandTemplates("{{$isoTimestamp}}"); got != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected iso timestamp %q", got)
	}
	for _, input := range []string{"{{$uuid}}", "{{ $GUID }}"} {
		got := resolver.ExpandTemplates(input)
		if len(got) != 36 {
			t.Fatalf("expected uuid for %s, got %q", input, got)
		}
	}
	if got := resolver.ExpandTemplates("{{$randomInt}}"); got == "{{$randomInt}}" {
		t.Fatalf("expected random int to expand")
	}
}

func TestDynamicCanBeShadowedByScopes(t *testing.T) {
	t.Parallel()

	resolver := Scopes{Runtime: map[string]string{"$timestamp": "shadowed"}}.Resolver()
	if got := resolver.ExpandTemplates("{{$timestamp}}"); got != "shadowed" {
		t.Fatalf("expected scope value, got %q", got)
	}
}

func TestExpandJSONEscapesInsideStrings(t *testing.T) {
	t.Parallel()

	resolver := NewResolver(NewMapProvider("env", map[string]string{
		"name":  `Jane "JJ" Doe`,
		"limit": "10",
		"tags":  `["a","b"]`,
	}))

	out := resolver.ExpandJSON(`{"name":"{{name}}","limit":{{limit}},"tags":{{tags}},"raw":"\"{{limit}}\""}`)
	var decoded map[string]any
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("expanded document is not valid json: %v\n%s", err, out)
	}
	if decoded["name"] != `Jane "JJ" Doe` {
		t.Fatalf("unexpected name %v", decoded["name"])
	}
	if decoded["limit"] != float64(10) {
		t.Fatalf("unexpected limit %v", decoded["limit"])
	}
	if tags, ok := decoded["tags"].([]any); !ok || len(tags) != 2 {
		t.Fatalf("unexpected tags %v", decoded["tags"])
	}
	if decoded["raw"] != `"10"` {
		t.Fatalf("unexpected raw %v", decoded["raw"])
	}
}

func TestLoadDotEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	content := "API_KEY=secret\n# comment\nQUOTED=\"two words\"\n"
	if err := os.WriteFile(filepath.Join(dir, DotEnvFile), []byte(content), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	values, err := LoadDotEnv(dir)
	if err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if values["API_KEY"] != "secret" || values["QUOTED"] != "two words" {
		t.Fatalf("unexpected values %v", values)
	}

	empty, err := LoadDotEnv(t.TempDir())
	if err != nil {
		t.Fatalf("missing .env should not fail: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected no values, got %v", empty)
	}

	env := ProcessEnv(values)
	if env["API_KEY"] != "secret" {
		t.Fatalf("dotenv values should be visible in process env")
	}
}
