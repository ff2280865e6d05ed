package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unkn0wn-root/reqflow/internal/oauth"
)

const collectionYAML = `uid: col-cli
name: cli demo
items:
  - request:
      uid: r1
      name: whoami
      seq: 1
      type: http
      method: GET
      url: "{{base}}/whoami"
      headers:
        - name: Authorization
          value: "Bearer {{process.env.CLI_TOKEN}}"
          enabled: true
      auth:
        mode: inherit
      assertions:
        - name: res.status
          value: eq 200
          enabled: true
`

func writeCollection(t *testing.T, base string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"collection.yml":       collectionYAML,
		".env":                 "CLI_TOKEN=s3cr3t\n",
		"environments/dev.yml": "variables:\n  - name: base\n    value: " + base + "\n    enabled: true\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	return dir
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommandEndToEnd(t *testing.T) {
	t.Setenv("REQFLOW_CONFIG_DIR", t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer s3cr3t" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"user":"ada"}`))
	}))
	defer srv.Close()
	dir := writeCollection(t, srv.URL)

	out, err := runCLI(t, "run", dir, "--env", "dev")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 requests: 1 passed, 0 failed, 0 errored, 0 skipped") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
	if !strings.Contains(out, "✓ assert res.status") {
		t.Fatalf("expected assertion line:\n%s", out)
	}

	out, err = runCLI(t, "history", dir)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !strings.Contains(out, "whoami") || !strings.Contains(out, "200") {
		t.Fatalf("expected recorded run in history:\n%s", out)
	}

	out, err = runCLI(t, "oauth2", "clear", dir)
	if err != nil {
		t.Fatalf("oauth2 clear: %v", err)
	}
	if !strings.Contains(out, "cleared 0 credential(s) for cli demo") {
		t.Fatalf("unexpected clear output: %q", out)
	}
}

func TestOAuthClearSingleEntry(t *testing.T) {
	cfgDir := t.TempDir()
	t.Setenv("REQFLOW_CONFIG_DIR", cfgDir)
	dir := writeCollection(t, "http://127.0.0.1:1")

	ctx := context.Background()
	store, err := oauth.OpenSQLiteStore(ctx, filepath.Join(cfgDir, oauthStoreFile))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	keep := oauth.CacheKey{CollectionUID: "col-cli", URL: "https://idp.test/token", CredentialsID: "credentials"}
	drop := oauth.CacheKey{CollectionUID: "col-cli", URL: "https://idp.test/token", CredentialsID: "admin"}
	for _, key := range []oauth.CacheKey{keep, drop} {
		if err := store.Put(ctx, key, oauth.Credentials{AccessToken: "t-" + key.CredentialsID, CreatedAt: time.Now()}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	out, err := runCLI(t, "oauth2", "clear", dir, "--url", drop.URL, "--credentials-id", "admin")
	if err != nil {
		t.Fatalf("oauth2 clear: %v", err)
	}
	if !strings.Contains(out, "cleared admin credential for https://idp.test/token") {
		t.Fatalf("unexpected clear output: %q", out)
	}

	out, err = runCLI(t, "oauth2", "list", dir)
	if err != nil {
		t.Fatalf("oauth2 list: %v", err)
	}
	if strings.Contains(out, "admin") || !strings.Contains(out, "credentials") || !strings.Contains(out, keep.URL) {
		t.Fatalf("expected only the default entry to remain:\n%s", out)
	}

	if _, err := runCLI(t, "oauth2", "clear", dir, "--credentials-id", "admin"); err == nil {
		t.Fatalf("expected --credentials-id without --url to fail")
	}
}

func TestRunCommandReportsFailures(t *testing.T) {
	t.Setenv("REQFLOW_CONFIG_DIR", t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	dir := writeCollection(t, srv.URL)

	out, err := runCLI(t, "run", dir, "--env", "dev", "--no-history")
	if err != errChecksFailed {
		t.Fatalf("expected failed checks, got %v\n%s", err, out)
	}
	if !strings.Contains(out, "✗ assert res.status") {
		t.Fatalf("expected failing assertion line:\n%s", out)
	}
}

func TestRunCommandUnknownFolder(t *testing.T) {
	t.Setenv("REQFLOW_CONFIG_DIR", t.TempDir())

	dir := writeCollection(t, "http://127.0.0.1:1")
	_, err := runCLI(t, "run", dir, "--folder", "missing")
	if err == nil || !strings.Contains(err.Error(), `folder "missing" not found`) {
		t.Fatalf("expected folder error, got %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	t.Setenv("REQFLOW_CONFIG_DIR", t.TempDir())

	out, err := runCLI(t, "version")
	if err != nil || !strings.HasPrefix(out, "reqflow dev") {
		t.Fatalf("unexpected version output %q (%v)", out, err)
	}
}
