package oauth

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestCredentialsExpired(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name  string
		creds Credentials
		want  bool
	}{
		{name: "no token", creds: Credentials{}, want: true},
		{name: "no expiry", creds: Credentials{AccessToken: "a", CreatedAt: now.Add(-time.Hour)}, want: false},
		{name: "no created at", creds: Credentials{AccessToken: "a", ExpiresIn: 10}, want: false},
		{name: "within lifetime", creds: Credentials{AccessToken: "a", ExpiresIn: 60, CreatedAt: now.Add(-30 * time.Second)}, want: false},
		{name: "past lifetime", creds: Credentials{AccessToken: "a", ExpiresIn: 60, CreatedAt: now.Add(-61 * time.Second)}, want: true},
	}
	for _, tc := range cases {
		if got := tc.creds.Expired(now); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestParseTokenResponseFormEncoded(t *testing.T) {
	t.Parallel()

	creds, err := parseTokenResponse([]byte("access_token=abc&token_type=mac&expires_in=3600.0&scope=read"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if creds.AccessToken != "abc" || creds.TokenType != "mac" || creds.ExpiresIn != 3600 || creds.Scope != "read" {
		t.Fatalf("unexpected credentials %+v", creds)
	}
	if creds.Raw["scope"] != "read" {
		t.Fatalf("raw fields should be kept, got %v", creds.Raw)
	}
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens", "oauth2.db")
	store, err := OpenSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	created := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	a := CacheKey{CollectionUID: "col", URL: "https://a/token", CredentialsID: "credentials"}
	b := CacheKey{CollectionUID: "col", URL: "https://b/token", CredentialsID: "svc"}
	other := CacheKey{CollectionUID: "other", URL: "https://a/token", CredentialsID: "credentials"}

	if err := store.Put(ctx, a, Credentials{AccessToken: "one", ExpiresIn: 10, CreatedAt: created}); err != nil {
		t.Fatalf("put a: %v", err)
	}
	if err := store.Put(ctx, a, Credentials{AccessToken: "two", CreatedAt: created}); err != nil {
		t.Fatalf("overwrite a: %v", err)
	}
	_ = store.Put(ctx, b, Credentials{AccessToken: "three"})
	_ = store.Put(ctx, other, Credentials{AccessToken: "four"})

	got, ok, err := store.Get(ctx, a)
	if err != nil || !ok {
		t.Fatalf("get a: ok=%v err=%v", ok, err)
	}
	if got.AccessToken != "two" || !got.CreatedAt.Equal(created) {
		t.Fatalf("unexpected entry %+v", got)
	}

	entries, err := store.List(ctx, "col")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries for col, got %d", len(entries))
	}

	if err := store.Delete(ctx, a); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, a); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if _, ok, _ := store.Get(ctx, a); ok {
		t.Fatalf("entry should be gone")
	}
	if _, ok, _ := store.Get(ctx, other); !ok {
		t.Fatalf("other collection entry must survive")
	}
}
