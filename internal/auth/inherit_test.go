package auth

import (
	"testing"

	"github.com/unkn0wn-root/reqflow/internal/collection"
)

func folderWith(uid string, a *collection.AuthConfig, items ...*collection.Item) *collection.Item {
	return &collection.Item{Folder: &collection.Folder{
		UID:   uid,
		Name:  uid,
		Root:  collection.NodeRoot{Request: collection.NodeRequest{Auth: a}},
		Items: items,
	}}
}

func requestWith(uid string, a collection.AuthConfig) *collection.Item {
	return &collection.Item{Request: &collection.Request{UID: uid, Name: uid, Auth: a}}
}

func bearer(token string) *collection.AuthConfig {
	return &collection.AuthConfig{Mode: collection.AuthBearer, Bearer: &collection.BearerAuth{Token: token}}
}

func inherit() collection.AuthConfig {
	return collection.AuthConfig{Mode: collection.AuthInherit}
}

func TestResolveSkipsNoneAndInheritFolders(t *testing.T) {
	t.Parallel()
	none := collection.None()
	col := &collection.Collection{
		UID: "c",
		Items: []*collection.Item{
			folderWith("A", bearer("folder-a"),
				folderWith("B", &none, requestWith("r", inherit())),
			),
		},
	}

	eff := EffectiveForRequest(col, collection.FindItem(col, "r"))
	if eff.Source != SourceFolder || eff.Name != "A" {
		t.Fatalf("expected folder A to win, got %+v", eff)
	}
	if eff.Auth.Bearer == nil || eff.Auth.Bearer.Token != "folder-a" {
		t.Fatalf("unexpected auth %+v", eff.Auth)
	}
}

func TestResolveNearestExplicitWins(t *testing.T) {
	t.Parallel()
	col := &collection.Collection{Root: collection.NodeRoot{Request: collection.NodeRequest{Auth: bearer("root")}}}
	path := []*collection.Folder{
		{UID: "outer", Name: "outer", Root: collection.NodeRoot{Request: collection.NodeRequest{Auth: bearer("outer")}}},
		{UID: "inner", Name: "inner", Root: collection.NodeRoot{Request: collection.NodeRequest{Auth: bearer("inner")}}},
	}
	eff := ResolveEffective(col, path)
	if eff.Name != "inner" || eff.Auth.Bearer.Token != "inner" {
		t.Fatalf("expected inner folder, got %+v", eff)
	}
}

func TestResolveFallsBackToCollectionNone(t *testing.T) {
	t.Parallel()
	inh := inherit()
	none := collection.None()
	cases := []struct {
		name string
		path []*collection.Folder
	}{
		{name: "empty path"},
		{name: "inherit and none folders", path: []*collection.Folder{
			{Name: "a", Root: collection.NodeRoot{Request: collection.NodeRequest{Auth: &inh}}},
			{Name: "b", Root: collection.NodeRoot{Request: collection.NodeRequest{Auth: &none}}},
			{Name: "c"},
		}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			eff := ResolveEffective(&collection.Collection{Name: "col"}, tc.path)
			if eff.Source != SourceCollection || eff.Auth.Mode != collection.AuthNone {
				t.Fatalf("expected collection none, got %+v", eff)
			}
			if eff.Name != "col" {
				t.Fatalf("expected collection name, got %q", eff.Name)
			}
		})
	}
}

func TestResolveReturnsRootAuthEvenWhenNone(t *testing.T) {
	t.Parallel()
	basic := &collection.AuthConfig{Mode: collection.AuthBasic, Basic: &collection.BasicAuth{Username: "u", Password: "p"}}
	col := &collection.Collection{Root: collection.NodeRoot{Request: collection.NodeRequest{Auth: basic}}}
	eff := ResolveEffective(col, nil)
	if eff.Auth.Mode != collection.AuthBasic {
		t.Fatalf("expected root basic auth, got %q", eff.Auth.Mode)
	}
	eff.Auth.Basic.Username = "changed"
	if basic.Basic.Username != "u" {
		t.Fatalf("resolved auth aliases stored config")
	}
}

func TestEffectiveForRequestOwnAuth(t *testing.T) {
	t.Parallel()
	col := &collection.Collection{
		Root:  collection.NodeRoot{Request: collection.NodeRequest{Auth: bearer("root")}},
		Items: []*collection.Item{requestWith("r", *bearer("own"))},
	}
	eff := EffectiveForRequest(col, col.Items[0])
	if eff.Source != SourceRequest || eff.Auth.Bearer.Token != "own" {
		t.Fatalf("expected request auth, got %+v", eff)
	}
}
