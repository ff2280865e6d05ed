package auth

import "github.com/unkn0wn-root/reqflow/internal/collection"

type Source string

const (
	SourceCollection Source = "collection"
	SourceFolder     Source = "folder"
	SourceRequest    Source = "request"
)

// Effective is the auth a node actually runs with and where it came from.
type Effective struct {
	Source Source
	UID    string
	Name   string
	Auth   collection.AuthConfig
}

// ResolveEffective walks path from the nearest folder up and returns the first
// folder declaring an explicit mode. Without one the collection root wins,
// whatever its mode.
func ResolveEffective(col *collection.Collection, path []*collection.Folder) Effective {
	for i := len(path) - 1; i >= 0; i-- {
		f := path[i]
		own, ok := f.OwnAuth()
		if !ok || !own.Mode.Explicit() {
			continue
		}
		return Effective{Source: SourceFolder, UID: f.UID, Name: f.Name, Auth: own.Clone()}
	}

	eff := Effective{Source: SourceCollection, Auth: col.RootAuth().Clone()}
	if col != nil {
		eff.UID = col.UID
		eff.Name = col.Name
	}
	if eff.Auth.Mode == "" {
		eff.Auth.Mode = collection.AuthNone
	}
	return eff
}

// EffectiveForRequest returns the request's own auth unless it inherits.
// Items outside the tree resolve against the collection root only.
func EffectiveForRequest(col *collection.Collection, item *collection.Item) Effective {
	req := item.Effective()
	if req == nil {
		return ResolveEffective(col, nil)
	}
	if req.Auth.Mode != collection.AuthInherit {
		a := req.Auth.Clone()
		if a.Mode == "" {
			a.Mode = collection.AuthNone
		}
		return Effective{Source: SourceRequest, UID: req.UID, Name: req.Name, Auth: a}
	}
	path, _ := collection.TreePath(col, req.UID)
	return ResolveEffective(col, path)
}
