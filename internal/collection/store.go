package collection

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

const (
	FileName        = "collection.yml"
	EnvironmentsDir = "environments"
)

// Store loads and saves collections. Callers persist auth coercions through it.
type Store interface {
	Load(dir string) (*Collection, error)
	Save(c *Collection) error
}

type YAMLStore struct{}

func (YAMLStore) Load(dir string) (*Collection, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read collection %s", path)
	}

	var col Collection
	if err := yaml.Unmarshal(data, &col); err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "parse collection %s", path)
	}
	col.Path = dir
	normalizeTree(&col)

	cfg, err := config.LoadCollectionConfig(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	col.Config = cfg
	return &col, nil
}

func (YAMLStore) Save(c *Collection) error {
	if c == nil || c.Path == "" {
		return errdef.New(errdef.CodeFilesystem, "collection has no path")
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return errdef.Wrap(errdef.CodeParse, err, "encode collection")
	}
	if err := enc.Close(); err != nil {
		return errdef.Wrap(errdef.CodeParse, err, "encode collection")
	}
	path := filepath.Join(c.Path, FileName)
	if err := config.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
		return errdef.Wrap(errdef.CodeFilesystem, err, "write collection %s", path)
	}
	return nil
}

// LoadEnvironment reads environments/<name>.yml under dir.
func LoadEnvironment(dir, name string) (*Environment, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.ContainsAny(name, `/\`) {
		return nil, errdef.New(errdef.CodeConfig, "invalid environment name %q", name)
	}
	path := filepath.Join(dir, EnvironmentsDir, name+".yml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read environment %s", path)
	}
	var env Environment
	if err := yaml.Unmarshal(data, &env); err != nil {
		return nil, errdef.Wrap(errdef.CodeParse, err, "parse environment %s", path)
	}
	if env.Name == "" {
		env.Name = name
	}
	return &env, nil
}

func normalizeTree(c *Collection) {
	if c.Root.Request.Auth != nil {
		c.Root.Request.Auth.Normalize()
	}
	var walk func(items []*Item)
	walk = func(items []*Item) {
		for _, it := range items {
			switch {
			case it == nil:
			case it.Folder != nil:
				if it.Folder.Root.Request.Auth != nil {
					it.Folder.Root.Request.Auth.Normalize()
				}
				walk(it.Folder.Items)
			case it.Request != nil:
				it.Request.Auth.Normalize()
				if it.Request.Type == "" {
					it.Request.Type = TypeHTTP
				}
			}
		}
	}
	walk(c.Items)
}
