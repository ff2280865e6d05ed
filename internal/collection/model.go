package collection

import (
	"sort"
	"strings"

	"github.com/unkn0wn-root/reqflow/internal/config"
)

type RequestType string

const (
	TypeHTTP    RequestType = "http"
	TypeGraphQL RequestType = "graphql"
	TypeGRPC    RequestType = "grpc"
	TypeWS      RequestType = "ws"
)

type KeyValue struct {
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
	Enabled bool   `yaml:"enabled"`
}

type BodyMode string

const (
	BodyNone           BodyMode = "none"
	BodyJSON           BodyMode = "json"
	BodyText           BodyMode = "text"
	BodyXML            BodyMode = "xml"
	BodyFormURLEncoded BodyMode = "formUrlEncoded"
	BodyMultipartForm  BodyMode = "multipartForm"
	BodyGraphQL        BodyMode = "graphql"
	BodyFile           BodyMode = "file"
	BodyWS             BodyMode = "ws"
)

type GraphQLBody struct {
	Query     string `yaml:"query"`
	Variables string `yaml:"variables,omitempty"`
}

type MultipartField struct {
	Name    string `yaml:"name"`
	Value   string `yaml:"value"`
	File    bool   `yaml:"file,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

type WSMessage struct {
	Name    string `yaml:"name,omitempty"`
	Type    string `yaml:"type,omitempty"`
	Content string `yaml:"content"`
}

type Body struct {
	Mode           BodyMode         `yaml:"mode"`
	JSON           string           `yaml:"json,omitempty"`
	Text           string           `yaml:"text,omitempty"`
	XML            string           `yaml:"xml,omitempty"`
	FormURLEncoded []KeyValue       `yaml:"formUrlEncoded,omitempty"`
	MultipartForm  []MultipartField `yaml:"multipartForm,omitempty"`
	GraphQL        *GraphQLBody     `yaml:"graphql,omitempty"`
	File           string           `yaml:"file,omitempty"`
	WS             []WSMessage      `yaml:"ws,omitempty"`
}

type Script struct {
	Req string `yaml:"req,omitempty"`
	Res string `yaml:"res,omitempty"`
}

type Vars struct {
	Req []KeyValue `yaml:"req,omitempty"`
	Res []KeyValue `yaml:"res,omitempty"`
}

type Settings struct {
	TimeoutMS    int   `yaml:"timeout,omitempty"`
	MaxRedirects *int  `yaml:"maxRedirects,omitempty"`
	EncodeURL    *bool `yaml:"encodeUrl,omitempty"`
}

type Request struct {
	UID        string      `yaml:"uid"`
	Name       string      `yaml:"name"`
	Seq        int         `yaml:"seq"`
	Type       RequestType `yaml:"type"`
	Method     string      `yaml:"method"`
	URL        string      `yaml:"url"`
	Headers    []KeyValue  `yaml:"headers,omitempty"`
	Params     []KeyValue  `yaml:"params,omitempty"`
	Body       Body        `yaml:"body"`
	Auth       AuthConfig  `yaml:"auth"`
	Script     Script      `yaml:"script,omitempty"`
	Vars       Vars        `yaml:"vars,omitempty"`
	Assertions []KeyValue  `yaml:"assertions,omitempty"`
	Tests      string      `yaml:"tests,omitempty"`
	Settings   Settings    `yaml:"settings,omitempty"`
}

// NodeRequest is what a folder or collection root contributes to the requests beneath it.
type NodeRequest struct {
	Auth    *AuthConfig `yaml:"auth,omitempty"`
	Headers []KeyValue  `yaml:"headers,omitempty"`
	Vars    Vars        `yaml:"vars,omitempty"`
	Script  Script      `yaml:"script,omitempty"`
	Tests   string      `yaml:"tests,omitempty"`
}

type NodeRoot struct {
	Request NodeRequest `yaml:"request,omitempty"`
}

type Folder struct {
	UID   string   `yaml:"uid"`
	Name  string   `yaml:"name"`
	Seq   int      `yaml:"seq"`
	Root  NodeRoot `yaml:"root,omitempty"`
	Items []*Item  `yaml:"items,omitempty"`
}

// Item holds exactly one of Folder or Request.
type Item struct {
	Folder  *Folder  `yaml:"folder,omitempty"`
	Request *Request `yaml:"request,omitempty"`
	Draft   *Request `yaml:"-"`
}

func (i *Item) UID() string {
	switch {
	case i == nil:
		return ""
	case i.Folder != nil:
		return i.Folder.UID
	case i.Request != nil:
		return i.Request.UID
	default:
		return ""
	}
}

func (i *Item) Seq() int {
	switch {
	case i == nil:
		return 0
	case i.Folder != nil:
		return i.Folder.Seq
	case i.Request != nil:
		return i.Request.Seq
	default:
		return 0
	}
}

// Effective returns the draft when one is held, else the committed request.
func (i *Item) Effective() *Request {
	if i == nil {
		return nil
	}
	if i.Draft != nil {
		return i.Draft
	}
	return i.Request
}

type Collection struct {
	UID   string   `yaml:"uid"`
	Name  string   `yaml:"name"`
	Path  string   `yaml:"-"`
	Root  NodeRoot `yaml:"root,omitempty"`
	Items []*Item  `yaml:"items,omitempty"`

	Config config.CollectionConfig `yaml:"-"`

	// Environment selected for runs; nil means none.
	Environment *Environment `yaml:"-"`
	Globals     []KeyValue   `yaml:"-"`
}

type Environment struct {
	Name      string     `yaml:"name"`
	Variables []KeyValue `yaml:"variables"`
}

// RootAuth is the collection-level auth, none when undeclared.
func (c *Collection) RootAuth() AuthConfig {
	if c == nil || c.Root.Request.Auth == nil {
		return None()
	}
	return *c.Root.Request.Auth
}

func (f *Folder) OwnAuth() (AuthConfig, bool) {
	if f == nil || f.Root.Request.Auth == nil || f.Root.Request.Auth.Mode == "" {
		return AuthConfig{}, false
	}
	return *f.Root.Request.Auth, true
}

func sortItems(items []*Item) []*Item {
	out := make([]*Item, 0, len(items))
	for _, it := range items {
		if it != nil {
			out = append(out, it)
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Seq() < out[b].Seq()
	})
	return out
}

func EnabledPairs(kvs []KeyValue) []KeyValue {
	out := make([]KeyValue, 0, len(kvs))
	for _, kv := range kvs {
		if kv.Enabled && strings.TrimSpace(kv.Name) != "" {
			out = append(out, kv)
		}
	}
	return out
}
