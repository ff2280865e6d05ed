package execute

import (
	"net/http"
	"strings"

	"github.com/unkn0wn-root/reqflow/internal/collection"
	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/scripts"
	"github.com/unkn0wn-root/reqflow/internal/vars"
)

// lineage is the chain of nodes a request inherits from: the collection
// root, its folders root first, then the request itself.
type lineage struct {
	col     *collection.Collection
	folders []*collection.Folder
	req     *collection.Request
}

func (l lineage) nodes() []collection.NodeRequest {
	out := make([]collection.NodeRequest, 0, len(l.folders)+1)
	out = append(out, l.col.Root.Request)
	for _, f := range l.folders {
		out = append(out, f.Root.Request)
	}
	return out
}

// headers merges enabled headers root first so the request wins. Repeated
// names within one node are all kept; a deeper node that names a header
// replaces every value inherited for it.
func (l lineage) headers() http.Header {
	h := make(http.Header)
	for _, node := range l.nodes() {
		mergeHeaders(h, node.Headers)
	}
	mergeHeaders(h, l.req.Headers)
	return h
}

func mergeHeaders(h http.Header, kvs []collection.KeyValue) {
	own := make(map[string]bool)
	for _, kv := range collection.EnabledPairs(kvs) {
		name := http.CanonicalHeaderKey(kv.Name)
		if !own[name] {
			h.Del(name)
			own[name] = true
		}
		h.Add(name, kv.Value)
	}
}

type phase int

const (
	phasePre phase = iota
	phasePost
	phaseTests
)

// script joins the sources of one phase. Pre-request always runs root to
// leaf. The sandwich flow runs post-response and tests leaf to root;
// sequential keeps root to leaf.
func (l lineage) script(p phase, flow config.ScriptFlow) string {
	var parts []string
	for _, node := range l.nodes() {
		parts = append(parts, nodeSource(node.Script, node.Tests, p))
	}
	parts = append(parts, nodeSource(l.req.Script, l.req.Tests, p))

	if p != phasePre && flow != config.ScriptFlowSequential {
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
	}

	var b strings.Builder
	for _, src := range parts {
		if strings.TrimSpace(src) == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(src)
	}
	return b.String()
}

func nodeSource(s collection.Script, tests string, p phase) string {
	switch p {
	case phasePre:
		return s.Req
	case phasePost:
		return s.Res
	default:
		return tests
	}
}

// postVars collects vars.res pairs root first. A later definition of the
// same name replaces an earlier one in place.
func (l lineage) postVars() []scripts.Pair {
	var out []scripts.Pair
	index := make(map[string]int)
	add := func(kvs []collection.KeyValue) {
		for _, kv := range collection.EnabledPairs(kvs) {
			if i, ok := index[kv.Name]; ok {
				out[i].Value = kv.Value
				continue
			}
			index[kv.Name] = len(out)
			out = append(out, scripts.Pair{Name: kv.Name, Value: kv.Value})
		}
	}
	for _, node := range l.nodes() {
		add(node.Vars.Res)
	}
	add(l.req.Vars.Res)
	return out
}

func (l lineage) assertions() []scripts.Pair {
	var out []scripts.Pair
	for _, kv := range collection.EnabledPairs(l.req.Assertions) {
		out = append(out, scripts.Pair{Name: kv.Name, Value: kv.Value})
	}
	return out
}

func pairMap(kvs []collection.KeyValue) map[string]string {
	out := make(map[string]string)
	for _, kv := range collection.EnabledPairs(kvs) {
		out[kv.Name] = kv.Value
	}
	return out
}

// variables is the mutable variable state of one run. Scripts replace the
// env, runtime and global maps wholesale.
type variables struct {
	env     map[string]string
	runtime map[string]string
	global  map[string]string
	process map[string]string
	oauth2  map[string]string
}

func newVariables(col *collection.Collection, in RunInput) *variables {
	v := &variables{
		env:     in.EnvVars,
		runtime: copyMap(in.RuntimeVars),
		global:  in.GlobalVars,
		process: in.ProcessEnv,
	}
	if v.env == nil {
		v.env = map[string]string{}
		if col.Environment != nil {
			v.env = pairMap(col.Environment.Variables)
		}
	} else {
		v.env = copyMap(v.env)
	}
	if v.global == nil {
		v.global = pairMap(col.Globals)
	} else {
		v.global = copyMap(v.global)
	}
	return v
}

func (v *variables) absorb(out *scripts.Output) {
	if out == nil {
		return
	}
	if out.EnvVars != nil {
		v.env = out.EnvVars
	}
	if out.RuntimeVars != nil {
		v.runtime = out.RuntimeVars
	}
	if out.GlobalVars != nil {
		v.global = out.GlobalVars
	}
}

func (v *variables) scopes(l lineage) vars.Scopes {
	s := vars.Scopes{
		Global:      v.global,
		Collection:  pairMap(l.col.Root.Request.Vars.Req),
		Environment: v.env,
		Request:     pairMap(l.req.Vars.Req),
		OAuth2:      v.oauth2,
		Runtime:     v.runtime,
		ProcessEnv:  v.process,
	}
	for _, f := range l.folders {
		s.Folder = append(s.Folder, pairMap(f.Root.Request.Vars.Req))
	}
	return s
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
