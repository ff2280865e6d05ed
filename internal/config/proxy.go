package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type ProxyMode string

const (
	ProxyOff    ProxyMode = "off"
	ProxyOn     ProxyMode = "on"
	ProxySystem ProxyMode = "system"
)

type ProxyAuth struct {
	Enabled  bool   `json:"enabled"  toml:"enabled"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
}

// ProxySpec describes an explicit proxy server.
type ProxySpec struct {
	Protocol    string    `json:"protocol"              toml:"protocol"`
	Hostname    string    `json:"hostname"              toml:"hostname"`
	Port        int       `json:"port,omitempty"        toml:"port,omitempty"`
	Auth        ProxyAuth `json:"auth"                  toml:"auth"`
	BypassProxy string    `json:"bypassProxy,omitempty" toml:"bypass_proxy,omitempty"`
}

func (p ProxySpec) Empty() bool {
	return strings.TrimSpace(p.Hostname) == ""
}

// GlobalProxy is the app-level proxy preference.
type GlobalProxy struct {
	Mode ProxyMode `json:"mode" toml:"mode"`
	ProxySpec
}

type collectionProxyKind int

const (
	collectionProxyInherit collectionProxyKind = iota
	collectionProxyOff
	collectionProxyOn
)

// CollectionProxy is the proxy entry of a collection config. It accepts
// false, "inherit", an object, or the older shape with an enabled field set
// to true, false or "global".
type CollectionProxy struct {
	kind collectionProxyKind
	Spec ProxySpec
}

func InheritProxy() CollectionProxy { return CollectionProxy{kind: collectionProxyInherit} }
func DisabledProxy() CollectionProxy { return CollectionProxy{kind: collectionProxyOff} }
func ExplicitProxy(s ProxySpec) CollectionProxy { return CollectionProxy{kind: collectionProxyOn, Spec: s} }

func (p *CollectionProxy) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		*p = InheritProxy()
		return nil
	case bytes.Equal(trimmed, []byte("false")):
		*p = DisabledProxy()
		return nil
	case bytes.Equal(trimmed, []byte("true")):
		*p = InheritProxy()
		return nil
	case trimmed[0] == '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "inherit", "global", "":
			*p = InheritProxy()
			return nil
		case "false", "off":
			*p = DisabledProxy()
			return nil
		default:
			return fmt.Errorf("unsupported proxy value %q", s)
		}
	case trimmed[0] == '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return err
		}
		var spec ProxySpec
		if err := json.Unmarshal(trimmed, &spec); err != nil {
			return err
		}
		enabled, ok := raw["enabled"]
		if !ok {
			*p = ExplicitProxy(spec)
			return nil
		}
		switch strings.Trim(string(bytes.TrimSpace(enabled)), `"`) {
		case "true":
			*p = ExplicitProxy(spec)
		case "global":
			*p = CollectionProxy{kind: collectionProxyInherit, Spec: spec}
		default:
			*p = CollectionProxy{kind: collectionProxyOff, Spec: spec}
		}
		return nil
	default:
		return fmt.Errorf("unsupported proxy value %s", trimmed)
	}
}

func (p CollectionProxy) MarshalJSON() ([]byte, error) {
	switch p.kind {
	case collectionProxyOff:
		return []byte("false"), nil
	case collectionProxyOn:
		return json.Marshal(p.Spec)
	default:
		return []byte(`"inherit"`), nil
	}
}

// ResolveProxy applies collection-over-app precedence: a disabled collection
// proxy ignores the app setting, an explicit one overrides it and inherit
// defers to it.
func ResolveProxy(col CollectionProxy, global GlobalProxy) (ProxyMode, ProxySpec) {
	switch col.kind {
	case collectionProxyOff:
		return ProxyOff, ProxySpec{}
	case collectionProxyOn:
		return ProxyOn, col.Spec
	}
	switch global.Mode {
	case ProxyOn:
		if global.Empty() {
			return ProxyOff, ProxySpec{}
		}
		return ProxyOn, global.ProxySpec
	case ProxySystem:
		return ProxySystem, ProxySpec{}
	default:
		return ProxyOff, ProxySpec{}
	}
}
