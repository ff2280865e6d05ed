package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func decodeProxy(t *testing.T, raw string) CollectionProxy {
	t.Helper()
	var p CollectionProxy
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return p
}

func TestResolveProxyPrecedence(t *testing.T) {
	t.Parallel()

	global := GlobalProxy{Mode: ProxyOn, ProxySpec: ProxySpec{Protocol: "http", Hostname: "global.proxy", Port: 8080}}

	cases := []struct {
		name     string
		raw      string
		global   GlobalProxy
		wantMode ProxyMode
		wantHost string
	}{
		{name: "collection false ignores app proxy", raw: `false`, global: global, wantMode: ProxyOff},
		{name: "collection object overrides", raw: `{"protocol":"http","hostname":"col.proxy","port":9000}`, global: global, wantMode: ProxyOn, wantHost: "col.proxy"},
		{name: "inherit uses app proxy", raw: `"inherit"`, global: global, wantMode: ProxyOn, wantHost: "global.proxy"},
		{name: "inherit with app off", raw: `"inherit"`, global: GlobalProxy{Mode: ProxyOff}, wantMode: ProxyOff},
		{name: "inherit with system", raw: `"inherit"`, global: GlobalProxy{Mode: ProxySystem}, wantMode: ProxySystem},
		{name: "legacy enabled true", raw: `{"enabled":true,"hostname":"legacy.proxy"}`, global: GlobalProxy{Mode: ProxyOff}, wantMode: ProxyOn, wantHost: "legacy.proxy"},
		{name: "legacy enabled global", raw: `{"enabled":"global","hostname":"ignored"}`, global: global, wantMode: ProxyOn, wantHost: "global.proxy"},
		{name: "legacy enabled false", raw: `{"enabled":false,"hostname":"ignored"}`, global: global, wantMode: ProxyOff},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			mode, spec := ResolveProxy(decodeProxy(t, tc.raw), tc.global)
			if mode != tc.wantMode {
				t.Fatalf("expected mode %q, got %q", tc.wantMode, mode)
			}
			if spec.Hostname != tc.wantHost {
				t.Fatalf("expected host %q, got %q", tc.wantHost, spec.Hostname)
			}
		})
	}
}

func TestCollectionProxyRoundTrip(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{`false`, `"inherit"`} {
		data, err := json.Marshal(decodeProxy(t, raw))
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(data) != raw {
			t.Fatalf("expected %s, got %s", raw, data)
		}
	}
}

func TestLoadCollectionConfig(t *testing.T) {
	dir := t.TempDir()
	body := `{
  "version": "1",
  "name": "billing",
  "proxy": false,
  "scripts": {"flow": "sequential"},
  "clientCertificates": {
    "enabled": true,
    "certs": [{"domain": "*.internal.example", "type": "pfx", "pfxFilePath": "certs/client.p12", "passphrase": "pw"}]
  }
}`
	if err := os.WriteFile(filepath.Join(dir, CollectionConfigFile), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadCollectionConfig(dir)
	if err != nil {
		t.Fatalf("LoadCollectionConfig: %v", err)
	}
	if cfg.ScriptFlow() != ScriptFlowSequential {
		t.Fatalf("expected sequential flow, got %q", cfg.ScriptFlow())
	}
	if mode, _ := ResolveProxy(cfg.Proxy, GlobalProxy{Mode: ProxySystem}); mode != ProxyOff {
		t.Fatalf("expected collection to disable proxy, got %q", mode)
	}
	if len(cfg.ClientCertificates.Certs) != 1 || cfg.ClientCertificates.Certs[0].Type != CertPFX {
		t.Fatalf("unexpected certs %+v", cfg.ClientCertificates)
	}

	missing, err := LoadCollectionConfig(t.TempDir())
	if err == nil {
		t.Fatalf("expected error for missing config")
	}
	if mode, _ := ResolveProxy(missing.Proxy, GlobalProxy{Mode: ProxySystem}); mode != ProxySystem {
		t.Fatalf("missing config should inherit app proxy, got %q", mode)
	}
}
