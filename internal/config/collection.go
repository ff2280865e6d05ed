package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

const CollectionConfigFile = "bruno.json"

type ScriptFlow string

const (
	ScriptFlowSandwich   ScriptFlow = "sandwich"
	ScriptFlowSequential ScriptFlow = "sequential"
)

type CertType string

const (
	CertPEM CertType = "cert"
	CertPFX CertType = "pfx"
)

// ClientCert is selected when Domain, a pattern where * matches anything,
// matches the request host.
type ClientCert struct {
	Domain       string   `json:"domain"`
	Type         CertType `json:"type,omitempty"`
	CertFilePath string   `json:"certFilePath,omitempty"`
	KeyFilePath  string   `json:"keyFilePath,omitempty"`
	PFXFilePath  string   `json:"pfxFilePath,omitempty"`
	Passphrase   string   `json:"passphrase,omitempty"`
}

type ClientCertificates struct {
	Enabled bool         `json:"enabled"`
	Certs   []ClientCert `json:"certs"`
}

type ScriptsConfig struct {
	Flow ScriptFlow `json:"flow,omitempty"`
}

// CollectionConfig is the per-collection bruno.json.
type CollectionConfig struct {
	Version            string             `json:"version,omitempty"`
	Name               string             `json:"name,omitempty"`
	Proxy              CollectionProxy    `json:"proxy"`
	ClientCertificates ClientCertificates `json:"clientCertificates"`
	Scripts            ScriptsConfig      `json:"scripts"`
}

func (c CollectionConfig) ScriptFlow() ScriptFlow {
	if c.Scripts.Flow == ScriptFlowSequential {
		return ScriptFlowSequential
	}
	return ScriptFlowSandwich
}

// LoadCollectionConfig returns an inheriting default when the file is absent
// and wraps fs.ErrNotExist so callers can tell.
func LoadCollectionConfig(dir string) (CollectionConfig, error) {
	path := filepath.Join(dir, CollectionConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return CollectionConfig{Proxy: InheritProxy()}, fmt.Errorf("read %s: %w", path, err)
	}
	cfg := CollectionConfig{Proxy: InheritProxy()}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return CollectionConfig{Proxy: InheritProxy()}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}
