package httpclient

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"golang.org/x/crypto/pkcs12"

	"github.com/unkn0wn-root/reqflow/internal/config"
	"github.com/unkn0wn-root/reqflow/internal/errdef"
)

// TLSConfig builds the TLS settings for a connection to host, presenting only
// the client certificates whose domain pattern matches it.
func TLSConfig(opts Options, host string) (*tls.Config, error) {
	opts.ClientCerts = MatchClientCerts(opts.ClientCerts, host)
	return buildTLS(opts)
}

func buildTLS(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify, //nolint:gosec // user preference
	}

	if path := strings.TrimSpace(opts.CACertFile); path != "" {
		pool, err := loadRootCAs(resolvePath(opts.BaseDir, path), opts.KeepDefaultCAs)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	for _, cc := range opts.ClientCerts {
		cert, err := loadClientCert(cc, opts.BaseDir)
		if err != nil {
			return nil, err
		}
		cfg.Certificates = append(cfg.Certificates, cert)
	}
	return cfg, nil
}

func loadRootCAs(path string, keepDefaults bool) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "read ca certificate %s", path)
	}
	var pool *x509.CertPool
	if keepDefaults {
		pool, _ = x509.SystemCertPool()
	}
	if pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, errdef.New(errdef.CodeConfig, "no certificates found in %s", path)
	}
	return pool, nil
}

func loadClientCert(cc config.ClientCert, baseDir string) (tls.Certificate, error) {
	switch cc.Type {
	case config.CertPFX:
		path := resolvePath(baseDir, cc.PFXFilePath)
		data, err := os.ReadFile(path)
		if err != nil {
			return tls.Certificate{}, errdef.Wrap(errdef.CodeFilesystem, err, "read pfx %s", path)
		}
		blocks, err := pkcs12.ToPEM(data, cc.Passphrase)
		if err != nil {
			return tls.Certificate{}, errdef.Wrap(errdef.CodeConfig, err, "decode pfx %s", path)
		}
		var pemData []byte
		for _, b := range blocks {
			pemData = append(pemData, pem.EncodeToMemory(b)...)
		}
		cert, err := tls.X509KeyPair(pemData, pemData)
		if err != nil {
			return tls.Certificate{}, errdef.Wrap(errdef.CodeConfig, err, "load pfx %s", path)
		}
		return cert, nil
	default:
		certPath := resolvePath(baseDir, cc.CertFilePath)
		keyPath := resolvePath(baseDir, cc.KeyFilePath)
		cert, err := tls.LoadX509KeyPair(certPath, keyPath)
		if err != nil {
			return tls.Certificate{}, errdef.Wrap(errdef.CodeConfig, err, "load client certificate %s", certPath)
		}
		return cert, nil
	}
}

// MatchClientCerts keeps the first certificate whose domain pattern matches
// host. A '*' in the pattern matches any run of characters.
func MatchClientCerts(certs []config.ClientCert, host string) []config.ClientCert {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return nil
	}
	hostname := host
	if i := strings.LastIndex(host, ":"); i > 0 && !strings.Contains(host[i:], "]") {
		hostname = host[:i]
	}
	for _, cc := range certs {
		pattern := strings.ToLower(strings.TrimSpace(cc.Domain))
		pattern = strings.TrimPrefix(strings.TrimPrefix(pattern, "https://"), "http://")
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		if g.Match(host) || g.Match(hostname) {
			return []config.ClientCert{cc}
		}
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
