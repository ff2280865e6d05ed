package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	SettingsFormatTOML SettingsFormat = "toml"
	SettingsFormatJSON SettingsFormat = "json"

	envConfigDir = "REQFLOW_CONFIG_DIR"

	DefaultMaxRedirects = 5
)

// Settings are the app-level preferences shared by every collection.
type Settings struct {
	Request RequestSettings `json:"request" toml:"request"`
	TLS     TLSSettings     `json:"tls"     toml:"tls"`
	Proxy   GlobalProxy     `json:"proxy"   toml:"proxy"`
	Log     LogSettings     `json:"log"     toml:"log"`
}

type RequestSettings struct {
	Timeout        Duration `json:"timeout"          toml:"timeout"`
	MaxRedirects   *int     `json:"max_redirects"    toml:"max_redirects,omitempty"`
	StoreCookies   *bool    `json:"store_cookies"    toml:"store_cookies,omitempty"`
	SendCookies    *bool    `json:"send_cookies"     toml:"send_cookies,omitempty"`
	HistoryEntries int      `json:"history_entries"  toml:"history_entries"`
	OAuthStorePath string   `json:"oauth_store_path" toml:"oauth_store_path"`
}

type TLSSettings struct {
	Verify         *bool  `json:"verify"           toml:"verify,omitempty"`
	CACertFile     string `json:"ca_cert_file"     toml:"ca_cert_file"`
	KeepDefaultCAs *bool  `json:"keep_default_cas" toml:"keep_default_cas,omitempty"`
}

type LogSettings struct {
	Level  int8   `json:"level"  toml:"level"`
	Format string `json:"format" toml:"format"`
}

type SettingsFormat string
type SettingsHandle struct {
	Path   string
	Format SettingsFormat
}

func (s Settings) VerifyTLS() bool {
	return s.TLS.Verify == nil || *s.TLS.Verify
}

func (s Settings) KeepDefaultCAs() bool {
	return s.TLS.KeepDefaultCAs == nil || *s.TLS.KeepDefaultCAs
}

func (s Settings) MaxRedirects() int {
	if s.Request.MaxRedirects == nil {
		return DefaultMaxRedirects
	}
	return *s.Request.MaxRedirects
}

func (s Settings) CookiesEnabled() bool {
	store := s.Request.StoreCookies == nil || *s.Request.StoreCookies
	send := s.Request.SendCookies == nil || *s.Request.SendCookies
	return store && send
}

// Dir returns the directory holding settings, history and the token store.
func Dir() string {
	if dir := strings.TrimSpace(os.Getenv(envConfigDir)); dir != "" {
		return dir
	}
	if base, err := os.UserConfigDir(); err == nil && base != "" {
		return filepath.Join(base, "reqflow")
	}
	return filepath.Join(".", ".reqflow")
}

// tries loading TOML first, then JSON, then returns empty settings if neither exists.
// parse errors fail immediately but missing files just skip to the next format.
func LoadSettings() (Settings, SettingsHandle, error) {
	dir := Dir()
	candidates := []SettingsHandle{
		{Path: filepath.Join(dir, "settings.toml"), Format: SettingsFormatTOML},
		{Path: filepath.Join(dir, "settings.json"), Format: SettingsFormatJSON},
	}

	var accumulated error
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			accumulated = errors.Join(
				accumulated,
				fmt.Errorf("read settings %q: %w", candidate.Path, err),
			)
			continue
		}

		settings, err := decodeSettings(data, candidate.Format)
		if err != nil {
			return Settings{}, SettingsHandle{}, fmt.Errorf(
				"parse settings %q: %w",
				candidate.Path,
				err,
			)
		}
		return settings, candidate, nil
	}

	if accumulated != nil {
		return Settings{}, SettingsHandle{}, accumulated
	}

	return Settings{}, SettingsHandle{
		Path:   candidates[0].Path,
		Format: SettingsFormatTOML,
	}, nil
}

func decodeSettings(data []byte, format SettingsFormat) (Settings, error) {
	var settings Settings
	switch format {
	case SettingsFormatTOML:
		if err := toml.Unmarshal(data, &settings); err != nil {
			return Settings{}, err
		}
	case SettingsFormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			return Settings{}, err
		}
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q", format)
	}
	return settings, nil
}

func SaveSettings(settings Settings, handle SettingsHandle) error {
	path := handle.Path
	format := handle.Format
	if path == "" {
		path = filepath.Join(Dir(), "settings.toml")
	}
	if format == "" {
		format = SettingsFormatTOML
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure settings directory: %w", err)
	}

	var (
		data []byte
		err  error
	)

	switch format {
	case SettingsFormatTOML:
		data, err = toml.Marshal(settings)
	case SettingsFormatJSON:
		buffer := &bytes.Buffer{}
		encoder := json.NewEncoder(buffer)
		encoder.SetIndent("", "  ")
		if err = encoder.Encode(settings); err == nil {
			data = buffer.Bytes()
		}
	default:
		return fmt.Errorf("unsupported settings format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %q: %w", path, err)
	}
	return nil
}

// Duration reads "30s" style strings from TOML and JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// write to temp file then rename so readers never see partial/corrupt data.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".reqflow-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		closeErr := tmp.Close()
		if closeErr != nil {
			return errors.Join(err, closeErr)
		}
		return err
	}

	if err := tmp.Chmod(perm); err != nil {
		closeErr := tmp.Close()
		if closeErr != nil {
			return errors.Join(err, closeErr)
		}
		return err
	}

	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}
