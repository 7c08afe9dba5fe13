package gateway

import (
	"context"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/spf13/viper"
)

// DefaultTenantKey holds settings that apply to every tenant.
const DefaultTenantKey = "default"

// Settings is one layer of gateway configuration. Empty fields defer to the
// next layer.
type Settings struct {
	Currency      string            `mapstructure:"currency" json:"currency,omitempty"`
	APIKey        string            `mapstructure:"api_key" json:"api_key,omitempty"`
	WebhookSecret string            `mapstructure:"webhook_secret" json:"webhook_secret,omitempty"`
	BaseURL       string            `mapstructure:"base_url" json:"base_url,omitempty"`
	ReturnURL     string            `mapstructure:"return_url" json:"return_url,omitempty"`
	Rates         map[string]string `mapstructure:"rates" json:"rates,omitempty"`
	Metadata      map[string]string `mapstructure:"metadata" json:"metadata,omitempty"`
}

// SettingsSource finds settings by tenant key (identifier, id or "default")
// and provider. Provider "" selects tenant-wide settings. A source that has
// nothing for the key returns nil, nil.
type SettingsSource interface {
	Lookup(ctx context.Context, tenantKey, provider string) (*Settings, error)
}

func (s *Settings) clone() *Settings {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Rates = maps.Clone(s.Rates)
	cp.Metadata = maps.Clone(s.Metadata)
	return &cp
}

// fill copies into s every field that s leaves empty and lower sets.
func (s *Settings) fill(lower *Settings) {
	if lower == nil {
		return
	}
	if s.Currency == "" {
		s.Currency = lower.Currency
	}
	if s.APIKey == "" {
		s.APIKey = lower.APIKey
	}
	if s.WebhookSecret == "" {
		s.WebhookSecret = lower.WebhookSecret
	}
	if s.BaseURL == "" {
		s.BaseURL = lower.BaseURL
	}
	if s.ReturnURL == "" {
		s.ReturnURL = lower.ReturnURL
	}
	s.Rates = fillMap(s.Rates, lower.Rates)
	s.Metadata = fillMap(s.Metadata, lower.Metadata)
}

func fillMap(upper, lower map[string]string) map[string]string {
	if len(lower) == 0 {
		return upper
	}
	if upper == nil {
		upper = make(map[string]string, len(lower))
	}
	for k, v := range lower {
		if _, ok := upper[k]; !ok {
			upper[k] = v
		}
	}
	return upper
}

type tenantFile struct {
	Settings  `mapstructure:",squash"`
	Providers map[string]Settings `mapstructure:"providers"`
}

// FileSettings serves settings from a YAML document:
//
//	tenants:
//	  default:
//	    currency: USD
//	    providers:
//	      stripe:
//	        api_key: sk_test_...
//	  acme:
//	    rates: {EUR: "1.08"}
//
// Keys are matched case-insensitively.
type FileSettings struct {
	tenants map[string]tenantFile
}

// NewFileSettings reads settings from path.
func NewFileSettings(path string) (*FileSettings, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read payments config: %w", err)
	}
	return decodeFileSettings(v)
}

// ReadFileSettings reads YAML settings from r.
func ReadFileSettings(r io.Reader) (*FileSettings, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("read payments config: %w", err)
	}
	return decodeFileSettings(v)
}

func decodeFileSettings(v *viper.Viper) (*FileSettings, error) {
	var doc struct {
		Tenants map[string]tenantFile `mapstructure:"tenants"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("decode payments config: %w", err)
	}
	fs := &FileSettings{tenants: make(map[string]tenantFile, len(doc.Tenants))}
	for key, t := range doc.Tenants {
		fs.tenants[strings.ToLower(key)] = t
	}
	return fs, nil
}

// Lookup implements SettingsSource.
func (f *FileSettings) Lookup(_ context.Context, tenantKey, provider string) (*Settings, error) {
	t, ok := f.tenants[strings.ToLower(tenantKey)]
	if !ok {
		return nil, nil
	}
	if provider == "" {
		return t.Settings.clone(), nil
	}
	p, ok := t.Providers[strings.ToLower(provider)]
	if !ok {
		return nil, nil
	}
	return p.clone(), nil
}

// LayeredSettings consults sources in order. The first source that knows a
// key wins; later sources only fill fields it left empty.
type LayeredSettings []SettingsSource

// Lookup implements SettingsSource.
func (l LayeredSettings) Lookup(ctx context.Context, tenantKey, provider string) (*Settings, error) {
	var out *Settings
	for _, src := range l {
		s, err := src.Lookup(ctx, tenantKey, provider)
		if err != nil {
			return nil, err
		}
		if s == nil {
			continue
		}
		if out == nil {
			out = s.clone()
			continue
		}
		out.fill(s)
	}
	return out, nil
}

// StaticSettings is an in-memory SettingsSource keyed by tenant key then
// provider.
type StaticSettings map[string]map[string]Settings

// Lookup implements SettingsSource.
func (m StaticSettings) Lookup(_ context.Context, tenantKey, provider string) (*Settings, error) {
	byProvider, ok := m[tenantKey]
	if !ok {
		return nil, nil
	}
	s, ok := byProvider[provider]
	if !ok {
		return nil, nil
	}
	return s.clone(), nil
}
