// Package config loads the signet service configuration from YAML and
// turns it into the concrete stores, provider chains, and trust pools
// the core packages consume.
package config

import (
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signetlabs/signet/pkg/store"
	"github.com/signetlabs/signet/pkg/tsa"
)

// Config is the top-level service configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Store      StoreConfig      `yaml:"store"`
	TSA        TSAConfig        `yaml:"tsa"`
	Policies   PolicyConfig     `yaml:"policies"`
	Validation ValidationConfig `yaml:"validation"`
	Trust      TrustConfig      `yaml:"trust"`
}

// Duration decodes YAML duration strings like "15s" or "720h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"15s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// Path is the database file for the sqlite backend.
	Path string `yaml:"path"`
}

// ProviderConfig declares one timestamp authority.
type ProviderConfig struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	Qualified bool   `yaml:"qualified"`
	Region    string `yaml:"region"`
}

// TSAConfig configures the timestamp provider chain. An empty provider
// list means the built-in chain.
type TSAConfig struct {
	Providers     []ProviderConfig `yaml:"providers"`
	QualifiedOnly bool             `yaml:"qualified_only"`
}

// PolicyConfig points at the authorization policy seed directory.
type PolicyConfig struct {
	// Dir holds one JSON policy per file, loaded at startup.
	Dir string `yaml:"dir"`
}

// ValidationConfig tunes the long-term validation job.
type ValidationConfig struct {
	Interval Duration `yaml:"interval"`
}

// TrustConfig names PEM files with trust anchors.
type TrustConfig struct {
	AuthorityRootsFile string `yaml:"authority_roots_file"`
	SignerRootsFile    string `yaml:"signer_roots_file"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8440",
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Store:      StoreConfig{Backend: "memory"},
		Validation: ValidationConfig{Interval: Duration(30 * 24 * time.Hour)},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "", "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store: sqlite backend requires a path")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	for i, p := range c.TSA.Providers {
		if p.Name == "" || p.URL == "" {
			return fmt.Errorf("tsa: provider %d needs a name and url", i)
		}
	}
	if c.TSA.QualifiedOnly {
		if len(tsa.QualifiedOnly(c.Providers())) == 0 {
			return fmt.Errorf("tsa: qualified_only is set but no qualified provider is configured")
		}
	}
	return nil
}

// Providers returns the configured provider chain, falling back to the
// built-in chain when none is declared.
func (c *Config) Providers() []tsa.Provider {
	if len(c.TSA.Providers) == 0 {
		return tsa.DefaultProviders()
	}
	providers := make([]tsa.Provider, 0, len(c.TSA.Providers))
	for _, p := range c.TSA.Providers {
		providers = append(providers, tsa.Provider{
			Name:      p.Name,
			URL:       p.URL,
			Qualified: p.Qualified,
			Region:    p.Region,
		})
	}
	return providers
}

// EffectiveProviders applies the qualified_only filter.
func (c *Config) EffectiveProviders() []tsa.Provider {
	providers := c.Providers()
	if c.TSA.QualifiedOnly {
		return tsa.QualifiedOnly(providers)
	}
	return providers
}

// OpenStore opens the configured persistence backend. The caller owns
// the returned closer (nil for the memory backend).
func (c *Config) OpenStore() (store.Port, func() error, error) {
	switch c.Store.Backend {
	case "", "memory":
		return store.NewMemory(), nil, nil
	case "sqlite":
		s, err := store.OpenSQLite(c.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
}

// LoadTrustPools reads the configured PEM anchor files. A missing
// configuration entry yields a nil pool.
func (c *Config) LoadTrustPools() (authority, signer *x509.CertPool, err error) {
	if c.Trust.AuthorityRootsFile != "" {
		authority, err = loadPEMPool(c.Trust.AuthorityRootsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("authority roots: %w", err)
		}
	}
	if c.Trust.SignerRootsFile != "" {
		signer, err = loadPEMPool(c.Trust.SignerRootsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("signer roots: %w", err)
		}
	}
	return authority, signer, nil
}

func loadPEMPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates in %s", path)
	}
	return pool, nil
}
