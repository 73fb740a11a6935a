// Package config loads the gateway configuration file (YAML or TOML), merges
// it over the defaults, applies REPOGW_* environment overrides and validates
// the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/greg-hellings/repogateway/pkg/repository"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "REPOGW"

// http.timeout must fall within [MinHTTPTimeout, MaxHTTPTimeout].
const (
	MinHTTPTimeout = 10 * time.Second
	MaxHTTPTimeout = 15 * time.Second
)

// Config represents the top-level configuration file structure
type Config struct {
	// Secret derives the credential encryption key. Usually supplied
	// through REPOGW_SECRET rather than the file.
	Secret    string                    `yaml:"secret,omitempty" toml:"secret,omitempty"`
	OwnerID   string                    `yaml:"owner_id,omitempty" toml:"owner_id,omitempty"`
	Storage   StorageConfig             `yaml:"storage" toml:"storage"`
	Cache     CacheConfig               `yaml:"cache" toml:"cache"`
	HTTP      HTTPConfig                `yaml:"http" toml:"http"`
	Providers map[string]ProviderConfig `yaml:"providers,omitempty" toml:"providers,omitempty"`
	Log       LogConfig                 `yaml:"log" toml:"log"`
}

// StorageConfig selects the registry and option store backend.
type StorageConfig struct {
	// Driver is file, postgres or memory.
	Driver string `yaml:"driver" toml:"driver"`
	// Path is the directory of the file backend.
	Path        string `yaml:"path,omitempty" toml:"path,omitempty"`
	DatabaseURL string `yaml:"database_url,omitempty" toml:"database_url,omitempty"`
}

// CacheConfig selects the content cache backend.
type CacheConfig struct {
	// Driver is memory, redis or none.
	Driver    string   `yaml:"driver" toml:"driver"`
	TTL       Duration `yaml:"ttl" toml:"ttl"`
	RedisAddr string   `yaml:"redis_addr,omitempty" toml:"redis_addr,omitempty"`
	RedisDB   int      `yaml:"redis_db,omitempty" toml:"redis_db,omitempty"`
}

// HTTPConfig bounds provider calls.
type HTTPConfig struct {
	Timeout Duration `yaml:"timeout" toml:"timeout"`
	// MaxRetries is the number of retries after the first attempt. A
	// pointer keeps an explicit 0 from being replaced by the default.
	MaxRetries *int `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
}

// Retries returns MaxRetries, or 0 when unset.
func (h HTTPConfig) Retries() int {
	if h.MaxRetries == nil {
		return 0
	}
	return *h.MaxRetries
}

// ProviderConfig contains configuration for a specific repository provider
type ProviderConfig struct {
	// BaseURL overrides the API root, e.g. for GitHub Enterprise or a
	// self-hosted GitLab.
	BaseURL      string       `yaml:"base_url,omitempty" toml:"base_url,omitempty"`
	Default      RepoDefaults `yaml:"default,omitempty" toml:"default,omitempty"`
	Repositories []RepoConfig `yaml:"repositories,omitempty" toml:"repositories,omitempty"`
}

// RepoDefaults contains default values that can be inherited by repositories
type RepoDefaults struct {
	Owner string `yaml:"owner,omitempty" toml:"owner,omitempty"`
}

// RepoConfig declares a repository `repos sync` registers.
type RepoConfig struct {
	Owner       string `yaml:"owner,omitempty" toml:"owner,omitempty"`
	Repository  string `yaml:"repository" toml:"repository"`
	URL         string `yaml:"url,omitempty" toml:"url,omitempty"`
	Description string `yaml:"description,omitempty" toml:"description,omitempty"`
}

// LogConfig controls the logger.
type LogConfig struct {
	Level string `yaml:"level,omitempty" toml:"level,omitempty"`
	// Format is text or json.
	Format string `yaml:"format" toml:"format"`
}

// Duration is a time.Duration written as a Go duration string ("15s").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func intPtr(v int) *int { return &v }

// DefaultDataDir is where the file backend keeps its state.
func DefaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".repogateway"
	}
	return filepath.Join(dir, "repogateway")
}

// DefaultPath is the configuration file used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}

// Default returns the configuration used for every unset field.
func Default() Config {
	return Config{
		Storage: StorageConfig{Driver: "file", Path: DefaultDataDir()},
		Cache:   CacheConfig{Driver: "memory", TTL: Duration{5 * time.Minute}},
		HTTP:    HTTPConfig{Timeout: Duration{repository.DefaultTimeout}, MaxRetries: intPtr(2)},
		Log:     LogConfig{Format: "text"},
	}
}

// Load reads path (YAML or TOML by extension), merges it over Default,
// applies environment overrides and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}
	if err := mergo.Merge(&cfg, Default()); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	applyEnv(&cfg)
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("failed to parse config file: unknown key %q", undecoded[0].String())
		}
	default:
		return fmt.Errorf("unsupported config file extension %q (want .yaml, .yml or .toml)", ext)
	}
	return nil
}

// envOverrides maps viper keys (REPOGW_<KEY>) onto configuration fields.
func envOverrides(cfg *Config) map[string]*string {
	return map[string]*string{
		"secret":       &cfg.Secret,
		"owner_id":     &cfg.OwnerID,
		"database_url": &cfg.Storage.DatabaseURL,
		"redis_addr":   &cfg.Cache.RedisAddr,
		"log_level":    &cfg.Log.Level,
	}
}

func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	for key, dst := range envOverrides(cfg) {
		if s := strings.TrimSpace(v.GetString(key)); s != "" {
			*dst = s
		}
	}
}

// ApplyDefaults fills repository entries from their provider defaults and
// validates every section.
func (c *Config) ApplyDefaults() error {
	switch c.Storage.Driver {
	case "file":
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for the file driver")
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			return errors.New("storage.database_url (or REPOGW_DATABASE_URL) is required for the postgres driver")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.driver %q is not one of file, postgres, memory", c.Storage.Driver)
	}

	switch c.Cache.Driver {
	case "redis":
		if c.Cache.RedisAddr == "" {
			return errors.New("cache.redis_addr (or REPOGW_REDIS_ADDR) is required for the redis driver")
		}
	case "memory", "none":
	default:
		return fmt.Errorf("cache.driver %q is not one of memory, redis, none", c.Cache.Driver)
	}
	if c.Cache.TTL.Duration <= 0 {
		return errors.New("cache.ttl must be positive")
	}

	if c.HTTP.Timeout.Duration < MinHTTPTimeout || c.HTTP.Timeout.Duration > MaxHTTPTimeout {
		return fmt.Errorf("http.timeout must be between %s and %s", MinHTTPTimeout, MaxHTTPTimeout)
	}
	if r := c.HTTP.Retries(); r < 0 || r > 10 {
		return errors.New("http.max_retries must be between 0 and 10")
	}

	switch c.Log.Format {
	case "text", "console", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}

	for providerName, providerConfig := range c.Providers {
		if !repository.Provider(providerName).Valid() {
			return fmt.Errorf("providers: unsupported provider %q", providerName)
		}
		if providerConfig.BaseURL != "" {
			u, err := url.Parse(providerConfig.BaseURL)
			if err != nil || !u.IsAbs() || u.Host == "" {
				return fmt.Errorf("provider %s: base_url must be an absolute URL", providerName)
			}
		}
		for i := range providerConfig.Repositories {
			repo := &providerConfig.Repositories[i]
			if repo.Owner == "" {
				repo.Owner = providerConfig.Default.Owner
			}
			if repo.Owner == "" {
				return fmt.Errorf("provider %s: repository at index %d missing required field 'owner'", providerName, i)
			}
			if repo.Repository == "" {
				return fmt.Errorf("provider %s: repository at index %d missing required field 'repository'", providerName, i)
			}
		}
		c.Providers[providerName] = providerConfig
	}
	return nil
}

// BaseURLs returns the configured API roots keyed by provider.
func (c *Config) BaseURLs() map[repository.Provider]string {
	out := make(map[repository.Provider]string)
	for name, p := range c.Providers {
		if p.BaseURL != "" {
			out[repository.Provider(name)] = p.BaseURL
		}
	}
	return out
}

// webRoots are the public hosts used to derive a repository URL.
var webRoots = map[repository.Provider]string{
	repository.ProviderGitHub:    "https://github.com",
	repository.ProviderGitLab:    "https://gitlab.com",
	repository.ProviderBitbucket: "https://bitbucket.org",
}

// DefaultURL derives the web URL of owner/name on the provider's public host.
func DefaultURL(p repository.Provider, owner, name string) string {
	root, ok := webRoots[p]
	if !ok {
		return ""
	}
	return root + "/" + owner + "/" + name
}

// SeedRepository is a configured repository ready to register.
type SeedRepository struct {
	Provider    repository.Provider
	Owner       string
	Name        string
	URL         string
	Description string
}

// GetAllRepos returns a flat list of all configured repositories ordered by
// provider. Missing URLs are derived from the provider's public host.
func (c *Config) GetAllRepos() []SeedRepository {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	var repos []SeedRepository
	for _, name := range names {
		p := repository.Provider(name)
		for _, r := range c.Providers[name].Repositories {
			u := r.URL
			if u == "" {
				u = DefaultURL(p, r.Owner, r.Repository)
			}
			repos = append(repos, SeedRepository{
				Provider:    p,
				Owner:       r.Owner,
				Name:        r.Repository,
				URL:         u,
				Description: r.Description,
			})
		}
	}
	return repos
}
