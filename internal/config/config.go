// Package config loads gridfetch settings from defaults, a TOML file and the
// environment, in that order of increasing precedence.
package config

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/zalando/go-keyring"
)

//go:embed config.example.toml
var exampleConf []byte

// Keyring coordinates of the generated RPC secret.
const (
	KeyringService = "gridfetch"
	KeyringUser    = "rpc-secret"
)

var (
	keyringGet = keyring.Get
	keyringSet = keyring.Set
	randRead   = rand.Read
)

// Config is the full gridfetch configuration.
type Config struct {
	Scheduler SchedulerConfig `toml:"scheduler"`
	Cache     CacheConfig     `toml:"cache"`
	Server    ServerConfig    `toml:"server"`
}

// SchedulerConfig tunes the fetch scheduler.
type SchedulerConfig struct {
	MaxConcurrent   int           `toml:"max_concurrent"`
	MaxScore        int           `toml:"max_score"`
	DownloadTimeout time.Duration `toml:"download_timeout"`
}

// CacheConfig tunes the cache-downloading function.
type CacheConfig struct {
	Dir            string        `toml:"dir"`
	IndexPath      string        `toml:"index_path"`
	RateLimit      float64       `toml:"rate_limit"`
	Burst          int           `toml:"burst"`
	Proxy          string        `toml:"proxy"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	RetryAttempts  int           `toml:"retry_attempts"`
	RetryBaseDelay time.Duration `toml:"retry_base_delay"`
	RetryMaxDelay  time.Duration `toml:"retry_max_delay"`
	KnownHosts     string        `toml:"known_hosts"`
	SSHKey         string        `toml:"ssh_key"`
}

// ServerConfig tunes the JSON-RPC server.
type ServerConfig struct {
	Listen string `toml:"listen"`
	Secret string `toml:"secret"`
}

// Default returns the configuration described by the embedded example file,
// with the cache directory resolved to the user cache directory.
func Default() *Config {
	var c Config
	if err := toml.Unmarshal(exampleConf, &c); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	if dir, err := os.UserCacheDir(); err == nil {
		c.Cache.Dir = filepath.Join(dir, "gridfetch")
	}
	return &c
}

// Example returns the embedded example config file.
func Example() []byte {
	return append([]byte(nil), exampleConf...)
}

// LoadFromFile reads a TOML file. Keys absent from the file keep their zero
// value; combine with Merge to layer it over Default().
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var c Config
	md, err := toml.Decode(string(data), &c)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("failed to parse config: unknown key %q", undecoded[0].String())
	}
	return &c, nil
}

// LoadFromEnv applies GRIDFETCH_* variables onto c.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv(CacheDirEnv); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv(ProxyEnv); v != "" {
		c.Cache.Proxy = v
	}
	if v := os.Getenv(ListenEnv); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv(SecretEnv); v != "" {
		c.Server.Secret = v
	}
	if v := os.Getenv(MaxConcurrentEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", MaxConcurrentEnv, err)
		}
		c.Scheduler.MaxConcurrent = n
	}
	if v := os.Getenv(MaxScoreEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", MaxScoreEnv, err)
		}
		c.Scheduler.MaxScore = n
	}
	if v := os.Getenv(RateLimitEnv); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", RateLimitEnv, err)
		}
		c.Cache.RateLimit = f
	}
	return nil
}

// Merge overlays the non-zero fields of o onto c.
func (c *Config) Merge(o *Config) {
	if o == nil {
		return
	}
	setInt(&c.Scheduler.MaxConcurrent, o.Scheduler.MaxConcurrent)
	setInt(&c.Scheduler.MaxScore, o.Scheduler.MaxScore)
	setDuration(&c.Scheduler.DownloadTimeout, o.Scheduler.DownloadTimeout)

	setString(&c.Cache.Dir, o.Cache.Dir)
	setString(&c.Cache.IndexPath, o.Cache.IndexPath)
	if o.Cache.RateLimit != 0 {
		c.Cache.RateLimit = o.Cache.RateLimit
	}
	setInt(&c.Cache.Burst, o.Cache.Burst)
	setString(&c.Cache.Proxy, o.Cache.Proxy)
	setDuration(&c.Cache.RequestTimeout, o.Cache.RequestTimeout)
	setInt(&c.Cache.RetryAttempts, o.Cache.RetryAttempts)
	setDuration(&c.Cache.RetryBaseDelay, o.Cache.RetryBaseDelay)
	setDuration(&c.Cache.RetryMaxDelay, o.Cache.RetryMaxDelay)
	setString(&c.Cache.KnownHosts, o.Cache.KnownHosts)
	setString(&c.Cache.SSHKey, o.Cache.SSHKey)

	setString(&c.Server.Listen, o.Server.Listen)
	setString(&c.Server.Secret, o.Server.Secret)
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

// Load builds the effective configuration: defaults, then path (or
// $GRIDFETCH_CONFIG when path is empty) if set, then the environment.
func Load(path string) (*Config, error) {
	c := Default()
	if path == "" {
		path = os.Getenv(ConfigFileEnv)
	}
	if path != "" {
		fc, err := LoadFromFile(path)
		if err != nil {
			return nil, err
		}
		c.Merge(fc)
	}
	if err := c.LoadFromEnv(); err != nil {
		return nil, err
	}
	return c, nil
}

// IndexFile returns the index database path.
func (c *Config) IndexFile() string {
	if c.Cache.IndexPath != "" {
		return c.Cache.IndexPath
	}
	return filepath.Join(c.Cache.Dir, "index.db")
}

// BlobDir returns the directory blobs are stored under.
func (c *Config) BlobDir() string {
	return filepath.Join(c.Cache.Dir, "blobs")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Scheduler.MaxConcurrent < 1:
		return errors.New("scheduler.max_concurrent must be at least 1")
	case c.Scheduler.MaxScore < 0:
		return errors.New("scheduler.max_score must not be negative")
	case c.Scheduler.DownloadTimeout < 0:
		return errors.New("scheduler.download_timeout must not be negative")
	case c.Cache.Dir == "":
		return errors.New("cache.dir must be set")
	case c.Cache.RateLimit < 0:
		return errors.New("cache.rate_limit must not be negative")
	case c.Cache.Burst < 0:
		return errors.New("cache.burst must not be negative")
	case c.Cache.RetryAttempts < 1:
		return errors.New("cache.retry_attempts must be at least 1")
	case c.Cache.RetryBaseDelay < 0 || c.Cache.RetryMaxDelay < c.Cache.RetryBaseDelay:
		return errors.New("cache.retry_max_delay must be at least cache.retry_base_delay")
	}
	if c.Cache.Proxy != "" {
		u, err := url.Parse(c.Cache.Proxy)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("cache.proxy %q is not a valid URL", c.Cache.Proxy)
		}
	}
	return nil
}

// ResolveSecret returns the RPC bearer token. flag wins over the configured
// secret; otherwise the secret is read from the OS keyring, generating and
// storing one on first use.
func (c *Config) ResolveSecret(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if c.Server.Secret != "" {
		return c.Server.Secret, nil
	}
	secret, err := keyringGet(KeyringService, KeyringUser)
	if err == nil && secret != "" {
		return secret, nil
	}
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return "", fmt.Errorf("failed to read RPC secret from keyring: %w", err)
	}
	buf := make([]byte, 32)
	if _, err := randRead(buf); err != nil {
		return "", err
	}
	secret = hex.EncodeToString(buf)
	if err := keyringSet(KeyringService, KeyringUser, secret); err != nil {
		return "", fmt.Errorf("failed to store RPC secret in keyring: %w", err)
	}
	return secret, nil
}
