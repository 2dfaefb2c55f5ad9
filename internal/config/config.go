// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	toml "github.com/pelletier/go-toml/v2"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/pq-gateway/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config      string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host        string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port        int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	UpstreamURL string `kong:"name='upstream-url',help='Upstream GraphQL endpoint (overrides config).',env='UPSTREAM_URL'"`
	Manifest    string `kong:"help='Persisted query manifest file (overrides config).',env='PQ_MANIFEST'"`
	Strict      bool   `kong:"help='Only accept persisted queries (overrides config).',env='PQ_STRICT'"`
	LogLevel    string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Upstream  UpstreamConfig  `toml:"upstream"`
	Persisted PersistedConfig `toml:"persisted"`
	Log       LogConfig       `toml:"log"`
	Metrics   MetricsConfig   `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string          `toml:"host"`
	Port         int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes int64           `toml:"body_max_bytes"`
	GraphQLPath  string          `toml:"graphql_path"`
	RateLimit    RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// UpstreamConfig holds the GraphQL endpoint requests are forwarded to.
type UpstreamConfig struct {
	URL             string `toml:"url"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
}

// PersistedConfig holds persisted-query settings. Exactly one query source
// (queries, manifest_path, manifest_url, store_url) must be set. Empty
// query_id_key and body_limit fall back to the resolver's defaults.
type PersistedConfig struct {
	QueryIDKey        string            `toml:"query_id_key"`
	Strict            bool              `toml:"strict"`
	BodyLimit         string            `toml:"body_limit"` // human size, e.g. "100KiB"
	ManifestPath      string            `toml:"manifest_path"`
	ManifestURL       string            `toml:"manifest_url"`
	StoreURL          string            `toml:"store_url"`
	ValidateDocuments bool              `toml:"validate_documents"`
	Queries           map[string]string `toml:"queries"`

	bodyLimitBytes int64
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Query map source names returned by PersistedConfig.Source.
const (
	SourceInline      = "inline"
	SourceManifest    = "manifest"
	SourceManifestURL = "manifest_url"
	SourceStore       = "store"
)

// DefaultGraphQLPath is where the gateway serves GraphQL when server.graphql_path is unset.
const DefaultGraphQLPath = "/graphql"

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/pq-gateway/config.toml then configs/config.toml.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path == "" {
		return nil, fmt.Errorf("config: no config file found (searched %v)", configSearchPaths)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.filePath = path
	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.UpstreamURL != "" {
		c.Upstream.URL = cli.UpstreamURL
	}
	if cli.Manifest != "" {
		// An explicit manifest replaces whatever source the file configured.
		c.Persisted.ManifestPath = cli.Manifest
		c.Persisted.ManifestURL = ""
		c.Persisted.StoreURL = ""
		c.Persisted.Queries = nil
	}
	if cli.Strict {
		c.Persisted.Strict = true
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

func (c *Config) validate() error {
	// Upstream URL: required, http or https.
	if c.Upstream.URL == "" {
		return fmt.Errorf("upstream.url is required")
	}
	if err := validateHTTPURL("upstream.url", c.Upstream.URL); err != nil {
		return err
	}

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port)
	}
	if c.Server.BodyMaxBytes < 0 {
		return fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes)
	}
	if c.Upstream.TimeoutSeconds < 0 {
		return fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds)
	}
	if c.Upstream.IdleConnections < 0 {
		return fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections)
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond)
	}
	if p := c.Server.GraphQLPath; p != "" && p[0] != '/' {
		return fmt.Errorf("server.graphql_path must start with '/'; got %q", p)
	}

	if err := c.Persisted.validate(); err != nil {
		return err
	}

	// Log fields.
	level := strings.ToLower(c.Log.Level)
	switch level {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level)
	}
	format := strings.ToLower(c.Log.Format)
	switch format {
	case "json", "text", "":
		// valid
	default:
		return fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format)
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			return fmt.Errorf("metrics.path must start with '/'; got %q", p)
		}
		graphqlPath := c.Server.GraphQLPath
		if graphqlPath == "" {
			graphqlPath = DefaultGraphQLPath
		}
		for _, reserved := range []string{graphqlPath, "/healthz", "/gateway/status"} {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
			}
		}
	}

	return nil
}

func (p *PersistedConfig) validate() error {
	sources := 0
	if len(p.Queries) > 0 {
		sources++
	}
	if p.ManifestPath != "" {
		sources++
	}
	if p.ManifestURL != "" {
		sources++
		if err := validateHTTPURL("persisted.manifest_url", p.ManifestURL); err != nil {
			return err
		}
	}
	if p.StoreURL != "" {
		sources++
		if err := validateHTTPURL("persisted.store_url", p.StoreURL); err != nil {
			return err
		}
	}
	switch sources {
	case 0:
		return fmt.Errorf("persisted: one of queries, manifest_path, manifest_url or store_url is required")
	case 1:
	default:
		return fmt.Errorf("persisted: queries, manifest_path, manifest_url and store_url are mutually exclusive")
	}

	if p.BodyLimit != "" {
		n, err := humanize.ParseBytes(p.BodyLimit)
		if err != nil {
			return fmt.Errorf("persisted.body_limit: %w", err)
		}
		if n == 0 || n > 1<<40 {
			return fmt.Errorf("persisted.body_limit must be between 1B and 1TiB; got %q", p.BodyLimit)
		}
		p.bodyLimitBytes = int64(n)
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https; got %q", field, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s has no host; got %q", field, raw)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 10 * 1024 * 1024 // 10 MB
	}
	if c.Server.GraphQLPath == "" {
		c.Server.GraphQLPath = DefaultGraphQLPath
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 120
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// BodyLimitBytes returns the decoded-body ceiling in bytes, or 0 when unset.
func (p *PersistedConfig) BodyLimitBytes() int64 {
	return p.bodyLimitBytes
}

// Source names the configured query map source.
func (p *PersistedConfig) Source() string {
	switch {
	case p.StoreURL != "":
		return SourceStore
	case p.ManifestURL != "":
		return SourceManifestURL
	case p.ManifestPath != "":
		return SourceManifest
	case len(p.Queries) > 0:
		return SourceInline
	}
	return ""
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
