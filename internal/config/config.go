// Package config provides functionality for managing configuration options
// for the application using command-line flags, an optional JSON config file
// and environment variables (highest precedence).
package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// Store backends understood by the server.
const (
	BackendGitHub   = "github"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Options holds the configuration values for the application.
type Options struct {
	// Port defines the server's listening address (ip:port).
	Port string `json:"address"`

	// Config is the path to the Config file.
	Config string `json:"-"`

	// StoreBackend selects where tenant documents live: github, postgres or memory.
	StoreBackend string `json:"store_backend"`

	// DatabaseDSN is the Postgres connection string for the postgres backend.
	DatabaseDSN string `json:"database_dsn"`

	GitHubToken  string `json:"github_token"`
	GitHubOwner  string `json:"github_owner"`
	GitHubRepo   string `json:"github_repo"`
	GitHubBranch string `json:"github_branch"`
	GitHubAPIURL string `json:"github_api_url"`

	// AdminSecret gates privileged endpoints. Empty means they always reject.
	AdminSecret string `json:"admin_secret"`

	// DefaultTenant is used when the host does not name a tenant.
	DefaultTenant string `json:"default_tenant"`

	LogLevel string `json:"log_level"`

	// StoreTimeout bounds a single round trip to the document store.
	StoreTimeout Duration `json:"store_timeout"`

	// RevisionRetention is how long the postgres backend keeps document history.
	RevisionRetention Duration `json:"revision_retention"`

	// MenuCacheTTL bounds how stale a cached public menu may be.
	MenuCacheTTL Duration `json:"menu_cache_ttl"`

	// MaxBodyBytes limits request bodies; menus may embed images as data URLs.
	MaxBodyBytes int64 `json:"max_body_bytes"`

	// AuthRatePerMinute and AuthBurst throttle register/login per client IP.
	AuthRatePerMinute float64 `json:"auth_rate_per_minute"`
	AuthBurst         int     `json:"auth_burst"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Enable only behind a proxy that overwrites these headers.
	TrustProxyHeaders bool `json:"trust_proxy_headers"`

	TLSCertFile string `json:"tls_cert_file"`
	TLSKeyFile  string `json:"tls_key_file"`
}

// Duration is a time.Duration that reads "10s"-style strings from JSON.
type Duration struct {
	time.Duration
}

// UnmarshalJSON accepts either a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		d.Duration = v
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("duration must be a string or an integer")
	}
	d.Duration = time.Duration(n)
	return nil
}

// GitHubConfigured reports whether all credentials needed by the GitHub backend are set.
func (o *Options) GitHubConfigured() bool {
	return o.GitHubToken != "" && o.GitHubOwner != "" && o.GitHubRepo != ""
}

// Parse parses the process command line and environment. It exits the
// process on invalid input.
func Parse() *Options {
	options, err := ParseArgs(os.Args[0], os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return options
}

// ParseArgs parses args with a fresh flag set, then applies the config file
// and finally environment overrides read through getenv.
func ParseArgs(name string, args []string, getenv func(string) string) (*Options, error) {
	options := &Options{}

	var (
		storeTimeout time.Duration
		retention    time.Duration
		cacheTTL     time.Duration
	)

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&options.Port, "a", "localhost:8080", "run on ip:port server")
	fs.StringVar(&options.StoreBackend, "store", BackendGitHub, "document store backend: github, postgres or memory")
	fs.StringVar(&options.DatabaseDSN, "d", "", "db address")
	fs.StringVar(&options.Config, "config", "config.json", "path to config file")
	fs.StringVar(&options.Config, "c", "config.json", "path to config file (shorthand)")
	fs.StringVar(&options.DefaultTenant, "tenant", "speisekarte", "default tenant slug")
	fs.StringVar(&options.LogLevel, "log-level", "info", "log level")
	fs.StringVar(&options.GitHubBranch, "branch", "main", "github branch holding the data")
	fs.StringVar(&options.GitHubAPIURL, "github-api", "https://api.github.com", "github api base url")
	fs.DurationVar(&storeTimeout, "store-timeout", 10*time.Second, "timeout of a single store call")
	fs.DurationVar(&retention, "retention", 30*24*time.Hour, "postgres revision history retention")
	fs.DurationVar(&cacheTTL, "menu-cache-ttl", 30*time.Second, "public menu cache ttl")
	fs.Int64Var(&options.MaxBodyBytes, "max-body", 8<<20, "max request body bytes")
	fs.Float64Var(&options.AuthRatePerMinute, "auth-rate", 10, "register/login requests per minute per ip")
	fs.IntVar(&options.AuthBurst, "auth-burst", 5, "register/login burst per ip")
	fs.BoolVar(&options.TrustProxyHeaders, "trust-proxy", false, "take client ip from X-Forwarded-For/X-Real-IP")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	options.StoreTimeout.Duration = storeTimeout
	options.RevisionRetention.Duration = retention
	options.MenuCacheTTL.Duration = cacheTTL

	if configPath := getenv("CONFIG"); configPath != "" {
		options.Config = configPath
	}

	if options.Config != "" {
		if _, err := os.Stat(options.Config); err == nil {
			data, err := os.ReadFile(options.Config)
			if err != nil {
				return nil, fmt.Errorf("error while reading config file: %w", err)
			}
			if err := json.Unmarshal(data, options); err != nil {
				return nil, fmt.Errorf("error while parsing config file: %w", err)
			}
		}
	}

	overrides := map[string]*string{
		"SERVER_ADDRESS": &options.Port,
		"STORE_BACKEND":  &options.StoreBackend,
		"DATABASE_DSN":   &options.DatabaseDSN,
		"GITHUB_TOKEN":   &options.GitHubToken,
		"GITHUB_OWNER":   &options.GitHubOwner,
		"GITHUB_REPO":    &options.GitHubRepo,
		"GITHUB_BRANCH":  &options.GitHubBranch,
		"GITHUB_API_URL": &options.GitHubAPIURL,
		"ADMIN_SECRET":   &options.AdminSecret,
		"DEFAULT_TENANT": &options.DefaultTenant,
		"LOG_LEVEL":      &options.LogLevel,
		"TLS_CERT_FILE":  &options.TLSCertFile,
		"TLS_KEY_FILE":   &options.TLSKeyFile,
	}
	for key, dst := range overrides {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	if v := getenv("TRUST_PROXY_HEADERS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("TRUST_PROXY_HEADERS: %w", err)
		}
		options.TrustProxyHeaders = b
	}
	if v := getenv("STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("STORE_TIMEOUT: %w", err)
		}
		options.StoreTimeout.Duration = d
	}

	switch options.StoreBackend {
	case BackendGitHub, BackendPostgres, BackendMemory:
	default:
		return nil, fmt.Errorf("unknown store backend %q", options.StoreBackend)
	}
	if options.StoreBackend == BackendPostgres && options.DatabaseDSN == "" {
		return nil, errors.New("postgres backend requires a database dsn")
	}
	if options.GitHubBranch == "" {
		options.GitHubBranch = "main"
	}

	return options, nil
}
