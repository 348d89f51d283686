// Package config assembles a gotds Config the way examples/goclient
// assembles a go-mssqldb connection string: a JSON file, then
// environment variables, then explicit functional options, in
// increasing precedence.
package config

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ha1tch/gotds/pkg/errors"
	"github.com/ha1tch/gotds/pkg/log"
	"github.com/ha1tch/gotds/pkg/tlsutil"
	"github.com/ha1tch/gotds/pool"
	"github.com/ha1tch/gotds/tds"
)

// TLSMode selects the connection's TLS policy.
type TLSMode string

const (
	TLSDisabled      TLSMode = "disabled"
	TLSOpportunistic TLSMode = "opportunistic"
	TLSRequired      TLSMode = "required"
	TLSCustomTrust   TLSMode = "customTrust"
	TLSStrict        TLSMode = "strict"
)

// AuthMode selects how LOGIN7 authenticates.
type AuthMode string

const (
	AuthSQLPassword    AuthMode = "sqlPassword"
	AuthIntegratedSSPI AuthMode = "integratedSSPI"
)

// Config is the full configuration surface: login/auth, TLS, pool
// tunables, retry tunables, and metadata tunables.
type Config struct {
	Hostname string `json:"hostname"`
	Port     int    `json:"port"`

	Database       string   `json:"database"`
	Authentication AuthMode `json:"authentication"`
	Username       string   `json:"username"`
	Password       string   `json:"password"`

	TLS                TLSMode `json:"tls"`
	TLSTrustFile       string  `json:"tls_trust_file"`
	WatchTrustFile     bool    `json:"watch_trust_file"`
	InsecureSkipVerify bool    `json:"insecure_skip_verify"`

	PacketSize           int    `json:"packet_size"`
	ApplicationName      string `json:"application_name"`
	ClientProgramVersion uint32 `json:"client_program_version"`
	ClientHostname       string `json:"client_hostname"`

	MaximumConcurrentConnections int           `json:"maximum_concurrent_connections"`
	MinimumIdleConnections       int           `json:"minimum_idle_connections"`
	ConnectionIdleTimeout        time.Duration `json:"connection_idle_timeout"`
	ValidationQuery              string        `json:"validation_query"`
	AcquireTimeout               time.Duration `json:"acquire_timeout"`

	MaximumAttempts int `json:"maximum_attempts"`

	Metadata MetadataConfig `json:"metadata"`
}

// MetadataConfig tunes how a client.MetadataCatalog behaves.
type MetadataConfig struct {
	IncludeSystemSchemas         bool `json:"include_system_schemas"`
	EnableColumnCache            bool `json:"enable_column_cache"`
	IncludeRoutineDefinitions    bool `json:"include_routine_definitions"`
	IncludeTriggerDefinitions    bool `json:"include_trigger_definitions"`
	PreferStoredProcedureColumns bool `json:"prefer_stored_procedure_columns"`
}

// Environment variable names recognized by Load, per the spec's
// external-interfaces section.
const (
	EnvHostname = "TDS_HOSTNAME"
	EnvPort     = "TDS_PORT"
	EnvUsername = "TDS_USERNAME"
	EnvPassword = "TDS_PASSWORD"
	EnvDatabase = "TDS_DATABASE"
)

const (
	defaultPort       = 1433
	defaultPacketSize = 4096
	defaultTimeout    = 30 * time.Second
	defaultMaxConns   = 10
	defaultMaxAttempts = 3
)

// Option is a functional option applied after JSON and environment
// loading, the highest-precedence layer.
type Option func(*Config)

// WithHostAndPort sets the server address.
func WithHostAndPort(host string, port int) Option {
	return func(c *Config) { c.Hostname = host; c.Port = port }
}

// WithCredentials sets SQL authentication credentials.
func WithCredentials(username, password string) Option {
	return func(c *Config) {
		c.Authentication = AuthSQLPassword
		c.Username = username
		c.Password = password
	}
}

// WithDatabase sets the initial database.
func WithDatabase(name string) Option {
	return func(c *Config) { c.Database = name }
}

// WithTLS sets the TLS policy and, for customTrust, the trust bundle.
func WithTLS(mode TLSMode, trustFile string) Option {
	return func(c *Config) { c.TLS = mode; c.TLSTrustFile = trustFile }
}

// WithPoolLimits sets the pool's concurrency and idle tunables.
func WithPoolLimits(maxConns, minIdle int, idleTimeout time.Duration) Option {
	return func(c *Config) {
		c.MaximumConcurrentConnections = maxConns
		c.MinimumIdleConnections = minIdle
		c.ConnectionIdleTimeout = idleTimeout
	}
}

// Load builds a Config from, in increasing precedence: a JSON file at
// jsonPath (silently skipped if absent, matching examples/goclient's
// "config file is optional" behavior), environment variables, then
// opts.
func Load(jsonPath string, opts ...Option) (*Config, error) {
	cfg := defaults()

	if jsonPath != "" {
		if err := loadJSON(jsonPath, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	for _, opt := range opts {
		opt(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Port:            defaultPort,
		Authentication:  AuthSQLPassword,
		TLS:             TLSOpportunistic,
		PacketSize:      defaultPacketSize,
		AcquireTimeout:  defaultTimeout,
		MaximumConcurrentConnections: defaultMaxConns,
		MaximumAttempts: defaultMaxAttempts,
	}
}

func loadJSON(path string, cfg *Config) error {
	p := path
	if !filepath.IsAbs(p) {
		if wd, err := os.Getwd(); err == nil {
			p = filepath.Join(wd, p)
		}
	}

	b, err := os.ReadFile(p)
	if err != nil {
		return nil // config file is optional
	}
	if err := json.Unmarshal(b, cfg); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigParse, "parse config file").
			WithField("path", path).Build()
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvHostname); v != "" {
		cfg.Hostname = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv(EnvUsername); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv(EnvPassword); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.Database = v
	}
}

// Validate checks that the configuration is complete and internally
// consistent.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Hostname) == "" {
		missing = append(missing, "hostname")
	}
	if c.Authentication == AuthSQLPassword {
		if strings.TrimSpace(c.Username) == "" {
			missing = append(missing, "username")
		}
		if strings.TrimSpace(c.Password) == "" {
			missing = append(missing, "password")
		}
	}
	if len(missing) > 0 {
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("missing required configuration: %s", strings.Join(missing, ", "))).Build()
	}

	switch c.TLS {
	case TLSDisabled, TLSOpportunistic, TLSRequired, TLSCustomTrust, TLSStrict:
	default:
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("invalid tls mode %q", c.TLS)).Build()
	}

	if c.TLS == TLSCustomTrust && strings.TrimSpace(c.TLSTrustFile) == "" {
		return errors.New(errors.ErrCodeConfigValidation, "customTrust tls mode requires tls_trust_file").Build()
	}

	if c.PacketSize != 0 && (c.PacketSize < tds.MinPacketSize || c.PacketSize > tds.MaxPacketSize) {
		return errors.New(errors.ErrCodeConfigValidation,
			fmt.Sprintf("packet_size %d out of range [%d,%d]", c.PacketSize, tds.MinPacketSize, tds.MaxPacketSize)).Build()
	}

	return nil
}

// Addr returns the host:port dial address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Hostname, c.Port)
}

// EncryptionMode translates TLS into the tds package's negotiation enum.
func (c *Config) EncryptionMode() tds.EncryptionMode {
	switch c.TLS {
	case TLSDisabled:
		return tds.EncryptionOff
	case TLSRequired, TLSCustomTrust:
		return tds.EncryptionRequired
	case TLSStrict:
		return tds.EncryptionStrict
	default:
		return tds.EncryptionLoginOnly
	}
}

// TLSConfig builds the *tls.Config Handshake needs, loading a custom
// trust bundle when TLS == customTrust.
func (c *Config) TLSConfig() (*tls.Config, error) {
	if c.TLS == TLSDisabled {
		return nil, nil
	}
	return tlsutil.ClientConfig(c.Hostname, c.TLSTrustFile, c.InsecureSkipVerify)
}

// BuildPoolConfig builds the pool.Config this Config implies, ready for
// pool.New. logger is attached directly since pool.Config doesn't
// derive it from anything else in Config.
func (c *Config) BuildPoolConfig(logger *log.Logger) (pool.Config, error) {
	handshake, err := c.HandshakeOptions()
	if err != nil {
		return pool.Config{}, err
	}

	var connOpts []tds.ConnOption
	if c.PacketSize != 0 {
		connOpts = append(connOpts, tds.WithPacketSize(c.PacketSize))
	}

	return pool.Config{
		Addr:            c.Addr(),
		Handshake:       handshake,
		ConnOpts:        connOpts,
		MinConns:        c.MinimumIdleConnections,
		MaxConns:        c.MaximumConcurrentConnections,
		IdleTimeout:     c.ConnectionIdleTimeout,
		AcquireTimeout:  c.AcquireTimeout,
		ValidationQuery: c.ValidationQuery,
		Retry: pool.RetryPolicy{
			MaxAttempts: c.MaximumAttempts,
			BaseDelay:   pool.DefaultRetryPolicy().BaseDelay,
			MaxDelay:    pool.DefaultRetryPolicy().MaxDelay,
		},
		Logger: logger,
	}, nil
}

// HandshakeOptions builds the tds.HandshakeOptions this Config implies.
func (c *Config) HandshakeOptions() (tds.HandshakeOptions, error) {
	tlsCfg, err := c.TLSConfig()
	if err != nil {
		return tds.HandshakeOptions{}, err
	}
	return tds.HandshakeOptions{
		Hostname:   c.ClientHostname,
		Username:   c.Username,
		Password:   c.Password,
		AppName:    c.ApplicationName,
		ServerName: c.Hostname,
		Database:   c.Database,
		Encryption: c.EncryptionMode(),
		TLSConfig:  tlsCfg,
	}, nil
}
