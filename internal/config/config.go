package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"safe-code-gate/internal/gate"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Gate     GateConfig     `yaml:"gate"`
	Database DatabaseConfig `yaml:"database"`
	Cache    CacheConfig    `yaml:"cache"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Security SecurityConfig `yaml:"security"`
	TLS      TLSConfig      `yaml:"tls"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxRequestBody  int64         `yaml:"max_request_body_bytes"`
	MaxBatchSize    int           `yaml:"max_batch_size"`
}

// GateConfig layers operator additions over the built-in policy. Names can
// only be added; the stock deny lists cannot be shrunk from a config file.
type GateConfig struct {
	MaxCodeLength     int             `yaml:"max_code_length"`
	MaxLoopDepth      int             `yaml:"max_loop_depth"`
	MaxLoopIterations int             `yaml:"max_loop_iterations"`
	AllowedModules    []string        `yaml:"allowed_modules"`
	DeniedModules     []string        `yaml:"denied_modules"`
	DeniedFunctions   []string        `yaml:"denied_functions"`
	DeniedAttributes  []string        `yaml:"denied_attributes"`
	TrustedNamespaces []string        `yaml:"trusted_namespaces"`
	ExtraPatterns     []PatternConfig `yaml:"extra_patterns"`
	ReloadOnChange    bool            `yaml:"reload_on_change"`
}

type PatternConfig struct {
	Name        string `yaml:"name"`
	Regex       string `yaml:"regex"`
	Description string `yaml:"description"`
}

type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AuditBuffer     int           `yaml:"audit_buffer"`
}

// CacheConfig enables the shared verdict cache. An empty address disables it.
type CacheConfig struct {
	Address   string        `yaml:"address"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Sample      float64 `yaml:"sample_rate"`
	ServiceName string  `yaml:"service_name"`
	Insecure    bool    `yaml:"insecure"`
}

type SecurityConfig struct {
	APIKeyHeader   string   `yaml:"api_key_header"`
	AllowedKeys    []string `yaml:"allowed_keys"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst"`
}

// TLSConfig controls HTTPS/TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from CLI flag or hardcoded default
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns sensible defaults for all configuration.
func DefaultConfig() *Config {
	p := gate.DefaultPolicy()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxRequestBody:  1 << 20, // 1MB
			MaxBatchSize:    100,
		},
		Gate: GateConfig{
			MaxCodeLength:     p.MaxCodeLength,
			MaxLoopDepth:      p.MaxLoopDepth,
			MaxLoopIterations: p.MaxLoopIterations,
			ReloadOnChange:    true,
		},
		Database: DatabaseConfig{
			DSN:             "",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			AuditBuffer:     1000,
		},
		Cache: CacheConfig{
			KeyPrefix: "gate:",
			TTL:       time.Hour,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Sample:      0.1,
			ServiceName: "safe-code-gate",
		},
		Security: SecurityConfig{
			APIKeyHeader:   "X-API-Key",
			RateLimitRPS:   100,
			RateLimitBurst: 200,
		},
		TLS: TLSConfig{
			Enabled: false,
		},
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Server.MaxBatchSize < 1 {
		return fmt.Errorf("server.max_batch_size must be >= 1")
	}
	if _, err := c.Gate.Policy(); err != nil {
		return fmt.Errorf("gate: %w", err)
	}
	if c.Tracing.Sample < 0 || c.Tracing.Sample > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1, got %g", c.Tracing.Sample)
	}
	if c.Database.AuditBuffer < 1 {
		return fmt.Errorf("database.audit_buffer must be >= 1")
	}
	if c.Cache.Address != "" && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when cache.address is set")
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are required when TLS is enabled")
		}
	}
	if c.Database.DSN != "" && strings.Contains(c.Database.DSN, "sslmode=disable") {
		log.Warn().Msg("database DSN has sslmode=disable, connections to Postgres are unencrypted")
	}
	return nil
}

// Policy builds the gate policy: the built-in tables extended with the
// names and patterns from this section.
func (g GateConfig) Policy() (gate.Policy, error) {
	patterns := make([]gate.Pattern, 0, len(g.ExtraPatterns))
	for _, pc := range g.ExtraPatterns {
		p, err := gate.CompilePattern(pc.Name, pc.Regex, pc.Description)
		if err != nil {
			return gate.Policy{}, err
		}
		patterns = append(patterns, p)
	}

	p := gate.DefaultPolicy().Extend(gate.Overrides{
		MaxCodeLength:     g.MaxCodeLength,
		MaxLoopDepth:      g.MaxLoopDepth,
		MaxLoopIterations: g.MaxLoopIterations,
		AllowedModules:    g.AllowedModules,
		DeniedModules:     g.DeniedModules,
		DeniedFunctions:   g.DeniedFunctions,
		DeniedAttributes:  g.DeniedAttributes,
		TrustedNamespaces: g.TrustedNamespaces,
		Patterns:          patterns,
	})
	if err := p.Validate(); err != nil {
		return gate.Policy{}, err
	}
	return p, nil
}

// Address returns the listen address string.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
