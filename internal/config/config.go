package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// LogFile is the audit log path. Empty means DefaultLogFile().
	LogFile         string             `yaml:"log_file" toml:"log_file"`
	Service         string             `yaml:"service" toml:"service"`
	Hosts           []string           `yaml:"hosts" toml:"hosts"`
	InitiatorHeader string             `yaml:"initiator_header" toml:"initiator_header"`
	Multipliers     map[string]float64 `yaml:"multipliers" toml:"multipliers"`
	// MaxBodyBytes caps how much of a request body is read to classify it.
	// Larger bodies are forwarded unread and recorded with unknown model.
	MaxBodyBytes int64        `yaml:"max_body_bytes" toml:"max_body_bytes"`
	Audit        AuditConfig  `yaml:"audit" toml:"audit"`
	Server       ServerConfig `yaml:"server" toml:"server"`
	CORS         CORSConfig   `yaml:"cors" toml:"cors"`
}

type AuditConfig struct {
	BatchSize     int           `yaml:"batch_size" toml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval" toml:"flush_interval"`
	PreInitBuffer int           `yaml:"pre_init_buffer" toml:"pre_init_buffer"`
	// HostRate throttles host log entries per diagnostic kind per HostWindow.
	// Zero forwards every diagnostic.
	HostRate   int           `yaml:"host_rate" toml:"host_rate"`
	HostWindow time.Duration `yaml:"host_window" toml:"host_window"`
}

type ServerConfig struct {
	Host         string        `yaml:"host" toml:"host"`
	Port         int           `yaml:"port" toml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" toml:"write_timeout"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"` // default: [] (same-origin only when empty; ["*"] for dev)
}

// Load reads the config file at path, if any, and applies environment
// overrides. Files ending in .toml are decoded as TOML, anything else as
// YAML. A .env file in the working directory or next to the config file is
// loaded first; it never overrides variables already set.
func Load(path string) (*Config, error) {
	loadDotEnv(path)

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		expanded := expandEnvVars(string(data))

		if err := decode(path, []byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile()
	}
	cfg.LogFile = expandHome(cfg.LogFile)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given, without
// reading the environment.
func Default() *Config {
	cfg := defaults()
	cfg.LogFile = DefaultLogFile()
	return cfg
}

func defaults() *Config {
	return &Config{
		Service:         "copilot-stats",
		Hosts:           []string{"github.com", "githubcopilot.com", "ghe.com"},
		InitiatorHeader: "x-initiator",
		MaxBodyBytes:    8 << 20,
		Audit: AuditConfig{
			BatchSize:     10,
			FlushInterval: 500 * time.Millisecond,
			PreInitBuffer: 32,
			HostWindow:    time.Minute,
		},
		Server: ServerConfig{
			Host:         "127.0.0.1",
			Port:         8086,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

func decode(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func loadDotEnv(configPath string) {
	paths := []string{".env"}
	if configPath != "" {
		paths = append(paths, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

func expandEnvVars(s string) string {
	return os.ExpandEnv(s)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COPILOT_STATS_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("COPILOT_STATS_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("COPILOT_STATS_HOST"); v != "" {
		cfg.Server.Host = v
	}
}

// DefaultLogFile returns ${XDG_DATA_HOME:-~/.local/share}/opencode/log/copilot-stats.txt.
func DefaultLogFile() string {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "opencode", "log", "copilot-stats.txt")
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate reports every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.InitiatorHeader == "" {
		errs = append(errs, errors.New("initiator_header must not be empty"))
	}
	for _, h := range c.Hosts {
		if strings.TrimSpace(h) == "" {
			errs = append(errs, errors.New("hosts must not contain empty entries"))
			break
		}
	}
	for model, m := range c.Multipliers {
		if m < 0 {
			errs = append(errs, fmt.Errorf("multiplier for %q must be >= 0, got %v", model, m))
		}
	}
	if c.MaxBodyBytes < 0 {
		errs = append(errs, fmt.Errorf("max_body_bytes must be >= 0, got %d", c.MaxBodyBytes))
	}
	if c.Audit.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("audit.batch_size must be >= 1, got %d", c.Audit.BatchSize))
	}
	if c.Audit.FlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("audit.flush_interval must be > 0, got %v", c.Audit.FlushInterval))
	}
	if c.Audit.PreInitBuffer < 0 {
		errs = append(errs, fmt.Errorf("audit.pre_init_buffer must be >= 0, got %d", c.Audit.PreInitBuffer))
	}
	if c.Audit.HostRate < 0 {
		errs = append(errs, fmt.Errorf("audit.host_rate must be >= 0, got %d", c.Audit.HostRate))
	}
	if c.Audit.HostRate > 0 && c.Audit.HostWindow <= 0 {
		errs = append(errs, errors.New("audit.host_window must be > 0 when audit.host_rate is set"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be in 0-65535, got %d", c.Server.Port))
	}
	return errors.Join(errs...)
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
