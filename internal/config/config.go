// Package config handles configuration parsing for remote-shell-mcp.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/acolita/remote-shell-mcp/internal/ports"
)

// DefaultConfigPath returns the default config file path:
// $XDG_CONFIG_HOME/remote-shell-mcp/config.yaml or ~/.config/remote-shell-mcp/config.yaml
func DefaultConfigPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "remote-shell-mcp", "config.yaml")
}

// Config represents the top-level configuration.
type Config struct {
	Servers         []ServerConfig   `yaml:"servers"`
	Connection      ConnectionConfig `yaml:"connection"`
	Execution       ExecutionConfig  `yaml:"execution"`
	PromptDetection PromptConfig     `yaml:"prompt_detection"`
	Buffer          BufferConfig     `yaml:"buffer"`
	Registry        RegistryConfig   `yaml:"registry"`
	Security        SecurityConfig   `yaml:"security"`
	Logging         LoggingConfig    `yaml:"logging"`
}

// ServerConfig defines an SSH server entry. Host may be a doublestar
// glob (e.g. "*.prod.internal") so one entry can cover a fleet.
type ServerConfig struct {
	Name            string `yaml:"name"`
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	PasswordEnv     string `yaml:"password_env"`      // env var containing SSH password
	SudoPasswordEnv string `yaml:"sudo_password_env"` // env var containing sudo password
}

// ConnectionConfig defines transport-level settings.
type ConnectionConfig struct {
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ReconnectAttempts int           `yaml:"reconnect_attempts"`
	ReadTimeout       time.Duration `yaml:"read_timeout"` // reader poll bound; stop flag is checked this often
	TermWidth         int           `yaml:"term_width"`
	TermHeight        int           `yaml:"term_height"`
}

// ExecutionConfig defines command execution timing.
type ExecutionConfig struct {
	CheckInterval   time.Duration `yaml:"check_interval"`   // poll interval for monitor and wait loop
	GracePeriod     time.Duration `yaml:"grace_period"`     // trailing-output capture after completion
	DefaultTimeout  time.Duration `yaml:"default_timeout"`  // per-call timeout when the caller passes none
	MaxTimeout      time.Duration `yaml:"max_timeout"`      // monitoring ceiling
	BackgroundGrace time.Duration `yaml:"background_grace"` // wait before reporting a '&' command as backgrounded
	InterruptSettle time.Duration `yaml:"interrupt_settle"` // pause after Ctrl+C before forcing cancelled
}

// PromptConfig defines prompt detection settings.
type PromptConfig struct {
	Patterns               []string               `yaml:"patterns"`
	PromptChangingCommands []PromptChangingEntry  `yaml:"prompt_changing_commands"`
	VerificationEnabled    *bool                  `yaml:"verification_enabled"`
	VerificationDelay      time.Duration          `yaml:"verification_delay"`
	BackgroundPattern      string                 `yaml:"background_pattern"`
}

// PromptChangingEntry maps a command prefix to the prompt pattern expected
// after that command runs (sudo su, ssh, docker exec, ...).
type PromptChangingEntry struct {
	Command    string `yaml:"command"`
	NewPattern string `yaml:"new_pattern"`
}

// BufferConfig bounds the output buffer.
type BufferConfig struct {
	MaxLines int `yaml:"max_lines"`
}

// RegistryConfig bounds the command registry.
type RegistryConfig struct {
	MaxCommands int `yaml:"max_commands"`
}

// SecurityConfig defines credential handling settings.
type SecurityConfig struct {
	UseKeyring   bool          `yaml:"use_keyring"`
	SudoCacheTTL time.Duration `yaml:"sudo_cache_ttl"`
}

// LoggingConfig defines logging settings.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // "debug", "info", "warn", "error"
	Sanitize bool   `yaml:"sanitize"` // sanitize sensitive data from logs
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	verification := true
	return &Config{
		Connection: ConnectionConfig{
			ConnectTimeout:    10 * time.Second,
			KeepaliveInterval: 30 * time.Second,
			ReconnectAttempts: 3,
			ReadTimeout:       500 * time.Millisecond,
			TermWidth:         120,
			TermHeight:        40,
		},
		Execution: ExecutionConfig{
			CheckInterval:   500 * time.Millisecond,
			GracePeriod:     300 * time.Millisecond,
			DefaultTimeout:  30 * time.Second,
			MaxTimeout:      time.Hour,
			BackgroundGrace: 2 * time.Second,
			InterruptSettle: 500 * time.Millisecond,
		},
		PromptDetection: PromptConfig{
			Patterns: []string{
				`{user}@{host}:~\$`,
				`{user}@{host}:.*[$#]`,
				`root@{host}:~#`,
				`root@{host}:.*#`,
			},
			PromptChangingCommands: []PromptChangingEntry{
				{Command: "sudo su", NewPattern: `root@{host}:.*[#$]`},
				{Command: "sudo -i", NewPattern: `root@{host}:.*[#$]`},
				{Command: "su", NewPattern: `.*@.*[#$]`},
				{Command: "ssh", NewPattern: `.*@.*[$#]`},
				{Command: "docker exec", NewPattern: `.*[@#]`},
			},
			VerificationEnabled: &verification,
			VerificationDelay:   300 * time.Millisecond,
			BackgroundPattern:   `&\s*$`,
		},
		Buffer: BufferConfig{
			MaxLines: 10000,
		},
		Registry: RegistryConfig{
			MaxCommands: 1000,
		},
		Security: SecurityConfig{
			UseKeyring:   true,
			SudoCacheTTL: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Sanitize: true,
		},
	}
}

// VerificationOn reports whether suspicious-prompt verification is enabled.
func (p *PromptConfig) VerificationOn() bool {
	return p.VerificationEnabled == nil || *p.VerificationEnabled
}

// Load loads configuration from a YAML file.
// An optional FileSystem can be passed for testing; if omitted, the real OS is used.
func Load(path string, fsys ...ports.FileSystem) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	var data []byte
	var err error
	if len(fsys) > 0 && fsys[0] != nil {
		data, err = fsys[0].ReadFile(path)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist yet — return defaults (add-server will create it)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Execution.MaxTimeout < c.Execution.DefaultTimeout {
		return fmt.Errorf("execution.max_timeout (%s) must be >= execution.default_timeout (%s)",
			c.Execution.MaxTimeout, c.Execution.DefaultTimeout)
	}
	if c.Execution.CheckInterval <= 0 {
		return fmt.Errorf("execution.check_interval must be positive")
	}
	if c.Buffer.MaxLines <= 0 {
		return fmt.Errorf("buffer.max_lines must be positive")
	}
	if c.Registry.MaxCommands <= 0 {
		return fmt.Errorf("registry.max_commands must be positive")
	}
	if len(c.PromptDetection.Patterns) == 0 {
		return fmt.Errorf("prompt_detection.patterns must not be empty")
	}
	for _, srv := range c.Servers {
		if srv.Host == "" {
			return fmt.Errorf("server %q: host is required", srv.Name)
		}
	}
	return nil
}

// ServerFor returns the first server entry whose host matches the given
// host, either exactly, by name, or by doublestar glob.
func (c *Config) ServerFor(host string) (ServerConfig, bool) {
	for _, srv := range c.Servers {
		if srv.Host == host || srv.Name == host {
			return srv, true
		}
		if ok, err := doublestar.Match(srv.Host, host); err == nil && ok {
			return srv, true
		}
	}
	return ServerConfig{}, false
}

// AddServer appends a server entry and writes the config back to path.
func (c *Config) AddServer(path string, srv ServerConfig, fsys ports.FileSystem) error {
	c.Servers = append(c.Servers, srv)

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := fsys.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := fsys.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
