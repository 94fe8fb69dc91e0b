// Package config handles loading, validating, and writing the qpe
// engine's configuration from ~/.qpe/config.yaml.
//
// The config defines:
//   - Server bind address (host:port)
//   - The NLU endpoint intents are resolved against
//   - Paths to the hot-reloadable tagrules.yaml and blocked.yaml files
//   - Audit log location
//   - Dashboard toggle
//
// The header comment that WriteDefault writes lists every YAML field.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level qpe engine configuration.
// Loaded from ~/.qpe/config.yaml, with sensible defaults for fields
// that are not explicitly set.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	NLU       NLUConfig       `yaml:"nlu"`
	TagRules  TagRulesConfig  `yaml:"tagRules"`
	Requester RequesterConfig `yaml:"requester"`
	Audit     AuditConfig     `yaml:"audit"`
	Dashboard DashboardConfig `yaml:"dashboard"`
}

// ServerConfig defines where the engine listens.
// Default: 127.0.0.1:8420 (loopback only — never bind to 0.0.0.0).
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// NLUConfig points at the natural-language understanding endpoint that
// turns an utterance into the LUIS-shaped JSON this engine decodes into
// a paper.Intent.
type NLUConfig struct {
	APIURL    string `yaml:"apiUrl"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// TagRulesConfig points at the hot-reloadable tag classification rules.
type TagRulesConfig struct {
	Path string `yaml:"path"`
}

// RequesterConfig points at the hot-reloadable requester block-list and
// the registry persistence file.
type RequesterConfig struct {
	BlockListPath string `yaml:"blockListPath"`
	RegistryPath  string `yaml:"registryPath"`
}

// AuditConfig controls where the hash-chained audit log and its SQLite
// index are written.
type AuditConfig struct {
	Dir string `yaml:"dir"`
}

// DashboardConfig controls the web dashboard served at /dashboard.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads and parses config.yaml from the given path.
// If the file doesn't exist, returns defaults (not an error).
// Invalid YAML or validation failures return an error.
func Load(path string) (*Config, error) {
	cfg := applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config file — use defaults. This is normal on first run
			// before `qpe config generate` or `qpe config edit` creates
			// the file.
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a default config.yaml with all fields populated
// and a comment header. Used by `qpe config generate`, and by
// `qpe config edit` when no config file exists yet.
func WriteDefault(path string) error {
	cfg := applyDefaults()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	header := `# qpe engine configuration
#
# server:
#   host: Bind address (default: 127.0.0.1, loopback only)
#   port: Listen port (default: 8420)
#
# nlu:
#   apiUrl: Endpoint intents are resolved against
#   timeoutMs: Request timeout
#
# tagRules:
#   path: Custom tag classification rules, hot-reloaded
#
# requester:
#   blockListPath: Requesters denied before reaching the resolver, hot-reloaded
#   registryPath: Per-requester utterance counters, persisted across restarts
#
# audit:
#   dir: Directory holding the hash-chained audit log and its SQLite index
#
# dashboard:
#   enabled: Serve web UI at /dashboard on the same port

`
	return os.WriteFile(path, []byte(header+string(data)), 0o644)
}

// applyDefaults returns a Config with all fields set to their default values.
func applyDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8420,
		},
		NLU: NLUConfig{
			APIURL:    "http://luisendpoint.azurewebsites.net/?text=",
			TimeoutMs: 10000,
		},
		TagRules: TagRulesConfig{
			Path: "tagrules.yaml",
		},
		Requester: RequesterConfig{
			BlockListPath: "blocked.yaml",
			RegistryPath:  "requesters.yaml",
		},
		Audit: AuditConfig{
			Dir: "audit",
		},
		Dashboard: DashboardConfig{
			Enabled: true,
		},
	}
}

// validate checks the config for logical errors after parsing.
func validate(cfg *Config) error {
	if cfg.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range (1-65535)", cfg.Server.Port)
	}
	if cfg.NLU.APIURL == "" {
		return fmt.Errorf("nlu.apiUrl is required")
	}
	if cfg.NLU.TimeoutMs < 0 {
		return fmt.Errorf("nlu.timeoutMs must be non-negative")
	}
	if cfg.Audit.Dir == "" {
		return fmt.Errorf("audit.dir must not be empty")
	}

	return nil
}
