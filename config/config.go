// Package config loads and saves Safe-Coder's on-disk TOML configuration:
// the single surface that funnels worker CLI paths, subprocess timeouts,
// concurrency caps, and the default permission preset into one place,
// instead of leaving them scattered across call sites as hard-coded
// constants.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/safe-coder/safe-coder/worker"
)

// Mode names the default agent mode a new session starts in.
type Mode string

const (
	ModePlan  Mode = "plan"
	ModeBuild Mode = "build"
)

// Worker holds the settings for one worker kind: where its CLI binary lives
// and, eventually, kind-specific overrides.
type Worker struct {
	CLIPath string `toml:"cli_path"`
}

// Timeouts collects every subprocess- and call-level timeout Safe-Coder
// enforces, expressed in seconds in the TOML file and converted to
// time.Duration by the Config accessor methods (WorkerTimeout and friends).
type Timeouts struct {
	WorkerSeconds           int `toml:"worker_seconds"`
	HeartbeatIntervalSeconds int `toml:"heartbeat_interval_seconds"`
	ModelCallSeconds        int `toml:"model_call_seconds"`
}

// Concurrency collects the per-kind worker concurrency caps and the
// minimum stagger between same-kind spawns.
type Concurrency struct {
	MaxPerKind          int `toml:"max_per_kind"`
	SpawnIntervalMillis int `toml:"spawn_interval_millis"`
}

// Config is the root of a loaded safe-coder config.toml.
type Config struct {
	DefaultMode       Mode              `toml:"default_mode"`
	PermissionPreset  string            `toml:"permission_preset"`
	ModelProvider     string            `toml:"model_provider"`
	ModelID           string            `toml:"model_id"`
	CredentialsPath   string            `toml:"credentials_path"`
	StepCap           int               `toml:"step_cap"`
	Workers           map[string]Worker `toml:"workers"`
	Timeouts          Timeouts          `toml:"timeouts"`
	Concurrency       Concurrency       `toml:"concurrency"`
	UseWorktrees      bool              `toml:"use_worktrees"`
	CommandsDir       string            `toml:"commands_dir"`
}

// Default returns the configuration used when no config.toml exists yet.
func Default() *Config {
	return &Config{
		DefaultMode:      ModePlan,
		PermissionPreset: "safe",
		ModelProvider:    "anthropic",
		StepCap:          50,
		Workers: map[string]Worker{
			string(worker.ClaudeCode):    {CLIPath: "claude"},
			string(worker.GeminiCli):     {CLIPath: "gemini"},
			string(worker.SafeCoder):     {CLIPath: "safe-coder"},
			string(worker.GitHubCopilot): {CLIPath: "copilot"},
		},
		Timeouts: Timeouts{
			WorkerSeconds:            300,
			HeartbeatIntervalSeconds: 5,
			ModelCallSeconds:         120,
		},
		Concurrency: Concurrency{
			MaxPerKind:          3,
			SpawnIntervalMillis: 250,
		},
		UseWorktrees: true,
		CommandsDir:  "commands",
	}
}

// WorkerTimeout returns the configured worker subprocess timeout.
func (c *Config) WorkerTimeout() time.Duration {
	return time.Duration(c.Timeouts.WorkerSeconds) * time.Second
}

// HeartbeatInterval returns the configured worker heartbeat interval.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Timeouts.HeartbeatIntervalSeconds) * time.Second
}

// ModelCallTimeout returns the configured upstream model-call timeout.
func (c *Config) ModelCallTimeout() time.Duration {
	return time.Duration(c.Timeouts.ModelCallSeconds) * time.Second
}

// SpawnInterval returns the configured minimum stagger between same-kind
// worker spawns.
func (c *Config) SpawnInterval() time.Duration {
	return time.Duration(c.Concurrency.SpawnIntervalMillis) * time.Millisecond
}

// CLIPath returns the configured CLI binary path for a worker kind,
// falling back to the kind's bare name (relying on $PATH resolution) when
// the config has no entry for it.
func (c *Config) CLIPath(kind worker.Kind) string {
	if w, ok := c.Workers[string(kind)]; ok && w.CLIPath != "" {
		return w.CLIPath
	}
	return string(kind)
}

var (
	dirOnce    sync.Once
	configRoot string
	configErr  error
)

// configDir resolves and caches the directory safe-coder's config.toml
// lives in, honoring $SAFE_CODER_CONFIG_DIR before falling back to the
// platform user-config directory.
func configDir() (string, error) {
	dirOnce.Do(func() {
		if dir := os.Getenv("SAFE_CODER_CONFIG_DIR"); dir != "" {
			configRoot = dir
			return
		}
		base, err := os.UserConfigDir()
		if err != nil {
			configErr = fmt.Errorf("config: resolve user config dir: %w", err)
			return
		}
		configRoot = filepath.Join(base, "safe-coder")
	})
	return configRoot, configErr
}

// Path returns the full path to config.toml.
func Path() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads config.toml, merging it over Default() so a partial file only
// overrides the fields it sets. A missing file returns Default() with no
// error — config.toml is optional, not required.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads a config.toml from an explicit path, for tests and for
// callers that don't want the platform default location.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to config.toml at the platform default location,
// creating the parent directory if needed.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(cfg, path)
}

// SaveFile writes cfg as TOML to an explicit path.
func SaveFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}

// CommandsPath returns the directory custom command TOML files
// (<commands_dir>/*.toml) are loaded from, relative to the config
// directory unless CommandsDir is an absolute path.
func (c *Config) CommandsPath() (string, error) {
	if filepath.IsAbs(c.CommandsDir) {
		return c.CommandsDir, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, c.CommandsDir), nil
}

// Command is a user-defined slash command: a named prompt template
// expanded and submitted as a user turn verbatim.
type Command struct {
	Name        string `toml:"name"`
	Description string `toml:"description"`
	Prompt      string `toml:"prompt"`
}

// LoadCommands reads every *.toml file in the config's commands directory
// and returns the Commands they define, sorted by name. A missing
// directory is not an error — custom commands are optional.
func (c *Config) LoadCommands() ([]Command, error) {
	dir, err := c.CommandsPath()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: read commands dir %s: %w", dir, err)
	}

	var commands []Command
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read command %s: %w", path, err)
		}
		var cmd Command
		if _, err := toml.Decode(string(data), &cmd); err != nil {
			return nil, fmt.Errorf("config: parse command %s: %w", path, err)
		}
		if cmd.Name == "" {
			cmd.Name = strings.TrimSuffix(entry.Name(), ".toml")
		}
		commands = append(commands, cmd)
	}
	sort.Slice(commands, func(i, j int) bool { return commands[i].Name < commands[j].Name })
	return commands, nil
}

// Token is the on-disk shape of a provider's stored credential: an API key
// (or, for a future OAuth-based provider, an access/refresh pair) kept
// outside config.toml so the config file itself can be shared or committed
// without leaking secrets.
type Token struct {
	APIKey string `json:"api_key"`
}

// TokenPath returns <config_dir>/<provider>_token.json.
func TokenPath(provider string) (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, provider+"_token.json"), nil
}

// SaveToken persists a provider's credential as JSON, creating the config
// directory if needed. The file is written user-read-only since it holds a
// live API key.
func SaveToken(provider string, tok Token) error {
	path, err := TokenPath(provider)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode token for %s: %w", provider, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write token for %s: %w", provider, err)
	}
	return nil
}

// LoadToken reads a provider's stored credential. A missing file is
// reported via the returned bool rather than an error, since "not logged
// in" is an expected, recoverable state.
func LoadToken(provider string) (Token, bool, error) {
	path, err := TokenPath(provider)
	if err != nil {
		return Token{}, false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Token{}, false, nil
		}
		return Token{}, false, fmt.Errorf("config: read token for %s: %w", provider, err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return Token{}, false, fmt.Errorf("config: parse token for %s: %w", provider, err)
	}
	return tok, true, nil
}

// DeleteToken removes a provider's stored credential. A missing file is not
// an error.
func DeleteToken(provider string) error {
	path, err := TokenPath(provider)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("config: remove token for %s: %w", provider, err)
	}
	return nil
}
