// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

// Package config loads server configuration from a YAML file and command-line
// flags. Flags override the file; the file overrides Default.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/devkitserver/devkitserver/internal/core"
	"github.com/devkitserver/devkitserver/internal/logging"
	"github.com/devkitserver/devkitserver/internal/permission"
	"github.com/devkitserver/devkitserver/internal/permission/store"
	"github.com/devkitserver/devkitserver/internal/xdg"
)

// Storage backends.
const (
	BackendFile = "file"
	BackendBolt = "bolt"
)

// Config is the full server configuration.
type Config struct {
	DataDir         string `koanf:"data_dir" json:"data_dir,omitempty" jsonschema:"description=Directory holding permission files and the group definitions"`
	LogFormat       string `koanf:"log_format" json:"log_format,omitempty" jsonschema:"enum=json,enum=text"`
	LogLevel        string `koanf:"log_level" json:"log_level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
	MetricsAddr     string `koanf:"metrics_addr" json:"metrics_addr,omitempty" jsonschema:"description=Prometheus and health probe listen address; empty disables it"`
	ReplicationAddr string `koanf:"replication_addr" json:"replication_addr,omitempty" jsonschema:"description=Websocket listen address for clients; empty disables replication"`
	PluginsDir      string `koanf:"plugins_dir" json:"plugins_dir,omitempty"`
	TranslationsDir string `koanf:"translations_dir" json:"translations_dir,omitempty" jsonschema:"description=Directory for command translation files"`

	Storage     StorageConfig     `koanf:"storage" json:"storage,omitempty"`
	Permissions PermissionsConfig `koanf:"permissions" json:"permissions,omitempty"`
	Game        GameConfig        `koanf:"game" json:"game,omitempty"`
	Audit       AuditConfig       `koanf:"audit" json:"audit,omitempty"`
	RateLimit   RateLimitConfig   `koanf:"rate_limit" json:"rate_limit,omitempty"`
}

// StorageConfig selects where per-user permission state is kept.
type StorageConfig struct {
	Backend     string        `koanf:"backend" json:"backend,omitempty" jsonschema:"enum=file,enum=bolt"`
	SaveFailure string        `koanf:"save_failure" json:"save_failure,omitempty" jsonschema:"enum=propagate,enum=log"`
	SaveRetries uint64        `koanf:"save_retries" json:"save_retries,omitempty" jsonschema:"maximum=10"`
	RetryDelay  time.Duration `koanf:"retry_delay" json:"retry_delay,omitempty" jsonschema:"type=string"`
}

// PermissionsConfig holds the defaults written for new users.
type PermissionsConfig struct {
	DefaultUserPermissions []string `koanf:"default_user_permissions" json:"default_user_permissions,omitempty"`
	DefaultUserGroups      []string `koanf:"default_user_groups" json:"default_user_groups,omitempty"`
	// GroupsFile defaults to permission_groups.yaml in DataDir.
	GroupsFile string `koanf:"groups_file" json:"groups_file,omitempty"`
}

// GameConfig is the initial game state used by execution mode gates.
type GameConfig struct {
	Mode        string `koanf:"mode" json:"mode,omitempty" jsonschema:"enum=menu,enum=editor,enum=player"`
	Multiplayer bool   `koanf:"multiplayer" json:"multiplayer,omitempty"`
	Cheats      bool   `koanf:"cheats" json:"cheats,omitempty"`
	Dedicated   bool   `koanf:"dedicated" json:"dedicated,omitempty"`
}

// AuditConfig enables the PostgreSQL audit sink.
type AuditConfig struct {
	// DatabaseURL is a PostgreSQL connection string; empty disables auditing.
	DatabaseURL string        `koanf:"database_url" json:"database_url,omitempty"`
	BatchSize   int           `koanf:"batch_size" json:"batch_size,omitempty" jsonschema:"minimum=1"`
	FlushPeriod time.Duration `koanf:"flush_period" json:"flush_period,omitempty" jsonschema:"type=string"`
}

// RateLimitConfig throttles player commands. A zero burst disables it.
type RateLimitConfig struct {
	Burst int     `koanf:"burst" json:"burst,omitempty" jsonschema:"minimum=0"`
	Rate  float64 `koanf:"rate" json:"rate,omitempty" jsonschema:"minimum=0"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		DataDir:   xdg.DataDir(),
		LogFormat: logging.FormatJSON,
		LogLevel:  "info",
		Storage: StorageConfig{
			Backend:     BackendFile,
			SaveFailure: string(store.SaveFailurePropagate),
			SaveRetries: 2,
			RetryDelay:  50 * time.Millisecond,
		},
		Game: GameConfig{
			Mode:        "player",
			Multiplayer: true,
			Dedicated:   true,
		},
		Audit: AuditConfig{
			BatchSize:   100,
			FlushPeriod: time.Second,
		},
	}
}

// flagKeys maps flag names to config keys. Flags missing here, such as
// --config, are not config values.
var flagKeys = map[string]string{
	"data-dir":         "data_dir",
	"log-format":       "log_format",
	"log-level":        "log_level",
	"metrics-addr":     "metrics_addr",
	"replication-addr": "replication_addr",
	"plugins-dir":      "plugins_dir",
	"storage-backend":  "storage.backend",
	"game-mode":        "game.mode",
	"audit-database":   "audit.database_url",
}

// RegisterFlags adds the config flags to fs, with defaults from Default.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "config file (default "+xdg.ConfigFile()+")")
	fs.String("data-dir", d.DataDir, "directory for permission data")
	fs.String("log-format", d.LogFormat, "log format (json or text)")
	fs.String("log-level", d.LogLevel, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", d.MetricsAddr, "metrics and health listen address, empty to disable")
	fs.String("replication-addr", d.ReplicationAddr, "websocket listen address for clients, empty to disable")
	fs.String("plugins-dir", d.PluginsDir, "plugin directory (default <data-dir>/plugins)")
	fs.String("storage-backend", d.Storage.Backend, "permission storage backend (file or bolt)")
	fs.String("game-mode", d.Game.Mode, "initial game mode (menu, editor or player)")
	fs.String("audit-database", d.Audit.DatabaseURL, "PostgreSQL URL for the audit log, empty to disable")
}

// Load reads the file named by --config (or the default config file when it
// exists) and applies changed flags on top. fs may be nil.
func Load(fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	path, explicit := configPath(fs)
	if _, err := os.Stat(path); err == nil || explicit || !errors.Is(err, os.ErrNotExist) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_READ_FAILED").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, oops.In("config").Code("INVALID_CONFIG").Wrap(err)
	}
	cfg.fillPaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func configPath(fs *pflag.FlagSet) (string, bool) {
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			return f.Value.String(), true
		}
	}
	return xdg.ConfigFile(), false
}

func (c *Config) fillPaths() {
	if c.PluginsDir == "" {
		c.PluginsDir = filepath.Join(c.DataDir, "plugins")
	}
	if c.TranslationsDir == "" {
		c.TranslationsDir = filepath.Join(c.DataDir, "translations")
	}
	if c.Permissions.GroupsFile == "" {
		c.Permissions.GroupsFile = filepath.Join(c.DataDir, "permission_groups.yaml")
	}
}

// Validate checks values the schema cannot express.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return invalid("data_dir", c.DataDir, "data_dir is required")
	}
	if !logging.ValidFormat(c.LogFormat) {
		return invalid("log_format", c.LogFormat, "log_format must be json or text")
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level", c.LogLevel, "log_level must be debug, info, warn or error")
	}
	if c.Storage.Backend != BackendFile && c.Storage.Backend != BackendBolt {
		return invalid("storage.backend", c.Storage.Backend, "storage.backend must be file or bolt")
	}
	if !store.SaveFailurePolicy(c.Storage.SaveFailure).Valid() {
		return invalid("storage.save_failure", c.Storage.SaveFailure, "storage.save_failure must be propagate or log")
	}
	if _, ok := core.ParseMode(c.Game.Mode); !ok {
		return invalid("game.mode", c.Game.Mode, "game.mode must be menu, editor or player")
	}
	if _, err := c.DefaultPermissions(); err != nil {
		return err
	}
	if c.Audit.BatchSize < 1 {
		return invalid("audit.batch_size", c.Audit.BatchSize, "audit.batch_size must be at least 1")
	}
	if c.RateLimit.Burst < 0 || c.RateLimit.Rate < 0 {
		return invalid("rate_limit", c.RateLimit, "rate_limit values must not be negative")
	}
	return nil
}

func invalid(key string, value any, msg string) error {
	return oops.In("config").Code("INVALID_CONFIG").With("key", key).With("value", value).Errorf("%s", msg)
}

// DefaultPermissions parses permissions.default_user_permissions.
func (c *Config) DefaultPermissions() ([]permission.Branch, error) {
	out := make([]permission.Branch, 0, len(c.Permissions.DefaultUserPermissions))
	for _, s := range c.Permissions.DefaultUserPermissions {
		b, ok := permission.ParseBranch(s)
		if !ok {
			return nil, invalid("permissions.default_user_permissions", s, "invalid permission "+s)
		}
		out = append(out, b)
	}
	return out, nil
}

// StoreOptions returns the permission store options.
func (c *Config) StoreOptions() store.Options {
	perms, _ := c.DefaultPermissions()
	return store.Options{
		DefaultPermissions: perms,
		DefaultGroups:      c.Permissions.DefaultUserGroups,
		SaveFailure:        store.SaveFailurePolicy(c.Storage.SaveFailure),
		SaveRetries:        c.Storage.SaveRetries,
		RetryDelay:         c.Storage.RetryDelay,
	}
}

// GameState returns the initial execution-mode inputs.
func (c *Config) GameState() core.State {
	mode, _ := core.ParseMode(c.Game.Mode)
	return core.State{
		Mode:        mode,
		Multiplayer: c.Game.Multiplayer,
		Cheats:      c.Game.Cheats,
		Dedicated:   c.Game.Dedicated,
	}
}

// LoggingOptions returns the logger options for service and version.
func (c *Config) LoggingOptions(service, version string) logging.Options {
	level, _ := logging.ParseLevel(c.LogLevel)
	return logging.Options{Service: service, Version: version, Format: c.LogFormat, Level: level}
}
