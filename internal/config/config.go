package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/loykin/harness/internal/env"
	"github.com/loykin/harness/internal/logger"
	"github.com/loykin/harness/internal/process"
)

// EnvPrefix prefixes environment overrides, e.g. HARNESS_DIR or HARNESS_LOG_LEVEL.
const EnvPrefix = "HARNESS"

// Config is the harness.yaml structure.
type Config struct {
	Dir         string         `mapstructure:"dir"` // pid/log directory
	EnvFiles    []string       `mapstructure:"env_files"`
	Env         []string       `mapstructure:"env"`
	RequiredEnv []string       `mapstructure:"required_env"`
	Log         logger.Config  `mapstructure:"log"`
	Downloads   []Download     `mapstructure:"downloads"`
	Processes   []process.Spec `mapstructure:"processes"`
	History     HistoryConfig  `mapstructure:"history"`
	Server      ServerConfig   `mapstructure:"server"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
}

// Download is one fixture fetched by Up.
type Download struct {
	URL  string `mapstructure:"url"`
	Dest string `mapstructure:"dest"` // relative paths resolve against Config.Dir
}

type HistoryConfig struct {
	DSN string `mapstructure:"dsn"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	Root     string `mapstructure:"root"`
	BasePath string `mapstructure:"base_path"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("dir", ".")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file.path", "")
	v.SetDefault("history.dsn", "")
	v.SetDefault("server.addr", ":9300")
	v.SetDefault("server.root", ".")
	v.SetDefault("server.base_path", "")
	v.SetDefault("metrics.addr", "")
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the configuration used when no file is given; environment
// overrides still apply.
func Default() (*Config, error) {
	return decode(newViper())
}

// Load reads a YAML (or any viper-supported) config file.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) normalize() {
	if c.Dir == "" {
		c.Dir = "."
	}
	for i := range c.Processes {
		if c.Processes[i].Dir == "" {
			c.Processes[i].Dir = c.Dir
		}
	}
	for i := range c.Downloads {
		if d := c.Downloads[i].Dest; d != "" && !filepath.IsAbs(d) {
			c.Downloads[i].Dest = filepath.Join(c.Dir, d)
		}
	}
}

// Validate rejects unnamed or duplicate processes and incomplete downloads.
func (c *Config) Validate() error {
	seen := make(map[string]struct{}, len(c.Processes))
	for i, p := range c.Processes {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("processes[%d]: %w", i, err)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("processes[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	for i, d := range c.Downloads {
		if d.URL == "" || d.Dest == "" {
			return fmt.Errorf("downloads[%d]: url and dest are required", i)
		}
	}
	return nil
}

// Environment composes the child environment: OS base, then env_files in
// order, then the top-level env list.
func (c *Config) Environment() (*env.Env, error) {
	e := env.New()
	files, err := env.LoadFiles(c.EnvFiles...)
	if err != nil {
		return nil, err
	}
	for k, v := range files {
		e.Set(k, v)
	}
	for _, kv := range c.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("env entry %q is not KEY=VALUE", kv)
		}
		e.Set(k, v)
	}
	return e, nil
}
