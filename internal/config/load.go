package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

type LoadOptions struct {
	ExplicitPath string
	WorkingDir   string
	Env          map[string]string
}

type fileConfig struct {
	Version       *int              `yaml:"version" toml:"version"`
	Daemon        fileDaemon        `yaml:"daemon" toml:"daemon"`
	Download      fileDownload      `yaml:"download" toml:"download"`
	GlobalOptions map[string]string `yaml:"global_options" toml:"global_options"`
}

type fileDaemon struct {
	Host            *string   `yaml:"host" toml:"host"`
	Port            *int      `yaml:"port" toml:"port"`
	Path            *string   `yaml:"path" toml:"path"`
	Secure          *bool     `yaml:"secure" toml:"secure"`
	Spawn           *bool     `yaml:"spawn" toml:"spawn"`
	Binary          *string   `yaml:"binary" toml:"binary"`
	ExtraArgs       *[]string `yaml:"extra_args" toml:"extra_args"`
	ConnectAttempts *int      `yaml:"connect_attempts" toml:"connect_attempts"`
}

type fileDownload struct {
	Dir        *string `yaml:"dir" toml:"dir"`
	MaxRetries *int    `yaml:"max_retries" toml:"max_retries"`
}

// Load merges, lowest precedence first: defaults, the user config, the project
// config (ariadl.yaml then ariadl.toml) or an explicit path instead of both,
// then ARIADL_* environment overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	cwd := opts.WorkingDir
	if strings.TrimSpace(cwd) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}

	env := opts.Env
	if env == nil {
		env = osEnvMap()
	}

	if explicit := strings.TrimSpace(opts.ExplicitPath); explicit != "" {
		if err := mergeFile(&cfg, explicit, true); err != nil {
			return Config{}, err
		}
	} else {
		userPath, err := UserConfigPath()
		if err != nil {
			return Config{}, err
		}
		if err := mergeFile(&cfg, userPath, false); err != nil {
			return Config{}, err
		}

		for _, path := range ProjectConfigPaths(cwd) {
			if err := mergeFile(&cfg, path, false); err != nil {
				return Config{}, err
			}
		}
	}

	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, err
	}

	normalize(&cfg)
	return cfg, nil
}

func mergeFile(cfg *Config, path string, required bool) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file does not exist: %s", path)
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	fc, err := decodeFile(path, payload)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Version != nil {
		cfg.Version = *fc.Version
	}

	d := fc.Daemon
	if d.Host != nil {
		cfg.Daemon.Host = strings.TrimSpace(*d.Host)
	}
	if d.Port != nil {
		cfg.Daemon.Port = *d.Port
	}
	if d.Path != nil {
		cfg.Daemon.Path = strings.TrimSpace(*d.Path)
	}
	if d.Secure != nil {
		cfg.Daemon.Secure = *d.Secure
	}
	if d.Spawn != nil {
		cfg.Daemon.Spawn = *d.Spawn
	}
	if d.Binary != nil {
		cfg.Daemon.Binary = strings.TrimSpace(*d.Binary)
	}
	if d.ExtraArgs != nil {
		cfg.Daemon.ExtraArgs = append([]string{}, (*d.ExtraArgs)...)
	}
	if d.ConnectAttempts != nil {
		cfg.Daemon.ConnectAttempts = *d.ConnectAttempts
	}

	if fc.Download.Dir != nil {
		cfg.Download.Dir = strings.TrimSpace(*fc.Download.Dir)
	}
	if fc.Download.MaxRetries != nil {
		cfg.Download.MaxRetries = *fc.Download.MaxRetries
	}

	// global options merge key by key so a project file can override one
	// option without restating the rest
	for key, value := range fc.GlobalOptions {
		if cfg.GlobalOptions == nil {
			cfg.GlobalOptions = map[string]string{}
		}
		cfg.GlobalOptions[strings.TrimSpace(key)] = value
	}

	return nil
}

func decodeFile(path string, payload []byte) (fileConfig, error) {
	var fc fileConfig
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		err := toml.Unmarshal(payload, &fc)
		return fc, err
	}
	err := yaml.Unmarshal(payload, &fc)
	return fc, err
}

func applyEnvOverrides(cfg *Config, env map[string]string) error {
	if value := strings.TrimSpace(env["ARIADL_HOST"]); value != "" {
		cfg.Daemon.Host = value
	}
	if value := strings.TrimSpace(env["ARIADL_PORT"]); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ARIADL_PORT value %q: %w", value, err)
		}
		cfg.Daemon.Port = parsed
	}
	if value := strings.TrimSpace(env["ARIADL_DIR"]); value != "" {
		cfg.Download.Dir = value
	}
	if value := strings.TrimSpace(env["ARIADL_MAX_RETRIES"]); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid ARIADL_MAX_RETRIES value %q: %w", value, err)
		}
		cfg.Download.MaxRetries = parsed
	}
	if value := strings.TrimSpace(env["ARIADL_SPAWN"]); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid ARIADL_SPAWN value %q: %w", value, err)
		}
		cfg.Daemon.Spawn = parsed
	}
	return nil
}

func normalize(cfg *Config) {
	if strings.TrimSpace(cfg.Daemon.Path) != "" && !strings.HasPrefix(cfg.Daemon.Path, "/") {
		cfg.Daemon.Path = "/" + cfg.Daemon.Path
	}
	if cfg.GlobalOptions == nil {
		cfg.GlobalOptions = map[string]string{}
	}
}

func osEnvMap() map[string]string {
	result := map[string]string{}
	for _, pair := range os.Environ() {
		pieces := strings.SplitN(pair, "=", 2)
		if len(pieces) == 2 {
			result[pieces[0]] = pieces[1]
		}
	}
	return result
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return nil
}
