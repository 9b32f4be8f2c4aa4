package config

import (
	"fmt"
	"sort"
	"strings"
)

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid config"
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Problems, "; "))
}

func Validate(cfg Config) error {
	problems := []string{}

	if cfg.Version != 1 {
		problems = append(problems, "version must be 1")
	}

	if strings.TrimSpace(cfg.Daemon.Host) == "" {
		problems = append(problems, "daemon.host must be set")
	} else if strings.ContainsAny(cfg.Daemon.Host, "/ ") {
		problems = append(problems, fmt.Sprintf("daemon.host %q must be a bare host name", cfg.Daemon.Host))
	}
	if cfg.Daemon.Port <= 0 || cfg.Daemon.Port > 65535 {
		problems = append(problems, "daemon.port must be between 1 and 65535")
	}
	if strings.TrimSpace(cfg.Daemon.Path) == "" {
		problems = append(problems, "daemon.path must be set")
	}
	if cfg.Daemon.Spawn && strings.TrimSpace(cfg.Daemon.Binary) == "" {
		problems = append(problems, "daemon.binary must be set when daemon.spawn is enabled")
	}
	if cfg.Daemon.ConnectAttempts <= 0 {
		problems = append(problems, "daemon.connect_attempts must be > 0")
	}

	if strings.TrimSpace(cfg.Download.Dir) == "" {
		problems = append(problems, "download.dir must be set")
	} else if _, err := ExpandPath(cfg.Download.Dir); err != nil {
		problems = append(problems, "download.dir must be a valid path")
	}
	if cfg.Download.MaxRetries < 0 {
		problems = append(problems, "download.max_retries must be >= 0")
	}

	keys := make([]string, 0, len(cfg.GlobalOptions))
	for key := range cfg.GlobalOptions {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.TrimSpace(key) == "" {
			problems = append(problems, "global_options keys must not be empty")
		} else if key == "out" {
			problems = append(problems, "global_options.out is assigned per job")
		}
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
