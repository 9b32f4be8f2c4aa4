package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

func UserConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); strings.TrimSpace(xdg) != "" {
		return filepath.Join(xdg, "ariadl", "config.yaml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "ariadl", "config.yaml"), nil
}

func ProjectConfigPath(cwd string) string {
	return filepath.Join(cwd, "ariadl.yaml")
}

// ProjectConfigPaths lists the project-level files in merge order.
func ProjectConfigPaths(cwd string) []string {
	return []string{
		ProjectConfigPath(cwd),
		filepath.Join(cwd, "ariadl.toml"),
	}
}

func ExpandPath(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(strings.TrimSpace(raw))
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~/"))
	}

	return filepath.Clean(expanded), nil
}

// ResolveDir expands raw and anchors relative results at cwd.
func ResolveDir(raw string, cwd string) (string, error) {
	expanded, err := ExpandPath(raw)
	if err != nil {
		return "", err
	}
	if expanded == "" {
		return "", fmt.Errorf("download directory is empty")
	}
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}
	return filepath.Clean(filepath.Join(cwd, expanded)), nil
}

// Endpoint is the daemon's WebSocket JSON-RPC URL, e.g.
// ws://localhost:6800/jsonrpc.
func (d Daemon) Endpoint() string {
	scheme := "ws"
	if d.Secure {
		scheme = "wss"
	}
	path := d.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   path,
	}
	return u.String()
}
