package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// dotenvFiles are read in order from the working directory. Later files win
// over earlier ones; the process environment wins over both.
var dotenvFiles = []string{".env", ".env.local"}

// Only ariadl's own variables are taken from dotenv files, so a project .env
// written for other tools does not leak into a spawned aria2c.
const dotenvPrefix = "ARIADL_"

var dotenvKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type dotenvEntry struct {
	key   string
	value string
	line  int
}

func loadDotEnvFiles(cwd string, environ []string, setenv func(string, string) error) error {
	if strings.TrimSpace(cwd) == "" {
		return nil
	}
	if setenv == nil {
		return fmt.Errorf("setenv is required")
	}

	protected := map[string]struct{}{}
	for _, pair := range environ {
		if key, _, ok := strings.Cut(pair, "="); ok {
			protected[key] = struct{}{}
		}
	}

	for _, name := range dotenvFiles {
		path := filepath.Join(cwd, name)
		entries, err := readDotEnvFile(path)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if !strings.HasPrefix(entry.key, dotenvPrefix) {
				continue
			}
			if _, exists := protected[entry.key]; exists {
				continue
			}
			if err := setenv(entry.key, entry.value); err != nil {
				return fmt.Errorf("set %s from %s:%d: %w", entry.key, path, entry.line, err)
			}
		}
	}
	return nil
}

// readDotEnvFile returns nil for a missing file.
func readDotEnvFile(path string) ([]dotenvEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	defer file.Close()

	entries := []dotenvEntry{}
	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		key, value, ok, err := parseDotEnvLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("parse %s:%d: %w", path, lineNo, err)
		}
		if ok {
			entries = append(entries, dotenvEntry{key: key, value: value, line: lineNo})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", path, err)
	}
	return entries, nil
}

func parseDotEnvLine(raw string) (string, string, bool, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	rawKey, rawValue, found := strings.Cut(line, "=")
	if !found {
		return "", "", false, fmt.Errorf("expected KEY=VALUE format")
	}
	key := strings.TrimSpace(rawKey)
	if !dotenvKeyPattern.MatchString(key) {
		return "", "", false, fmt.Errorf("invalid key %q", key)
	}

	value := strings.TrimSpace(rawValue)
	switch {
	case len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"':
		decoded, err := strconv.Unquote(value)
		if err != nil {
			return "", "", false, fmt.Errorf("invalid quoted value for %q", key)
		}
		return key, decoded, true, nil
	case len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'':
		return key, value[1 : len(value)-1], true, nil
	default:
		return key, value, true, nil
	}
}
