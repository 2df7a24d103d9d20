package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variables that override file values.
const (
	EnvHost     = "CHATD_HOST"
	EnvPort     = "CHATD_PORT"
	EnvLogLevel = "CHATD_LOG_LEVEL"
)

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides cfg from the environment. lookup defaults to os.LookupEnv.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if cfg == nil {
		return nil
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvHost); ok {
		cfg.Listen.Host = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvPort); ok && strings.TrimSpace(v) != "" {
		port, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: invalid port %q", EnvPort, v)
		}
		cfg.Listen.Port = port
	}
	if v, ok := lookup(EnvLogLevel); ok && strings.TrimSpace(v) != "" {
		cfg.Logging.Level = strings.TrimSpace(v)
	}
	return nil
}
