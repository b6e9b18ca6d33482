package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v10"
)

// Load parses environment variables into the provided struct.
// The struct should use `env` tags to define mappings.
//
// Example:
//
//	type Config struct {
//	    Port     int    `env:"HTTP_PORT" envDefault:"8080"`
//	    LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
//	}
func Load(cfg any) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// LoadPrefixed is Load with every variable name prefixed, e.g. "AUTHCTL_"
// turns `env:"BASE_URL"` into AUTHCTL_BASE_URL. A trailing underscore is
// added when missing.
func LoadPrefixed(cfg any, prefix string) error {
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: prefix}); err != nil {
		return fmt.Errorf("parse %sconfig: %w", strings.ToLower(prefix), err)
	}
	return nil
}
