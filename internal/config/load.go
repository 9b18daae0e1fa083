package config

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/ini.v1"
)

// Load reads and parses conf.ini at path, validates it, and returns the
// resulting Config. If path does not exist, it returns ErrConfigNotFound so
// the caller can fall back to the first-run wizard (RunWizard).
func Load(path string, logger *slog.Logger) (*Config, error) {
	logger.Debug("loading config file", "path", path)

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}

		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	raw, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg := DefaultConfig()
	section := raw.Section("")

	cfg.NCHost = section.Key("NC_HOST").String()
	cfg.NCUsername = section.Key("NC_USERNAME").String()
	cfg.NCPassword = section.Key("NC_PASSWORD").String()
	cfg.LocalRoot = section.Key("LOCAL_ROOT").String()
	cfg.Proxy = section.Key("PROXY").String()

	if level := section.Key("RUST_LOG").String(); level != "" {
		cfg.LogLevel = level
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validating %s: %w", path, err)
	}

	logger.Debug("config file parsed successfully", "path", path, "host", cfg.NCHost)

	return cfg, nil
}
