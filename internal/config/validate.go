package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Sentinel errors returned by Load/Validate, checked with errors.Is by
// callers deciding whether to fall back to the first-run wizard.
var (
	ErrConfigNotFound = errors.New("config: conf.ini not found")
	ErrInvalidHost    = errors.New("config: NC_HOST must start with https://")
	ErrMissingRoot    = errors.New("config: LOCAL_ROOT is required")
	ErrRootNotUsable  = errors.New("config: LOCAL_ROOT is not a usable directory")
)

// Validate checks the fields decoded from conf.ini and returns every
// problem found, joined with errors.Join, so a user fixing the file sees
// every issue in one pass rather than one at a time.
func Validate(cfg *Config) error {
	var errs []error

	if !strings.HasPrefix(cfg.NCHost, "https://") {
		errs = append(errs, fmt.Errorf("%w: got %q", ErrInvalidHost, cfg.NCHost))
	}

	if cfg.LocalRoot == "" {
		errs = append(errs, ErrMissingRoot)
	} else if err := ensureUsableDir(cfg.LocalRoot); err != nil {
		errs = append(errs, fmt.Errorf("%w: %s: %w", ErrRootNotUsable, cfg.LocalRoot, err))
	}

	return errors.Join(errs...)
}

// ensureUsableDir creates dir (and parents) if it does not exist, and
// confirms it is a directory if it does.
func ensureUsableDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}

		return os.MkdirAll(dir, 0o755)
	}

	if !info.IsDir() {
		return fmt.Errorf("%s exists and is not a directory", dir)
	}

	return nil
}
