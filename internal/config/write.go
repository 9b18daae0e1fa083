package config

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// configFilePermissions restricts conf.ini to the owner, since it holds a
// plaintext password.
const configFilePermissions = 0o600

// configDirPermissions is used only for creating conf.ini's parent
// directory, which is usually already the process's working directory.
const configDirPermissions = 0o755

// RunWizard prompts interactively on stdin for every conf.ini field and
// writes the result to path with configFilePermissions. Matches the
// original tool's plain read_line prompting (spec.md: no terminal
// password-masking library, since this runs as a foreground one-shot setup
// step, not an interactive shell session).
func RunWizard(path string, stdin io.Reader, stdout io.Writer, logger *slog.Logger) (*Config, error) {
	scanner := bufio.NewScanner(stdin)

	cfg := DefaultConfig()

	prompt := func(label string) string {
		fmt.Fprintf(stdout, "%s: ", label)

		if !scanner.Scan() {
			return ""
		}

		return strings.TrimSpace(scanner.Text())
	}

	cfg.NCHost = prompt("Nextcloud server URL (https://...)")
	cfg.NCUsername = prompt("Username")
	cfg.NCPassword = prompt("Password")
	cfg.LocalRoot = prompt("Local sync directory")

	if level := prompt("Log level [info]"); level != "" {
		cfg.LogLevel = level
	}

	cfg.Proxy = prompt("HTTP(S) proxy (optional)")

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: wizard produced an invalid config: %w", err)
	}

	if err := Write(path, cfg); err != nil {
		return nil, err
	}

	logger.Info("wrote new config file", "path", path)

	return cfg, nil
}

// Write serializes cfg to conf.ini's INI format and writes it atomically
// (temp file + rename) with configFilePermissions.
func Write(path string, cfg *Config) error {
	var b strings.Builder

	b.WriteString("# ncsync configuration\n")
	writeKey(&b, "NC_HOST", cfg.NCHost)
	writeKey(&b, "NC_USERNAME", cfg.NCUsername)
	writeKey(&b, "NC_PASSWORD", cfg.NCPassword)
	writeKey(&b, "LOCAL_ROOT", cfg.LocalRoot)
	writeKey(&b, "RUST_LOG", cfg.LogLevel)

	if cfg.Proxy != "" {
		writeKey(&b, "PROXY", cfg.Proxy)
	}

	return atomicWriteFile(path, []byte(b.String()))
}

func writeKey(b *strings.Builder, key, value string) {
	fmt.Fprintf(b, "%s = %s\n", key, value)
}

// atomicWriteFile writes data to a temp file in path's directory, then
// renames it into place, so a crash mid-write never leaves a truncated
// conf.ini with a plaintext password partially flushed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("config: creating directory %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, ".conf-*.tmp")
	if err != nil {
		return fmt.Errorf("config: creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("config: writing temp file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("config: syncing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("config: closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("config: setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("config: renaming temp file into place: %w", err)
	}

	succeeded = true

	return nil
}
