package config

import "os"

// EnvConfigPath overrides the conf.ini location that would otherwise be
// resolved from the process's working directory (spec.md: "conf.ini in
// process CWD"). Mirrors the teacher's ONEDRIVE_GO_CONFIG override.
const EnvConfigPath = "NCSYNC_CONFIG"

// ResolveConfigPath returns the conf.ini path to load: EnvConfigPath if set,
// otherwise configFileName in the current working directory.
func ResolveConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}

	return configFileName
}
