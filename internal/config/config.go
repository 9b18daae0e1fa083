// Package config loads and validates conf.ini, the daemon's single
// configuration file, and drives the first-run interactive wizard that
// creates it when absent.
package config

import "strings"

// Config is the parsed content of conf.ini. Field names mirror the on-disk
// keys (preserved from the original tool's wire format) rather than
// following Go naming conventions for the keys themselves.
type Config struct {
	NCHost     string // NC_HOST: must start with "https://"
	NCUsername string // NC_USERNAME
	NCPassword string // NC_PASSWORD
	LocalRoot  string // LOCAL_ROOT: local directory to synchronize
	LogLevel   string // RUST_LOG: inherited key name, maps to log/slog levels
	Proxy      string // PROXY: optional HTTP(S) proxy URL
}

// BasicAuth implements webdav.Credentials.
func (c *Config) BasicAuth() (username, password string) {
	return c.NCUsername, c.NCPassword
}

// RemoteBaseURL returns the WebDAV root for this account, the path Nextcloud
// mounts a user's files under.
func (c *Config) RemoteBaseURL() string {
	return strings.TrimSuffix(c.NCHost, "/") + "/remote.php/dav/files/" + c.NCUsername
}
