// Package config builds the process configuration snapshot from the
// environment. The snapshot is read once and never changes afterwards.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Environment variables read by Load.
const (
	EnvProxyHost = "DSHIELD_PROXY_HOST"
	EnvProxyPort = "DSHIELD_PROXY_PORT"
	EnvDebug     = "DSHIELD_DEBUG"
	EnvLogFile   = "DSHIELD_LOG_FILE"
)

// DebugEnabled is the only value of DSHIELD_DEBUG that turns debug output on.
const DebugEnabled = "1"

// Snapshot is the immutable per-process configuration.
type Snapshot struct {
	ProxyHost string `json:"proxy_host,omitempty"`
	ProxyPort int    `json:"proxy_port,omitempty"`
	Debug     bool   `json:"debug"`
	LogPath   string `json:"log_path,omitempty"`

	// Warnings lists values that were present but ignored.
	Warnings []string `json:"warnings,omitempty"`
}

// Load reads the snapshot through getenv. A nil getenv means os.Getenv.
// Load never fails: malformed values fall back to their disabled default.
func Load(getenv func(string) string) Snapshot {
	if getenv == nil {
		getenv = os.Getenv
	}
	var s Snapshot

	s.ProxyHost = getenv(EnvProxyHost)
	if v := getenv(EnvProxyPort); v != "" {
		port, err := parsePort(v)
		if err != nil {
			s.Warnings = append(s.Warnings, fmt.Sprintf("%s: %v", EnvProxyPort, err))
		} else {
			s.ProxyPort = port
		}
	}
	if s.ProxyHost != "" && s.ProxyPort == 0 {
		s.Warnings = append(s.Warnings, fmt.Sprintf("%s set without a valid %s; proxy disabled", EnvProxyHost, EnvProxyPort))
	}
	if s.ProxyHost == "" && s.ProxyPort != 0 {
		s.Warnings = append(s.Warnings, fmt.Sprintf("%s set without %s; proxy disabled", EnvProxyPort, EnvProxyHost))
	}

	s.Debug = getenv(EnvDebug) == DebugEnabled
	s.LogPath = getenv(EnvLogFile)
	return s
}

func parsePort(v string) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid port %q", v)
	}
	if n < 1 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range 1-65535", n)
	}
	return n, nil
}

// ProxyConfigured reports whether both proxy host and port are usable.
func (s Snapshot) ProxyConfigured() bool {
	return s.ProxyHost != "" && s.ProxyPort > 0
}

// String renders the proxy part of the snapshot, e.g. "proxy=127.0.0.1:8080".
func (s Snapshot) String() string {
	host := s.ProxyHost
	if host == "" {
		host = "none"
	}
	return fmt.Sprintf("proxy=%s:%d", host, s.ProxyPort)
}
