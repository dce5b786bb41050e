// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

package config

import (
	"fmt"
	"strings"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Config is the process-wide environment configuration. Every field is
// settable only from the environment: there is no config file layer.
type Config struct {
	// MediaRoot is the filesystem root the resource authorization engine
	// walks and serves from.
	MediaRoot string `koanf:"media_root"`

	// AllowedPorts is the space-separated allow-list of local ports the
	// proxy's CONNECT tunnel may dial.
	AllowedPorts string `koanf:"allowed_ports"`

	// DebugMode, when set to "Debug", unlocks the well-known debug token
	// bound to loopback and bypasses the root-check on Initialize.
	DebugMode string `koanf:"debug_mode"`

	// APIAddr is the HTTP REST adapter's listen address.
	APIAddr string `koanf:"api_addr"`

	// ProxyAddr is the encrypted tunnel listener's address.
	ProxyAddr string `koanf:"proxy_addr"`

	// IdentityDir and AttributeDir are the BadgerDB data directories for
	// the C2 identity store and the C4 resource attribute table.
	IdentityDir  string `koanf:"identity_dir"`
	AttributeDir string `koanf:"attribute_dir"`

	// AdminSocketPath is the filesystem path of the C6 admin control
	// socket.
	AdminSocketPath string `koanf:"admin_socket_path"`

	// LogLevel and LogFormat configure the process-wide structured logger.
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// IsDebug reports whether DEBUG_MODE unlocks the debug token.
func (c Config) IsDebug() bool {
	return c.DebugMode == "Debug"
}

func defaultConfig() *Config {
	return &Config{
		MediaRoot:       "/opt",
		AllowedPorts:    "443",
		DebugMode:       "",
		APIAddr:         ":8443",
		ProxyAddr:       ":4096",
		IdentityDir:     "/data/abyss/identity",
		AttributeDir:    "/data/abyss/attrs",
		AdminSocketPath: "/tmp/abyss-ctl.sock",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

// envTransform maps the bare, unprefixed environment variable names
// (MEDIA_ROOT, ALLOWED_PORTS, DEBUG_MODE, ...) directly onto koanf paths.
func envTransform(key string) string {
	mapped := map[string]string{
		"media_root":        "media_root",
		"allowed_ports":     "allowed_ports",
		"debug_mode":        "debug_mode",
		"api_addr":          "api_addr",
		"proxy_addr":        "proxy_addr",
		"identity_dir":      "identity_dir",
		"attribute_dir":     "attribute_dir",
		"admin_socket_path": "admin_socket_path",
		"log_level":         "log_level",
		"log_format":        "log_format",
	}
	return mapped[strings.ToLower(key)]
}

// Load builds a Config from built-in defaults overridden by environment
// variables (defaults -> env), with no file layer in between.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}
	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if cfg.MediaRoot == "" {
		return nil, fmt.Errorf("config: MEDIA_ROOT must not be empty")
	}
	return cfg, nil
}
