// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (zlibrary.yaml):
//
//	data_dir: "~/.zlibrary"
//	db_path: ""                      # defaults to {data_dir}/books.db
//	credentials_file: "~/.zlibrary/credentials.toml"
//	state_file: ""                   # defaults to {data_dir}/.rotation-state
//	request_timeout: "30s"
//	log_level: "info"
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (ZLIBRARY_DATA_DIR, ZLIBRARY_DB_PATH,
//     ZLIBRARY_CREDENTIALS_FILE, ZLIBRARY_STATE_FILE,
//     ZLIBRARY_REQUEST_TIMEOUT, ZLIBRARY_LOG_LEVEL)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// DataDir is the root directory for all local state: the catalog
	// database, the rotation state file, and (by default) the credentials
	// file.
	DataDir string `yaml:"data_dir"`

	// DBPath is the path to the catalog database file. Empty resolves to
	// {DataDir}/books.db at runtime. Overridable by ZLIBRARY_DB_PATH per
	// the external interface contract.
	DBPath string `yaml:"db_path"`

	// CredentialsFile is the path to the structured multi-credential file
	// (see internal/credential.Load). Empty resolves to
	// {DataDir}/credentials.toml at runtime.
	CredentialsFile string `yaml:"credentials_file"`

	// StateFile is the path to the rotation state file. Empty resolves to
	// {DataDir}/.rotation-state at runtime.
	StateFile string `yaml:"state_file"`

	// RequestTimeoutStr is the per-call upstream timeout, stored as a
	// duration string in YAML (e.g. "30s"). Parsed into RequestTimeout by
	// Load().
	RequestTimeoutStr string `yaml:"request_timeout"`

	// RequestTimeout is the parsed form of RequestTimeoutStr. Not
	// marshalled to/from YAML directly.
	RequestTimeout time.Duration `yaml:"-"`

	// LogLevel is the zerolog level name: "debug", "info", "warn", "error".
	LogLevel string `yaml:"log_level"`

	// UpstreamBaseURL is the root URL of the upstream service the
	// HTTP client talks to. Overridable by ZLIBRARY_UPSTREAM_URL.
	UpstreamBaseURL string `yaml:"upstream_base_url"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		DataDir:           "~/.zlibrary",
		RequestTimeoutStr: "30s",
		RequestTimeout:    30 * time.Second,
		LogLevel:          "info",
		UpstreamBaseURL:   "https://z-library.example/api",
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	// Environment variables always override file values so that container /
	// systemd overrides still work even when a config file is present.
	if v := os.Getenv("ZLIBRARY_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ZLIBRARY_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("ZLIBRARY_CREDENTIALS_FILE"); v != "" {
		cfg.CredentialsFile = v
	}
	if v := os.Getenv("ZLIBRARY_STATE_FILE"); v != "" {
		cfg.StateFile = v
	}
	if v := os.Getenv("ZLIBRARY_REQUEST_TIMEOUT"); v != "" {
		cfg.RequestTimeoutStr = v
	}
	if v := os.Getenv("ZLIBRARY_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("ZLIBRARY_UPSTREAM_URL"); v != "" {
		cfg.UpstreamBaseURL = v
	}

	// Parse the request timeout string into a Duration. Invalid strings are
	// silently ignored; the default (30s) is preserved unless the YAML or
	// env explicitly set a valid value.
	if cfg.RequestTimeoutStr != "" {
		if d, err := time.ParseDuration(cfg.RequestTimeoutStr); err == nil {
			cfg.RequestTimeout = d
		}
	}

	cfg.DataDir = expandHome(cfg.DataDir)

	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "books.db")
	} else {
		cfg.DBPath = expandHome(cfg.DBPath)
	}
	if cfg.CredentialsFile == "" {
		cfg.CredentialsFile = filepath.Join(cfg.DataDir, "credentials.toml")
	} else {
		cfg.CredentialsFile = expandHome(cfg.CredentialsFile)
	}
	if cfg.StateFile == "" {
		cfg.StateFile = filepath.Join(cfg.DataDir, ".rotation-state")
	} else {
		cfg.StateFile = expandHome(cfg.StateFile)
	}

	return cfg, nil
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. ZLIBRARY_CONFIG environment variable (explicit override)
//  2. ./zlibrary.yaml (current working directory)
//  3. ~/.config/zlibrary/config.yaml (XDG user config)
func FindConfigFile() string {
	// 1. Explicit path via environment variable.
	if p := os.Getenv("ZLIBRARY_CONFIG"); p != "" {
		return p
	}

	// 2. Config file in the current working directory.
	if _, err := os.Stat("zlibrary.yaml"); err == nil {
		return "zlibrary.yaml"
	}

	// 3. XDG user config directory.
	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "zlibrary", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
