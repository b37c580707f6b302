package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/banux/zlibrary/internal/config"
)

func TestDefault_Values(t *testing.T) {
	cfg := config.Default()
	if cfg.DataDir != "~/.zlibrary" {
		t.Errorf("DataDir: got %q, want ~/.zlibrary", cfg.DataDir)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel: got %q, want info", cfg.LogLevel)
	}
}

func TestLoad_EmptyPath_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.DBPath == "" || filepath.Base(cfg.DBPath) != "books.db" {
		t.Errorf("DBPath: got %q, want a path ending in books.db", cfg.DBPath)
	}
	if filepath.Base(cfg.CredentialsFile) != "credentials.toml" {
		t.Errorf("CredentialsFile: got %q, want a path ending in credentials.toml", cfg.CredentialsFile)
	}
	if filepath.Base(cfg.StateFile) != ".rotation-state" {
		t.Errorf("StateFile: got %q, want a path ending in .rotation-state", cfg.StateFile)
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	yaml := `
data_dir: "/var/lib/zlibrary"
log_level: "debug"
`
	path := writeTemp(t, "config.yaml", yaml)
	clearEnv(t)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DataDir != "/var/lib/zlibrary" {
		t.Errorf("DataDir: got %q, want /var/lib/zlibrary", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel: got %q, want debug", cfg.LogLevel)
	}
	want := filepath.Join("/var/lib/zlibrary", "books.db")
	if cfg.DBPath != want {
		t.Errorf("DBPath: got %q, want %q", cfg.DBPath, want)
	}
}

func TestLoad_PartialYAML_UsesDefaults(t *testing.T) {
	yaml := `log_level: "warn"`
	path := writeTemp(t, "partial.yaml", yaml)
	clearEnv(t)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel: got %q, want warn", cfg.LogLevel)
	}
	wantDir := "~/.zlibrary"
	if home, err := os.UserHomeDir(); err == nil {
		wantDir = filepath.Join(home, ".zlibrary")
	}
	if cfg.DataDir != wantDir {
		t.Errorf("DataDir: got %q, want %q (default, home-expanded)", cfg.DataDir, wantDir)
	}
}

func TestLoad_EnvVarsOverrideFile(t *testing.T) {
	yaml := `
data_dir: "/file/zlibrary"
log_level: "warn"
`
	path := writeTemp(t, "config.yaml", yaml)

	t.Setenv("ZLIBRARY_DATA_DIR", "/env/zlibrary")
	t.Setenv("ZLIBRARY_LOG_LEVEL", "error")
	t.Setenv("ZLIBRARY_DB_PATH", "")
	t.Setenv("ZLIBRARY_CREDENTIALS_FILE", "")
	t.Setenv("ZLIBRARY_STATE_FILE", "")
	t.Setenv("ZLIBRARY_REQUEST_TIMEOUT", "")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DataDir != "/env/zlibrary" {
		t.Errorf("DataDir: got %q, want /env/zlibrary (from env)", cfg.DataDir)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("LogLevel: got %q, want error (from env)", cfg.LogLevel)
	}
}

func TestLoad_NonexistentFile_ReturnsError(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file, got nil")
	}
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTemp(t, "bad.yaml", "{ invalid yaml: [")
	_, err := config.Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestFindConfigFile_EnvVar(t *testing.T) {
	path := writeTemp(t, "explicit.yaml", "log_level: \"debug\"")
	t.Setenv("ZLIBRARY_CONFIG", path)

	found := config.FindConfigFile()
	if found != path {
		t.Errorf("FindConfigFile: got %q, want %q", found, path)
	}
}

func TestFindConfigFile_NoFile_ReturnsEmpty(t *testing.T) {
	t.Setenv("ZLIBRARY_CONFIG", "")

	orig, _ := os.Getwd()
	dir := t.TempDir()
	_ = os.Chdir(dir)
	defer func() { _ = os.Chdir(orig) }()

	found := config.FindConfigFile()
	if found == "zlibrary.yaml" {
		t.Error("should not return local zlibrary.yaml from temp dir")
	}
}

// ---- request_timeout config ----

func TestDefault_RequestTimeout(t *testing.T) {
	cfg := config.Default()
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("default RequestTimeout: got %v, want 30s", cfg.RequestTimeout)
	}
	if cfg.RequestTimeoutStr != "30s" {
		t.Errorf("default RequestTimeoutStr: got %q, want 30s", cfg.RequestTimeoutStr)
	}
}

func TestLoad_RequestTimeout_FromYAML(t *testing.T) {
	yaml := `request_timeout: "10s"`
	path := writeTemp(t, "timeout.yaml", yaml)
	clearEnv(t)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RequestTimeout != 10*time.Second {
		t.Errorf("RequestTimeout: got %v, want 10s", cfg.RequestTimeout)
	}
}

func TestLoad_RequestTimeout_FromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("ZLIBRARY_REQUEST_TIMEOUT", "45s")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RequestTimeout != 45*time.Second {
		t.Errorf("RequestTimeout from env: got %v, want 45s", cfg.RequestTimeout)
	}
}

func TestLoad_RequestTimeout_InvalidString_KeepsDefault(t *testing.T) {
	yaml := `request_timeout: "not-a-duration"`
	path := writeTemp(t, "timeout_bad.yaml", yaml)
	clearEnv(t)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout with invalid string: got %v, want 30s (preserved default)", cfg.RequestTimeout)
	}
}

// clearEnv unsets every ZLIBRARY_* override Load reads so tests don't
// bleed into one another via the process environment.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"ZLIBRARY_DATA_DIR", "ZLIBRARY_DB_PATH", "ZLIBRARY_CREDENTIALS_FILE",
		"ZLIBRARY_STATE_FILE", "ZLIBRARY_REQUEST_TIMEOUT", "ZLIBRARY_LOG_LEVEL",
		"ZLIBRARY_UPSTREAM_URL",
	} {
		t.Setenv(k, "")
	}
}

// writeTemp creates a temporary file with the given content and returns its path.
func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writeTemp: %v", err)
	}
	return path
}
