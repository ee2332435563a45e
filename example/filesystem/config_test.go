package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestReadConfig(t *testing.T) {
	path := writeConfig(t, `{
	// directories served when the client has no roots
	"allowed_directories": ["/srv/data", "/srv/shared",],
	"transport": "http",
	"addr": ":9000",
	"root_concurrency": 4, /* stat four roots at a time */
}`)

	conf, err := readConfig(path)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !slices.Equal(conf.AllowedDirectories, []string{"/srv/data", "/srv/shared"}) {
		t.Errorf("Unexpected directories: %v", conf.AllowedDirectories)
	}
	if conf.Transport != "http" || conf.Addr != ":9000" || conf.RootConcurrency != 4 {
		t.Errorf("Unexpected config: %+v", conf)
	}
}

func TestReadConfigErrors(t *testing.T) {
	if _, err := readConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing file, got none")
	}
	if _, err := readConfig(writeConfig(t, `{"transport": `)); err == nil {
		t.Error("Expected error for malformed file, got none")
	}
	if _, err := readConfig(writeConfig(t, `{"root_concurrency": "many"}`)); err == nil {
		t.Error("Expected error for mistyped field, got none")
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{"allowed_directories": ["/from/file"], "transport": "http", "log_level": "debug"}`)

	transport := "stdio"
	concurrency := 8
	p := params{
		ConfigFilepath:  &path,
		Transport:       &transport,
		RootConcurrency: &concurrency,
	}
	p.Args.Directories = []string{"/from/args"}

	conf, err := loadConfig(p)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if !slices.Equal(conf.AllowedDirectories, []string{"/from/file", "/from/args"}) {
		t.Errorf("Expected file directories before argument directories, got %v", conf.AllowedDirectories)
	}
	if conf.Transport != transportStdio {
		t.Errorf("Expected command line transport to win, got %q", conf.Transport)
	}
	if conf.RootConcurrency != 8 {
		t.Errorf("Expected root concurrency 8, got %d", conf.RootConcurrency)
	}
	if level, _ := conf.level(); level != slog.LevelDebug {
		t.Errorf("Expected debug level from file, got %v", level)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	conf, err := loadConfig(params{})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if conf.Transport != transportStdio {
		t.Errorf("Expected stdio transport, got %q", conf.Transport)
	}
	if conf.Addr != "" {
		t.Errorf("Expected no address for stdio, got %q", conf.Addr)
	}
	if conf.RootConcurrency != 1 {
		t.Errorf("Expected root concurrency 1, got %d", conf.RootConcurrency)
	}
	if len(conf.AllowedDirectories) != 0 {
		t.Errorf("Expected no directories, got %v", conf.AllowedDirectories)
	}

	transport := transportHTTP
	conf, err = loadConfig(params{Transport: &transport})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if conf.Addr != defaultAddr {
		t.Errorf("Expected default address %q, got %q", defaultAddr, conf.Addr)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "unknown transport", content: `{"transport": "carrier-pigeon"}`, wantErr: "unknown transport"},
		{name: "bad log level", content: `{"log_level": "loud"}`, wantErr: "invalid log level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.content)
			_, err := loadConfig(params{ConfigFilepath: &path})
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tc.wantErr, err)
			}
		})
	}
}
