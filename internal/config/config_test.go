package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Endpoint != "https://ups.analytics.yahoo.com" {
		t.Errorf("endpoint: got %q", cfg.Endpoint)
	}
	if cfg.PUIDReuseWindow != 30*24*time.Hour {
		t.Errorf("puid reuse window: got %v", cfg.PUIDReuseWindow)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("http timeout: got %v", cfg.HTTPTimeout)
	}
	if cfg.ListenAddr != "127.0.0.1:8787" {
		t.Errorf("listen addr: got %q", cfg.ListenAddr)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("allowed origins: got %v", cfg.AllowedOrigins)
	}
	if cfg.RateLimit != 5 || cfg.RateBurst != 10 {
		t.Errorf("rate: got %v/%d", cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "text" {
		t.Errorf("log: got %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("CONNECTID_ENDPOINT", "http://127.0.0.1:9999")
	t.Setenv("CONNECTID_PAGE_URL", "https://publisher.example/article")
	t.Setenv("CONNECTID_PUID_REUSE_WINDOW", "48h")
	t.Setenv("CONNECTID_ALLOWED_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("CONNECTID_LOG_FORMAT", "json")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Endpoint != "http://127.0.0.1:9999" {
		t.Errorf("endpoint: got %q", cfg.Endpoint)
	}
	if cfg.PageURL != "https://publisher.example/article" {
		t.Errorf("page url: got %q", cfg.PageURL)
	}
	if cfg.PUIDReuseWindow != 48*time.Hour {
		t.Errorf("puid reuse window: got %v", cfg.PUIDReuseWindow)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("allowed origins: got %v", cfg.AllowedOrigins)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("log format: got %q", cfg.LogFormat)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"endpoint not a url", "CONNECTID_ENDPOINT", "not a url", "Endpoint"},
		{"page url not a url", "CONNECTID_PAGE_URL", "nope", "PageURL"},
		{"unknown log format", "CONNECTID_LOG_FORMAT", "xml", "LogFormat"},
		{"unknown log level", "CONNECTID_LOG_LEVEL", "loud", "LogLevel"},
		{"zero burst", "CONNECTID_RATE_BURST", "0", "RateBurst"},
		{"negative window", "CONNECTID_PUID_REUSE_WINDOW", "-1h", "PUIDReuseWindow"},
		{"bad listen addr", "CONNECTID_LISTEN_ADDR", "localhost", "ListenAddr"},
		{"unparseable duration", "CONNECTID_HTTP_TIMEOUT", "soon", "parse env"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load("")
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error: got %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadDotenv(t *testing.T) {
	// t.Setenv restores the unset state on cleanup; godotenv only fills
	// variables that are not already set.
	t.Setenv("CONNECTID_PAGE_URL", "")
	os.Unsetenv("CONNECTID_PAGE_URL")
	t.Setenv("CONNECTID_LOG_LEVEL", "debug")

	path := filepath.Join(t.TempDir(), ".env")
	data := "CONNECTID_PAGE_URL=https://from-file.example\nCONNECTID_LOG_LEVEL=error\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.PageURL != "https://from-file.example" {
		t.Errorf("page url: got %q", cfg.PageURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level: got %q, environment should win", cfg.LogLevel)
	}
}

func TestLoadMissingDotenv(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("missing .env should be ignored: %v", err)
	}
}

func TestLogger(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		want   string
		absent string
	}{
		{"text info", Config{LogLevel: "info", LogFormat: "text"}, "msg=shown", "hidden"},
		{"json debug", Config{LogLevel: "debug", LogFormat: "json"}, `"msg":"hidden"`, ""},
		{"error only", Config{LogLevel: "error"}, "", "shown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			log := tt.cfg.Logger(&buf)
			log.Debug("hidden")
			log.Info("shown")

			out := buf.String()
			if tt.want != "" && !strings.Contains(out, tt.want) {
				t.Errorf("output %q missing %q", out, tt.want)
			}
			if tt.absent != "" && strings.Contains(out, tt.absent) {
				t.Errorf("output %q should not contain %q", out, tt.absent)
			}
		})
	}
}
