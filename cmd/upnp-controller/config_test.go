package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/upnpkit/upnpkit-go/pkg/controlpoint"
	upnplog "github.com/upnpkit/upnpkit-go/pkg/log"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "controller.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
	if cfg.ActionTimeout != controlpoint.DefaultActionTimeout {
		t.Errorf("ActionTimeout = %s, want %s", cfg.ActionTimeout, controlpoint.DefaultActionTimeout)
	}
	if cfg.MaxPendingCalls != controlpoint.DefaultMaxPendingCalls {
		t.Errorf("MaxPendingCalls = %d", cfg.MaxPendingCalls)
	}
	if len(cfg.Devices) != 0 {
		t.Errorf("expected no devices, got %v", cfg.Devices)
	}
}

func TestParseConfigFlags(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-log-level", "debug",
		"-action-timeout", "3s",
		"-ipv6=false",
		"-device", "http://10.0.0.2:80/a.xml",
		"-device", "http://10.0.0.3:80/b.xml",
		"-subscribe",
	})
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.ActionTimeout != 3*time.Second {
		t.Errorf("ActionTimeout = %s, want 3s", cfg.ActionTimeout)
	}
	if cfg.IPv6 || !cfg.Subscribe {
		t.Errorf("unexpected flags: ipv6=%v subscribe=%v", cfg.IPv6, cfg.Subscribe)
	}
	if len(cfg.Devices) != 2 {
		t.Errorf("expected 2 devices, got %v", cfg.Devices)
	}

	cp := cfg.controlPointConfig()
	if cp.ListenAddressV6 != "" || cp.EnableIPv6 {
		t.Errorf("IPv6 listener should be disabled, got %q", cp.ListenAddressV6)
	}
	if cp.ActionTimeout != 3*time.Second {
		t.Errorf("control point ActionTimeout = %s", cp.ActionTimeout)
	}
}

func TestParseConfigFile(t *testing.T) {
	path := writeConfig(t, `
log_level: warn
action_timeout: 10s
max_pending_calls: 8
subscription_duration: 5m
metrics_addr: ":9090"
subscribe: true
devices:
  - http://10.0.0.2:80/a.xml
`)

	cfg, err := parseConfig([]string{"-config", path, "-action-timeout", "2s", "-device", "http://10.0.0.3:80/b.xml"})
	if err != nil {
		t.Fatalf("parseConfig failed: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	// Flags override the file.
	if cfg.ActionTimeout != 2*time.Second {
		t.Errorf("ActionTimeout = %s, want 2s", cfg.ActionTimeout)
	}
	if cfg.MaxPendingCalls != 8 || cfg.SubscriptionDuration != 5*time.Minute {
		t.Errorf("unexpected file values: %+v", cfg)
	}
	if cfg.MetricsAddr != ":9090" || !cfg.Subscribe {
		t.Errorf("unexpected file values: %+v", cfg)
	}
	if got := strings.Join(cfg.Devices, " "); got != "http://10.0.0.2:80/a.xml http://10.0.0.3:80/b.xml" {
		t.Errorf("Devices = %s", got)
	}
}

func TestParseConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
	}{
		{"unknown flag", func(*testing.T) []string { return []string{"-bogus"} }},
		{"bad level", func(*testing.T) []string { return []string{"-log-level", "loud"} }},
		{"zero timeout", func(*testing.T) []string { return []string{"-action-timeout", "0s"} }},
		{"missing file", func(t *testing.T) []string {
			return []string{"-config", filepath.Join(t.TempDir(), "missing.yaml")}
		}},
		{"unknown key", func(t *testing.T) []string {
			return []string{"-config", writeConfig(t, "colour: blue\n")}
		}},
		{"bad duration", func(t *testing.T) []string {
			return []string{"-config", writeConfig(t, "action_timeout: soon\n")}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseConfig(tt.args(t)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseLevel(%q) = %v, %v; want %v", tt.in, got, err, tt.want)
		}
	}
}

func TestMetricsRouter(t *testing.T) {
	srv := httptest.NewServer(metricsRouter())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Errorf("healthz status = %d, want 200", resp2.StatusCode)
	}
}

func TestProtocolLoggers(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if got := protocolLoggers(nil, logger, false); got != nil {
		t.Errorf("expected nil logger, got %T", got)
	}
	if _, ok := protocolLoggers(nil, logger, true).(*upnplog.SlogAdapter); !ok {
		t.Error("expected console adapter")
	}

	file, err := upnplog.NewFileLogger(filepath.Join(t.TempDir(), "cp.ulog"))
	if err != nil {
		t.Fatalf("NewFileLogger failed: %v", err)
	}
	defer file.Close()
	if got := protocolLoggers(file, logger, false); got != file {
		t.Errorf("expected file logger, got %T", got)
	}
	if _, ok := protocolLoggers(file, logger, true).(*upnplog.MultiLogger); !ok {
		t.Error("expected multi logger")
	}
}
