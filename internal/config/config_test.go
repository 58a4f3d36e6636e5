package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/julienstroheker/mavrelay/internal/mavlink"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := Load(NewViper())

		if len(cfg.Connect) != 1 || cfg.Connect[0] != DefaultConnect {
			t.Errorf("Expected default connection %s, got: %v", DefaultConnect, cfg.Connect)
		}
		if cfg.LogLevel != "info" {
			t.Errorf("Expected default LogLevel 'info', got: %s", cfg.LogLevel)
		}
		if cfg.Router != RouterSync {
			t.Errorf("Expected sync router, got: %s", cfg.Router)
		}
		if cfg.Backoff != time.Second {
			t.Errorf("Expected 1s backoff, got: %s", cfg.Backoff)
		}
		if cfg.BackoffMax != 0 {
			t.Errorf("Expected no backoff cap, got: %s", cfg.BackoffMax)
		}
		if cfg.Version() != mavlink.V2 {
			t.Errorf("Expected MAVLink v2 by default, got: %s", cfg.Version())
		}
		if cfg.Reconnect || cfg.KeepFailedDestinations || cfg.Verbose {
			t.Error("Expected optional behaviours to be off by default")
		}
		if cfg.AdminAddr != "" {
			t.Errorf("Expected admin server disabled, got: %s", cfg.AdminAddr)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected defaults to validate, got: %v", err)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("MAVRELAY_CONNECT", "udpin:0.0.0.0:14550, tcpout:10.0.0.5:5760")
		t.Setenv("MAVRELAY_ROUTER", "QUEUE")
		t.Setenv("MAVRELAY_QUEUE_LIMIT", "128")
		t.Setenv("MAVRELAY_BACKOFF_MAX", "8s")
		t.Setenv("MAVRELAY_KEEP_FAILED_DESTINATIONS", "true")
		t.Setenv("MAVRELAY_AZURE_SAS_KEY_NAME", "RootManageSharedAccessKey")
		t.Setenv("MAVRELAY_AZURE_SAS_KEY", "c2VjcmV0")

		cfg := Load(NewViper())

		want := []string{"udpin:0.0.0.0:14550", "tcpout:10.0.0.5:5760"}
		if strings.Join(cfg.Connect, "|") != strings.Join(want, "|") {
			t.Errorf("Expected connections %v, got: %v", want, cfg.Connect)
		}
		if cfg.Router != RouterQueue {
			t.Errorf("Expected queue router from env, got: %s", cfg.Router)
		}
		if cfg.QueueLimit != 128 {
			t.Errorf("Expected queue limit 128, got: %d", cfg.QueueLimit)
		}
		if cfg.BackoffMax != 8*time.Second {
			t.Errorf("Expected backoff max 8s, got: %s", cfg.BackoffMax)
		}
		if !cfg.KeepFailedDestinations {
			t.Error("Expected keep-failed-destinations from env")
		}
		if !cfg.Azure.UsesSAS() || cfg.Azure.SASKey != "c2VjcmV0" {
			t.Errorf("Expected SAS credentials from env, got: %+v", cfg.Azure)
		}
		if err := cfg.Validate(); err != nil {
			t.Errorf("Expected valid config, got: %v", err)
		}
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "mavrelay.yaml")
		content := "connect:\n  - serial:/dev/ttyUSB0:57600\n  - udpout:127.0.0.1:14550\nmavlink-version: any\nstats-interval: 30s\n"
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}

		v := NewViper()
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig failed: %v", err)
		}
		cfg := Load(v)

		if len(cfg.Connect) != 2 || cfg.Connect[0] != "serial:/dev/ttyUSB0:57600" {
			t.Errorf("Expected connections from file, got: %v", cfg.Connect)
		}
		if cfg.Version() != mavlink.AnyVersion {
			t.Errorf("Expected any version, got: %s", cfg.Version())
		}
		if cfg.StatsInterval != 30*time.Second {
			t.Errorf("Expected stats interval 30s, got: %s", cfg.StatsInterval)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "no connections",
			mutate:  func(c *Config) { c.Connect = nil },
			wantErr: "at least one connection",
		},
		{
			name:    "unknown router",
			mutate:  func(c *Config) { c.Router = "broadcast" },
			wantErr: "unknown router",
		},
		{
			name:    "bad mavlink version",
			mutate:  func(c *Config) { c.MAVLinkVersion = "3" },
			wantErr: "version",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantErr: "log level",
		},
		{
			name:    "zero backoff",
			mutate:  func(c *Config) { c.Backoff = 0 },
			wantErr: "backoff must be positive",
		},
		{
			name: "backoff cap below backoff",
			mutate: func(c *Config) {
				c.Backoff = 2 * time.Second
				c.BackoffMax = time.Second
			},
			wantErr: "backoff max",
		},
		{
			name:    "negative queue limit",
			mutate:  func(c *Config) { c.QueueLimit = -1 },
			wantErr: "queue limit",
		},
		{
			name:    "half configured SAS",
			mutate:  func(c *Config) { c.Azure.SASKeyName = "RootManageSharedAccessKey" },
			wantErr: "MAVRELAY_AZURE_SAS_KEY",
		},
		{
			name:    "ensure without subscription",
			mutate:  func(c *Config) { c.Azure.EnsureHybridConnections = true },
			wantErr: "MAVRELAY_AZURE_SUBSCRIPTION_ID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	got := splitList([]string{"a,b", " c ", "", "d,,e"})
	if strings.Join(got, "|") != "a|b|c|d|e" {
		t.Errorf("Unexpected split result: %v", got)
	}
}
