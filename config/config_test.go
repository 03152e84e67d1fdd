package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default configuration must validate, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"emptyAddr", func(c *Config) { c.RTMP.Addr = "" }, false},
		{"chunkSizeTooSmall", func(c *Config) { c.RTMP.ChunkSize = 64 }, false},
		{"chunkSizeTooLarge", func(c *Config) { c.RTMP.ChunkSize = 0x1000000 }, false},
		{"chunkSizeAtMinimum", func(c *Config) { c.RTMP.ChunkSize = 128 }, true},
		{"zeroConnections", func(c *Config) { c.RTMP.MaxConnections = 0 }, false},
		{"tinyMaxMessageSize", func(c *Config) { c.RTMP.MaxMessageSize = 16 }, false},
		{"zeroPingInterval", func(c *Config) { c.RTMP.PingInterval = 0 }, false},
		{"pingTimeoutBelowInterval", func(c *Config) {
			c.RTMP.PingInterval = time.Minute
			c.RTMP.PingTimeout = 30 * time.Second
		}, false},
		{"zeroStreamTimeout", func(c *Config) { c.RTMP.StreamTimeout = 0 }, false},
		{"gopEnabledWithoutLimits", func(c *Config) {
			c.GOPCache.Enabled = true
			c.GOPCache.MaxFrames = 0
		}, false},
		{"gopDisabledWithoutLimits", func(c *Config) {
			c.GOPCache.Enabled = false
			c.GOPCache.MaxFrames = 0
			c.GOPCache.MaxBytes = 0
		}, true},
		{"zeroQueueDepth", func(c *Config) { c.Backpressure.QueueDepth = 0 }, false},
		{"hlsEnabledWithoutDuration", func(c *Config) {
			c.HLS.Enabled = true
			c.HLS.SegmentDuration = 0
		}, false},
		{"hlsEnabledWithoutDir", func(c *Config) {
			c.HLS.Enabled = true
			c.HLS.Dir = ""
		}, false},
		{"hlsDisabledIgnoresFields", func(c *Config) {
			c.HLS.Enabled = false
			c.HLS.SegmentDuration = 0
			c.HLS.Dir = ""
		}, true},
		{"zeroRelayAttempts", func(c *Config) { c.Relay.MaxAttempts = 0 }, false},
		{"relayMaxDelayBelowBase", func(c *Config) {
			c.Relay.BaseDelay = time.Minute
			c.Relay.MaxDelay = time.Second
		}, false},
		{"relayTaskWithoutDestination", func(c *Config) {
			c.Relay.Tasks = []RelayTask{{Source: "live/a"}}
		}, false},
		{"completeRelayTask", func(c *Config) {
			c.Relay.Tasks = []RelayTask{{Source: "live/a", Destination: "rtmp://other/live/a"}}
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Errorf("expected a validation error")
			}
		})
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Default()
	if cfg.RTMP.Addr != want.RTMP.Addr {
		t.Errorf("got rtmp.addr %q, want %q", cfg.RTMP.Addr, want.RTMP.Addr)
	}
	if cfg.RTMP.ChunkSize != want.RTMP.ChunkSize {
		t.Errorf("got rtmp.chunk_size %v, want %v", cfg.RTMP.ChunkSize, want.RTMP.ChunkSize)
	}
	if cfg.LogLevel != want.LogLevel {
		t.Errorf("got log_level %q, want %q", cfg.LogLevel, want.LogLevel)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamd.yaml")
	data := []byte(`
rtmp:
  addr: ":2935"
  app: ingest
  chunk_size: 8192
backpressure:
  queue_depth: 32
  drop_when_full: false
relay:
  tasks:
    - source: live/a
      destination: rtmp://other/live/a
      args: ["-c:v", "libx264"]
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RTMP.Addr != ":2935" {
		t.Errorf("got rtmp.addr %q, want :2935", cfg.RTMP.Addr)
	}
	if cfg.RTMP.App != "ingest" {
		t.Errorf("got rtmp.app %q, want ingest", cfg.RTMP.App)
	}
	if cfg.RTMP.ChunkSize != 8192 {
		t.Errorf("got rtmp.chunk_size %v, want 8192", cfg.RTMP.ChunkSize)
	}
	if cfg.Backpressure.QueueDepth != 32 || cfg.Backpressure.DropWhenFull {
		t.Errorf("backpressure overrides not applied: %+v", cfg.Backpressure)
	}
	// Fields the file leaves out keep their defaults.
	if cfg.RTMP.MaxConnections != Default().RTMP.MaxConnections {
		t.Errorf("got rtmp.max_connections %v, want the default %v", cfg.RTMP.MaxConnections, Default().RTMP.MaxConnections)
	}
	if len(cfg.Relay.Tasks) != 1 {
		t.Fatalf("got %v relay tasks, want 1", len(cfg.Relay.Tasks))
	}
	task := cfg.Relay.Tasks[0]
	if task.Source != "live/a" || task.Destination != "rtmp://other/live/a" {
		t.Errorf("relay task not loaded: %+v", task)
	}
	if len(task.Args) != 2 || task.Args[0] != "-c:v" {
		t.Errorf("relay task args not loaded: %v", task.Args)
	}
}

func TestLoad_InvalidFileRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamd.yaml")
	if err := os.WriteFile(path, []byte("rtmp:\n  addr: \"\"\n"), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Errorf("expected a validation error for an empty rtmp.addr")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Errorf("expected an error for a missing config file")
	}
}
