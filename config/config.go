// Package config defines the typed configuration consumed by the streaming
// core. The configuration is constructed once at startup, validated at the
// boundary, and passed by reference to each component's constructor; core
// logic never reads files or environment state itself.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Protocol constants shared by the core and its clients.
const (
	DefaultPort = "1935"

	// BufioSize is the buffer size used for the per-connection reader and writer.
	BufioSize = 1024 * 64

	DefaultApp                      = "live"
	DefaultChunkSize         uint32 = 4096
	DefaultClientWindowSize  uint32 = 2500000
	DefaultMaxMessageSize    uint32 = 16 * 1024 * 1024
	DefaultPublishStreamID   uint32 = 0
	DefaultStreamID          int    = 1
	FlashMediaServerVersion         = "FMS/3,5,7,7009"
	Capabilities                    = 31
	Mode                            = 1
)

// RTMP holds the listener and protocol negotiation settings.
type RTMP struct {
	Addr           string        `mapstructure:"addr"`
	App            string        `mapstructure:"app"`
	ChunkSize      uint32        `mapstructure:"chunk_size"`
	MaxConnections int           `mapstructure:"max_connections"`
	MaxMessageSize uint32        `mapstructure:"max_message_size"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PingTimeout    time.Duration `mapstructure:"ping_timeout"`
	StreamTimeout  time.Duration `mapstructure:"stream_timeout"`
}

// GOPCache bounds the per-stream group-of-pictures buffer. When either limit
// is exceeded mid-epoch, caching is disabled until the next keyframe: bounded
// memory is preferred over complete replay for late joiners.
type GOPCache struct {
	Enabled   bool `mapstructure:"enabled"`
	MaxFrames int  `mapstructure:"max_frames"`
	MaxBytes  int  `mapstructure:"max_bytes"`
}

// Backpressure controls per-subscriber outbound queueing. With DropWhenFull
// set, a full queue sheds its oldest frames and the viewer keeps its
// connection; otherwise the slow subscriber is disconnected.
type Backpressure struct {
	QueueDepth   int  `mapstructure:"queue_depth"`
	DropWhenFull bool `mapstructure:"drop_when_full"`
}

// HLS configures the optional segment-based HTTP playback output.
type HLS struct {
	Enabled         bool          `mapstructure:"enabled"`
	Addr            string        `mapstructure:"addr"`
	Dir             string        `mapstructure:"dir"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
	PlaylistLength  int           `mapstructure:"playlist_length"`
}

// RelayTask describes one configured forward/re-encode pipeline.
type RelayTask struct {
	Source      string   `mapstructure:"source"`
	Destination string   `mapstructure:"destination"`
	Args        []string `mapstructure:"args"`
}

// Relay configures the task runner that feeds external pipelines.
type Relay struct {
	FFmpegPath  string        `mapstructure:"ffmpeg_path"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	Tasks       []RelayTask   `mapstructure:"tasks"`
}

// Config is the root configuration object for the server.
type Config struct {
	RTMP         RTMP         `mapstructure:"rtmp"`
	GOPCache     GOPCache     `mapstructure:"gop_cache"`
	Backpressure Backpressure `mapstructure:"backpressure"`
	HLS          HLS          `mapstructure:"hls"`
	Relay        Relay        `mapstructure:"relay"`
	LogLevel     string       `mapstructure:"log_level"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() Config {
	return Config{
		RTMP: RTMP{
			Addr:           ":" + DefaultPort,
			App:            DefaultApp,
			ChunkSize:      DefaultChunkSize,
			MaxConnections: 1024,
			MaxMessageSize: DefaultMaxMessageSize,
			PingInterval:   30 * time.Second,
			PingTimeout:    60 * time.Second,
			StreamTimeout:  120 * time.Second,
		},
		GOPCache: GOPCache{
			Enabled:   true,
			MaxFrames: 1024,
			MaxBytes:  8 * 1024 * 1024,
		},
		Backpressure: Backpressure{
			QueueDepth:   512,
			DropWhenFull: true,
		},
		HLS: HLS{
			Enabled:         false,
			Addr:            ":8080",
			Dir:             "/tmp/hls",
			SegmentDuration: 4 * time.Second,
			PlaylistLength:  6,
		},
		Relay: Relay{
			FFmpegPath:  "ffmpeg",
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads configuration from the given file path (optional) with
// environment overrides (prefix STREAMD, e.g. STREAMD_RTMP_ADDR), applies
// defaults for anything unset, and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STREAMD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	setDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrapf(err, "config: reading %s", path)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "config: unmarshal")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("rtmp.addr", cfg.RTMP.Addr)
	v.SetDefault("rtmp.app", cfg.RTMP.App)
	v.SetDefault("rtmp.chunk_size", cfg.RTMP.ChunkSize)
	v.SetDefault("rtmp.max_connections", cfg.RTMP.MaxConnections)
	v.SetDefault("rtmp.max_message_size", cfg.RTMP.MaxMessageSize)
	v.SetDefault("rtmp.ping_interval", cfg.RTMP.PingInterval)
	v.SetDefault("rtmp.ping_timeout", cfg.RTMP.PingTimeout)
	v.SetDefault("rtmp.stream_timeout", cfg.RTMP.StreamTimeout)
	v.SetDefault("gop_cache.enabled", cfg.GOPCache.Enabled)
	v.SetDefault("gop_cache.max_frames", cfg.GOPCache.MaxFrames)
	v.SetDefault("gop_cache.max_bytes", cfg.GOPCache.MaxBytes)
	v.SetDefault("backpressure.queue_depth", cfg.Backpressure.QueueDepth)
	v.SetDefault("backpressure.drop_when_full", cfg.Backpressure.DropWhenFull)
	v.SetDefault("hls.enabled", cfg.HLS.Enabled)
	v.SetDefault("hls.addr", cfg.HLS.Addr)
	v.SetDefault("hls.dir", cfg.HLS.Dir)
	v.SetDefault("hls.segment_duration", cfg.HLS.SegmentDuration)
	v.SetDefault("hls.playlist_length", cfg.HLS.PlaylistLength)
	v.SetDefault("relay.ffmpeg_path", cfg.Relay.FFmpegPath)
	v.SetDefault("relay.max_attempts", cfg.Relay.MaxAttempts)
	v.SetDefault("relay.base_delay", cfg.Relay.BaseDelay)
	v.SetDefault("relay.max_delay", cfg.Relay.MaxDelay)
	v.SetDefault("log_level", cfg.LogLevel)
}

// minChunkSize and maxChunkSize bound the negotiable chunk size per the wire
// protocol (a 31-bit field with 128 as the protocol default).
const (
	minChunkSize = 128
	maxChunkSize = 0xFFFFFF
)

// Validate checks all range constraints once at the boundary.
func (c Config) Validate() error {
	if c.RTMP.Addr == "" {
		return errors.New("config: rtmp.addr must not be empty")
	}
	if c.RTMP.ChunkSize < minChunkSize || c.RTMP.ChunkSize > maxChunkSize {
		return errors.Errorf("config: rtmp.chunk_size must be in [%d, %d], got %d", minChunkSize, maxChunkSize, c.RTMP.ChunkSize)
	}
	if c.RTMP.MaxConnections < 1 {
		return errors.New("config: rtmp.max_connections must be at least 1")
	}
	if c.RTMP.MaxMessageSize < minChunkSize {
		return errors.Errorf("config: rtmp.max_message_size must be at least %d", minChunkSize)
	}
	if c.RTMP.PingInterval <= 0 || c.RTMP.PingTimeout <= 0 {
		return errors.New("config: rtmp.ping_interval and rtmp.ping_timeout must be positive")
	}
	if c.RTMP.PingTimeout <= c.RTMP.PingInterval {
		return errors.New("config: rtmp.ping_timeout must be greater than rtmp.ping_interval")
	}
	if c.RTMP.StreamTimeout <= 0 {
		return errors.New("config: rtmp.stream_timeout must be positive")
	}
	if c.GOPCache.Enabled && (c.GOPCache.MaxFrames < 1 || c.GOPCache.MaxBytes < 1) {
		return errors.New("config: gop_cache limits must be positive when the cache is enabled")
	}
	if c.Backpressure.QueueDepth < 1 {
		return errors.New("config: backpressure.queue_depth must be at least 1")
	}
	if c.HLS.Enabled {
		if c.HLS.SegmentDuration <= 0 {
			return errors.New("config: hls.segment_duration must be positive")
		}
		if c.HLS.PlaylistLength < 1 {
			return errors.New("config: hls.playlist_length must be at least 1")
		}
		if c.HLS.Dir == "" {
			return errors.New("config: hls.dir must not be empty")
		}
	}
	if c.Relay.MaxAttempts < 1 {
		return errors.New("config: relay.max_attempts must be at least 1")
	}
	if c.Relay.BaseDelay <= 0 || c.Relay.MaxDelay < c.Relay.BaseDelay {
		return errors.New("config: relay delays must satisfy 0 < base_delay <= max_delay")
	}
	for i, t := range c.Relay.Tasks {
		if t.Source == "" || t.Destination == "" {
			return errors.Errorf("config: relay.tasks[%d] must have a source and a destination", i)
		}
	}
	return nil
}
