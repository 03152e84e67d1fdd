// Command streamd runs the RTMP ingest server with its HTTP sidecar: HLS
// playback, the stream/relay API and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	rtmp "github.com/pksorensen/video-streaming-portal-sub001"
	"github.com/pksorensen/video-streaming-portal-sub001/config"
	"github.com/pksorensen/video-streaming-portal-sub001/internal/hls"
	"github.com/pksorensen/video-streaming-portal-sub001/internal/metrics"
	"github.com/pksorensen/video-streaming-portal-sub001/internal/relay"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          "streamd",
	Short:        "RTMP ingest, fan-out and relay server",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cfgFile)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to config file (yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	m := metrics.New()

	gopFrames, gopBytes := 0, 0
	if cfg.GOPCache.Enabled {
		gopFrames, gopBytes = cfg.GOPCache.MaxFrames, cfg.GOPCache.MaxBytes
	}
	registry := rtmp.NewRegistry(rtmp.RegistryOptions{
		GopMaxFrames: gopFrames,
		GopMaxBytes:  gopBytes,
		QueueSize:    cfg.Backpressure.QueueDepth,
		Policy:       rtmp.PolicyFromConfig(cfg.Backpressure.DropWhenFull),
		Stats:        m,
	})
	broadcaster := rtmp.NewBroadcaster(registry, logger)

	runner := relay.NewRunner(logger, cfg.Relay, broadcaster, nil)
	runner.Start()
	defer runner.Close()

	var manager *hls.Manager
	if cfg.HLS.Enabled {
		manager = hls.NewManager(logger, cfg.HLS, broadcaster)
		broadcaster.AddListener(manager)
	}
	httpSrv := hls.NewServer(logger, cfg.HLS, manager, broadcaster, runner, m.Handler(), m.HTTPMiddleware())

	rtmpSrv := rtmp.NewServer(logger, cfg.RTMP, broadcaster, m)

	errc := make(chan error, 2)
	go func() { errc <- rtmpSrv.ListenAndServe() }()
	go func() { errc <- httpSrv.ListenAndServe() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err = <-errc:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if err := rtmpSrv.Close(); err != nil {
		logger.Warn("rtmp shutdown", zap.Error(err))
	}
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}
