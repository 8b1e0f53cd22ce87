package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nvail/framebridge/internal/encoder"
	"github.com/nvail/framebridge/internal/ingest"
	"github.com/nvail/framebridge/internal/media"
	"github.com/nvail/framebridge/internal/metrics"
	"github.com/nvail/framebridge/internal/pipeline"
	"github.com/nvail/framebridge/internal/shm"
)

var version = "dev"

// shmConfigTimeout bounds the wait for the producer's geometry handshake
// in shared-memory mode.
const shmConfigTimeout = 30 * time.Second

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	socketPath := envOr("SOCKET_PATH", "/tmp/framebridge.sock")
	shmPath := envOr("SHM_PATH", "")
	metricsAddr := envOr("METRICS_ADDR", ":9091")
	outputPath := envOr("OUTPUT_PATH", "")
	codec := envOr("CODEC", "h265")
	bitrate := envInt("BITRATE", 10_000_000)
	fps := envInt("FPS", 90)

	slog.Info("framebridge starting",
		"version", version,
		"socket", socketPath,
		"shm", shmPath,
		"metrics", metricsAddr,
		"codec", codec,
	)

	met := metrics.New()

	sink, err := newSink(outputPath)
	if err != nil {
		slog.Error("failed to open output", "error", err)
		os.Exit(1)
	}
	defer sink.Close()

	g, ctx := errgroup.WithContext(ctx)

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: met.Handler()}
	g.Go(func() error {
		slog.Info("metrics server listening", "addr", metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	a := &app{
		sink:    sink,
		met:     met,
		codec:   parseCodec(codec),
		bitrate: bitrate,
		fps:     fps,
	}

	if shmPath != "" {
		g.Go(func() error {
			return a.runShared(ctx, shmPath)
		})
	} else {
		g.Go(func() error {
			return a.runSocket(ctx, socketPath)
		})
	}

	if err := g.Wait(); err != nil {
		slog.Error("bridge error", "error", err)
		os.Exit(1)
	}
}

type app struct {
	sink    *fileSink
	met     *metrics.Metrics
	codec   media.Codec
	bitrate int
	fps     int
}

func (a *app) encoderConfig(width, height int) encoder.Config {
	cfg := encoder.DefaultConfig(width, height)
	cfg.Codec = a.codec
	cfg.Bitrate = a.bitrate
	cfg.FPS = a.fps
	return cfg
}

// runSocket serves producers one at a time: accept, run the frame loop
// until disconnect, then accept the next.
func (a *app) runSocket(ctx context.Context, socketPath string) error {
	srv := ingest.NewServer(socketPath, slog.Default())
	if err := srv.Listen(); err != nil {
		return err
	}
	defer srv.Close()

	for ctx.Err() == nil {
		sess, err := srv.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("accept failed", "error", err)
			continue
		}
		a.serve(ctx, sess)
	}
	return nil
}

func (a *app) serve(ctx context.Context, sess *ingest.Session) {
	defer sess.Close()

	cfg := a.encoderConfig(int(sess.Init.Width), int(sess.Init.Height))
	p, err := pipeline.New(cfg, a.sink, nil, a.met, slog.Default())
	if err != nil {
		slog.Error("failed to create pipeline", "error", err)
		return
	}
	defer p.Close()

	if err := p.RunSocket(ctx, sess); err != nil {
		slog.Error("pipeline error", "error", err)
	}
	slog.Info("stream ended")
}

// runShared creates the shared-memory region, waits for the producer's
// geometry handshake, and runs the ring consumer loop.
func (a *app) runShared(ctx context.Context, shmPath string) error {
	region, err := shm.Create(shmPath)
	if err != nil {
		return err
	}
	defer region.Close()
	region.MarkInitialized()
	slog.Info("shared-memory region ready", "path", shmPath)

	cons := shm.NewConsumer(region)
	cfg, err := waitConfig(ctx, cons)
	if err != nil {
		return err
	}
	slog.Info("producer config received",
		"size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"format", cfg.PixelFormat,
	)

	p, err := pipeline.New(a.encoderConfig(int(cfg.Width), int(cfg.Height)), a.sink, nil, a.met, slog.Default())
	if err != nil {
		return err
	}
	defer p.Close()

	return p.RunRing(ctx, region)
}

func waitConfig(ctx context.Context, cons *shm.Consumer) (shm.Config, error) {
	deadline := time.Now().Add(shmConfigTimeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if cfg, ok := cons.Config(); ok {
			return cfg, nil
		}
		if time.Now().After(deadline) {
			return shm.Config{}, shm.ErrHandshakeTimeout
		}
		select {
		case <-ctx.Done():
			return shm.Config{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func parseCodec(name string) media.Codec {
	if name == "h264" {
		return media.CodecH264
	}
	return media.CodecH265
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v, "default", fallback)
		return fallback
	}
	return n
}
