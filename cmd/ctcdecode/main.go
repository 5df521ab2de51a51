// Command ctcdecode serves CTC beam-search decoding over HTTP.
//
// Usage:
//
//	ctcdecode [-config config.yaml]
//	ctcdecode lm import -dsn DSN -name NAME model.arpa
//	ctcdecode lm list -dsn DSN
//	ctcdecode lm delete -dsn DSN -name NAME
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/ctcdecode/internal/config"
	"github.com/MrWong99/ctcdecode/internal/health"
	"github.com/MrWong99/ctcdecode/internal/observe"
	"github.com/MrWong99/ctcdecode/internal/server"
)

const defaultShutdownTimeout = 15 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "lm" {
		os.Exit(runLM(os.Args[2:]))
	}
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "ctcdecode: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "ctcdecode: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(&level))

	slog.Info("ctcdecode starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"mode", cfg.Decoder.EffectiveMode(),
		"language_model", cfg.LanguageModel.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		Registerer:     promReg,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Vocabulary ────────────────────────────────────────────────────────────
	v, err := cfg.Vocabulary.Build()
	if err != nil {
		slog.Error("failed to build vocabulary", "err", err)
		return 1
	}
	slog.Info("vocabulary loaded", "symbols", v.Len(), "blank", v.Blank(), "boundary", v.Boundary())

	// ── Language model ────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	var checkers []health.Checker
	registerLanguageModels(reg, &checkers)

	model, closeLM, err := reg.CreateLanguageModel(ctx, cfg.LanguageModel)
	if err != nil {
		slog.Error("failed to create language model", "err", err)
		return 1
	}
	defer closeLM()
	model = guardLanguageModel(model, cfg.LanguageModel, metrics)

	// ── Decoders ──────────────────────────────────────────────────────────────
	builder := &engineBuilder{vocab: v, model: model, lmCfg: cfg.LanguageModel, metrics: metrics}
	engine, err := builder.build(cfg.Decoder)
	if err != nil {
		slog.Error("failed to build decoder", "err", err)
		return 1
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	maxConcurrent := cfg.Server.MaxConcurrentDecodes
	if maxConcurrent == 0 {
		maxConcurrent = runtime.GOMAXPROCS(0)
	}
	var srv *server.Server
	checkers = append(checkers, health.LoadedChecker("decoder", func() bool { return srv.Loaded() }))
	srv = server.New(engine,
		server.WithMaxConcurrent(maxConcurrent),
		server.WithBatchWorkers(cfg.Server.BatchWorkers),
		server.WithMaxTimesteps(cfg.Server.MaxTimesteps),
		server.WithMetrics(metrics),
		server.WithHealth(health.New(checkers...)),
		server.WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})),
	)

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(config.Diff(old, new), &level, srv, builder)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	serveErr := make(chan error, 1)
	wg.Go(func() {
		var err error
		if tls := cfg.Server.TLS; tls != nil {
			err = httpServer.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	})

	slog.Info("server ready, press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	exitCode := 0
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serveErr:
		slog.Error("http server error", "err", err)
		exitCode = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	timeout := cfg.Server.ShutdownTimeout
	if timeout == 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		exitCode = 1
	}
	wg.Wait()
	slog.Info("goodbye")
	return exitCode
}

// applyReload applies the hot-reloadable parts of d. Settings that need a
// restart are logged and otherwise ignored.
func applyReload(d config.ConfigDiff, level *slog.LevelVar, srv *server.Server, b *engineBuilder) {
	if d.LogLevelChanged {
		level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "log_level", d.NewLogLevel)
	}
	if d.DecoderChanged {
		engine, err := b.build(d.NewDecoder)
		if err != nil {
			slog.Error("decoder reload rejected, keeping previous decoder", "err", err)
		} else {
			srv.SetEngine(engine)
		}
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
