package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/map-session/internal/app"
	"github.com/mohammed-shakir/map-session/internal/command"
	"github.com/mohammed-shakir/map-session/internal/core/config"
	"github.com/mohammed-shakir/map-session/internal/core/observability"
	"github.com/mohammed-shakir/map-session/internal/core/server"
	"github.com/mohammed-shakir/map-session/internal/logger"
	"github.com/mohammed-shakir/map-session/internal/metrics"
)

var (
	Version   = "dev"
	Revision  = ""
	BuildDate = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	script := flag.String("script", "", "replay JSON-lines commands from this file (- for stdin) instead of serving HTTP")
	layers := flag.String("layers", "", "comma separated layers to open at startup, overriding STARTUP_LAYERS")
	flag.Parse()

	cfg := config.FromEnv()
	if strings.TrimSpace(*layers) != "" {
		cfg.StartupLayers = nil
		for _, p := range strings.Split(*layers, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.StartupLayers = append(cfg.StartupLayers, p)
			}
		}
	}

	// script mode prints results on stdout, so logs go to stderr
	logOut := io.Writer(os.Stdout)
	if *script != "" {
		logOut = os.Stderr
	}
	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		SessionID: cfg.SessionID,
		Component: "mapsession",
	}, logOut)
	appLog := logger.NewSlog(&zl)

	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		p := metrics.Init(metrics.BuildInfo{Version: Version, Revision: Revision, BuildDate: BuildDate})
		observability.Init(p.Registerer())
		metricsHandler = p.Handler()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, appLog)
	if err != nil {
		appLog.Error("session setup failed", "err", err)
		return 1
	}
	defer func() {
		if err := a.Close(); err != nil {
			appLog.Warn("close failed", "err", err)
		}
	}()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		a.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	appLog.Info("starting map session",
		"session_id", a.SessionID(),
		"version", Version,
		"store", cfg.StoreDriver,
		"layers", len(cfg.StartupLayers),
		"journal", cfg.Journal.Enabled)

	if _, err := a.OpenStartup(ctx); err != nil {
		appLog.Error("startup layers failed", "err", err)
		return 1
	}

	if *script != "" {
		if err := replay(ctx, a, *script, os.Stdout); err != nil {
			appLog.Error("script failed", "script", *script, "err", err)
			return 1
		}
		return 0
	}

	if err := server.Run(ctx, cfg.Addr, appLog, server.NewRouter(appLog, a, metricsHandler)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// replay applies every command in the script and writes one JSON line of
// results per command. Invalid commands stop the replay.
func replay(ctx context.Context, a *app.App, path string, out io.Writer) error {
	in := io.Reader(os.Stdin)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		in = f
	}
	enc := json.NewEncoder(out)
	return command.Replay(in, func(line int, c command.Command) error {
		res, err := a.Apply(ctx, c)
		if err != nil {
			return err
		}
		return enc.Encode(struct {
			Line    int              `json:"line"`
			Action  string           `json:"action"`
			Results []command.Result `json:"results"`
		}{line, c.Action, res})
	})
}
