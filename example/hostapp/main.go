package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	toolrt "github.com/jlceaser/go-toolrt"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg := &toolrt.Config{}
	if *configPath != "" {
		loaded, err := toolrt.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = "hostapp"
		cfg.Server.Version = "0.1.0"
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel.SlogLevel(),
	}))

	shutdownMetrics, err := toolrt.InitMeterProvider(cfg.Server.Name, cfg.Server.Version)
	if err != nil {
		logger.Error("init metrics", "err", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownMetrics(context.Background()); err != nil {
			logger.Warn("metrics shutdown", "err", err)
		}
	}()

	rt, err := toolrt.NewRuntime(cfg,
		toolrt.WithRuntimeLogger(logger),
		toolrt.WithMeterProvider(otel.GetMeterProvider()),
	)
	if err != nil {
		logger.Error("build runtime", "err", err)
		os.Exit(1)
	}

	registerTools(rt.Registry)

	srv := toolrt.NewServer(cfg, rt, toolrt.WithServerLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("host starting", "addr", cfg.Server.ListenAddr, "tools", rt.Registry.Len())
	if err := srv.Run(ctx); err != nil {
		logger.Error("host exited", "err", err)
		os.Exit(1)
	}
	logger.Info("host exited cleanly")
}
