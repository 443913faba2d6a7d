package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"falconeye/internal/app"
	"falconeye/internal/config"
)

func main() {
	configPath := flag.String("config", "falconeye.yaml", "path to the configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", "path", *configPath, "err", err)
		os.Exit(1)
	}
	logger.Info("starting falconeye",
		"config", *configPath,
		"db", cfg.DBPath,
		"interval", cfg.CollectionInterval,
		"servers", len(cfg.Servers))

	a, err := app.New(*cfg, logger)
	if err != nil {
		logger.Error("init failed", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := a.Run(ctx); err != nil {
		logger.Error("shutdown with error", "err", err)
		os.Exit(1)
	}
}
