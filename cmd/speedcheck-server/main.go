package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/idanyas/speedcheck/internal/config"
	"github.com/idanyas/speedcheck/internal/logging"
	"github.com/idanyas/speedcheck/internal/server"
)

var (
	version    = "DEV"
	port       = pflag.IntP("port", "p", 0, "Port to listen on (default from config or PORT, 5000).")
	corsOrigin = pflag.String("cors-origin", "", "Allowed CORS origin (default from config or CORS_ORIGIN).")
	configPath = pflag.StringP("config", "c", "", "Path to a YAML config file.")
	logLevel   = pflag.String("log-level", "", "Log level: debug, info, warn or error.")
	dev        = pflag.Bool("dev", false, "Human-readable console logs.")
)

func main() {
	pflag.Usage = func() {
		out := os.Stderr
		fmt.Fprintf(out, "Usage: %s [options...]\n\n", os.Args[0])
		fmt.Fprintln(out, "Serve the speedcheck probe endpoints under /api.")
		fmt.Fprintln(out, "\nOptions:")
		pflag.PrintDefaults()
		fmt.Fprintf(out, "\nVersion: %s\n", version)
	}
	pflag.CommandLine.Init(os.Args[0], pflag.ContinueOnError)
	if err := pflag.CommandLine.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "\nError parsing flags: %v\n", err)
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}
	if pflag.CommandLine.Changed("port") {
		cfg.Server.Port = *port
	}
	if pflag.CommandLine.Changed("cors-origin") {
		cfg.Server.CORSOrigin = *corsOrigin
	}
	if pflag.CommandLine.Changed("log-level") {
		cfg.Server.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.Server.LogLevel, *dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	srv := server.New(cfg.Server, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("received signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Error("graceful shutdown failed", zap.Error(err))
		}
	}
	logger.Info("probe server stopped", zap.String("version", version))
}
