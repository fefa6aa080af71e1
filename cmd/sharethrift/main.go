package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/simnova/sharethrift-sub014/internal/app"
	"github.com/simnova/sharethrift-sub014/internal/config"
	"github.com/simnova/sharethrift-sub014/internal/mcp"
	"github.com/simnova/sharethrift-sub014/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	// Handle version flag
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		fmt.Printf("ShareThrift Reservation Server\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Build Time: %s\n", buildTime)
		fmt.Printf("Build Mode: %s\n", storage.BuildMode)
		fmt.Printf("SQLite Driver: %s\n", storage.DriverName)
		os.Exit(0)
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "sharethrift: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}

	// stdout is reserved for the MCP protocol
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	logger.Info("starting", "version", version, "build_mode", storage.BuildMode, "driver", storage.DriverName)

	a, err := app.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	server, err := mcp.NewServer(a)
	if err != nil {
		return fmt.Errorf("create MCP server: %w", err)
	}

	// Set up graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	busErr := make(chan error, 1)
	go func() { busErr <- a.Run(ctx) }()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("MCP server ready, listening on stdio")
		serveErr <- server.Serve(ctx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", "signal", sig.String())
		cancel()
		<-busErr
	case err = <-serveErr:
		cancel()
		<-busErr
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("serve: %w", err)
		}
	case err = <-busErr:
		cancel()
		if err != nil {
			return fmt.Errorf("integration bus: %w", err)
		}
	}

	logger.Info("stopped")
	return nil
}
