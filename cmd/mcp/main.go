package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"analysisops/internal/config"
	"analysisops/internal/mcpserver"
	"analysisops/internal/service"
)

func main() {
	configPath := flag.String("config", os.Getenv("ANALYSISOPS_CONFIG"), "path to the TOML config file")
	quiet := flag.Bool("quiet", false, "do not mirror operation events to stderr")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath, config.OSEnv())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	svc, err := service.Open(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting: %v\n", err)
		os.Exit(1)
	}

	server := mcpserver.NewServer(mcpserver.Config{
		ServerName:    "analysisops",
		ServerVersion: "1.0.0",
		MirrorEvents:  !*quiet,
	}, svc)

	runErr := server.Start(ctx)
	_ = server.Close()
	if err := svc.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: shutdown: %v\n", err)
	}
	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "MCP server error: %v\n", runErr)
		os.Exit(1)
	}
}
