package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"loramapper/internal/config"
	"loramapper/internal/web"
)

func main() {
	var configPath string
	var logLines int
	flag.StringVar(&configPath, "config", "./loramapper.yaml", "Path to YAML config")
	flag.IntVar(&logLines, "log-lines", 2000, "Log lines kept for /api/logs")
	flag.Parse()

	logs := web.NewLogBuffer(logLines)
	log.SetOutput(io.MultiWriter(os.Stderr, logs))

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("loramapper starting config=%s", configPath)
	if err := newRuntime(cfg, logs).Run(ctx); err != nil {
		log.Printf("loramapper stopped: %v", err)
		cancel()
		os.Exit(1)
	}
	log.Printf("loramapper stopping")
}
