package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mirastream/streaming-platform-auth/internal/infra/app"
	"github.com/mirastream/streaming-platform-auth/internal/infra/config"
)

func main() {
	if err := run(); err != nil {
		log.Printf("auth service stopped: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development reads .env; in deployment the variables arrive
	// through the environment, so a missing file is fine.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to init auth service: %v", err)
	}

	return application.Run(ctx)
}
