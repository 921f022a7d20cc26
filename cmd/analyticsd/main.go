package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ncecere/usage_analytics/internal/app"
	"github.com/ncecere/usage_analytics/internal/config"
	"github.com/ncecere/usage_analytics/internal/httpserver"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	envFile := flag.String("env", "", "optional .env file")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(config.Options{ConfigFile: *configFile, EnvFile: *envFile})
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	backend, err := app.OpenBackend(ctx, cfg)
	if err != nil {
		log.Fatalf("open record store: %v", err)
	}

	container, err := app.NewContainer(ctx, cfg, backend)
	if err != nil {
		_ = backend.Close()
		log.Fatalf("build container: %v", err)
	}
	defer container.Close(context.Background())

	server, err := httpserver.New(container)
	if err != nil {
		log.Fatalf("construct server: %v", err)
	}

	if err := server.Listen(ctx); err != nil && err != context.Canceled {
		log.Fatalf("server stopped: %v", err)
	}
}
