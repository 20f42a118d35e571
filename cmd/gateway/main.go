package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/shopcore/gateway/internal/app"
	"github.com/shopcore/gateway/internal/config"
)

// main runs the gateway entrypoint and exits on unrecoverable errors.
func main() {
	if errRun := run(os.Args[1:]); errRun != nil {
		log.WithError(errRun).Error("gateway failed")
		os.Exit(1)
	}
}

// run parses flags, loads config, and starts the server.
func run(args []string) error {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "config file path (or env CONFIG_PATH)")
	port := fs.Int("port", 0, "server port (overrides config)")
	if errParse := fs.Parse(args); errParse != nil {
		return errParse
	}

	// Local .env files are a development convenience; absence is fine.
	_ = godotenv.Load()

	path := *cfgPath
	if strings.TrimSpace(path) == "" {
		path = os.Getenv(config.EnvConfigPath)
	}
	cfg, errLoad := config.Load(config.ResolveConfigPath(path))
	if errLoad != nil {
		return errLoad
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return app.RunServer(ctx, cfg)
}
