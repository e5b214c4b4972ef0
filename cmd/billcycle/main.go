package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/billcycle/adapter/cli"
	"github.com/felixgeelhaar/billcycle/adapter/cli/subscription"
	"github.com/felixgeelhaar/billcycle/internal/app"
	"github.com/felixgeelhaar/billcycle/pkg/config"
	"github.com/felixgeelhaar/billcycle/pkg/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load configuration first so a .env file can set the log level
	cfg, err := config.Load()

	// Setup logger from APP_ENV, LOG_LEVEL and LOG_FORMAT
	logger := observability.LoggerFromEnv()
	slog.SetDefault(logger)
	cli.SetLogger(logger)

	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	// Cancel on Ctrl-C so watch and in-flight requests stop cleanly
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		return 1
	}
	defer container.Close()

	cliApp := cli.NewApp(container.Session, container.Reconciler, container.Gateway, container.Ticker)
	cliApp.MaxProofBytes = cfg.MaxProofBytes
	cliApp.SignOut = container.Session.SignOut
	cli.SetApp(cliApp)

	// Register commands
	cli.AddCommand(subscription.Cmd)

	if err := cli.Execute(ctx); err != nil {
		return 1
	}
	return 0
}
