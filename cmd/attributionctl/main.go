package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/attribution/internal/cli"
	"github.com/okian/attribution/pkg/logger"
)

func main() {
	if err := logger.Init(logger.WithOutput(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(cli.ExitFailed)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Execute(ctx, os.Args[1:])
	stop()
	_ = logger.Sync()
	os.Exit(code)
}
