package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"gitlab.com/transcodeuz/media-engine/cmd/mediactl/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Root.ExecuteContext(ctx); err != nil {
		stop()
		commands.Exit(err)
	}
}
