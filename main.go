package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/anicoll/smart-canopy/cmd"
)

func main() {
	app := &cli.App{
		Name:   "smart-canopy",
		Usage:  "session controller and dashboard api for smart canopy devices",
		Action: cmd.CanopyCommand,
		Flags:  cmd.Flags(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
