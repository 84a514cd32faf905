package main

import (
	"context"
	"os/signal"
	"syscall"

	syncworker "github.com/canopy-network/balanceblocks/app/syncer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := syncworker.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	// Immediate pass before cron
	runCtx, runCancel := context.WithTimeout(ctx, app.RunTimeout)
	app.RunOnce(runCtx)
	runCancel()

	// Start cron scheduler
	app.StartCron()

	// Setup server
	app.SetupServer()

	// Start server
	app.Start(ctx)
}
