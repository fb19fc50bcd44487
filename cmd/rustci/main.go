// Package main is the entry point for the rustci CLI.
// The CLI runs the Rust CI jobs and pipelines against a local source tree.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"rustci/cmd/rustci/cmd"
)

func main() {
	// Cancelling the context lets running jobs release their containers.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
