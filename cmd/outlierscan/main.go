package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"outlierscan/internal/cli"
)

// main is a thin boundary: it wires signals and the standard streams into
// the command line and exits with its semantic exit code.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Main(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
