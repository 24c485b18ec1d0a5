// Command guras is the offline meditation tracker core.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/silwalsubin/guras-sub000/internal/cli"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	cli.Version = Version
	code := cli.Run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
