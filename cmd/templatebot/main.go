// Command templatebot runs the guild template bot and its offline tooling.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Set by the release build.
var version = "dev"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newApp(version).Execute(ctx, os.Args[1:]); err != nil {
		cancel()
		exitOnError(err)
	}
}

func exitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}
