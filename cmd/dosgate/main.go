// Command dosgate starts the rate limiting gateway.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"dosgate/internal/dosgate"
)

func main() {
	args := os.Args[1:]
	printOnly := false
	if len(args) > 0 && args[0] == "print_config" {
		printOnly = true
		args = args[1:]
	}

	cfg, err := dosgate.LoadConfig(dosgate.LoadOptions{Args: args})
	if err != nil {
		printUsage(os.Stderr)
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}
	if printOnly {
		if err := dosgate.PrintConfig(os.Stdout, cfg); err != nil {
			log.Fatalf("failed to print config: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := dosgate.NewApplication(cfg)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}
	if err := app.Start(ctx); err != nil {
		log.Fatalf("failed to start application: %v", err)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("failed to shutdown application: %v", err)
	}
}
