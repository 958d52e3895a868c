// Package main is the entry point for the snippet-vault server.
//
// MAIN PACKAGE IN GO:
// main should stay small. Its job is to:
//  1. Read configuration (defaults, config file, env vars, flags)
//  2. Create process-wide dependencies (logger, stores)
//  3. Start the application
//
// All actual logic lives in internal/ packages.
//
// EXAMPLES:
//
//	go run ./cmd/server                                  # sqlite at data/snippets.db
//	go run ./cmd/server --store memory --port 9000
//	DATABASE_URL=postgres://... go run ./cmd/server --store postgres
//	go run ./cmd/server --config snippets.jsonc
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sakif/snippet-vault/internal/config"
	"github.com/sakif/snippet-vault/internal/server"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	// === 1. CONFIGURATION ===
	cfg, err := config.Load(args, config.Environ())
	if err != nil {
		return err
	}

	// === 2. LOGGING ===
	// Level and format come from config: text for a terminal, JSON for a
	// log shipper.
	logger, err := cfg.Log.NewLogger(os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	if cfg.Source != "" {
		logger.Info("config loaded", slog.String("file", cfg.Source))
	}

	// === 3. STORES ===
	stores, err := server.OpenStores(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("opening %s store: %w", cfg.Store.Driver, err)
	}

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(cfg, stores, logger)
	if err != nil {
		if stores.Close != nil {
			_ = stores.Close()
		}
		return fmt.Errorf("creating server: %w", err)
	}

	// Start blocks until SIGINT/SIGTERM and closes the stores on the way out.
	return srv.Start(ctx)
}
