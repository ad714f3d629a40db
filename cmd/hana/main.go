package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdobrica/Hana/common/version"
	"github.com/bdobrica/Hana/internal/hana/app"
	"github.com/bdobrica/Hana/internal/hana/config"
	"github.com/bdobrica/Hana/internal/hana/observability"
)

func main() {
	fmt.Printf("Hana\n")
	fmt.Printf("Version: %s\n", version.Version)
	fmt.Printf("Commit: %s\n", version.GitCommit)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.Setup(cfg.LogLevel, cfg.LogFormat,
		cfg.Gemini.APIKey, cfg.Matrix.AccessToken, cfg.SentryDSN)
	logger.Info("features resolved", cfg.Features.LogAttrs()...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hana, err := app.New(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize Hana: %v\n", err)
		os.Exit(1)
	}

	runErr := hana.Run(ctx)
	hana.Stop()
	if f, ok := hana.Reporter().(interface{ Flush(time.Duration) bool }); ok {
		f.Flush(2 * time.Second)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error running Hana: %v\n", runErr)
		os.Exit(1)
	}
}
