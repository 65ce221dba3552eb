package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"coachrelay/internal/app"
	"coachrelay/internal/config"
	"coachrelay/internal/logging"
)

// FUNCTIONAL DISCOVERY: Main entry point with comprehensive error handling and signal management
// Graceful shutdown on SIGINT/SIGTERM ensures proper resource cleanup
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		logrus.WithError(err).Fatal("coachrelay exited")
	}
}

// ARCHITECTURAL DISCOVERY: Separate run function enables testing and error handling
// The process runs until ctx is cancelled, then shuts down within the configured timeout
func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("coachrelay", flag.ContinueOnError)
	configPath := flags.String("config", os.Getenv("COACH_CONFIG_FILE"), "YAML or JSON config file")
	envFile := flags.String("env-file", ".env", "dotenv file loaded before reading the environment")
	if err := flags.Parse(args); err != nil {
		return err
	}

	// STEP 1: Environment file, then configuration with precedence (env > file > defaults)
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", *envFile, err)
	}
	cfg, err := config.LoadConfigWithPrecedence(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format}, os.Stderr)
	if err != nil {
		return err
	}

	// STEP 2: Create application with configuration
	application, err := app.NewApplication(cfg, app.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	// STEP 3: Serve until a shutdown signal arrives
	if err := application.Start(ctx); err != nil {
		_ = application.Stop(context.Background())
		return fmt.Errorf("application error: %w", err)
	}
	<-ctx.Done()
	logger.Info("shutdown signal received")

	// FUNCTIONAL DISCOVERY: Timeout context prevents hanging shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := application.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	return nil
}
