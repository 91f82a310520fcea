package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/swaprouter/internal/app"
	"github.com/ksred/swaprouter/internal/config"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
func init() {
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		zlog.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
}

// main initializes and runs the order router with graceful shutdown support
func main() {
	envFile := flag.String("env", "", "path to a .env file (defaults to ./.env when present)")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Invalid configuration")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	application, err := app.New(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer func() {
		if err := application.Close(); err != nil {
			zlog.Error().Err(err).Msg("Failed to release resources")
		}
	}()

	// Start the worker pool
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	workersDone := make(chan struct{})
	go func() {
		application.RunWorkers(workerCtx)
		close(workersDone)
	}()

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: application.Handler(),
	}

	go func() {
		zlog.Info().Int("port", cfg.Port).Msg("Order router listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop dequeuing; orders already taken run to a terminal state
	workerCancel()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		zlog.Warn().Interface("stats", application.Stats()).Msg("Workers still running at shutdown deadline")
	}

	zlog.Info().Msg("Server exiting")
}
