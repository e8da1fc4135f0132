/*
Package main starts the inkroom drawing server.

It loads configuration, sets up logging, starts the board Controller's event loop and
the HTTP server, and shuts both down on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"inkroom/internal/app/board"
	"inkroom/internal/configs"
	"inkroom/internal/handler"
	"inkroom/internal/pkg/limiter"
	"inkroom/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("rate_ceiling", cfg.RateCeiling).
		Dur("bulk_init_timeout", cfg.BulkInitTimeout).
		Dur("deactivation_grace", cfg.DeactivationGrace).
		Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller := board.NewController(board.Options{
		RateLimit: board.RateLimitOptions{
			Ceiling:       cfg.RateCeiling,
			TestInterval:  cfg.RateTestInterval,
			DecayInterval: cfg.RateDecayInterval,
		},
		BulkInitTimeout:   cfg.BulkInitTimeout,
		DeactivationGrace: cfg.DeactivationGrace,
		SessionSecret:     cfg.SessionSecret,
	})

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		controller.Run(ctx)
	}()

	deps := &handler.AppDeps{
		Controller:     controller,
		Config:         cfg,
		UpgradeLimiter: limiter.NewIPRateLimiter(ctx, rate.Limit(cfg.UpgradeRate), cfg.UpgradeBurst),
	}

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     handler.Router(deps),
		ReadTimeout: 5 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		logx.Info("inkroom listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	select {
	case <-loopDone:
	case <-shutdownCtx.Done():
		logx.Warn("Event loop did not stop in time")
	}

	logx.Info("Server exited")
}
