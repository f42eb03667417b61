package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"browserd/internal/backend"
	"browserd/internal/config"
	"browserd/internal/dispatch"
	"browserd/internal/httpapi"
	"browserd/internal/logging"
	"browserd/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the browserd HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(parentCtx context.Context) error {
	ctx, stop := signal.NotifyContext(parentCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	if hostFlag != "" {
		cfg.Host = hostFlag
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if apiKeyFlag != "" {
		cfg.APIKey = apiKeyFlag
	}

	rodBackend := backend.NewRodBackend(backend.LaunchOptions{Headless: true})
	sessionLog := logging.For(logger, logging.Session)
	mgr := session.New(cfg, rodBackend, sessionLog)

	dispatchLog := logging.For(logger, logging.Dispatch)
	disp := dispatch.New(mgr, cfg.DefaultCommandTimeout, cfg.AllowJSFallback, dispatchLog)

	httpLog := logging.For(logger, logging.HTTP)
	srv := httpapi.New(mgr, disp, cfg.APIKey, cfg.VisionAPIKey, cfg.VisionModel, httpLog)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpServer := &http.Server{Addr: addr, Handler: srv.Handler()}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("browserd listening", zap.String("addr", addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	var shutdownErr error
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("http server shutdown: %w", err)
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil && shutdownErr == nil {
		shutdownErr = fmt.Errorf("session manager shutdown: %w", err)
	}
	return shutdownErr
}
