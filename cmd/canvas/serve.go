package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"canvas/api/internal/app"
	"canvas/api/internal/localdemo"
)

var (
	serveMigrate bool
	serveDemo    bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		rt, err := build(ctx, cfg, serveMigrate)
		if err != nil {
			return err
		}
		defer rt.Close()

		deps := app.Dependencies{
			State:    rt.state,
			Sessions: rt.sessions,
			Search:   rt.search,
			Ready:    rt.ready,
			Logger:   slog.Default(),
		}
		if serveDemo {
			demo, err := localdemo.Open(ctx, rt.blobs, localdemo.WithLogger(slog.Default()))
			if err != nil {
				return err
			}
			deps.Demo = demo
		}

		httpServer := app.NewHTTPServer(deps, cfg.CORSOrigin).WithRequestTimeout(cfg.RequestTimeout)
		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           httpServer.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			slog.Info("canvas api listening", "addr", cfg.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
			close(errCh)
		}()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMigrate, "migrate", true, "Apply pending migrations before serving")
	serveCmd.Flags().BoolVar(&serveDemo, "demo", true, "Serve the local-only demo under /api/demo")
	rootCmd.AddCommand(serveCmd)
}
