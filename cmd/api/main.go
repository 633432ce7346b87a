package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"unicornio-backend/internal/bootstrap"
	"unicornio-backend/internal/shared/config"
	"unicornio-backend/internal/shared/server"
	"unicornio-backend/internal/shared/telemetry"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleAPI)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	if err := app.StartForwarder(ctx); err != nil {
		log.Fatalf("start event forwarder: %v", err)
	}

	srv := &http.Server{
		Addr:              server.Addr(cfg.Port),
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		telemetry.Info("server.start", map[string]any{"addr": srv.Addr, "env": cfg.Env})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		server.PruneBuckets(app.Buckets, time.Minute, gctx.Done())
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		telemetry.Info("server.shutdown", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := app.Close(closeCtx); err != nil {
		telemetry.Warn("server.close", map[string]any{"error": err})
	}
	if runErr != nil {
		log.Fatalf("server error: %v", runErr)
	}
}
