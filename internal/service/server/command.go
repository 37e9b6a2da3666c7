package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

// shutdownTimeout bounds draining in-flight downloads on shutdown.
const shutdownTimeout = 10 * time.Second

// ErrNoRoot indicates that no release directory was configured.
var ErrNoRoot = errors.New("no mirror root configured")

// Options controls the shelf-mirror process.
type Options struct {
	// ConfigPath specifies the path to settings YAML file.
	ConfigPath string
	// ListenAddress overrides mirror.listen.
	ListenAddress string
	// Root overrides mirror.root.
	Root string
}

// Run serves the mirror until ctx is canceled.
func Run(ctx context.Context, opts *Options) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "shelf-mirror")

	cfg, err := config.LoadOptional(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	mirror := cfg.Mirror
	if opts.ListenAddress != "" {
		mirror.Listen = opts.ListenAddress
	}

	if opts.Root != "" {
		mirror.Root = opts.Root
	}

	if mirror.Root == "" {
		return ErrNoRoot
	}

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", mirror.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", mirror.Listen, err)
	}

	logger.InfoKV(ctx, "Mirror server listening", "listen_address", lis.Addr().String(), "root", mirror.Root)

	return Serve(ctx, lis, &mirror)
}

// Serve handles requests on lis until ctx is canceled, then shuts down gracefully.
func Serve(ctx context.Context, lis net.Listener, cfg *config.MirrorConfig) error {
	srv := &http.Server{
		Handler:           NewHandler(cfg.Root, cfg.RequestsPerSecond, cfg.Burst),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// Receives the Shutdown result so Serve blocks until the server fully stops.
	done := make(chan error, 1)

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down mirror server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		done <- srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	if err := <-done; err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	logger.Info(ctx, "Mirror server stopped")

	return nil
}
