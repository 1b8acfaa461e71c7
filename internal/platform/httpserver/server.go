package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Config struct {
	Service         string
	Addr            string
	ShutdownTimeout time.Duration
}

func (c Config) validate() error {
	switch {
	case c.Service == "":
		return errors.New("service is required")
	case c.Addr == "":
		return errors.New("addr is required")
	}
	return nil
}

// Run serves handler until ctx is cancelled, then drains in-flight requests
// for at most ShutdownTimeout. A clean shutdown returns nil.
func Run(ctx context.Context, logger *slog.Logger, cfg Config, handler http.Handler) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr, err)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	served := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "service", cfg.Service, "addr", ln.Addr().String())
		served <- srv.Serve(ln)
	}()

	select {
	case err := <-served:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("http server draining", "service", cfg.Service, "timeout", cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
