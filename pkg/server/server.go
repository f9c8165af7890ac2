package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

type Server struct {
	*http.Server
	Logger *slog.Logger
	// CleanUpFuncs are called after the server has successfully shutdown.
	CleanUpFuncs []func(ctx context.Context)
}

// Start runs the server until ctx is cancelled, then shuts down gracefully.
// Connections get 20 seconds to drain before the process is forced to exit.
func (s *Server) Start(ctx context.Context) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s.Server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}

	done := make(chan struct{})

	go func() {
		<-ctx.Done()

		logger.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				logger.Error("graceful shutdown timed out, forcing exit")
				os.Exit(1)
			}
		}()

		if err := s.Server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
			os.Exit(1)
		}

		for _, cf := range s.CleanUpFuncs {
			cf(shutdownCtx)
		}

		close(done)
	}()

	logger.Info("server started", "addr", s.Server.Addr)

	err := s.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		logger.Error("server exit", "error", err)
		os.Exit(1)
	}

	<-done
}
