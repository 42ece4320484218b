package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"
)

// Server wraps http.Server with graceful shutdown tied to a context.
type Server struct {
	*http.Server
	Log *slog.Logger
	// CleanUpFuncs are called, in order, after the server has shut down.
	CleanUpFuncs []func(ctx context.Context)
}

// Start serves until ctx is cancelled, then shuts down gracefully and runs
// the cleanup functions. It blocks until shutdown completes.
func (s *Server) Start(ctx context.Context) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}

	s.Server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}

	done := make(chan struct{})

	go func() {
		<-ctx.Done()

		log.Info("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Error("graceful shutdown timed out, forcing exit")
				os.Exit(1)
			}
		}()

		if err := s.Server.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown", "err", err)
			os.Exit(1)
		}

		for _, cf := range s.CleanUpFuncs {
			cf(shutdownCtx)
		}

		close(done)
	}()

	log.Info("server started", "addr", s.Server.Addr)

	err := s.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		log.Error("server exit", "err", err)
		os.Exit(1)
	}

	<-done
}
