// Package supervisor drives the process lifecycle (component F) of an
// already-built Reconciliation Engine and Control-Plane API: initial fill
// before the server is marked ready, then graceful, ordered shutdown when
// its context is cancelled (on SIGINT/SIGTERM in the binaries).
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/unattended-backpack/magister/internal/api"
	"github.com/unattended-backpack/magister/internal/engine"
)

// Supervisor owns the engine and API server for one process lifetime.
type Supervisor struct {
	Engine *engine.Engine
	Server *api.Server
	Logger *slog.Logger

	ShutdownTimeout time.Duration
}

// New builds a Supervisor. Engine and Server must already be
// constructed; Run starts them in the right order.
func New(eng *engine.Engine, server *api.Server, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		Engine:          eng,
		Server:          server,
		Logger:          logger,
		ShutdownTimeout: 30 * time.Second,
	}
}

// Run performs the initial fill, starts the command loop and HTTP
// server, and blocks on ctx cancellation for graceful shutdown. Returns
// an error only if the initial fill or HTTP server fails to start.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Logger.Info("running initial fill")
	if err := s.Engine.Start(ctx); err != nil {
		return err
	}

	s.Server.SetReady(true)
	s.Logger.Info("magister ready")

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- s.Server.Start()
	}()

	select {
	case <-ctx.Done():
		s.shutdown()
		return nil
	case err := <-serverErrCh:
		s.shutdown()
		return err
	}
}

func (s *Supervisor) shutdown() {
	s.Logger.Info("shutting down")
	s.Server.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()
	if err := s.Server.Shutdown(shutdownCtx); err != nil {
		s.Logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	s.Engine.Stop()
}
