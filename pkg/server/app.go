package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"LiveTicks/internal/handler/api"
	"LiveTicks/internal/usecase"
	"LiveTicks/pkg/config"
	xhttp "LiveTicks/pkg/http"
	applogger "LiveTicks/pkg/logger"

	"golang.org/x/sync/errgroup"
)

// App encapsulates the entire application lifecycle.
type App struct {
	cfg  *config.Config
	log  *applogger.Logger
	svc  *usecase.StreamService
	http *xhttp.Server
	hub  *api.Hub
}

// New creates a new App instance with all dependencies.
func New(cfg *config.Config, log *applogger.Logger, svc *usecase.StreamService, httpServer *xhttp.Server, hub *api.Hub) *App {
	return &App{cfg: cfg, log: log, svc: svc, http: httpServer, hub: hub}
}

// Run starts the stream service and the HTTP server and blocks until ctx is
// done, a signal arrives or one of them fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.svc.Run(gctx)
	})
	if a.http != nil {
		g.Go(func() error {
			return a.http.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down", applogger.String("env", a.cfg.Environment))
		if a.hub != nil {
			a.hub.Close()
		}
		return nil
	})

	a.log.Info("app started",
		applogger.String("endpoint", a.cfg.Stream.Endpoint),
		applogger.String("sink", a.cfg.Sink.Backend),
		applogger.String("persistence", a.cfg.Persistence.Backend))

	err := g.Wait()
	if err != nil {
		a.log.Error("app stopped with error", applogger.Error(err))
		return err
	}
	a.log.Info("shutdown complete")
	return nil
}
