package app

import (
	"context"
	"errors"
	"net/http"

	"whalewatch/internal/ingest"
	"whalewatch/internal/service"

	"gitlab.com/nevasik7/alerting/logger"
)

type HTTPServer interface {
	Start() error
	Shutdown(ctx context.Context) error
}

type App struct {
	log      logger.Logger
	httpSrv  HTTPServer
	source   ingest.Source
	pipeline *service.Pipeline
}

func New(log logger.Logger, httpSrv HTTPServer, source ingest.Source, pipeline *service.Pipeline) *App {
	return &App{log: log, httpSrv: httpSrv, source: source, pipeline: pipeline}
}

func (a *App) Start(ctx context.Context) error {
	a.log.Debug("App start begin...")

	if err := a.source.Start(ctx, a.pipeline.HandleEvent); err != nil {
		return err
	}

	go func() {
		if err := a.httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Fatalf("Start HTTP server is error=%v", err)
		}
	}()

	a.log.Info("App started")
	return nil
}

func (a *App) Shutdown(ctx context.Context) error {
	a.log.Debug("App stop begin...")

	// stop ingesting first so nothing new enters the pipeline
	if err := a.source.Stop(); err != nil {
		a.log.Errorf("Failed to stop ingest source: %v", err)
	}

	if err := a.httpSrv.Shutdown(ctx); err != nil {
		return err
	}

	a.log.Info("App stopped")
	return nil
}
