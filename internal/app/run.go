package app

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"whalewatch/internal/config"
)

// Run assembles the container, starts it, waits for a signal and stops.
func Run(cfg *config.Config) error {
	ctxBuild, cancelBuild := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelBuild()

	container, cleanup, err := Build(ctxBuild, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err = container.Start(sigCtx); err != nil {
		return err
	}

	<-sigCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	return container.Stop(shutdownCtx)
}
