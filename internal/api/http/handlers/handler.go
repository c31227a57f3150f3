package handlers

import (
	"context"

	"whalewatch/internal/alerts"
	"whalewatch/internal/detector"
	"whalewatch/internal/poolcache"
	"whalewatch/internal/service"

	"gitlab.com/nevasik7/alerting/logger"
)

// Named readiness probes, wired per deployment (redis, clickhouse, nats).
type HealthCheck func(ctx context.Context) error

type Handler struct {
	Log      logger.Logger
	Pipeline *service.Pipeline
	Detector *detector.Detector
	Alerts   *alerts.Engine
	Cache    *poolcache.Cache
	Checks   map[string]HealthCheck
}

func NewHandler(
	log logger.Logger,
	pipeline *service.Pipeline,
	det *detector.Detector,
	eng *alerts.Engine,
	cache *poolcache.Cache,
	checks map[string]HealthCheck,
) *Handler {
	if pipeline == nil || det == nil || eng == nil || cache == nil {
		panic("pipeline, detector, alerts and cache cannot be nil")
	}

	return &Handler{
		Log:      log,
		Pipeline: pipeline,
		Detector: det,
		Alerts:   eng,
		Cache:    cache,
		Checks:   checks,
	}
}
