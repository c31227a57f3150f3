package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"whalewatch/internal/alerts"
	httpapi "whalewatch/internal/api/http"
	"whalewatch/internal/api/http/handlers"
	"whalewatch/internal/api/http/mw"
	"whalewatch/internal/config"
	dedupers "whalewatch/internal/dedupe/redis"
	"whalewatch/internal/detector"
	"whalewatch/internal/dispatch"
	"whalewatch/internal/impact"
	"whalewatch/internal/ingest"
	"whalewatch/internal/metrics"
	"whalewatch/internal/poolcache"
	natsps "whalewatch/internal/pubsub/nats"
	"whalewatch/internal/security"
	"whalewatch/internal/service"
	"whalewatch/internal/stores/clickhouse"
	"whalewatch/internal/stores/kv"
	"whalewatch/internal/stores/redis"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

type Container struct {
	app *App

	// infra
	redis *redis.Client
	ch    *clickhouse.Conn
	nc    *natsps.Client

	// servers
	httpSrv *httpapi.Server

	// pipeline pieces that need an ordered shutdown
	dispatcher *dispatch.Dispatcher
	chWriter   *clickhouse.Writer
	alertsEng  *alerts.Engine

	// metrics
	profiler *pyroscope.Profiler
}

func (c *Container) Start(ctx context.Context) error {
	return c.app.Start(ctx)
}

func (c *Container) Stop(ctx context.Context) error {
	if err := c.app.Shutdown(ctx); err != nil {
		return fmt.Errorf("app shutdown is failed, error=%w", err)
	}
	return nil
}

// Build constructs the whole container. The returned cleanup closes every
// dependency in reverse dependency order.
func Build(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	profiler, err := metrics.InitPProf(&cfg.Metrics.Pyroscope, cfg.App.InstanceID)
	if err != nil {
		return nil, nil, fmt.Errorf("pyroscope initialize failed: %w", err)
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerAddr, cfg.Metrics.Pyroscope.AppName)
	}

	// Redis client
	rdb, err := redis.New(ctx, &cfg.Stores.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis client: %w", err)
	}
	lg.Infof("Successfully initialize redis client, addr=%s", cfg.Stores.Redis.Addr)

	// Durable KV on top of the shared client
	store, err := kv.NewRedis(rdb, cfg.Stores.Redis.Prefix)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize kv store: %w", err)
	}

	// Dedupe
	deduper, err := dedupers.NewRedisDeduper(lg, &cfg.Dedupe, rdb)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize redis deduper: %w", err)
	}
	lg.Infof("Successfully initialize Deduper redis_client by prefix %s", cfg.Dedupe.Prefix)

	// ClickHouse client + batch writer
	ch, err := clickhouse.New(ctx, &cfg.Stores.ClickHouse)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize clickhouse client: %w", err)
	}
	url := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
	lg.Infof("Successfully initialize clickhouse client, url=%s", url[0])

	chWriter := clickhouse.NewWriter(lg, ch.Native, cfg.Stores.ClickHouse)
	lg.Info("Successfully initialize clickhouse writer")

	// NATS: raw event source in, broadcast fan-out
	natsCl, err := natsps.New(lg, &cfg.PubSub.NATS)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize nats client: %w", err)
	}
	lg.Infof("Successfully initialize nats client, url=%s", cfg.PubSub.NATS.URL)

	// Pipeline stages
	cache := poolcache.New(lg)
	if err = cache.LoadFrom(ctx, store); err != nil {
		lg.Errorf("Pool cache warm start failed, starting cold: %v", err)
	} else if n := cache.Len(); n > 0 {
		lg.Infof("Successfully warm started pool cache, pools=%d", n)
	}

	det, err := detector.New(lg, &cfg.Detector, deduper, store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize detector: %w", err)
	}
	lg.Infof("Successfully initialize Detector, threshold=%.2f USD", cfg.Detector.WhaleThresholdUSD)

	analyzer := impact.NewAnalyzer(lg)

	alertsEng, err := alerts.NewEngine(lg, &cfg.Alerts, store)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize alert engine: %w", err)
	}
	if err = alertsEng.Rehydrate(ctx); err != nil {
		lg.Errorf("Alert rehydration failed, starting with an empty registry: %v", err)
	}

	dispatcher, err := dispatch.New(lg, &cfg.Dispatch, natsCl, cfg.PubSub.NATS.BroadcastPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize dispatcher: %w", err)
	}

	pipeline, err := service.NewPipeline(lg, &cfg.Impact, service.Deps{
		Cache:      cache,
		Detector:   det,
		Analyzer:   analyzer,
		Alerts:     alertsEng,
		Dispatcher: dispatcher,
		Store:      store,
		Sink:       chWriter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}
	lg.Info("Successfully initialize Pipeline")

	source, err := ingest.NewNATSSource(lg, natsCl, &cfg.Ingest)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize ingest source: %w", err)
	}

	// Security: verifier when JWT is on, trusted-header identity otherwise so
	// the alert boundary stays usable
	var jwtMW *mw.JWTMiddleware
	var identityMW *mw.HeaderIdentityMiddleware
	var verifier *security.RS256Verifier
	if cfg.Security.JWT.Enabled {
		verifier, err = security.NewRS256Verifier(&cfg.Security.JWT)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize JWT verifier: %w", err)
		}
		jwtMW = mw.NewJWTMiddleware(verifier)
		lg.Info("Successfully initialize JWT-Verifier")
	} else {
		identityMW = mw.NewHeaderIdentity(cfg.Security.TrustedUserHeader)
		lg.Infof("JWT disabled, user identity from trusted header %s", cfg.Security.TrustedUserHeader)
	}

	var rateLimitMW *mw.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimitMW = mw.NewRateLimit(&cfg.RateLimit, rdb, verifier)
		lg.Info("Successfully initialize rate limiter")
	}

	var corsMW *mw.CORSMiddleware
	if cfg.API.HTTP.CORS.Enabled {
		corsMW = mw.NewCORSConfig(&cfg.API.HTTP.CORS)
	}

	// HTTP server
	h := handlers.NewHandler(lg, pipeline, det, alertsEng, cache, map[string]handlers.HealthCheck{
		"redis": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		"clickhouse": chWriter.Health,
		"nats":       natsCl.Health,
	})

	router := httpapi.BuildRouter(
		h,
		mw.NewLogging(lg),
		mw.NewGzip(0, lg),
		rateLimitMW,
		jwtMW,
		identityMW,
		corsMW,
	)

	httpSrv := httpapi.NewServer(lg, &cfg.API.HTTP, router)
	lg.Info("Successfully initialize HTTP server")

	c := &Container{
		app:        New(lg, httpSrv, source, pipeline),
		redis:      rdb,
		ch:         ch,
		nc:         natsCl,
		httpSrv:    httpSrv,
		dispatcher: dispatcher,
		chWriter:   chWriter,
		alertsEng:  alertsEng,
		profiler:   profiler,
	}

	cleanupF := func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if c.profiler != nil {
			if err := c.profiler.Stop(); err != nil {
				lg.Errorf("Failed to stop profiler: %v", err)
			}
		}

		// drain outbound frames before closing the transports underneath
		if err := c.dispatcher.Close(ctxClean); err != nil {
			lg.Errorf("Failed to close by cleanupF dispatcher: %v", err)
		}

		c.alertsEng.Close()

		// save pool states for the next start while redis is still up
		if err := cache.SaveTo(ctxClean, store); err != nil {
			lg.Errorf("Failed to save by cleanupF pool cache snapshot: %v", err)
		}

		if err := c.chWriter.Close(ctxClean); err != nil {
			lg.Errorf("Failed to close by cleanupF clickhouse writer: %v", err)
		}

		if err := c.ch.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF clickhouse client: %v", err)
		}

		if err := c.nc.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF nats client: %v", err)
		}

		if err := c.redis.Close(); err != nil {
			lg.Errorf("Failed to close by cleanupF redis client: %v", err)
		}

		lg.Info("Successfully cleaned up dependency")
	}

	lg.Info("Successfully initialize Wiring")
	return c, cleanupF, nil
}
