package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/lifeline-edge/triage/internal/config"
	"github.com/lifeline-edge/triage/internal/content"
	"github.com/lifeline-edge/triage/internal/database"
	"github.com/lifeline-edge/triage/internal/handler/health"
	"github.com/lifeline-edge/triage/internal/hazard"
	"github.com/lifeline-edge/triage/internal/logging"
	"github.com/lifeline-edge/triage/internal/migrations"
	"github.com/lifeline-edge/triage/internal/offline"
	"github.com/lifeline-edge/triage/internal/planner"
	"github.com/lifeline-edge/triage/internal/prefs"
	"github.com/lifeline-edge/triage/internal/remote"
	"github.com/lifeline-edge/triage/internal/server"
	"github.com/lifeline-edge/triage/internal/stream"
)

// embeddedHost is the in-process origin used when CONTENT_URL is empty.
const embeddedHost = "content.internal"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, logCloser := logging.New(stdout, cfg.LogLevel, cfg.LogFile)
	defer logCloser.Close()

	catalog, err := hazard.Default()
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	// --- libSQL ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	checks := map[string]health.Checker{
		"libsql": dbChecker{db},
	}

	// --- Offline store ---
	var store offline.Store
	switch cfg.CacheBackend {
	case config.BackendMemory:
		store = offline.NewMemoryStore()
	case config.BackendRedis:
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")
		store = offline.NewRedisStore(rdb, "triage:")
		checks["redis"] = redisChecker{rdb}
	default:
		s, err := offline.NewSQLStore(ctx, db)
		if err != nil {
			return fmt.Errorf("opening cache store: %w", err)
		}
		store = s
	}
	logger.Info("offline cache ready", "backend", cfg.CacheBackend)

	// --- Content origin ---
	var (
		origin  http.Handler
		client  = &http.Client{}
		baseURL = cfg.ContentURL
	)
	if baseURL == "" {
		origin = content.NewHandler(logger, catalog).Routes()
		client.Transport = &offline.HandlerTransport{Host: embeddedHost, Handler: origin}
		baseURL = "http://" + embeddedHost
		logger.Info("serving embedded content")
	}

	layer := offline.New(offline.Options{
		Store:    store,
		Client:   client,
		Manifest: content.Manifest(baseURL, catalog),
		Versions: offline.Versions{Static: cfg.StaticCacheVersion, Dynamic: cfg.DynamicCacheVersion},
		Rules:    offline.DefaultRules(),
		Logger:   logger,
	})
	if cfg.SyncOnStart {
		retired, err := layer.Sync(ctx)
		if err != nil {
			logger.Warn("initial cache sync failed", "error", err)
		} else {
			logger.Info("cache synced", "static", layer.Versions().StaticName(), "retired", retired)
		}
	}

	ct := remote.NewContent(layer, baseURL, cfg.RemoteTimeout)

	// --- Remote collaborators ---
	deps := server.Deps{
		Catalog:      catalog,
		Offline:      layer,
		Content:      ct,
		Origin:       origin,
		Checks:       checks,
		SessionTTL:   cfg.SessionTTL,
		SensorWindow: cfg.SensorWindow,
		SPADir:       cfg.SPADir,
	}

	var (
		refiner planner.Refiner
		sc      *stream.Client
	)
	if cfg.RemoteURL != "" {
		deps.Classifier = remote.NewClassifier(layer, cfg.RemoteURL, cfg.RemoteTimeout)
		refiner = remote.NewRefiner(layer, cfg.RemoteURL, cfg.RemoteTimeout)
		sc = stream.NewClient(stream.Options{
			HTTP:      client,
			Fetcher:   layer,
			StreamURL: cfg.RemoteURL + "/answer-stream",
			AnswerURL: cfg.RemoteURL + "/answer",
			Logger:    logger,
		})
		checks["remote"] = health.Optional(reachable(client, cfg.RemoteURL))
		logger.Info("remote collaborator configured", "url", cfg.RemoteURL)
	}
	if cfg.WarningsURL != "" {
		deps.Warnings = remote.NewWarnings(layer, cfg.WarningsURL, cfg.RemoteTimeout)
	}
	deps.Planner = planner.New(catalog, refiner, logger)
	deps.Answerer = stream.NewAnswerer(sc, ct, catalog.DefaultLocale, logger)

	ps, err := prefs.NewStore(ctx, db)
	if err != nil {
		return fmt.Errorf("opening prefs: %w", err)
	}
	deps.Prefs = ps

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, deps)

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }

// reachable reports whether the host behind url answers at all.
func reachable(client *http.Client, url string) health.Checker {
	return health.CheckerFunc(func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return nil
	})
}
