package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/lifeline-edge/triage/internal/config"
	"github.com/lifeline-edge/triage/internal/content"
	"github.com/lifeline-edge/triage/internal/database"
	"github.com/lifeline-edge/triage/internal/migrations"
	"github.com/lifeline-edge/triage/internal/offline"
)

const embeddedHost = "content.internal"

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and fill the offline cache",
}

var cacheSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Precache the manifest and retire outdated caches",
	Args:  cobra.NoArgs,
	RunE:  runCacheSync,
}

var cacheStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache names and entry counts",
	Args:  cobra.NoArgs,
	RunE:  runCacheStatus,
}

// openLayer builds the offline layer from the service configuration. The
// returned closer releases the database and any Redis connection.
func openLayer(ctx context.Context, logger *slog.Logger) (*offline.Layer, io.Closer, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	cat, err := loadCatalog()
	if err != nil {
		return nil, nil, err
	}

	var closers multiCloser
	var store offline.Store
	switch cfg.CacheBackend {
	case config.BackendMemory:
		store = offline.NewMemoryStore()
	case config.BackendRedis:
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parsing redis url: %w", err)
		}
		rdb := redis.NewClient(opt)
		closers = append(closers, rdb)
		store = offline.NewRedisStore(rdb, "triage:")
	default:
		db, err := openDB(ctx, cfg.DBPath)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, db)
		s, err := offline.NewSQLStore(ctx, db)
		if err != nil {
			closers.Close()
			return nil, nil, fmt.Errorf("opening cache store: %w", err)
		}
		store = s
	}

	client := &http.Client{}
	baseURL := cfg.ContentURL
	if baseURL == "" {
		client.Transport = &offline.HandlerTransport{
			Host:    embeddedHost,
			Handler: content.NewHandler(logger, cat).Routes(),
		}
		baseURL = "http://" + embeddedHost
	}

	layer := offline.New(offline.Options{
		Store:    store,
		Client:   client,
		Manifest: content.Manifest(baseURL, cat),
		Versions: offline.Versions{Static: cfg.StaticCacheVersion, Dynamic: cfg.DynamicCacheVersion},
		Rules:    offline.DefaultRules(),
		Logger:   logger,
	})
	return layer, closers, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := database.Open(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func runCacheSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	layer, closer, err := openLayer(ctx, newLogger(cmd))
	if err != nil {
		return err
	}
	defer closer.Close()

	retired, err := layer.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	st, err := layer.Status(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		if retired == nil {
			retired = []string{}
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{"retired": retired, "status": st})
	}
	fmt.Fprintf(cmd.OutOrStdout(), "installed %s (%d entries)\n", st.Static, st.StaticEntries)
	if len(retired) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "retired %s\n", strings.Join(retired, ", "))
	}
	return nil
}

func runCacheStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	layer, closer, err := openLayer(ctx, newLogger(cmd))
	if err != nil {
		return err
	}
	defer closer.Close()

	st, err := layer.Status(ctx)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(cmd.OutOrStdout(), st)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "static   %s  %d entries\n", st.Static, st.StaticEntries)
	fmt.Fprintf(out, "dynamic  %s  %d entries\n", st.Dynamic, st.DynamicEntries)
	if !st.InstalledAt.IsZero() {
		fmt.Fprintf(out, "installed %s\n", st.InstalledAt.Format(time.RFC3339))
	}
	fmt.Fprintf(out, "caches   %s\n", strings.Join(st.Caches, ", "))
	return nil
}
