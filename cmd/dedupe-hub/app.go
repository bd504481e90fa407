package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/opensupplyhub/dedupe-hub/internal/config"
	"github.com/opensupplyhub/dedupe-hub/internal/debug"
	"github.com/opensupplyhub/dedupe-hub/internal/gazetteer"
	"github.com/opensupplyhub/dedupe-hub/internal/logging"
	"github.com/opensupplyhub/dedupe-hub/internal/match"
	"github.com/opensupplyhub/dedupe-hub/internal/queue"
	"github.com/opensupplyhub/dedupe-hub/internal/store"
)

// app holds the services shared by every command
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    store.Store
	postgres *store.Postgres
	settings *gazetteer.Settings
	cache    *gazetteer.Cache
	matcher  *match.CumulativeMatcher
	queue    *queue.Queue
}

// globalFlags are set on the root command
type globalFlags struct {
	memory   bool
	fixtures string
	debug    bool
}

func newApp(ctx context.Context, flags globalFlags) (*app, error) {
	if _, err := config.LoadEnv(); err != nil {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flags.debug {
		cfg.Debug = true
	}

	log, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	debug.SetLogger(log)

	a := &app{cfg: cfg, log: log}

	if flags.memory || flags.fixtures != "" {
		mem := store.NewMemory()
		if flags.fixtures != "" {
			if err := loadFixtures(mem, flags.fixtures); err != nil {
				return nil, err
			}
		}
		a.store = mem
		log.Warn().Msg("using in-memory store, nothing is persisted")
	} else {
		if err := cfg.RequireDatabase(); err != nil {
			return nil, err
		}
		pg, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConnections)
		if err != nil {
			return nil, err
		}
		a.store = pg
		a.postgres = pg
	}

	if cfg.SettingsPath != "" {
		a.settings, err = gazetteer.OpenSettings(cfg.SettingsPath)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	base := gazetteer.DefaultModel()
	if len(cfg.ModelWeights) > 0 {
		base, err = gazetteer.ModelFromMap(cfg.ModelWeights)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.cache = gazetteer.NewCache(a.store, gazetteer.CacheOptions{
		Gazetteer: gazetteer.Options{MaxBlockSize: cfg.MaxBlockSize, Workers: cfg.MatchWorkers},
		BaseModel: base,
		Settings:  a.settings,
	}, log)

	thresholds := match.Thresholds{Gazetteer: cfg.GazetteerThreshold, Automatic: cfg.AutomaticThreshold}
	a.matcher = match.NewDefault(a.store, a.cache, thresholds, log, cfg.Debug)

	if cfg.QueueEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.queue = queue.New(rdb, queue.Options{
			Stream:   cfg.QueueStream,
			Group:    cfg.QueueGroup,
			Consumer: consumerName(),
		}, log)
	}

	return a, nil
}

func (a *app) close() {
	if a.queue != nil {
		_ = a.queue.Close()
	}
	if a.settings != nil {
		_ = a.settings.Close()
	}
	if a.postgres != nil {
		_ = a.postgres.Close()
	}
}

func loadFixtures(mem *store.Memory, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open fixtures: %w", err)
	}
	defer f.Close()

	if err := mem.LoadFixtures(f); err != nil {
		return fmt.Errorf("failed to load fixtures %s: %w", path, err)
	}
	return nil
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "dedupe-hub"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
