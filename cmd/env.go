package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/auctionintel/leadfinder/internal/cache"
	"github.com/auctionintel/leadfinder/internal/orchestrator"
	"github.com/auctionintel/leadfinder/internal/pipeline"
	"github.com/auctionintel/leadfinder/internal/research"
	"github.com/auctionintel/leadfinder/pkg/anthropic"
)

// env holds the wired application components shared by run and serve.
type env struct {
	Store        cache.Store
	Orchestrator *orchestrator.Orchestrator
}

func (e *env) Close() {
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("cache close failed", zap.Error(err))
	}
}

// openStore opens and migrates the configured cache backend.
func openStore(ctx context.Context) (cache.Store, error) {
	var (
		store cache.Store
		err   error
	)
	switch cfg.Cache.Driver {
	case "sqlite":
		store, err = cache.NewSQLite(cfg.Cache.Path)
	case "postgres":
		store, err = cache.NewPostgres(ctx, cfg.Cache.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unknown cache driver %q", cfg.Cache.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open cache store")
	}

	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, eris.Wrap(err, "migrate cache store")
	}
	return store, nil
}

// initStore is openStore plus the startup flush of uncertain entries left
// by a prior run.
func initStore(ctx context.Context) (cache.Store, error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	purged, err := store.PurgeUncertain(ctx)
	if err != nil {
		zap.L().Warn("uncertain purge failed", zap.Error(err))
	} else if purged > 0 {
		zap.L().Info("purged uncertain cache entries", zap.Int("count", purged))
	}

	return store, nil
}

// initEnv wires the full stack: store, research client, pipeline,
// orchestrator. sink and biller may be nil.
func initEnv(ctx context.Context, sink orchestrator.ProgressSink, biller orchestrator.Biller) (*env, error) {
	store, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	caller := research.NewAnthropicCaller(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model)
	backoff := research.NewSharedBackoff(0, 0)
	client := research.NewClient(caller, backoff, research.Options{
		CallTimeout:       time.Duration(cfg.Research.CallTimeoutSecs) * time.Second,
		TransientRetries:  cfg.Research.TransientRetries,
		RateLimitCooldown: time.Duration(cfg.Research.RateLimitCooldownSeconds) * time.Second,
		MaxRetries:        cfg.Research.MaxRetries,
		RequestsPerSecond: cfg.Research.RequestsPerSecond,
	})

	p := pipeline.New(store, client, pipeline.Config{
		QuickNegativeConfidence: cfg.Research.QuickNegativeConfidence,
		QuickPositiveConfidence: cfg.Research.QuickPositiveConfidence,
		MaxFollowups:            cfg.Research.MaxFollowups,
	})

	orch := orchestrator.New(p, orchestrator.Config{
		WorkerCount:          cfg.Orchestrator.WorkerCount,
		MaxIdentifiersPerJob: cfg.Orchestrator.MaxIdentifiersPerJob,
	}, sink, biller)

	return &env{Store: store, Orchestrator: orch}, nil
}
