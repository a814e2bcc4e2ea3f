package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"v1auth/pkg/backends"
	"v1auth/pkg/config"
	"v1auth/pkg/db"
	"v1auth/pkg/keystone"
	"v1auth/pkg/logger"
)

type purger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// stack is the set of collaborators handed to the v1auth service.
type stack struct {
	identity backends.Identity
	catalog  backends.Catalog
	tokens   backends.TokenStore
	purger   purger
	closers  []func()
}

func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func buildStack(ctx context.Context, cfg config.Config, log logger.Sugared) (*stack, error) {
	st := &stack{}

	var pool *pgxpool.Pool
	if cfg.IdentityBackend == "postgres" || cfg.TokenBackend == "postgres" {
		if cfg.DatabaseURL == "" {
			return nil, errors.New("postgres backend selected but DATABASE_URL is empty")
		}
		var err error
		if pool, err = db.Connect(ctx, cfg.DatabaseURL, log); err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		if cfg.MigrateOnStart {
			if err := backends.EnsureSchema(ctx, pool); err != nil {
				st.Close()
				return nil, fmt.Errorf("schema: %w", err)
			}
		}
	}

	var mem *backends.Memory
	switch cfg.IdentityBackend {
	case "memory":
		m, err := backends.NewMemoryFromConfig(cfg.SeedFile, cfg.SeedJSON, cfg.Env != "prod", log)
		if err != nil {
			st.Close()
			return nil, err
		}
		mem = m
		st.identity, st.catalog = m, m
	case "postgres":
		if cfg.MigrateOnStart {
			if err := seedPostgres(ctx, pool, cfg, log); err != nil {
				log.Warnw("seed", "err", err)
			}
		}
		pg := backends.NewPostgres(pool, log)
		st.identity, st.catalog = pg, pg
	case "keystone":
		ks, err := keystone.New(ctx, cfg.Keystone, log)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.identity, st.catalog = ks, ks
	default:
		st.Close()
		return nil, fmt.Errorf("unknown identity backend %q", cfg.IdentityBackend)
	}

	switch cfg.TokenBackend {
	case "memory":
		if mem == nil {
			m, err := backends.NewMemory(backends.Seed{}, log)
			if err != nil {
				st.Close()
				return nil, err
			}
			mem = m
		}
		st.tokens, st.purger = mem, mem
	case "postgres":
		pg := backends.NewPostgres(pool, log)
		st.tokens, st.purger = pg, pg
	case "redis":
		if cfg.RedisURL == "" {
			st.Close()
			return nil, errors.New("redis token backend selected but REDIS_URL is empty")
		}
		rdb, err := db.Redis(ctx, cfg.RedisURL, log)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, func() { _ = rdb.Close() })
		st.tokens = backends.NewRedisTokens(rdb, cfg.RedisPrefix)
	default:
		st.Close()
		return nil, fmt.Errorf("unknown token backend %q", cfg.TokenBackend)
	}

	log.Infow("backends ready", "identity", cfg.IdentityBackend, "tokens", cfg.TokenBackend)
	return st, nil
}

func seedPostgres(ctx context.Context, pool *pgxpool.Pool, cfg config.Config, log logger.Sugared) error {
	seed, ok, err := backends.LoadSeed(cfg.SeedFile, cfg.SeedJSON)
	if err != nil || !ok {
		return err
	}
	if err := backends.ApplySeed(ctx, pool, seed); err != nil {
		return err
	}
	log.Infow("seed loaded", "users", len(seed.Users), "tenants", len(seed.Tenants), "endpoints", len(seed.Catalog))
	return nil
}

func migrate(ctx context.Context, cfg config.Config, log logger.Sugared) error {
	if cfg.DatabaseURL == "" {
		return errors.New("schema: DATABASE_URL is empty")
	}
	pool, err := db.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := backends.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return seedPostgres(ctx, pool, cfg, log)
}
