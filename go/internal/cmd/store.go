package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/focusroom/go/internal/dbconfig"
	"github.com/mcdev12/focusroom/go/internal/store"
	"github.com/mcdev12/focusroom/go/internal/store/memstore"
	"github.com/mcdev12/focusroom/go/internal/store/natsstore"
	"github.com/mcdev12/focusroom/go/internal/store/pgstore"
	"github.com/mcdev12/focusroom/go/internal/store/redisstore"
)

// leaseReaper is implemented by the networked backends, which need a
// process sweeping expired disconnect leases.
type leaseReaper interface {
	RunLeaseReaper(ctx context.Context)
}

// setupStore opens the configured store backend and starts its lease
// reaper where the backend has one.
func setupStore(ctx context.Context, cfg *Config, clock clockwork.Clock) (store.Store, error) {
	var (
		st  store.Store
		err error
	)

	switch cfg.Store.Backend {
	case "memory":
		st = memstore.New(clock)

	case "nats":
		natsCfg := natsstore.DefaultConfig()
		natsCfg.URL = cfg.Store.NATS.URL
		natsCfg.Bucket = cfg.Store.NATS.Bucket
		natsCfg.LeaseTTL = cfg.LeaseTTL()
		st, err = natsstore.New(ctx, natsCfg, clock)

	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		st, err = pgstore.New(ctx, dbCfg.DSN(), cfg.LeaseTTL())

	case "redis":
		redisCfg := redisstore.DefaultConfig()
		redisCfg.Addr = cfg.Store.Redis.Addr
		redisCfg.Password = cfg.Store.Redis.Password
		redisCfg.DB = cfg.Store.Redis.DB
		redisCfg.LeaseTTL = cfg.LeaseTTL()
		st, err = redisstore.New(ctx, redisCfg)

	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}

	if reaper, ok := st.(leaseReaper); ok {
		go reaper.RunLeaseReaper(ctx)
	}

	log.Info().Str("backend", cfg.Store.Backend).Msg("store ready")
	return st, nil
}
