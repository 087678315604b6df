package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/fincash/migrations"
	"github.com/dmitrymomot/fincash/pkg/config"
	"github.com/dmitrymomot/fincash/pkg/email"
	"github.com/dmitrymomot/fincash/pkg/events"
	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/pkg/pg"
	"github.com/dmitrymomot/fincash/pkg/ratelimit"
	"github.com/dmitrymomot/fincash/pkg/redis"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/export"
	"github.com/dmitrymomot/fincash/svc/payment"
	"github.com/dmitrymomot/fincash/svc/plans"
)

const (
	storageMemory   = "memory"
	storagePostgres = "postgres"
)

type appConfig struct {
	Name           string        `env:"APP_NAME" envDefault:"fincash"`
	Env            string        `env:"APP_ENV" envDefault:"development"`
	StorageDriver  string        `env:"STORAGE_DRIVER" envDefault:"memory"`
	PlansFile      string        `env:"PLANS_FILE"`
	CacheTTL       time.Duration `env:"SUBSCRIPTION_CACHE_TTL" envDefault:"5m"`
	RequestTimeout time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"30s"`
}

// storage bundles the stores of one driver with the readiness checks and
// cleanup that come with it.
type storage struct {
	users   entitlement.Store
	intents payment.Store
	tickets export.TicketStore
	cache   entitlement.Cache
	limits  ratelimit.Store
	checks  []func(context.Context) error
	closers []func()
}

func (s *storage) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStorage(ctx context.Context, appCfg appConfig, log *slog.Logger) (*storage, error) {
	st := &storage{limits: ratelimit.NewMemoryStore()}

	switch appCfg.StorageDriver {
	case storageMemory:
		st.users = entitlement.NewMemoryStore()
		st.intents = payment.NewMemoryStore()
		st.tickets = export.NewMemoryStore()
		log.LogAttrs(ctx, slog.LevelWarn, "using in-memory storage, data is lost on restart")
	case storagePostgres:
		var pgCfg pg.Config
		if err := config.Load(&pgCfg); err != nil {
			return nil, err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		st.closers = append(st.closers, pool.Close)
		if err := pg.Migrate(ctx, pool, migrations.FS, pgCfg, log); err != nil {
			st.Close()
			return nil, err
		}
		st.users = entitlement.NewPostgresStore(pool)
		st.intents = payment.NewPostgresStore(pool)
		st.tickets = export.NewPostgresStore(pool)
		st.checks = append(st.checks, pg.Healthcheck(pool))
	default:
		return nil, fmt.Errorf("unknown storage driver %q", appCfg.StorageDriver)
	}

	var redisCfg redis.Config
	if err := config.Load(&redisCfg); err != nil {
		st.Close()
		return nil, err
	}
	if redisCfg.ConnectionURL != "" {
		client, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			st.Close()
			return nil, err
		}
		st.closers = append(st.closers, func() {
			if err := client.Close(); err != nil {
				log.LogAttrs(context.Background(), slog.LevelError, "failed to close redis client", logger.Error(err))
			}
		})
		st.cache = entitlement.NewRedisCache(client, appCfg.CacheTTL)
		st.limits = ratelimit.NewRedisStore(client, "fincash:ratelimit:")
		st.checks = append(st.checks, redis.Healthcheck(client))
	}

	return st, nil
}

func loadCatalog(path string) (*plans.Catalog, error) {
	if path == "" {
		return plans.NewCatalog(plans.Default()...)
	}
	list, err := plans.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return plans.NewCatalog(list...)
}

func newProvider(name string) (payment.Provider, error) {
	switch name {
	case "link":
		var cfg payment.LinkConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return payment.NewLinkProvider(cfg)
	case "paddle":
		var cfg payment.PaddleConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return payment.NewPaddleProvider(cfg)
	case "stripe":
		var cfg payment.StripeConfig
		if err := config.Load(&cfg); err != nil {
			return nil, err
		}
		return payment.NewStripeProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown payment provider %q", name)
	}
}

func newPublisher(log *slog.Logger) (events.Publisher, error) {
	var cfg events.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	p, err := events.NewKafkaPublisher(cfg, log)
	if errors.Is(err, events.ErrNoBrokers) {
		return events.NewLogPublisher(log), nil
	}
	return p, err
}

func newSender(log *slog.Logger) (email.Sender, error) {
	var cfg email.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return email.NewLogSender(log), nil
	}
	return email.NewPostmarkSender(cfg)
}

func newLimiter(store ratelimit.Store) (*ratelimit.Limiter, error) {
	var cfg ratelimit.Config
	if err := config.Load(&cfg); err != nil {
		return nil, err
	}
	if cfg.Requests <= 0 {
		return nil, nil
	}
	return ratelimit.New(store, cfg.Requests, cfg.Window)
}
