package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/fincash/handler"
	"github.com/dmitrymomot/fincash/pkg/config"
	"github.com/dmitrymomot/fincash/pkg/httpserver"
	"github.com/dmitrymomot/fincash/pkg/logger"
	"github.com/dmitrymomot/fincash/pkg/metrics"
	"github.com/dmitrymomot/fincash/pkg/ratelimit"
	"github.com/dmitrymomot/fincash/pkg/requestid"
	"github.com/dmitrymomot/fincash/pkg/session"
	"github.com/dmitrymomot/fincash/svc/admin"
	"github.com/dmitrymomot/fincash/svc/entitlement"
	"github.com/dmitrymomot/fincash/svc/export"
	"github.com/dmitrymomot/fincash/svc/payment"
)

func main() {
	var appCfg appConfig
	config.MustLoad(&appCfg)

	log := logger.New(
		logger.WithEnvironment(appCfg.Env, appCfg.Name),
		logger.WithContextExtractors(requestid.LoggerExtractor()),
	)
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, appCfg, log); err != nil {
		log.LogAttrs(ctx, slog.LevelError, "service stopped with error", logger.Error(err))
		os.Exit(1)
	}
	log.LogAttrs(ctx, slog.LevelInfo, "service stopped")
}

func run(ctx context.Context, appCfg appConfig, log *slog.Logger) error {
	var (
		payCfg     payment.Config
		httpCfg    httpserver.Config
		sessionCfg session.Config
	)
	for _, load := range []func() error{
		func() error { return config.Load(&payCfg) },
		func() error { return config.Load(&httpCfg) },
		func() error { return config.Load(&sessionCfg) },
	} {
		if err := load(); err != nil {
			return err
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	st, err := openStorage(ctx, appCfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	catalog, err := loadCatalog(appCfg.PlansFile)
	if err != nil {
		return err
	}

	trackerOpts := []entitlement.Option{
		entitlement.WithLogger(log),
		entitlement.WithMetrics(m),
	}
	if st.cache != nil {
		trackerOpts = append(trackerOpts, entitlement.WithCache(st.cache))
	}
	tracker := entitlement.NewTracker(catalog, st.users, trackerOpts...)

	provider, err := newProvider(payCfg.Provider)
	if err != nil {
		return err
	}

	publisher, err := newPublisher(log)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			log.LogAttrs(context.Background(), slog.LevelError, "failed to close event publisher", logger.Error(err))
		}
	}()

	sender, err := newSender(log)
	if err != nil {
		return err
	}

	payments := payment.NewService(tracker, st.intents, provider,
		payment.WithConfig(payCfg),
		payment.WithLogger(log),
		payment.WithMetrics(m),
		payment.WithNotifier(payment.NewEventNotifier(publisher, sender, log)),
	)
	gate := export.NewGate(tracker, st.tickets,
		export.WithLogger(log),
		export.WithPublisher(publisher),
	)
	reporting := admin.NewReporting(catalog, st.users, st.tickets, admin.WithLogger(log))
	sweeper := payment.NewSweeper(st.intents, payCfg.IntentTTL,
		payment.WithSweeperLogger(log),
		payment.WithSweeperMetrics(m),
	)

	sessions, err := session.NewManager(sessionCfg)
	if err != nil {
		return err
	}
	limiter, err := newLimiter(st.limits)
	if err != nil {
		return err
	}

	router := handler.Router(handler.Deps{
		Tracker:         tracker,
		Payments:        payments,
		Exports:         gate,
		Reporting:       reporting,
		Sessions:        sessions,
		Logger:          log,
		Metrics:         metrics.Handler(reg),
		ReadinessChecks: st.checks,
		RequestTimeout:  appCfg.RequestTimeout,
		Limiter:         limiter,
	})

	log.LogAttrs(ctx, slog.LevelInfo, "starting service",
		slog.String("storage", appCfg.StorageDriver),
		logger.Provider(provider.Name()),
		slog.Int("plans", len(catalog.List())),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.New(httpCfg, log).Run(ctx, router)
	})
	g.Go(func() error {
		return sweeper.Run(ctx, payCfg.SweepSchedule)
	})
	if ms, ok := st.limits.(*ratelimit.MemoryStore); ok && limiter != nil {
		g.Go(func() error { return ms.Run(ctx, time.Minute) })
	}
	return g.Wait()
}
