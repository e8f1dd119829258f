package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"rollcall/internal/aggregate"
	aggregateMetrics "rollcall/internal/aggregate/metrics"
	"rollcall/internal/anomaly"
	anomalyMetrics "rollcall/internal/anomaly/metrics"
	"rollcall/internal/audit"
	"rollcall/internal/domain"
	"rollcall/internal/finalize"
	finalizeMetrics "rollcall/internal/finalize/metrics"
	"rollcall/internal/ingest"
	"rollcall/internal/ingest/consumer"
	ingestMetrics "rollcall/internal/ingest/metrics"
	"rollcall/internal/platform/config"
	"rollcall/internal/platform/httpserver"
	"rollcall/internal/platform/logger"
	"rollcall/internal/platform/metrics"
	platformpg "rollcall/internal/platform/postgres"
	platformredis "rollcall/internal/platform/redis"
	"rollcall/internal/session"
	sessionMetrics "rollcall/internal/session/metrics"
	httptransport "rollcall/internal/transport/http"
	"rollcall/internal/whitelist"
	"rollcall/pkg/platform/events"
	"rollcall/pkg/platform/tx"
)

// main wires dependencies and runs the server group. Business logic
// lives in the internal services; everything here is assembly.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	db, err := platformpg.Open(cfg.Postgres)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
	}

	rdb, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		log.Warn("no redis URL configured, using in-memory idempotency reservations")
	}

	// Stores: postgres when configured, in-memory otherwise.
	var (
		sessionStore   session.Store
		evidenceStore  ingest.Store
		whitelistStore whitelist.Store
		aggregateStore aggregate.Store
		finalizeStore  finalize.Store
		anomalyStore   anomaly.Store
		auditStore     audit.Store
	)
	var txRunner tx.Runner = tx.NopRunner{}
	if db != nil {
		txRunner = tx.NewSQLRunner(db)
		sessionStore = session.NewPostgres(db)
		evidenceStore = ingest.NewPostgres(db)
		whitelistStore = whitelist.NewPostgres(db)
		aggregateStore = aggregate.NewPostgres(db)
		finalizeStore = finalize.NewPostgres(db)
		anomalyStore = anomaly.NewPostgres(db)
		auditStore = audit.NewPostgres(db)
	} else {
		sessionStore = session.NewInMemoryStore()
		evidenceStore = ingest.NewInMemoryStore()
		whitelistStore = whitelist.NewInMemoryStore()
		aggregateStore = aggregate.NewInMemoryStore()
		finalizeStore = finalize.NewInMemoryStore()
		anomalyStore = anomaly.NewInMemoryStore()
		auditStore = audit.NewMemoryStore()
	}

	var reserver ingest.Reserver
	if rdb != nil {
		reserver = ingest.NewRedisReserver(rdb.Client)
		whitelistStore = whitelist.NewCachedStore(whitelistStore, rdb.Client, log)
	} else {
		reserver = ingest.NewMemoryReserver()
	}

	appMetrics := metrics.New()

	// Event publishing is optional; without brokers the engine runs
	// standalone and records stay queryable over HTTP.
	var publisher *events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		if err := consumer.EnsureTopics(context.Background(), cfg.Kafka); err != nil {
			log.Error("kafka topic bootstrap failed", "error", err)
			os.Exit(1)
		}
		publisher, err = events.NewPublisher(cfg.Kafka.Brokers, events.Topics{
			Finalized: cfg.Kafka.FinalizedTopic,
			Anomalies: cfg.Kafka.AnomalyTopic,
		}, events.WithLogger(log))
		if err != nil {
			log.Error("event publisher setup failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
	}

	// Audit pipeline: domain code emits, the worker persists.
	auditInbox := make(chan audit.Event, 1024)
	auditPublisher := audit.NewPublisher(auditInbox, audit.WithPublisherLogger(log))
	auditWorker := audit.NewWorker(auditInbox, auditStore, audit.WithWorkerLogger(log))

	aggregateSvc := aggregate.New(aggregateStore, evidenceStore, sessionStore, whitelistStore,
		aggregate.Config{
			PeerOverlapThreshold: cfg.Engine.PeerOverlapThreshold,
			MaxAccuracyMeters:    cfg.Engine.MaxAccuracyMeters,
		},
		aggregate.WithLogger(log),
		aggregate.WithMetrics(aggregateMetrics.New()),
		aggregate.WithTxRunner(txRunner),
	)

	finalizeOpts := []finalize.Option{
		finalize.WithLogger(log),
		finalize.WithMetrics(finalizeMetrics.New()),
		finalize.WithAuditRecorder(auditPublisher),
	}
	if publisher != nil {
		finalizeOpts = append(finalizeOpts, finalize.WithEventSink(publisher))
	}
	finalizeSvc := finalize.NewService(finalizeStore, sessionStore, aggregateSvc,
		finalize.Config{
			Thresholds: domain.Thresholds{
				Present: cfg.Engine.PresentThreshold,
				Partial: cfg.Engine.PartialThreshold,
			},
			ZeroRoundsPresent: cfg.Engine.ZeroRoundsPresent,
		},
		finalizeOpts...,
	)

	sessionSvc := session.New(sessionStore,
		session.WithLogger(log),
		session.WithMetrics(sessionMetrics.New()),
		session.WithAggregator(aggregateSvc),
		session.WithFinalizer(finalizeSvc),
		session.WithDefaultRoundCount(cfg.Engine.DefaultRoundCount),
		session.WithMissedThreshold(cfg.Engine.MissedThreshold),
		session.WithTxRunner(txRunner),
	)

	whitelistSvc := whitelist.New(whitelistStore,
		whitelist.WithLogger(log),
		whitelist.WithReprocessor(aggregateSvc),
	)

	detector := anomaly.NewDetector(evidenceStore, whitelistStore, anomaly.Config{
		SpeedCeilingKMH:    cfg.Engine.SpeedCeilingKMH,
		TeleportCeilingKMH: cfg.Engine.TeleportCeilingKMH,
	})
	anomalyOpts := []anomaly.WorkerOption{
		anomaly.WithWorkerLogger(log),
		anomaly.WithWorkerMetrics(anomalyMetrics.New()),
	}
	if publisher != nil {
		anomalyOpts = append(anomalyOpts, anomaly.WithEventSink(publisher))
	}
	anomalyWorker := anomaly.NewWorker(detector, anomalyStore, 256, anomalyOpts...)
	anomalySvc := anomaly.NewService(anomalyStore)

	ingMetrics := ingestMetrics.New()
	ingestSvc := ingest.NewService(evidenceStore, reserver, sessionStore, whitelistStore,
		ingest.WithLogger(log),
		ingest.WithMetrics(ingMetrics),
		ingest.WithAggregator(aggregateSvc),
		ingest.WithAnomalyObserver(anomalyWorker),
		ingest.WithAuditRecorder(auditPublisher),
	)

	handler := httptransport.NewHandler(
		sessionSvc, ingestSvc, whitelistSvc, finalizeSvc, aggregateSvc, anomalySvc,
		httptransport.WithLogger(log),
		httptransport.WithMetrics(appMetrics),
	)
	srv := httpserver.New(cfg.Server.Addr, httptransport.NewRouter(handler))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting rollcall server", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		auditWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		anomalyWorker.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return sessionSvc.RunSweeper(gctx, cfg.Engine.SweepInterval)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		evidenceConsumer, err := consumer.New(cfg.Kafka, ingestSvc,
			consumer.WithLogger(log),
			consumer.WithMetrics(ingMetrics),
		)
		if err != nil {
			log.Error("kafka consumer setup failed", "error", err)
			os.Exit(1)
		}
		g.Go(func() error {
			return evidenceConsumer.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
