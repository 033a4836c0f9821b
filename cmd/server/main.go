// Command server runs the compliance policy engine: the admin API for
// rulesets, overlays, and exceptions, and the resolve endpoint for the
// document-validation executor.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	analyticshandler "rulegate/internal/analytics/handler"
	analyticsservice "rulegate/internal/analytics/service"
	analyticsstore "rulegate/internal/analytics/store"
	"rulegate/internal/audit"
	audithandler "rulegate/internal/audit/handler"
	auditkafka "rulegate/internal/audit/kafka"
	auditmem "rulegate/internal/audit/store/memory"
	auditpg "rulegate/internal/audit/store/postgres"
	exceptionhandler "rulegate/internal/exception/handler"
	exceptionmetrics "rulegate/internal/exception/metrics"
	exceptionservice "rulegate/internal/exception/service"
	exceptionstore "rulegate/internal/exception/store"
	httpapi "rulegate/internal/http"
	overlayhandler "rulegate/internal/overlay/handler"
	overlaymetrics "rulegate/internal/overlay/metrics"
	overlayservice "rulegate/internal/overlay/service"
	overlaystore "rulegate/internal/overlay/store"
	"rulegate/internal/platform/config"
	"rulegate/internal/platform/httpserver"
	"rulegate/internal/platform/logger"
	"rulegate/internal/platform/middleware"
	platformpg "rulegate/internal/platform/postgres"
	platformredis "rulegate/internal/platform/redis"
	"rulegate/internal/resolver/cache"
	resolverhandler "rulegate/internal/resolver/handler"
	resolvermetrics "rulegate/internal/resolver/metrics"
	resolverservice "rulegate/internal/resolver/service"
	rulesethandler "rulegate/internal/ruleset/handler"
	rulesetmetrics "rulegate/internal/ruleset/metrics"
	rulesetservice "rulegate/internal/ruleset/service"
	rulesetstore "rulegate/internal/ruleset/store"
)

type stores struct {
	rulesets   rulesetstore.Store
	overlays   overlaystore.Store
	exceptions exceptionstore.Store
	events     analyticsstore.Store
	auditTrail audit.Store
	db         *sql.DB // nil when running in-memory
}

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, log)
	if err != nil {
		log.Error("store initialization failed", "error", err)
		os.Exit(1)
	}
	if st.db != nil {
		defer st.db.Close()
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis initialization failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		log.Info("ruleset content cache enabled")
	}

	publisherOpts := []audit.PublisherOption{audit.WithLogger(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		sink, err := auditkafka.NewSink(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		if err != nil {
			log.Error("kafka sink initialization failed", "error", err)
			os.Exit(1)
		}
		defer sink.Close()

		inbox := make(chan audit.Entry, 256)
		go func() {
			if err := sink.Run(ctx, inbox); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("kafka sink stopped", "error", err)
			}
		}()
		publisherOpts = append(publisherOpts, audit.WithSink(inbox))
		log.Info("audit kafka sink enabled", "topic", cfg.Kafka.Topic)
	}
	auditTrail := audit.NewPublisher(st.auditTrail, publisherOpts...)

	rulesetSvc := rulesetservice.New(st.rulesets,
		rulesetservice.WithLogger(log),
		rulesetservice.WithAuditPublisher(auditTrail),
		rulesetservice.WithMetrics(rulesetmetrics.New()),
	)
	overlaySvc := overlayservice.New(st.overlays,
		overlayservice.WithLogger(log),
		overlayservice.WithAuditPublisher(auditTrail),
		overlayservice.WithMetrics(overlaymetrics.New()),
	)
	exceptionSvc := exceptionservice.New(st.exceptions,
		exceptionservice.WithLogger(log),
		exceptionservice.WithAuditPublisher(auditTrail),
		exceptionservice.WithMetrics(exceptionmetrics.New()),
	)
	analyticsSvc := analyticsservice.New(st.events, st.overlays, st.exceptions, auditTrail,
		analyticsservice.WithLogger(log),
	)
	resolverSvc := resolverservice.New(st.rulesets, st.overlays, st.exceptions,
		resolverservice.WithLogger(log),
		resolverservice.WithMetrics(resolvermetrics.New()),
		resolverservice.WithContentCache(cache.New(redisClient, log)),
		resolverservice.WithEventRecorder(st.events),
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Rulesets:       rulesethandler.New(rulesetSvc, log),
		Overlays:       overlayhandler.New(overlaySvc, log),
		Exceptions:     exceptionhandler.New(exceptionSvc, log),
		Analytics:      analyticshandler.New(analyticsSvc, log),
		Audit:          audithandler.New(auditTrail, log),
		Resolver:       resolverhandler.New(resolverSvc, log),
		TokenValidator: middleware.NewJWTValidator(cfg.JWTSigningKey),
		Logger:         log,
		Health:         healthCheck(st.db, redisClient),
	})

	srv := httpserver.New(cfg.Addr, router)
	go func() {
		log.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// openStores selects the backing stores. A Postgres DSN enables the durable
// stores; without one the server runs fully in-memory, for development only.
func openStores(ctx context.Context, cfg config.Server, log *slog.Logger) (*stores, error) {
	if cfg.PostgresDSN == "" {
		log.Warn("no postgres dsn configured, state will not survive a restart")
		return &stores{
			rulesets:   rulesetstore.NewInMemory(),
			overlays:   overlaystore.NewInMemory(),
			exceptions: exceptionstore.NewInMemory(),
			events:     analyticsstore.NewInMemory(),
			auditTrail: auditmem.NewInMemoryStore(),
		}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	if err := platformpg.ApplySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &stores{
		rulesets:   rulesetstore.NewPostgres(db),
		overlays:   overlaystore.NewPostgres(db),
		exceptions: exceptionstore.NewPostgres(db),
		events:     analyticsstore.NewPostgres(db),
		auditTrail: auditpg.New(db),
		db:         db,
	}, nil
}

func healthCheck(db *sql.DB, redisClient *platformredis.Client) func(r *http.Request) error {
	return func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
		}
		if redisClient != nil {
			if err := redisClient.Health(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
