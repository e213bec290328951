// Package app wires the courier server runtime: config, logging, metrics,
// HTTP routes, persistence, and the realtime fanout path.
//
// It is intentionally small and deterministic to keep CI gates strict and behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"courier/cmd/internal/chatapi"
	"courier/cmd/internal/directory"
	"courier/cmd/internal/messaging"
	"courier/cmd/internal/realtime"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the courier server runtime: it owns HTTP server wiring and the
// realtime fanout dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *Metrics

	svc    *messaging.Service
	fanout *realtime.Fanout
	bridge *realtime.RedisBridge
	rdb    *redis.Client

	ws   *realtime.WSGateway
	chat *chatapi.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogSource)
	}

	st, dbPool, dbEnabled, convs, msgs, resolver, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()

	hub := realtime.NewHub(log)

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = realtime.NewRandomHex(6)
	}

	fanoutOpts := []realtime.FanoutOption{
		realtime.WithDeliveryHooks(
			func(n int) { metrics.FanoutDelivered.Add(float64(n)) },
			func(n int) { metrics.FanoutDropped.Add(float64(n)) },
		),
	}

	var (
		rdb    *redis.Client
		bridge *realtime.RedisBridge
	)
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		bridge = realtime.NewRedisBridge(log, rdb, cfg.RedisChannel)
		fanoutOpts = append(fanoutOpts, realtime.WithBridge(bridge))
		log.Info("bridge.enabled", "addr", cfg.RedisAddr, "instance_id", instanceID)
	}

	fanout := realtime.NewFanout(log, hub, instanceID, fanoutOpts...)

	svc := messaging.NewService(log, convs, msgs,
		messaging.WithResolver(resolver),
		messaging.WithPublisher(countingPublisher{inner: fanout, sent: metrics.MessagesSent}),
		messaging.WithStatFailureHook(func(op string) {
			metrics.StatFailures.WithLabelValues(op).Inc()
		}),
	)

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   metrics,
		svc:       svc,
		fanout:    fanout,
		bridge:    bridge,
		rdb:       rdb,
		ws:        realtime.NewWSGateway(log, hub, svc),
		chat:      chatapi.NewHandler(log, svc, chatapi.Config{}),
	}, nil
}

// Run starts the HTTP server (and the bridge subscriber, when configured)
// and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.ws, a.chat, a.metrics)

	handler := WithSecurityHeaders(mux)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithRequestLogging(handler, a.log)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.bridge != nil {
		go a.runBridge(runCtx)
	}

	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"db_enabled", a.dbEnabled,
		"bridge_enabled", a.bridge != nil,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	cancel() // stop the bridge subscriber

	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Error("bridge.close.fail", "err", err)
		}
	}

	// Close store resources (pool etc).
	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

// runBridge keeps the cross-instance subscription alive, reconnecting with
// backoff until ctx is cancelled.
func (a *App) runBridge(ctx context.Context) {
	backoff := time.Second
	for {
		err := a.bridge.Run(ctx, a.fanout.DeliverRemote)
		if ctx.Err() != nil {
			return
		}

		a.log.Error("bridge.run.fail", "err", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// countingPublisher bumps the send counter before delegating to the fanout.
type countingPublisher struct {
	inner messaging.Publisher
	sent  prometheus.Counter
}

func (p countingPublisher) PublishMessage(msg messaging.Message) {
	p.sent.Inc()
	p.inner.PublishMessage(msg)
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStores decides between Postgres-backed persistence and the in-memory dev store.
func newStores(ctx context.Context, cfg Config, log Logger) (
	Store,
	*pgxpool.Pool,
	bool,
	messaging.ConversationStore,
	messaging.MessageStore,
	directory.Resolver,
	error,
) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		mem := messaging.NewInMemoryStore()
		return nopStore{}, nil, false, mem.Conversations(), mem.Messages(), directory.NewStaticResolver(), nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, nil, nil, nil, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)

	// Ownership model: app owns the pool lifecycle, the stores borrow it.
	convs, err := messaging.NewPostgresConversationStore(pool, messaging.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, nil, err
	}
	msgs, err := messaging.NewPostgresMessageStore(pool, messaging.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, nil, err
	}
	resolver, err := directory.NewPostgresResolver(pool, directory.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, nil, nil, nil, err
	}

	return dbStore{pool: pool}, pool, true, convs, msgs, resolver, nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}
