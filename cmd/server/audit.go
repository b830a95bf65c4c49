package main

import (
	"context"
	"fmt"
	"log/slog"

	"joingate/internal/captcha/metrics"
	"joingate/internal/platform/config"
	"joingate/pkg/platform/audit"
	"joingate/pkg/platform/audit/publisher"
	kafkastore "joingate/pkg/platform/audit/store/kafka"
	auditmemory "joingate/pkg/platform/audit/store/memory"
	pgstore "joingate/pkg/platform/audit/store/postgres"
)

// auditPipeline owns the audit publisher and the sink connections behind it.
type auditPipeline struct {
	publisher *publisher.Publisher
	closers   []func()
}

// Close drains the publisher, then releases sink connections.
func (a *auditPipeline) Close() {
	a.publisher.Close()
	a.closeSinks()
}

// newAuditPipeline selects sinks from config: Postgres and Kafka when
// configured, otherwise process memory.
func newAuditPipeline(ctx context.Context, cfg *config.Config, m *metrics.Metrics, log *slog.Logger) (*auditPipeline, error) {
	p := &auditPipeline{}
	var stores audit.MultiStore

	if cfg.AuditDatabaseURL != "" {
		pool, err := pgstore.Connect(ctx, cfg.AuditDatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect audit database: %w", err)
		}
		p.closers = append(p.closers, pool.Close)
		store := pgstore.New(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			p.closeSinks()
			return nil, fmt.Errorf("prepare audit schema: %w", err)
		}
		stores = append(stores, store)
		log.InfoContext(ctx, "audit sink enabled", "sink", "postgres")
	}

	if brokers := cfg.AuditKafkaBrokerList(); len(brokers) > 0 {
		client, err := kafkastore.NewClient(brokers, cfg.AuditKafkaTopic)
		if err != nil {
			p.closeSinks()
			return nil, fmt.Errorf("create audit kafka client: %w", err)
		}
		p.closers = append(p.closers, client.Close)
		stores = append(stores, kafkastore.New(client, cfg.AuditKafkaTopic))
		log.InfoContext(ctx, "audit sink enabled", "sink", "kafka", "topic", cfg.AuditKafkaTopic)
	}

	var sink audit.Store
	switch len(stores) {
	case 0:
		sink = auditmemory.NewInMemoryStore()
		log.InfoContext(ctx, "audit sink enabled", "sink", "memory")
	case 1:
		sink = stores[0]
	default:
		sink = stores
	}

	opts := []publisher.Option{
		publisher.WithLogger(log),
		publisher.WithDropHook(m.IncrementAuditDropped),
	}
	if cfg.AuditBuffer > 0 {
		opts = append(opts, publisher.WithAsyncBuffer(cfg.AuditBuffer))
	}
	p.publisher = publisher.NewPublisher(sink, opts...)
	return p, nil
}

func (a *auditPipeline) closeSinks() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
