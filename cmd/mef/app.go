package main

import (
	"context"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/mef/config"
	"github.com/Ramsey-B/mef/internal/repositories/document"
	"github.com/Ramsey-B/mef/pkg/cluster"
	"github.com/Ramsey-B/mef/pkg/coordinator"
	"github.com/Ramsey-B/mef/pkg/database"
	mefErrors "github.com/Ramsey-B/mef/pkg/errors"
	"github.com/Ramsey-B/mef/pkg/events"
	"github.com/Ramsey-B/mef/pkg/graph"
	"github.com/Ramsey-B/mef/pkg/harvest"
	"github.com/Ramsey-B/mef/pkg/index"
	"github.com/Ramsey-B/mef/pkg/jobs"
	"github.com/Ramsey-B/mef/pkg/kafka"
	"github.com/Ramsey-B/mef/pkg/locks"
	"github.com/Ramsey-B/mef/pkg/models"
	"github.com/Ramsey-B/mef/pkg/oai"
	"github.com/Ramsey-B/mef/pkg/record"
	mefRedis "github.com/Ramsey-B/mef/pkg/redis"
	"github.com/Ramsey-B/mef/pkg/routes/health"
	"github.com/Ramsey-B/mef/pkg/startup"
	"github.com/Ramsey-B/mef/pkg/store"
	"github.com/Ramsey-B/mef/pkg/tracing"
	"github.com/Ramsey-B/mef/pkg/tracing/exporters"
	"github.com/Ramsey-B/mef/pkg/transform"
	"github.com/Ramsey-B/mef/pkg/viaf"
)

// app holds the wired pipeline of one process.
type app struct {
	cfg     *config.Config
	logger  ectologger.Logger
	sources config.Sources
	startup *startup.Startup
	checker *health.Checker

	store  store.Store
	index  index.Index
	locker locks.Locker
	redis  *mefRedis.Client
	graph  *graph.Client

	events   *kafka.Producer
	viafOut  *kafka.Producer
	viafIn   *kafka.Consumer
	jobsOut  *kafka.Producer
	shutdown func(context.Context) error

	records     *record.Engine
	clusters    *cluster.Engine
	coordinator *coordinator.Coordinator
	viaf        *viaf.Service
	viafQueue   viaf.Queue
	harvester   *harvest.Harvester
}

// newApp starts every dependency the configuration enables. The caller must
// Close the app.
func newApp(ctx context.Context, cfg *config.Config, logger ectologger.Logger) (*app, error) {
	sources := config.DefaultSources()
	if cfg.SourcesFile != "" {
		loaded, err := config.LoadSources(cfg.SourcesFile)
		if err != nil {
			return nil, mefErrors.Wrap(mefErrors.CodeMisconfiguration, err, "load sources")
		}
		sources = loaded
	}

	a := &app{
		cfg:     cfg,
		logger:  logger,
		sources: sources,
		startup: startup.New(logger, cfg.StartupMaxAttempts),
		checker: health.NewChecker(version),
	}

	a.startup.AddDependency(startup.Func{Name: "tracing", OnStart: a.startTracing, OnStop: a.stopTracing})
	a.startup.AddDependency(startup.Func{Name: "store", OnStart: a.startStore, OnStop: a.stopStore})

	pipeline := []string{"store", "index", "locks"}
	var redisDeps []string
	if cfg.IndexDriver == "redis" || cfg.LockDriver == "redis" {
		a.startup.AddDependency(startup.Func{Name: "redis", OnStart: a.startRedis, OnStop: a.stopRedis})
		redisDeps = []string{"redis"}
	}
	a.startup.AddDependency(startup.Func{Name: "index", Requires: append([]string{"store"}, redisDeps...), OnStart: a.startIndex})
	a.startup.AddDependency(startup.Func{Name: "locks", Requires: redisDeps, OnStart: a.startLocks})
	if cfg.KafkaEnabled {
		a.startup.AddDependency(startup.Func{Name: "kafka", OnStart: a.startKafka, OnStop: a.stopKafka})
		pipeline = append(pipeline, "kafka")
	}
	if cfg.GraphEnabled {
		a.startup.AddDependency(startup.Func{Name: "graph", OnStart: a.startGraph, OnStop: a.stopGraph})
		pipeline = append(pipeline, "graph")
	}
	a.startup.AddDependency(startup.Func{Name: "pipeline", Requires: pipeline, OnStart: a.startPipeline})

	if err := a.startup.Start(ctx); err != nil {
		_ = a.startup.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	return a, nil
}

func (a *app) Close(ctx context.Context) error {
	return a.startup.Stop(ctx)
}

func (a *app) startTracing(ctx context.Context) error {
	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:     a.cfg.TracingEnabled,
		ServiceName: a.cfg.AppName,
		Exporter:    a.cfg.TracingExporter,
		OTLP: exporters.OTLPConfig{
			Endpoint: a.cfg.TracingEndpoint,
			Protocol: a.cfg.TracingProtocol,
			Insecure: a.cfg.TracingInsecure,
			Timeout:  a.cfg.TracingTimeout,
		},
	})
	if err != nil {
		return err
	}
	a.shutdown = shutdown
	return nil
}

func (a *app) stopTracing(ctx context.Context) error {
	if a.shutdown == nil {
		return nil
	}
	return a.shutdown(ctx)
}

func (a *app) databaseConfig() database.Config {
	return database.Config{
		Host:            a.cfg.DatabaseHost,
		Port:            a.cfg.DatabasePort,
		User:            a.cfg.DatabaseUserName,
		Password:        a.cfg.DatabasePassword,
		Name:            a.cfg.DatabaseName,
		SSLMode:         a.cfg.DatabaseSSLMode,
		MaxOpenConns:    a.cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    a.cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: a.cfg.DatabaseConnMaxLifetime,
	}
}

func (a *app) startStore(ctx context.Context) error {
	switch a.cfg.StoreDriver {
	case "bolt":
		s, err := store.OpenBolt(a.cfg.BoltPath)
		if err != nil {
			return err
		}
		a.store = s
	case "postgres":
		db, err := database.Open(ctx, a.databaseConfig(), a.logger)
		if err != nil {
			return err
		}
		a.store = store.NewPostgres(document.NewRepository(db, a.logger))
	default:
		a.store = store.NewMemory()
	}
	a.checker.Register("store", a.store.Ping)
	a.logger.WithContext(ctx).Infof("Store ready: driver=%s", a.cfg.StoreDriver)
	return nil
}

func (a *app) stopStore(context.Context) error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *app) startRedis(ctx context.Context) error {
	client, err := mefRedis.NewClient(ctx, mefRedis.Config{
		Addr:     a.cfg.RedisAddr,
		Password: a.cfg.RedisPassword,
		DB:       a.cfg.RedisDB,
		Prefix:   a.cfg.RedisPrefix,
	}, a.logger)
	if err != nil {
		return err
	}
	a.redis = client
	a.checker.Register("redis", client.Ping)
	return nil
}

func (a *app) stopRedis(context.Context) error {
	if a.redis == nil {
		return nil
	}
	return a.redis.Close()
}

// startIndex opens the index. An in-memory index over a persistent store is
// rebuilt from the store.
func (a *app) startIndex(ctx context.Context) error {
	if a.cfg.IndexDriver == "redis" {
		a.index = index.NewRedis(a.redis)
		a.checker.Register("index", a.index.Ping)
		return nil
	}
	a.index = index.NewMemory()
	if a.cfg.StoreDriver == "memory" {
		return nil
	}
	n, err := reindex(ctx, a.store, a.index)
	if err != nil {
		return err
	}
	a.logger.WithContext(ctx).Infof("Rebuilt in-memory index: documents=%d", n)
	return nil
}

func (a *app) startLocks(context.Context) error {
	if a.cfg.LockDriver == "redis" {
		a.locker = locks.NewRedis(a.redis, a.cfg.LockTTL, a.cfg.LockTTL)
		return nil
	}
	a.locker = locks.NewMemory()
	return nil
}

func (a *app) producer(topic string) *kafka.Producer {
	return kafka.NewProducer(kafka.ProducerConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        topic,
		BatchSize:    a.cfg.KafkaBatchSize,
		BatchTimeout: time.Duration(a.cfg.KafkaBatchTimeout) * time.Millisecond,
		RequiredAcks: a.cfg.KafkaRequiredAcks,
		Compression:  a.cfg.KafkaCompression,
	}, a.logger)
}

func (a *app) consumerConfig(topic string) kafka.ConsumerConfig {
	return kafka.ConsumerConfig{
		Brokers:       a.cfg.KafkaBrokers,
		Topic:         topic,
		ConsumerGroup: a.cfg.KafkaGroupID,
	}
}

func (a *app) startKafka(context.Context) error {
	a.events = a.producer(a.cfg.KafkaEventsTopic)
	a.viafOut = a.producer(a.cfg.KafkaViafTopic)
	a.viafIn = kafka.NewConsumer(a.consumerConfig(a.cfg.KafkaViafTopic), a.logger, nil)
	a.jobsOut = a.producer(a.cfg.KafkaJobsTopic)
	return nil
}

func (a *app) stopKafka(context.Context) error {
	var first error
	for _, closer := range []func() error{a.events.Close, a.jobsOut.Close, a.viafOut.Close, a.viafIn.Stop} {
		if err := closer(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (a *app) startGraph(ctx context.Context) error {
	client, err := graph.NewClient(graph.Config{
		Host:     a.cfg.GraphDBHost,
		Port:     a.cfg.GraphDBPort,
		Username: a.cfg.GraphDBUser,
		Password: a.cfg.GraphDBPassword,
		Database: a.cfg.GraphDBName,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := client.Ping(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}
	if err := client.EnsureSchema(ctx); err != nil {
		_ = client.Close(ctx)
		return err
	}
	a.graph = client
	a.checker.Register("graph", client.Ping)
	return nil
}

func (a *app) stopGraph(ctx context.Context) error {
	if a.graph == nil {
		return nil
	}
	return a.graph.Close(ctx)
}

func (a *app) startPipeline(context.Context) error {
	a.records = record.NewEngine(a.store, a.index, a.logger, a.cfg.RedirectMaxDepth)
	a.clusters = cluster.NewEngine(a.store, a.index, a.locker, a.logger, cluster.Config{
		BaseURL:  a.cfg.BaseURL,
		MaxDepth: a.cfg.RedirectMaxDepth,
	})

	opts := []coordinator.Option{
		coordinator.WithEnrichers(coordinator.AssociationEnricher{Threshold: a.cfg.AssociationMatchThreshold}),
	}
	if a.events != nil {
		opts = append(opts, coordinator.WithEvents(events.NewEmitter(a.events, a.cfg.KafkaEventsTopic, a.logger)))
	}
	if a.graph != nil {
		opts = append(opts, coordinator.WithProjector(graph.NewClusterProjector(a.graph, a.logger)))
	}
	a.coordinator = coordinator.New(transform.DefaultRegistry(), a.records, a.clusters, a.logger, coordinator.Config{
		BaseURL:      a.cfg.BaseURL,
		StoreRetries: a.cfg.StoreRetries,
	}, opts...)

	a.viaf = viaf.NewService(a.records, a.clusters, a.store, a.logger)
	if a.viafOut != nil {
		a.viafQueue = viaf.NewKafkaQueue(a.viafOut, a.viafIn, 0)
	} else {
		a.viafQueue = viaf.NewMemoryQueue()
	}

	oaiCfg := oai.DefaultConfig()
	oaiCfg.Timeout = a.cfg.HarvestRequestTimeout
	a.harvester = harvest.New(oai.NewClient(oaiCfg, a.logger), a.coordinator, a.sources, a.store, a.logger, harvest.Config{
		Span:          a.cfg.HarvestSpan(),
		Retries:       a.cfg.HarvestRetries,
		RetryBase:     a.cfg.HarvestRetryBase,
		WindowTimeout: a.cfg.HarvestWindowTimeout,
		SnapshotDir:   a.cfg.SnapshotDir,
	}, harvest.WithDrain(a.drainViaf))
	return nil
}

// drainViaf applies the pending VIAF deltas. A delta failing with a record level
// error is logged and dropped; store errors stop the drain and the window.
func (a *app) drainViaf(ctx context.Context) error {
	n, err := a.viafQueue.Drain(ctx, func(ctx context.Context, d viaf.Delta) error {
		_, out, err := a.viaf.Apply(ctx, d)
		if err != nil {
			if mefErrors.IsStoreError(err) || ctx.Err() != nil {
				return err
			}
			a.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"viaf_pid": d.Pid,
				"op":       d.Op,
			}).Warn("Dropping VIAF delta")
			return nil
		}
		a.coordinator.Publish(ctx, out)
		return nil
	})
	if n > 0 {
		a.logger.WithContext(ctx).Infof("Applied VIAF deltas: count=%d", n)
	}
	return err
}

// reindex feeds every stored document to idx.
func reindex(ctx context.Context, s store.Store, idx index.Index) (int, error) {
	n := 0
	sources := append(append([]models.Source{}, models.AuthoritySources...), models.SourceVIAF, models.SourceMEF)
	for _, kind := range models.Kinds {
		for _, source := range sources {
			err := s.Scan(ctx, kind, source, func(doc *models.Document) error {
				n++
				return idx.Index(ctx, doc)
			})
			if err != nil {
				return n, err
			}
			if err := idx.FlushAndRefresh(ctx, kind, source); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// jobQueue is the Kafka job queue shared with the serve workers.
func (a *app) jobQueue() (jobs.Queue, error) {
	if a.jobsOut == nil {
		return nil, mefErrors.New(mefErrors.CodeMisconfiguration, "queued harvests need KAFKA_ENABLED=true")
	}
	return jobs.NewKafkaQueue(a.jobsOut, a.consumerConfig(a.cfg.KafkaJobsTopic), a.logger), nil
}

// requireDurableViafQueue rejects queueing deltas into the in-process queue,
// which would be lost when the command exits.
func (a *app) requireDurableViafQueue() error {
	if _, ok := a.viafQueue.(*viaf.KafkaQueue); !ok {
		return mefErrors.New(mefErrors.CodeMisconfiguration, "queued VIAF deltas need KAFKA_ENABLED=true")
	}
	return nil
}
