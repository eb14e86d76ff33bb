package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-fanout/internal/api"
	"github.com/fathima-sithara/chat-fanout/internal/cache"
	"github.com/fathima-sithara/chat-fanout/internal/config"
	"github.com/fathima-sithara/chat-fanout/internal/hub"
	"github.com/fathima-sithara/chat-fanout/internal/ingest"
	"github.com/fathima-sithara/chat-fanout/internal/kafka"
	"github.com/fathima-sithara/chat-fanout/internal/logger"
	"github.com/fathima-sithara/chat-fanout/internal/metrics"
	"github.com/fathima-sithara/chat-fanout/internal/projector"
	"github.com/fathima-sithara/chat-fanout/internal/reaction"
	"github.com/fathima-sithara/chat-fanout/internal/readreceipt"
	"github.com/fathima-sithara/chat-fanout/internal/repository"
	"github.com/fathima-sithara/chat-fanout/internal/supervisor"
)

// Server holds the process dependencies.
type Server struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	rdb      *redis.Client
	nc       *nats.Conn
	store    repository.Store
	producer *kafka.Producer
	reader   kafka.Reader
	hub      *hub.Hub
	consumer *kafka.Consumer
	http     *api.Server
}

func NewServer(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (*Server, error) {
	s := &Server{cfg: cfg, log: log}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	s.rdb = rdb
	state := cache.NewStore(rdb, cache.OptionsFromConfig(cfg))

	switch cfg.Store.Driver {
	case "sqlite":
		s.store, err = repository.NewSQLite(ctx, cfg.Store.SQLitePath)
	default:
		client, cerr := repository.NewMongoClient(ctx, cfg.Store.MongoURI)
		if cerr != nil {
			s.Close()
			return nil, cerr
		}
		s.store, err = repository.NewMongoStore(ctx, client, cfg.Store.MongoDB)
		if err != nil {
			_ = client.Disconnect(context.Background())
		}
	}
	if err != nil {
		s.Close()
		return nil, err
	}

	var transport hub.Transport
	switch cfg.Fanout.Transport {
	case "nats":
		nc, err := nats.Connect(cfg.Fanout.NATSURL, nats.Name("chat-fanout"), nats.MaxReconnects(-1))
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("nats connect: %w", err)
		}
		s.nc = nc
		transport = hub.NewNATSTransport(nc, cfg.Fanout.NATSSubject)
	case "local":
		transport = hub.NewLocalTransport()
	default:
		transport = hub.NewRedisTransport(rdb, cfg.Fanout.Channel)
	}
	s.hub = hub.New(transport, cfg.Fanout.SubscriberBuffer, m, log)

	reactions := reaction.NewAggregator(s.store, state, log)
	receipts := readreceipt.NewService(s.store, state, log)
	proj := projector.New(state, s.store, reactions, receipts, s.hub, m, log,
		projector.Options{DedupeRecentWindow: cfg.Projector.DedupeRecentWindow})

	s.producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	ingestor := ingest.New(s.producer, ingest.Config{
		Timeout:         cfg.IngestTimeout,
		MaxAttempts:     cfg.Kafka.MaxAttempts,
		BreakerFailures: cfg.Kafka.BreakerMaxFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
		BreakerInterval: cfg.BreakerInterval,
	}, m, log)

	s.reader = kafka.NewReader(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	s.consumer = kafka.NewConsumer(s.reader, proj, kafka.ConsumerConfig{
		Workers:        cfg.Kafka.Workers,
		CommitInterval: cfg.CommitInterval,
		DrainTimeout:   cfg.ShutdownTimeout,
	}, m, log)

	s.http = api.NewServer(api.Deps{
		Ingester:            ingestor,
		State:               state,
		History:             s.store,
		Reactions:           reactions,
		ReadReceipts:        receipts,
		Hub:                 s.hub,
		Metrics:             m,
		Log:                 log,
		IngestRatePerSecond: cfg.API.IngestRatePerSecond,
		IngestBurst:         cfg.API.IngestBurst,
	})
	return s, nil
}

// Run blocks until ctx is cancelled and every supervised service returned.
func (s *Server) Run(ctx context.Context) error {
	tree := supervisor.NewTree(s.log, supervisor.TreeConfig{ShutdownTimeout: s.cfg.ShutdownTimeout})
	tree.AddMessagingService(supervisor.Service("fanout-subscriber", s.hub.Serve))
	tree.AddMessagingService(supervisor.Service("log-consumer", s.consumer.Serve))
	addr := ":" + strconv.Itoa(s.cfg.App.Port)
	tree.AddAPIService(supervisor.Service("http", func(ctx context.Context) error {
		return s.http.Serve(ctx, addr)
	}))

	s.log.Infow("chat-fanout starting", "env", s.cfg.App.Env, "addr", addr,
		"store", s.cfg.Store.Driver, "fanout", s.cfg.Fanout.Transport)
	err := tree.Serve(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// Close releases clients in reverse order of creation.
func (s *Server) Close() {
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if s.hub != nil {
		s.hub.Close()
	}
	if s.reader != nil {
		if err := s.reader.Close(); err != nil {
			s.log.Warnw("kafka reader close", "error", err)
		}
	}
	if s.producer != nil {
		if err := s.producer.Close(); err != nil {
			s.log.Warnw("kafka producer close", "error", err)
		}
	}
	if s.nc != nil {
		_ = s.nc.Drain()
	}
	if s.store != nil {
		if err := s.store.Close(ctx); err != nil {
			s.log.Warnw("store close", "error", err)
		}
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CHAT_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(logger.Config{Development: cfg.Log.Development, Level: cfg.Log.Level})
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := NewServer(ctx, cfg, lg)
	if err != nil {
		lg.Fatalw("startup failed", "error", err)
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		lg.Errorw("supervisor exited", "error", err)
		return
	}
	lg.Infow("chat-fanout stopped")
}
