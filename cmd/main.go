package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/signal-service/config"
	"github.com/cwrk-planet/signal-service/internal/events"
	"github.com/cwrk-planet/signal-service/internal/membership"
	"github.com/cwrk-planet/signal-service/internal/metrics"
	"github.com/cwrk-planet/signal-service/internal/postgres"
	"github.com/cwrk-planet/signal-service/internal/redisstore"
	"github.com/cwrk-planet/signal-service/internal/relay"
	"github.com/cwrk-planet/signal-service/internal/service"
	"github.com/cwrk-planet/signal-service/internal/tracing"
	grpcx "github.com/cwrk-planet/signal-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/signal-service/internal/transport/http"
	"github.com/cwrk-planet/signal-service/internal/transport/ws"
	"github.com/cwrk-planet/signal-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger.Init(logger.Config{
		Env:       logger.Env(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
		File: logger.File{
			Path:       cfg.Logging.File.Path,
			MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
			MaxBackups: cfg.Logging.File.MaxBackups,
			MaxAgeDays: cfg.Logging.File.MaxAgeDays,
			Compress:   cfg.Logging.File.Compress,
		},
	})
	lg := logger.L()
	lg.Info("starting signal-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version,
		"node", cfg.Signal.NodeID, "store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- tracing ---
	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		ServiceName: cfg.Logging.Service,
		Environment: cfg.Logging.Env,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		log.Fatalf("tracing: %v", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	m := metrics.New()

	// --- redis (store и/или bus) ---
	var rdb *redis.Client
	if cfg.Store.Backend == "redis" || cfg.Redis.Bus {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		defer rdb.Close()
	}

	// --- membership store ---
	var (
		store  membership.Store
		purger membership.Purger
	)
	switch cfg.Store.Backend {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.Postgres.DSN,
			MaxConns:        cfg.Postgres.MaxConns,
			ApplicationName: cfg.Logging.Service,
		})
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				log.Fatalf("postgres migrate: %v", err)
			}
		}
		repo := postgres.NewParticipantRepository(pool, cfg.Signal.TTL())
		store, purger = repo, repo
	case "redis":
		// протухание делает сам redis
		store = redisstore.New(rdb, cfg.Redis.Prefix, cfg.Signal.TTL())
	default:
		mem := membership.NewMemoryStore(cfg.Signal.TTL())
		store, purger = mem, mem
	}

	// --- relay ---
	local := relay.NewLocalDispatcher()
	var (
		dispatcher relay.Dispatcher = local
		bus        *relay.RedisBus
	)
	if cfg.Redis.Bus {
		bus = relay.NewRedisBus(rdb, cfg.Signal.NodeID, cfg.Redis.Prefix, local, m)
		dispatcher = bus
	}
	rl := relay.New(store, dispatcher, relay.WithMetrics(m))

	// --- events ---
	var publisher events.Publisher = events.Nop{}
	if cfg.RabbitMQ.URL != "" {
		rmq, err := events.NewRabbitMQ(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			log.Fatalf("rabbitmq: %v", err)
		}
		defer rmq.Close()
		publisher = rmq
	}

	// --- services ---
	coord := service.NewCoordinator(service.Config{
		Capacity: cfg.Signal.Capacity,
		NodeID:   cfg.Signal.NodeID,
	}, store, rl, local, publisher, m)
	memberSvc := service.NewMemberService(store, coord)

	// --- WS ---
	wsServer := ws.NewServer(coord, local, cfg.Signal.NodeID, ws.Options{
		PingEvery:    cfg.Signal.PingEveryDur(),
		WriteTimeout: cfg.Signal.WriteTimeoutDur(),
		ReadLimit:    cfg.Signal.ReadLimit,
		RatePerSec:   cfg.Signal.RatePerSec,
		RateBurst:    cfg.Signal.RateBurst,
	})

	// --- HTTP ---
	router := httpx.NewRouter(httpx.RouterDeps{
		Handler:        httpx.NewHandler(memberSvc),
		WS:             wsServer.HandleWS,
		Metrics:        m.Handler(),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
	})
	httpSrv := &http.Server{
		Addr:        cfg.HTTP.Addr,
		Handler:     router,
		ReadTimeout: cfg.HTTP.ReadTimeoutDur(),
		IdleTimeout: cfg.HTTP.IdleTimeoutDur(),
	}

	// --- gRPC ---
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerInterceptor(cfg.GRPC.CallTimeoutDur())),
		grpc.ChainStreamInterceptor(grpcx.StreamServerInterceptor()),
	)
	grpcx.RegisterPresenceServer(grpcServer, grpcx.NewServer(memberSvc))

	// --- run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		lg.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.GRPC.Addr != "" {
		g.Go(func() error {
			lis, err := net.Listen("tcp", cfg.GRPC.Addr)
			if err != nil {
				return err
			}
			lg.Info("grpc listen", "addr", cfg.GRPC.Addr)
			return grpcServer.Serve(lis)
		})
	}

	if bus != nil {
		g.Go(func() error { return bus.Run(gctx) })
	}

	if purger != nil {
		g.Go(func() error {
			membership.RunPurge(gctx, purger, cfg.Signal.PurgeEveryDur(), func(n int, err error) {
				if err != nil {
					lg.Warn("purge expired participants failed", "err", err)
					return
				}
				if n > 0 {
					lg.Debug("purged expired participants", "count", n)
				}
			})
			return nil
		})
	}

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		lg.Info("shutting down")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		err := httpSrv.Shutdown(ctxShutdown)
		// hijacked ws-соединения Shutdown не видит: закрываем сами и ждём очистку членства
		if wsErr := wsServer.Shutdown(ctxShutdown); wsErr != nil {
			lg.Warn("ws shutdown incomplete", "err", wsErr)
		}
		grpcServer.GracefulStop()
		return err
	})

	if err := g.Wait(); err != nil {
		lg.Error("server error", "err", err)
	}
	lg.Info("stopped")
}
