package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cwrk-planet/inquiry-service/config"
	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/internal/identity"
	"github.com/cwrk-planet/inquiry-service/internal/memstore"
	"github.com/cwrk-planet/inquiry-service/internal/postgres"
	"github.com/cwrk-planet/inquiry-service/internal/repository"
	"github.com/cwrk-planet/inquiry-service/internal/service"
	grpcx "github.com/cwrk-planet/inquiry-service/internal/transport/grpc"
	httpx "github.com/cwrk-planet/inquiry-service/internal/transport/http"
	"github.com/cwrk-planet/inquiry-service/internal/transport/ws"
	"github.com/cwrk-planet/inquiry-service/pkg/logger"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// storage: репозитории выбранного драйвера.
type storage struct {
	inquiries repository.InquiryRepository
	messages  repository.MessageRepository
	profiles  repository.ProfileRepository
	log       fanout.Log
	ready     func() error
	close     func()
}

func main() {
	// --- config ---
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("logging.level: %v", err)
	}
	logger.Init(logger.Config{
		Env:       logger.ParseEnv(cfg.Logging.Env),
		Service:   cfg.Logging.Service,
		Version:   cfg.Logging.Version,
		Backend:   logger.Backend(cfg.Logging.Backend),
		Level:     level,
		AddSource: cfg.Logging.AddSource,
		Debug:     cfg.Logging.Debug,
	})
	slog.Info("starting inquiry-service",
		"env", cfg.Logging.Env, "version", cfg.Logging.Version, "storage", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		slog.Error("inquiry-service stopped with error", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	// --- storage ---
	st, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	// --- fanout ---
	hub := fanout.NewHub(st.log, fanout.Options{Buffer: cfg.Chat.SubscriberBuffer})
	defer hub.Close()

	g, gctx := errgroup.WithContext(ctx)

	var events fanout.Publisher = fanout.NewLocalBroker(hub)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = rdb.Close() }()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		broker := fanout.NewRedisBroker(rdb, cfg.Redis.ChannelPrefix, hub)
		g.Go(func() error { return broker.Run(gctx) })
		events = broker
		slog.Info("redis fanout enabled", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.ChannelPrefix)
	}

	// --- auth ---
	verifier, err := newVerifier(cfg.Auth)
	if err != nil {
		return err
	}

	// --- services ---
	inquirySvc := service.NewInquiryService(st.inquiries, st.profiles, events)
	chatSvc := service.NewChatService(st.inquiries, st.messages, events, hub, service.ChatConfig{
		MaxMessageLen:   cfg.Chat.MaxMessageLength,
		DefaultPageSize: cfg.Chat.DefaultPageSize,
		MaxPageSize:     cfg.Chat.MaxPageSize,
	})

	// --- HTTP & WS ---
	wsServer := ws.NewServer(chatSvc, verifier, ws.Options{
		PingEvery:      cfg.Chat.PingEvery,
		SendTimeout:    cfg.Chat.SendTimeout,
		CatchUpPage:    cfg.Chat.MaxPageSize,
		AllowedOrigins: cfg.CORS.AllowedOrigins,
	})
	handler := httpx.NewHandler(inquirySvc, chatSvc)
	router := httpx.NewRouter(handler, verifier, wsServer, httpx.RouterOptions{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Ready:          st.ready,
	})
	httpSrv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}

	// --- gRPC ---
	grpcSrv := grpcx.NewServer(verifier, cfg.GRPC.DeadlineGuard)
	grpcSrv.RegisterInquiryService(grpcx.NewInquiryServer(inquirySvc, chatSvc))
	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	// --- run both servers ---
	g.Go(func() error {
		slog.Info("http listen", "addr", cfg.HTTP.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("grpc listen", "addr", cfg.GRPC.Addr)
		grpcSrv.SetServing(true)
		if err := grpcSrv.GRPC.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// --- graceful shutdown ---
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		grpcSrv.Shutdown()
		// WS-соединения hijacked: Shutdown их не ждёт, закрываем подписки через hub
		hub.Close()
		return httpSrv.Shutdown(ctxShutdown)
	})

	return g.Wait()
}

func openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		store := memstore.New()
		for _, p := range cfg.Storage.Seed {
			store.PutProfile(domain.Profile{
				ID:          p.ID,
				UserID:      p.UserID,
				Kind:        domain.ProfileKind(p.Kind),
				DisplayName: p.DisplayName,
			})
		}
		slog.Warn("using in-memory storage: data is lost on restart", "seeded_profiles", len(cfg.Storage.Seed))
		return &storage{
			inquiries: store,
			messages:  store,
			profiles:  store,
			log:       store,
			close:     func() {},
		}, nil

	default:
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:              cfg.Postgres.DSN,
			MaxConns:         cfg.Postgres.MaxConns,
			MinConns:         cfg.Postgres.MinConns,
			MaxConnLifetime:  cfg.Postgres.MaxConnLifetime,
			MaxConnIdleTime:  cfg.Postgres.MaxConnIdleTime,
			StatementTimeout: cfg.Postgres.StatementTimeout,
			LockTimeout:      cfg.Postgres.LockTimeout,
			ApplicationName:  cfg.Logging.Service,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if cfg.Postgres.Migrate {
			if err := postgres.Migrate(ctx, pool); err != nil {
				pool.Close()
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		messages := postgres.NewMessageRepository(pool)
		return &storage{
			inquiries: postgres.NewInquiryRepository(pool),
			messages:  messages,
			profiles:  postgres.NewProfileRepository(pool),
			log:       messages,
			ready:     func() error { return postgres.Ping(context.Background(), pool) },
			close:     pool.Close,
		}, nil
	}
}

func newVerifier(a config.Auth) (*identity.Verifier, error) {
	switch a.Alg {
	case "RS256":
		pub, err := identity.LoadRSAPublicKeyFromPEM(a.PublicKeyPath)
		if err != nil {
			return nil, fmt.Errorf("auth public key: %w", err)
		}
		return identity.NewRSAVerifier(pub, a.Issuer, a.Audience, a.ClockSkew), nil
	default:
		return identity.NewHMACVerifier([]byte(a.HMACSecret), a.Issuer, a.Audience, a.ClockSkew), nil
	}
}
