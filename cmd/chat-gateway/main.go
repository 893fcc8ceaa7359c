package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/weiawesome/wes-chat/internal/auth"
	"github.com/weiawesome/wes-chat/internal/bus"
	"github.com/weiawesome/wes-chat/internal/cache"
	"github.com/weiawesome/wes-chat/internal/config"
	chatgrpc "github.com/weiawesome/wes-chat/internal/grpc"
	"github.com/weiawesome/wes-chat/internal/handler"
	"github.com/weiawesome/wes-chat/internal/health"
	"github.com/weiawesome/wes-chat/internal/history"
	"github.com/weiawesome/wes-chat/internal/hub"
	"github.com/weiawesome/wes-chat/internal/idgen"
	"github.com/weiawesome/wes-chat/internal/persist"
	"github.com/weiawesome/wes-chat/internal/registry"
	"github.com/weiawesome/wes-chat/internal/repository"
	"github.com/weiawesome/wes-chat/internal/service"
	"github.com/weiawesome/wes-chat/pkg/database"
	"github.com/weiawesome/wes-chat/pkg/jwt"
	pkglog "github.com/weiawesome/wes-chat/pkg/log"
	"github.com/weiawesome/wes-chat/pkg/middleware"
	"github.com/weiawesome/wes-chat/pkg/pubsub"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	pkglog.Init(cfg.Log)
	logger := pkglog.L()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ids, err := idgen.New(cfg.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id generator")
	}

	repo, err := newRepository(ctx, cfg, ids)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Database.Driver).Msg("failed to initialize message store")
	}
	defer repo.Close()
	logger.Info().Str("driver", cfg.Database.Driver).Msg("message store ready")

	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		redisClient, err = newRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Str("address", cfg.Redis.Address).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
	}

	msgCache := newMessageCache(cfg, redisClient)
	defer msgCache.Close()

	var reg registry.Registry
	if cfg.Registry.Enabled {
		reg = registry.NewRedisRegistry(redisClient, cfg.Instance.ID, cfg.Registry.Prefix, cfg.Registry.KeyTTL, cfg.Registry.HeartbeatInterval)
	} else {
		reg = registry.NewLocalRegistry(cfg.Instance.ID)
	}
	defer reg.Close()
	if err := reg.StartHeartbeat(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start registry heartbeat")
	}

	ps, err := pubsub.NewPubSub(cfg.PubSub, cfg.Instance.ID)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.PubSub.Driver).Msg("failed to initialize pubsub")
	}
	chatBus := bus.New(ps, cfg.Instance.ID)
	defer chatBus.Close()
	logger.Info().Str("driver", cfg.PubSub.Driver).Msg("broadcast bus ready")

	monitor := health.NewMonitor(config.ServiceName, cfg.Health.ProbeTimeout)
	monitor.AddProbe(health.ComponentStore, repo.Ping)
	monitor.AddProbe(health.ComponentBus, chatBus.Ping)

	jwtManager, err := jwt.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create JWT manager")
	}
	authn := auth.NewAuthenticator(jwtManager)

	wsHub := hub.NewHub()
	writer := persist.NewWriter(repo, msgCache, monitor)
	chatSvc := service.NewChatService(wsHub, chatBus, writer, monitor, reg, cfg.Chat.MessageMaxLen)
	historySvc := history.NewService(repo, msgCache, cfg.Cache.TTL)

	wsHandler := handler.NewWSHandler(authn, chatSvc, cfg.WebSocket)
	httpHandler := handler.NewHTTPHandler(historySvc, reg, monitor, authn.Verify, cfg.Env, cfg.Instance.ID)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	corsMiddleware, err := middleware.CORS(cfg.WebSocket.AllowedOrigins)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure CORS")
	}
	engine := gin.New()
	engine.Use(gin.Recovery(), pkglog.GinMiddleware(logger), corsMiddleware)
	httpHandler.RegisterRoutes(engine)

	wsMux := http.NewServeMux()
	wsHandler.RegisterRoutes(wsMux)
	wsRoutes := pkglog.HTTPMiddleware(logger)(wsMux)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsRoutes)
	mux.Handle("/chat/ws", wsRoutes)
	mux.Handle("/", engine)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcAddr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	grpcServer, err := chatgrpc.StartGRPCServer(grpcAddr, monitor, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start gRPC server")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Str(pkglog.FieldInstanceID, cfg.Instance.ID).Msg("chat gateway listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		monitor.Run(gctx, cfg.Health.CheckInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down chat gateway")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		monitor.Shutdown()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("http server forced to shutdown")
		}
		chatSvc.Shutdown()
		waitDrained(shutdownCtx, wsHub)
		grpcServer.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("chat gateway stopped with error")
		return
	}
	logger.Info().Msg("chat gateway stopped")
}

func newRepository(ctx context.Context, cfg *config.Config, ids idgen.Generator) (repository.MessageRepository, error) {
	if cfg.Database.Driver == config.DriverCassandra {
		repo, err := repository.NewCassandraMessageRepository(cfg.Cassandra, ids)
		if err != nil {
			return nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, err
		}
		return repo, nil
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, err
	}
	repo := repository.NewGormMessageRepository(db, ids)
	if err := repo.Migrate(); err != nil {
		repo.Close()
		return nil, err
	}
	return repo, nil
}

func newRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func newMessageCache(cfg *config.Config, client *redis.Client) cache.MessageCache {
	switch cfg.Cache.Driver {
	case config.CacheRedis:
		return cache.NewRedisMessageCache(client, cfg.Cache.Prefix)
	case config.CacheMemory:
		return cache.NewMemoryMessageCache()
	default:
		return cache.NopMessageCache{}
	}
}

// waitDrained waits for the disconnect path of every client to finish so
// their room subscriptions are released before the bus closes.
func waitDrained(ctx context.Context, h *hub.Hub) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for h.Count() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
