package main

import (
	"context"
	"dataset-registry/config"
	"dataset-registry/orm"
	"dataset-registry/pagination"
	"dataset-registry/registry"
	"dataset-registry/registry/cachedRetrieve"
	"dataset-registry/registry/filesystemBackend"
	"dataset-registry/registry/memoryBackend"
	"dataset-registry/registry/redisNotify"
	"dataset-registry/registry/s3"
	"dataset-registry/registry/sqlSearch"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const serviceName = "dataset-registry"

func main() {
	cfg, err := config.Load(serviceName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	config.InitLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := orm.InitDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close database")
		}
	}()

	reg, closers, err := buildRegistry(cfg, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize registry")
	}
	defer func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Error().Err(err).Msg("failed to release backend")
			}
		}
	}()

	if err := bootstrapAdmin(ctx, db, cfg.Admin.Username); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap admin user")
	}

	if err := serve(ctx, cfg.Port, reg); err != nil {
		log.Fatal().Err(err).Msg("gRPC server stopped")
	}
}

// buildRegistry wires the configured backends into a registry. The returned
// functions release backend connections.
func buildRegistry(cfg *config.AppConfig, db *orm.DB) (*registry.Registry, []func() error, error) {
	var closers []func() error

	var sqlBackend *sqlSearch.Backend
	sql := func() (*sqlSearch.Backend, error) {
		if sqlBackend != nil {
			return sqlBackend, nil
		}
		b, err := sqlSearch.New(db.Gorm())
		if err != nil {
			return nil, err
		}
		sqlBackend = b

		return b, nil
	}

	var memBackend *memoryBackend.MemoryBackend
	memory := func() *memoryBackend.MemoryBackend {
		if memBackend == nil {
			memBackend = memoryBackend.New()
		}

		return memBackend
	}

	var search registry.SearchBackend
	switch cfg.Search.Type {
	case "memory":
		search = memory()
	case "sql":
		b, err := sql()
		if err != nil {
			return nil, nil, err
		}
		search = b
	default:
		return nil, nil, fmt.Errorf("unknown search backend type %q", cfg.Search.Type)
	}
	log.Info().Str("type", cfg.Search.Type).Msg("search backend initialized")

	retrieve, err := initRetrieve(cfg.Retrieve, memory, sql)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("type", cfg.Retrieve.Type).Msg("retrieve backend initialized")

	if cfg.Retrieve.CacheSize > 0 {
		var ttl time.Duration
		if cfg.Retrieve.CacheTTL != "" {
			ttl, err = time.ParseDuration(cfg.Retrieve.CacheTTL)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid retrieve cache ttl: %w", err)
			}
		}
		retrieve = cachedRetrieve.New(retrieve, cfg.Retrieve.CacheSize, ttl)
		log.Info().
			Int("size", cfg.Retrieve.CacheSize).
			Dur("ttl", ttl).
			Msg("retrieve cache enabled")
	}

	opts := []registry.Option{
		registry.WithPageDefaults(pagination.Defaults{
			PageSize:    cfg.Pagination.DefaultPageSize,
			MaxPageSize: cfg.Pagination.MaxPageSize,
		}),
	}

	if rc := cfg.Extensions.Redis; rc.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     rc.Addr,
			Password: rc.Password,
			DB:       rc.DB,
		})
		closers = append(closers, client.Close)
		opts = append(opts, registry.WithExtensions(redisNotify.New(client, rc.Key)))
		log.Info().Str("addr", rc.Addr).Str("key", rc.Key).Msg("redis notifications enabled")
	}

	return registry.New(db, search, retrieve, opts...), closers, nil
}

func initRetrieve(
	cfg config.RetrieveConfig,
	memory func() *memoryBackend.MemoryBackend,
	sql func() (*sqlSearch.Backend, error),
) (registry.RetrieveBackend, error) {
	switch cfg.Type {
	case "memory":
		return memory(), nil
	case "sql":
		return sql()
	case "filesystem":
		b, err := filesystemBackend.New(cfg.Filesystem.Dir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize filesystem backend: %w", err)
		}
		log.Info().Str("storage_dir", b.Dir()).Msg("filesystem backend initialized")

		return b, nil
	case "s3":
		b, err := s3.New(cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize s3 backend: %w", err)
		}

		return b, nil
	default:
		return nil, fmt.Errorf("unknown retrieve backend type %q", cfg.Type)
	}
}

// bootstrapAdmin makes sure the configured user exists with admin rights.
func bootstrapAdmin(ctx context.Context, db *orm.DB, username string) error {
	if username == "" {
		return nil
	}

	if err := db.PutUser(ctx, username, true); err != nil {
		return err
	}
	log.Info().Str("username", username).Msg("admin user ensured")

	return nil
}

// serve runs the gRPC server until ctx is cancelled. The health service
// reports SERVING once the registry is wired.
func serve(ctx context.Context, port int, reg *registry.Registry) error {
	if reg == nil {
		return errors.New("registry is not initialized")
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", port, err)
	}

	server := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down gRPC server")
		healthServer.Shutdown()
		server.GracefulStop()
	}()

	log.Info().Int("port", port).Msg("gRPC server listening")
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("failed to serve: %w", err)
	}

	return nil
}
