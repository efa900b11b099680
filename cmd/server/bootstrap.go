package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/innovotech/mediadrop/internal/client"
	"github.com/innovotech/mediadrop/internal/config"
	"github.com/innovotech/mediadrop/internal/handler"
	"github.com/innovotech/mediadrop/internal/logger"
	"github.com/innovotech/mediadrop/internal/metrics"
	"github.com/innovotech/mediadrop/internal/model"
	"github.com/innovotech/mediadrop/internal/service"
	"github.com/innovotech/mediadrop/internal/worker"
)

// runtime holds what both commands share.
type runtime struct {
	cfg      *config.Config
	log      zerolog.Logger
	redis    *redis.Client
	redisOpt asynq.RedisClientOpt
	blobs    client.BlobStore
	blobDir  string
	metrics  *metrics.Metrics
}

func bootstrap(ctx context.Context) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Server.Env, cfg.Server.LogLevel)
	rt := &runtime{
		cfg: cfg,
		log: log,
		redisOpt: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		metrics: metrics.Default(),
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis not available")
		_ = redisClient.Close()
	} else {
		rt.redis = redisClient
	}

	rt.blobs, rt.blobDir, err = openBlobStore(ctx, cfg, log)
	if err != nil {
		rt.Close()
		return nil, err
	}

	return rt, nil
}

func (rt *runtime) Close() {
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

func (rt *runtime) redisProbe() handler.Probe {
	return func(c *fiber.Ctx) bool {
		if rt.redis == nil {
			return false
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), time.Second)
		defer cancel()
		return rt.redis.Ping(ctx).Err() == nil
	}
}

// openBlobStore picks the storage backend. The returned directory is non-empty
// only for the filesystem driver and is served under /blobs.
func openBlobStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (client.BlobStore, string, error) {
	switch cfg.Storage.Driver {
	case "", "r2":
		r2, err := client.NewR2Client(&cfg.R2, cfg.Storage.Timeout)
		if err != nil {
			return nil, "", fmt.Errorf("r2 storage: %w", err)
		}
		return r2, "", nil

	case "minio":
		m, err := client.NewMinioClient(ctx, &cfg.Minio, cfg.Storage.Timeout, log)
		if err != nil {
			return nil, "", fmt.Errorf("minio storage: %w", err)
		}
		return m, "", nil

	case "filesystem":
		publicURL := cfg.Filesystem.PublicURL
		if publicURL == "" {
			publicURL = "http://localhost:" + cfg.Server.Port + "/blobs"
		}
		fs, err := client.NewFilesystemStore(cfg.Filesystem.Dir, publicURL)
		if err != nil {
			return nil, "", fmt.Errorf("filesystem storage: %w", err)
		}
		log.Warn().Str("dir", fs.Dir()).Msg("using local filesystem blob store")
		return fs, fs.Dir(), nil

	default:
		return nil, "", fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func newWorkerServer(rt *runtime, concurrency int) *asynq.Server {
	return asynq.NewServer(rt.redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			service.QueueCleanup: 1,
		},
		Logger:          asynqLogger{log: rt.log.With().Str("component", "asynq").Logger()},
		LogLevel:        asynqLevel(rt.cfg.Server.LogLevel),
		ShutdownTimeout: 30 * time.Second,
	})
}

func newWorkerMux(cleanup *worker.CleanupWorker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(model.TaskTypeBlobCleanup, cleanup.ProcessTask)
	return mux
}

func asynqLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

// asynqLogger routes asynq's logging into zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
