package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"extract_gateway/internal/auth"
	"extract_gateway/internal/config"
	"extract_gateway/internal/logging"
	"extract_gateway/internal/middleware"
	"extract_gateway/internal/models"
	"extract_gateway/internal/progress"
	"extract_gateway/internal/queue"
	"extract_gateway/internal/quote"
	"extract_gateway/internal/ratelimit"
	"extract_gateway/internal/storage"
	"extract_gateway/internal/utils"

	"github.com/redis/go-redis/v9"
)

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	Engine      *quote.Engine
	Registry    *progress.Registry
	Broadcaster *progress.Broadcaster
	Keys        auth.KeyStore
	QuoteLimit  ratelimit.Limiter
	Events      logging.Sink
	// Queue worker for async quote archival; nil without a database.
	ArchiveWorker *storage.ArchiveQueueWorker
	DB            *storage.DB

	// wsReadLimit bounds how long a progress socket may stay silent
	// before its read loop gives up on it.
	wsReadLimit time.Duration

	redisClient *redis.Client
	logger      *utils.Logger
}

// NewRouter creates an HTTP router with all dependencies wired up.
// Backends are chosen from the configuration: Redis when an address is
// set, in-memory otherwise; Postgres-backed keys and archival when a
// database URL is set, env-configured keys otherwise.
func NewRouter(cfg *config.Config) (*http.ServeMux, *Dependencies, error) {
	logger := utils.NewLogger("httpapi", utils.ParseLogLevel(cfg.LogLevel))

	// Connect Redis when configured.
	var redisClient *redis.Client
	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Address,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}
	useRedis := redisClient != nil && cfg.Redis.Address != ""

	// Quote store and the quote-route rate limiter share the backend
	// choice so a multi-pod deployment stays consistent.
	var store quote.Store
	var limiter ratelimit.Limiter
	limitCfg := ratelimit.Config{Window: cfg.Quote.RateWindow, Max: cfg.Quote.RateMax}
	if useRedis {
		store = quote.NewRedisStore(redisClient)
		limiter = ratelimit.NewRedisLimiter(redisClient, "ratelimit:quote", limitCfg)
	} else {
		store = quote.NewMemoryStore()
		limiter = ratelimit.NewMemoryLimiter(limitCfg)
	}

	// Database is optional. With one, API keys live in Postgres and
	// every quote is archived through the queue worker; without one,
	// keys come from the environment and archival is disabled.
	var db *storage.DB
	var keys auth.KeyStore
	var worker *storage.ArchiveQueueWorker
	if cfg.Database.URL != "" {
		var err error
		db, err = storage.NewDB(storage.DBConfig{
			URL:             cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
			APIKeyCacheSize: cfg.Database.KeyCacheSize,
			APIKeyCacheTTL:  cfg.Database.KeyCacheTTL,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		schemaCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := db.EnsureSchema(schemaCtx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to ensure schema: %w", err)
		}
		keys = db.NewAPIKeyRepository()

		archiveCfg := queue.DefaultConfig("quote_archive")
		var archiveQueue queue.Queue
		var archiveDLQ queue.DeadLetterQueue
		if useRedis {
			archiveCfg.RedisAddr = cfg.Redis.Address
			archiveCfg.RedisPassword = cfg.Redis.Password
			archiveCfg.RedisDB = cfg.Redis.DB
			archiveQueue, err = queue.NewRedisQueue(archiveCfg)
			if err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("failed to create archive queue: %w", err)
			}
			archiveDLQ, err = queue.NewRedisDeadLetterQueue(archiveCfg)
			if err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("failed to create archive DLQ: %w", err)
			}
		} else {
			archiveQueue = queue.NewMemoryQueue(archiveCfg)
			archiveDLQ = queue.NewMemoryDeadLetterQueue()
		}
		worker = storage.NewArchiveQueueWorker(archiveQueue, archiveDLQ, db.NewQuoteArchiveRepository(), archiveCfg)
		worker.Start(context.Background())
	} else {
		keys = auth.NewStaticKeyStore(cfg.APIKeyHashes)
	}

	// Event sink: S3 batches when enabled, local JSONL otherwise.
	var events logging.Sink
	if cfg.S3Sink.Enabled {
		sink, err := logging.NewS3Sink(context.Background(), logging.S3SinkConfig{
			BufferSize:    cfg.S3Sink.BufferSize,
			FlushSize:     cfg.S3Sink.FlushSize,
			FlushInterval: cfg.S3Sink.FlushInterval,
			S3Bucket:      cfg.S3Sink.Bucket,
			S3Region:      cfg.S3Sink.Region,
			S3Prefix:      cfg.S3Sink.Prefix,
			PodName:       cfg.S3Sink.PodName,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize S3 sink: %w", err)
		}
		events = sink
	} else if cfg.EventLog.FilePathTemplate != "" {
		sink, err := logging.NewEventLogger(
			cfg.EventLog.FilePathTemplate,
			cfg.EventLog.MaxSize,
			cfg.EventLog.MaxFiles,
			cfg.EventLog.BufferSize,
			cfg.EventLog.FlushInterval,
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize event logger: %w", err)
		}
		events = sink
	} else {
		events = logging.NewNoopSink()
	}

	// A nil *ArchiveQueueWorker must not reach the engine as a non-nil
	// interface value.
	var archiver quote.Archiver
	if worker != nil {
		archiver = worker
	}
	engine := quote.NewEngine(store, models.DefaultCreditSchedule(), quote.Config{
		TTL:           cfg.Quote.TTL,
		SweepInterval: cfg.Quote.SweepInterval,
		MaxBytes:      cfg.Quote.MaxBytes,
		MaxFiles:      cfg.Quote.MaxFiles,
	}, archiver, events)
	engine.Start()

	registry := progress.NewRegistry(progress.Config{
		SessionCap:        cfg.Progress.SessionCap,
		HeartbeatInterval: cfg.Progress.HeartbeatInterval,
		SweepInterval:     cfg.Progress.SweepInterval,
		StaleAfter:        cfg.Progress.StaleAfter,
		SendBuffer:        cfg.Progress.SendBuffer,
	}, logger)
	registry.Start()

	deps := &Dependencies{
		Engine:        engine,
		Registry:      registry,
		Broadcaster:   progress.NewBroadcaster(registry, logger),
		Keys:          keys,
		QuoteLimit:    limiter,
		Events:        events,
		ArchiveWorker: worker,
		DB:            db,
		wsReadLimit:   cfg.Progress.StaleAfter,
		redisClient:   redisClient,
		logger:        logger,
	}

	mux := http.NewServeMux()
	registerRoutes(mux, deps, cfg)

	return mux, deps, nil
}

// Shutdown stops background work in dependency order: the quote sweep
// first, then the sockets, then the archive drain, then the event sink.
func (d *Dependencies) Shutdown(ctx context.Context) {
	d.Engine.Stop()
	d.Registry.Shutdown()
	if d.ArchiveWorker != nil {
		if err := d.ArchiveWorker.Stop(); err != nil {
			d.logger.Warn("archive worker stop", "error", err.Error())
		}
	}
	if err := d.Events.Shutdown(ctx); err != nil {
		d.logger.Warn("event sink shutdown", "error", err.Error())
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.logger.Warn("database close", "error", err.Error())
		}
	}
	if d.redisClient != nil {
		if err := d.redisClient.Close(); err != nil {
			d.logger.Warn("redis close", "error", err.Error())
		}
	}
}

// quoteRateKey buckets quote requests by API key when one is presented,
// falling back to the caller IP.
func quoteRateKey(r *http.Request) string {
	if k := r.Header.Get("X-API-Key"); len(k) >= auth.KeyPrefixLen {
		return "key:" + auth.KeyPrefix(k)
	}
	return "ip:" + utils.ClientIP(r)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies, cfg *config.Config) {
	tier := middleware.AccessTier(deps.Keys, cfg.JWTSecret)
	throttle := middleware.RateLimit(deps.QuoteLimit, quoteRateKey)

	// Quote creation carries its own limiter; reads and consumption are
	// bounded by quote IDs being unguessable.
	mux.Handle("/quote", tier(throttle(http.HandlerFunc(deps.handleCreateQuote))))
	mux.Handle("/quote/", tier(http.HandlerFunc(deps.handleQuoteByID)))

	// Progress websocket - public, capped per session by the registry.
	mux.HandleFunc("/progress/", deps.handleProgressSocket)

	// Internal endpoints - reachable only inside the pod network.
	mux.HandleFunc("/internal/progress", deps.handleInternalProgress)
	mux.HandleFunc("/internal/connections", deps.handleConnections)
	mux.HandleFunc("/internal/sessions/", deps.handleDeleteSession)

	mux.HandleFunc("/health", deps.handleHealth)
}
