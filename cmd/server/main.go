// Package main runs the quiz game HTTP server with WebSocket matches and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/brainquiz/backend/config"
	"github.com/brainquiz/backend/internal/atlas"
	"github.com/brainquiz/backend/internal/auth"
	"github.com/brainquiz/backend/internal/middleware"
	"github.com/brainquiz/backend/internal/multiplayer"
	"github.com/brainquiz/backend/internal/realtime"
	"github.com/brainquiz/backend/internal/results"
	"github.com/brainquiz/backend/internal/singleplayer"
	"github.com/brainquiz/backend/internal/storage/memstore"
	"github.com/brainquiz/backend/internal/worker"
	"github.com/brainquiz/backend/pkg/database"
	"github.com/brainquiz/backend/pkg/queue"
	"github.com/brainquiz/backend/pkg/redis"
	"github.com/brainquiz/backend/pkg/response"
	"github.com/brainquiz/backend/pkg/storage"
)

// backends groups the persistence used by the game services.
type backends struct {
	single  singleplayer.Store
	multi   multiplayer.Store
	results worker.ResultWriter
	users   multiplayer.UserDirectory
}

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	var store backends
	switch cfg.Database.Driver {
	case "memory":
		mem := memstore.New()
		store = backends{single: mem, multi: mem, results: mem, users: mem}
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		var pool *pgxpool.Pool
		pool, err = database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			logger.Fatal("database", zap.Error(err))
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		store = backends{
			single:  singleplayer.NewRepository(pool),
			multi:   multiplayer.NewRepository(pool),
			results: results.NewRepository(pool),
			users:   auth.NewRepository(pool),
		}
	}

	catalog := atlas.NewCatalog(atlasSource(ctx, cfg, logger), logger)
	if n := catalog.LoadAll(ctx, cfg.Atlas.IDs); n == 0 {
		logger.Fatal("no atlas could be loaded", zap.Strings("atlases", cfg.Atlas.IDs))
	}

	var (
		rdb      *redis.Client
		mirror   realtime.Publisher
		jobQueue *queue.Queue
	)
	if cfg.Redis.Enabled {
		rdb, err = redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			logger.Warn("redis disabled", zap.Error(err))
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	var pubsub *realtime.RedisPubSub
	if rdb != nil {
		defer rdb.Close()
		pubsub = realtime.NewRedisPubSub(rdb.Client, logger)
		go pubsub.Run(bgCtx)
		mirror = pubsub
		jobQueue = queue.NewQueue(rdb.Client, logger)
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.SessionTokenTTL)
	hub := realtime.NewHub(logger, mirror)

	// Single-player
	singleSvc := singleplayer.NewService(store.single, store.results, catalog, jwtService, cfg.Game.TimeAttackDuration, logger)
	singleHandler := singleplayer.NewHandler(singleSvc)

	// Multiplayer
	ctrl := multiplayer.NewController(multiplayer.NewRegistry(), store.multi, store.results, store.users, catalog, jwtService, hub, multiplayer.Settings{
		DefaultRegionsNumber: cfg.Game.DefaultRegionsNumber,
		DefaultRegionSeconds: int(cfg.Game.DefaultRegionDuration / time.Second),
		LoadAtlasSeconds:     int(cfg.Game.LoadAtlasDuration / time.Second),
		AllowAnonymous:       cfg.Game.AllowAnonymous,
	}, logger)
	upgrader := realtime.NewUpgrader(middleware.ParseOrigins(cfg.Server.CORSAllowedOrigins))
	multiHandler := multiplayer.NewHandler(ctrl, hub, upgrader, logger)
	reaper := multiplayer.NewReaper(ctrl, cfg.Game.ReaperInterval, cfg.Game.InactivityTimeout, logger)

	// Background worker (failed result writes)
	if jobQueue != nil {
		ctrl.SetRetrier(jobQueue)
		go worker.NewResultProcessor(store.results, jobQueue, logger).Run(bgCtx)
		logger.Info("result worker started")
	}

	var throttle *middleware.IPLimiter
	if cfg.Server.JoinRatePerMinute > 0 {
		throttle = middleware.NewIPLimiter(cfg.Server.JoinRatePerMinute, cfg.Server.JoinRatePerMinute/2+1)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	// Health
	router.GET("/health", func(c *gin.Context) {
		response.OK(c, gin.H{"status": "ok", "atlases": len(catalog.List()), "matches": ctrl.Matches()})
	})

	atlas.NewHandler(catalog).RegisterRoutes(router)
	jwtAuth := middleware.JWT(jwtService)
	singleHandler.RegisterRoutes(router, jwtAuth)
	multiHandler.RegisterRoutes(router, jwtAuth, middleware.RateLimit(throttle))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	reaper.Start()

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	reaper.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	ctrl.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	bgCancel()
	if pubsub != nil {
		<-pubsub.Done()
	}
	logger.Info("server stopped")
}

// atlasSource picks where atlas assets are read from. Remote assets are mirrored to the
// cache directory when one is configured.
func atlasSource(ctx context.Context, cfg *config.Config, logger *zap.Logger) atlas.Source {
	if cfg.Atlas.Source != "s3" {
		return atlas.DirSource{Root: cfg.Atlas.Dir}
	}
	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:          cfg.AWS.Region,
		AccessKeyID:     cfg.AWS.AccessKeyID,
		SecretAccessKey: cfg.AWS.SecretAccessKey,
		AtlasBucket:     cfg.AWS.AtlasBucket,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}
	var src atlas.Source = atlas.S3Source{Client: s3Client, Bucket: s3Client.AtlasBucket()}
	if cfg.Atlas.CacheDir != "" {
		src = atlas.CachedSource{Primary: src, Dir: cfg.Atlas.CacheDir, Logger: logger}
	}
	return src
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
