package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codejudge/internal/common/cache"
	"codejudge/internal/common/db"
	commonmw "codejudge/internal/common/http/middleware"
	"codejudge/internal/common/mq"
	"codejudge/internal/common/storage"
	"codejudge/internal/judge/catalog"
	"codejudge/internal/judge/controller"
	"codejudge/internal/judge/judgeclient"
	"codejudge/internal/judge/repository"
	"codejudge/internal/judge/service"
	pkgerrors "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"
	"codejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
	if err != nil {
		logger.Error(context.Background(), "init database failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mysqlDB.Close()
	}()

	redisCache, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
	if err != nil {
		logger.Error(context.Background(), "init redis failed", zap.Error(err))
		return
	}
	defer func() {
		_ = redisCache.Close()
	}()

	problemCatalog, err := catalog.NewCachedCatalog(catalog.NewMySQLCatalog(mysqlDB), appCfg.Judge.CatalogCacheSize, appCfg.Judge.CatalogCacheTTL)
	if err != nil {
		logger.Error(context.Background(), "init catalog cache failed", zap.Error(err))
		return
	}
	defer problemCatalog.Close()

	judgeClient, err := judgeclient.NewClient(appCfg.Judge0.toClientConfig())
	if err != nil {
		logger.Error(context.Background(), "init judge client failed", zap.Error(err))
		return
	}
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := judgeClient.Ping(pingCtx); err != nil {
		logger.Warn(context.Background(), "remote judge is not reachable yet", zap.Error(err))
	}
	pingCancel()

	var publisher repository.StatusEventPublisher
	if len(appCfg.Kafka.Brokers) > 0 {
		producer, err := mq.NewKafkaProducer(appCfg.Kafka)
		if err != nil {
			logger.Error(context.Background(), "init kafka failed", zap.Error(err))
			return
		}
		defer func() {
			_ = producer.Close()
		}()
		publisher = repository.NewMQStatusEventPublisher(producer, appCfg.Judge.StatusTopic)
	}

	var archive service.SourceArchiver
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(context.Background(), "init minio failed", zap.Error(err))
			return
		}
		bucketCtx, bucketCancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = objStorage.EnsureBucket(bucketCtx, appCfg.MinIO.Bucket)
		bucketCancel()
		if err != nil {
			logger.Error(context.Background(), "ensure source bucket failed", zap.Error(err))
			return
		}
		sourceArchive, err := repository.NewSourceArchive(objStorage, appCfg.MinIO.Bucket, appCfg.Judge.SourcePrefix)
		if err != nil {
			logger.Error(context.Background(), "init source archive failed", zap.Error(err))
			return
		}
		archive = sourceArchive
	}

	var metrics *service.Metrics
	if appCfg.Metrics.Enabled {
		metrics, err = service.NewMetrics(prometheus.DefaultRegisterer)
		if err != nil {
			logger.Error(context.Background(), "register metrics failed", zap.Error(err))
			return
		}
	}

	judgeService, err := service.NewService(service.Config{
		Store:                    repository.NewMySQLSubmissionStore(mysqlDB),
		Catalog:                  problemCatalog,
		Judge:                    judgeClient,
		StatusCache:              repository.NewStatusCache(redisCache, appCfg.Judge.StatusTTL),
		Publisher:                publisher,
		Archive:                  archive,
		Metrics:                  metrics,
		MaxConcurrentSubmissions: appCfg.Judge.MaxConcurrentSubmissions,
		MaxParallelTests:         appCfg.Judge.MaxParallelTests,
		MaxCodeChars:             appCfg.Judge.MaxCodeChars,
		LockTTL:                  appCfg.Judge.LockTTL,
		QueueTimeout:             appCfg.Judge.QueueTimeout,
		PersistRetries:           appCfg.Judge.PersistRetries,
		PersistBackoff:           appCfg.Judge.PersistBackoff,
		PersistBackoffMax:        appCfg.Judge.PersistBackoffMax,
		Timeouts:                 appCfg.Judge.Timeouts.toServiceTimeouts(),
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	auth := commonmw.NewAuthenticator(appCfg.Auth.Secret, appCfg.Auth.Issuer)
	httpServer := buildHTTPServer(appCfg, judgeService, auth, healthCheck(mysqlDB, redisCache))
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(context.Background(), "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(context.Background(), "http server shutdown failed", zap.Error(err))
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), appCfg.Server.DrainTimeout)
	defer drainCancel()
	if err := judgeService.Wait(drainCtx); err != nil {
		logger.Error(context.Background(), "in-flight submissions did not finish before shutdown", zap.Error(err))
	}
}

func buildHTTPServer(cfg *AppConfig, judgeService *service.Service, auth *commonmw.Authenticator, health gin.HandlerFunc) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", health)
	if cfg.Metrics.Enabled {
		router.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	submissionController := controller.NewSubmissionController(judgeService, cfg.Watch)
	submissionController.Register(router, commonmw.AuthMiddleware(auth))

	return &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func healthCheck(database db.Database, cacheClient cache.Cache) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := database.Ping(ctx); err != nil {
			response.ErrorWithCode(c, pkgerrors.ServiceUnavailable, "database unavailable")
			return
		}
		if err := cacheClient.Ping(ctx); err != nil {
			response.ErrorWithCode(c, pkgerrors.ServiceUnavailable, "cache unavailable")
			return
		}
		response.Success(c, gin.H{"status": "ok"})
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		logger.Info(
			c.Request.Context(),
			"request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
