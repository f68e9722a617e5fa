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

	"arbiter/internal/broadcast"
	"arbiter/internal/common/cache"
	"arbiter/internal/common/db"
	commonmw "arbiter/internal/common/http/middleware"
	"arbiter/internal/common/mq"
	"arbiter/internal/common/storage"
	contestrepo "arbiter/internal/contest/repository"
	"arbiter/internal/judge/fixture"
	"arbiter/internal/judge/repository"
	"arbiter/internal/judge/sandbox/engine"
	"arbiter/internal/judge/sandbox/observer"
	"arbiter/internal/judge/sandbox/profile"
	"arbiter/internal/judge/sandbox/runner"
	"arbiter/internal/judge/service"
	"arbiter/internal/ranking"
	"arbiter/pkg/utils/logger"
	"arbiter/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/judge_worker.yaml"

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

	objStorage, err := storage.NewMinIOStorage(appCfg.MinIO)
	if err != nil {
		logger.Error(context.Background(), "init minio failed", zap.Error(err))
		return
	}

	mqClient, err := mq.NewKafkaQueue(appCfg.Kafka.toMQConfig())
	if err != nil {
		logger.Error(context.Background(), "init kafka failed", zap.Error(err))
		return
	}
	defer func() {
		_ = mqClient.Close()
	}()

	languages, err := profile.NewRegistry(appCfg.Language.Languages)
	if err != nil {
		logger.Error(context.Background(), "init language registry failed", zap.Error(err))
		return
	}

	submissionRepo := repository.NewSubmissionRepository(mysqlDB, redisCache)
	executionRepo := repository.NewExecutionRepository(mysqlDB)
	contestRepo := contestrepo.NewContestRepository(mysqlDB, redisCache)
	memberRepo := contestrepo.NewMemberRepository(mysqlDB)
	problemRepo := contestrepo.NewProblemRepository(mysqlDB)

	snapshots, err := ranking.NewSnapshotStore(redisCache)
	if err != nil {
		logger.Error(context.Background(), "init snapshot store failed", zap.Error(err))
		return
	}
	rankingEngine, err := ranking.NewEngine(contestRepo, memberRepo, problemRepo, submissionRepo, snapshots)
	if err != nil {
		logger.Error(context.Background(), "init ranking engine failed", zap.Error(err))
		return
	}

	fixtureLoader, err := fixture.NewLoader(objStorage, appCfg.Fixture.Bucket, redisCache,
		fixture.WithMaxEntries(appCfg.Fixture.MaxEntries),
		fixture.WithTTL(appCfg.Fixture.TTL))
	if err != nil {
		logger.Error(context.Background(), "init fixture loader failed", zap.Error(err))
		return
	}

	dockerEngine := engine.NewDockerEngine(appCfg.Sandbox.toEngineConfig())
	sandboxRunner, err := runner.NewDefaultRunner(dockerEngine, observer.NewLogRecorder())
	if err != nil {
		logger.Error(context.Background(), "init sandbox runner failed", zap.Error(err))
		return
	}

	broadcaster := broadcast.NewMQBroadcaster(mqClient)

	judgeSvc, err := service.NewService(service.Config{
		Runner:            sandboxRunner,
		Database:          mysqlDB,
		Submissions:       submissionRepo,
		Executions:        executionRepo,
		Contests:          contestRepo,
		Problems:          problemRepo,
		Languages:         languages,
		Fixtures:          fixtureLoader,
		Storage:           objStorage,
		SourceBucket:      appCfg.Source.Bucket,
		Broadcaster:       broadcaster,
		Rankings:          rankingEngine,
		Queue:             mqClient,
		RetryTopic:        appCfg.Kafka.RejudgeTopic,
		JudgeTimeout:      appCfg.Worker.Timeout,
		StorageTimeout:    appCfg.Source.Timeout,
		PoolRetryMax:      appCfg.Kafka.PoolRetryMax,
		PoolRetryBase:     appCfg.Kafka.PoolRetryBase,
		PoolRetryMaxDelay: appCfg.Kafka.PoolRetryMaxD,
		WorkerPoolSize:    appCfg.Worker.PoolSize,
	})
	if err != nil {
		logger.Error(context.Background(), "init judge service failed", zap.Error(err))
		return
	}

	weightedTopics := make([]mq.WeightedTopic, 0, 2)
	for _, topic := range []string{appCfg.Kafka.JudgeTopic, appCfg.Kafka.RejudgeTopic} {
		weight := appCfg.Kafka.TopicWeights[topic]
		if weight <= 0 {
			logger.Error(context.Background(), "invalid topic weight", zap.String("topic", topic), zap.Int("weight", weight))
			return
		}
		weightedTopics = append(weightedTopics, mq.WeightedTopic{Topic: topic, Weight: weight})
	}

	limiter := mq.NewTokenLimiter(appCfg.Worker.PoolSize)
	err = mqClient.SubscribeWeighted(context.Background(), weightedTopics, judgeSvc.HandleMessage, &mq.SubscribeOptions{
		ConsumerGroup:   appCfg.Kafka.ConsumerGroup,
		PrefetchCount:   appCfg.Kafka.PrefetchCount,
		Concurrency:     appCfg.Kafka.Concurrency,
		MaxRetries:      appCfg.Kafka.MaxRetries,
		RetryDelay:      appCfg.Kafka.RetryDelay,
		DeadLetterTopic: appCfg.Kafka.DeadLetter,
		MessageTTL:      appCfg.Kafka.MessageTTL,
	}, limiter)
	if err != nil {
		logger.Error(context.Background(), "subscribe judge lanes failed", zap.Error(err))
		return
	}
	err = mqClient.SubscribeWithOptions(context.Background(), appCfg.Kafka.DeadLetter, judgeSvc.HandleDeadLetter, &mq.SubscribeOptions{
		ConsumerGroup: appCfg.Kafka.ConsumerGroup + "-dead",
		Concurrency:   1,
	})
	if err != nil {
		logger.Error(context.Background(), "subscribe dead letter failed", zap.Error(err))
		return
	}
	if err := mqClient.Start(); err != nil {
		logger.Error(context.Background(), "start kafka consumer failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server, languages)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "judge worker http server started", zap.String("addr", appCfg.Server.Addr))
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
	_ = mqClient.Stop()
}

func buildHTTPServer(cfg ServerConfig, languages *profile.Registry) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/api/v1/languages", func(c *gin.Context) {
		response.Success(c, gin.H{"languages": languages.IDs()})
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
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
