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
	"arbiter/internal/contest/controller"
	contestrepo "arbiter/internal/contest/repository"
	"arbiter/internal/contest/service"
	judgerepo "arbiter/internal/judge/repository"
	"arbiter/internal/ranking"
	"arbiter/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/contest_service.yaml"

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

	submissionRepo := judgerepo.NewSubmissionRepository(mysqlDB, redisCache)
	executionRepo := judgerepo.NewExecutionRepository(mysqlDB)
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

	broadcaster := broadcast.NewMQBroadcaster(mqClient)
	dispatcher, err := service.NewDispatcher(mqClient, appCfg.Kafka.JudgeTopic, appCfg.Kafka.RejudgeTopic)
	if err != nil {
		logger.Error(context.Background(), "init dispatcher failed", zap.Error(err))
		return
	}

	submissionSvc, err := service.NewSubmissionService(
		mysqlDB, submissionRepo, contestRepo, memberRepo, problemRepo,
		dispatcher, broadcaster, objStorage, appCfg.Source.Bucket)
	if err != nil {
		logger.Error(context.Background(), "init submission service failed", zap.Error(err))
		return
	}
	freezeSvc, err := service.NewFreezeService(
		mysqlDB, contestRepo, submissionRepo, rankingEngine, snapshots, broadcaster)
	if err != nil {
		logger.Error(context.Background(), "init freeze service failed", zap.Error(err))
		return
	}

	httpServer := buildHTTPServer(appCfg.Server,
		controller.NewSubmissionController(submissionSvc, submissionRepo, executionRepo),
		controller.NewContestController(contestRepo, freezeSvc, rankingEngine))
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(context.Background(), "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "contest http server started", zap.String("addr", appCfg.Server.Addr))
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
}

func buildHTTPServer(cfg ServerConfig, submissions *controller.SubmissionController, contests *controller.ContestController) *http.Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/v1")
	api.POST("/submissions", submissions.Create)
	api.GET("/submissions/:id", submissions.Get)
	api.POST("/submissions/:id/rerun", submissions.Rerun)
	api.GET("/contests/:id/leaderboard", contests.Leaderboard)
	api.POST("/contests/:id/freeze", contests.Freeze)
	api.POST("/contests/:id/unfreeze", contests.Unfreeze)
	api.PUT("/contests/:id/autojudge", contests.SetAutoJudge)

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
