package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wyfcoding/p2pmatching/internal/matching/application"
	"github.com/wyfcoding/p2pmatching/internal/matching/infrastructure/notifier"
	poolredis "github.com/wyfcoding/p2pmatching/internal/matching/infrastructure/persistence/redis"
	"github.com/wyfcoding/p2pmatching/internal/matching/infrastructure/pricing"
	httpserver "github.com/wyfcoding/p2pmatching/internal/matching/interfaces/http"
	"github.com/wyfcoding/pkg/cache"
	"github.com/wyfcoding/pkg/config"
	"github.com/wyfcoding/pkg/logging"
	"github.com/wyfcoding/pkg/messagequeue/kafka"
	"github.com/wyfcoding/pkg/metrics"
	"golang.org/x/sync/errgroup"
)

var configPath = flag.String("config", "configs/matching/config.toml", "config file path")

// Config 在平台基础配置上扩展撮合引擎自有段
type Config struct {
	config.Config `mapstructure:",squash"`
	Matching      MatchingConfig `mapstructure:"matching"`
}

// MatchingConfig 撮合引擎配置
type MatchingConfig struct {
	PushTopic       string            `mapstructure:"push_topic"`
	JanitorInterval time.Duration     `mapstructure:"janitor_interval"`
	IdleTimeout     time.Duration     `mapstructure:"idle_timeout"`
	RecordRetention time.Duration     `mapstructure:"record_retention"`
	ReferencePrices map[string]string `mapstructure:"reference_prices"`
}

func main() {
	flag.Parse()

	// 1. 配置
	var cfg Config
	if err := config.Load(*configPath, &cfg); err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 日志
	logCfg := logging.Config{Service: cfg.Server.Name, Level: cfg.Log.Level}
	logger := logging.NewFromConfig(logCfg)
	slog.SetDefault(logger.Logger)

	// 3. 指标
	metricsImpl := metrics.NewMetrics(cfg.Server.Name)

	// 4. Redis（分布式等待池 + 参考价）
	redisCache, err := cache.NewRedisCache(cfg.Data.Redis, cfg.CircuitBreaker, logger, metricsImpl)
	if err != nil {
		slog.Error("failed to init redis", "error", err)
		os.Exit(1)
	}
	defer redisCache.Close()

	// 5. Kafka 推送通道
	kafkaProducer := kafka.NewProducer(cfg.MessageQueue.Kafka, logger, metricsImpl)
	pushTopic := cfg.Matching.PushTopic
	if pushTopic == "" {
		pushTopic = "matching.push-events"
	}

	// 6. 仓储与协作方
	poolRepo := poolredis.NewPoolRedisRepository(redisCache.GetClient())
	pushNotifier := notifier.NewKafkaNotifier(kafkaProducer, pushTopic)
	oracle := pricing.NewRedisPriceOracle(
		redisCache.GetClient(),
		pricing.NewStaticPriceOracle(cfg.Matching.ReferencePrices),
	)

	// 7. 应用服务
	manager := application.NewMatchingManager(poolRepo, pushNotifier, oracle, application.ManagerConfig{
		JanitorInterval: cfg.Matching.JanitorInterval,
		IdleTimeout:     cfg.Matching.IdleTimeout,
		RecordRetention: cfg.Matching.RecordRetention,
	}, logger.Logger)
	querySvc := application.NewMatchingQueryService(manager)

	// 8. 接口层
	if cfg.Server.Environment == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())

	sys := r.Group("/sys")
	{
		sys.GET("/health", func(c *gin.Context) {
			status := "UP"
			if manager.Degraded() {
				status = "DEGRADED"
			}
			c.JSON(http.StatusOK, gin.H{
				"status":    status,
				"service":   cfg.Server.Name,
				"timestamp": time.Now().Unix(),
			})
		})
		sys.GET("/ready", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "READY"})
		})
	}
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(metricsImpl.Handler()))
	}

	httpHandler := httpserver.NewMatchingHandler(manager, querySvc)
	httpHandler.RegisterRoutes(r.Group(""))

	// 9. 启动
	g, ctx := errgroup.WithContext(context.Background())

	manager.Start(ctx)
	defer manager.Stop()

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Server.HTTP.Port)
		server := &http.Server{Addr: addr, Handler: r}
		slog.Info("HTTP server starting", "addr", addr)
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			slog.Info("shutting down server...")
		case <-ctx.Done():
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		slog.Error("server exited with error", "error", err)
	}
}
