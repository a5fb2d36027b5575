package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"wisefido-sleep/internal/analyzer"
	"wisefido-sleep/internal/config"
	"wisefido-sleep/internal/consumer"
	"wisefido-sleep/internal/normalizer"
	"wisefido-sleep/internal/repository"
	"wisefido-sleep/internal/store"
	"wisefido-sleep/owl-common/database"
	mqttcommon "wisefido-sleep/owl-common/mqtt"
	rediscommon "wisefido-sleep/owl-common/redis"
)

// SleepService 睡眠分析服务
type SleepService struct {
	config         *config.Config
	logger         *zap.Logger
	db             *sql.DB
	redis          *redis.Client
	mqttClient     *mqttcommon.Client
	streamConsumer *consumer.StreamConsumer
	mqttConsumer   *consumer.MQTTConsumer
}

// NewAnalyzer 按配置创建分析器（规范化表覆盖文件与时区）
func NewAnalyzer(cfg *config.Config, logger *zap.Logger) (*analyzer.Analyzer, error) {
	opts := []normalizer.Option{normalizer.WithLocation(cfg.Location())}
	if cfg.Sleep.NormalizerTablesFile != "" {
		tables, err := normalizer.LoadTablesYAML(cfg.Sleep.NormalizerTablesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, normalizer.WithTables(tables))
		logger.Info("Loaded normalizer tables", zap.String("file", cfg.Sleep.NormalizerTablesFile))
	}
	return analyzer.New(normalizer.New(logger, opts...), logger), nil
}

// NewSleepService 创建睡眠分析服务
func NewSleepService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*SleepService, error) {
	a, err := NewAnalyzer(cfg, logger)
	if err != nil {
		return nil, err
	}

	// 初始化数据库
	db, err := database.NewPostgresDB(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		redisClient.Close()
		db.Close()
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	repo := repository.NewPostgresSessionRepository(db, logger)
	cache := store.NewSessionCache(store.NewRedisKV(redisClient), cfg.Sleep.SessionCacheTTL, logger)
	sink := consumer.NewSessionSink(repo, cache, redisClient, cfg.Sleep.Streams.Session, logger)

	return &SleepService{
		config:         cfg,
		logger:         logger,
		db:             db,
		redis:          redisClient,
		mqttClient:     mqttClient,
		streamConsumer: consumer.NewStreamConsumer(cfg, redisClient, a, sink, logger),
		mqttConsumer:   consumer.NewMQTTConsumer(cfg, mqttClient, a, sink, logger),
	}, nil
}

// Start 启动服务，阻塞直到 ctx 取消或任一消费者失败
func (s *SleepService) Start(ctx context.Context) error {
	s.logger.Info("Starting sleep service components")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.streamConsumer.Start(gctx); err != nil {
			return fmt.Errorf("failed to start stream consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := s.mqttConsumer.Start(gctx); err != nil {
			return fmt.Errorf("failed to start MQTT consumer: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop 停止服务
func (s *SleepService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sleep service")

	if s.mqttConsumer != nil {
		if err := s.mqttConsumer.Stop(ctx); err != nil {
			s.logger.Error("Error stopping MQTT consumer", zap.Error(err))
		}
	}

	// 断开MQTT
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}

	// 关闭Redis
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("Error closing redis", zap.Error(err))
		}
	}

	// 关闭数据库
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("Error closing database", zap.Error(err))
		}
	}

	s.logger.Info("Sleep service stopped")
	return nil
}
