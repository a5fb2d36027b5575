package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-sleep/internal/metrics"
	"wisefido-sleep/internal/models"
	"wisefido-sleep/internal/repository"
	"wisefido-sleep/internal/store"
	rediscommon "wisefido-sleep/owl-common/redis"
)

// errDelivery 持久化失败（可重试）；解码与组装错误不属于此类
var errDelivery = errors.New("session delivery failed")

// SessionSink 会话落库、归档、缓存并发布到输出流
type SessionSink struct {
	repo        repository.SessionRepository
	cache       *store.SessionCache
	redisClient *redis.Client
	stream      string
	logger      *zap.Logger
}

// NewSessionSink 创建会话输出
func NewSessionSink(
	repo repository.SessionRepository,
	cache *store.SessionCache,
	redisClient *redis.Client,
	stream string,
	logger *zap.Logger,
) *SessionSink {
	return &SessionSink{
		repo:        repo,
		cache:       cache,
		redisClient: redisClient,
		stream:      stream,
		logger:      logger,
	}
}

// Deliver 保存会话与原始载荷，更新缓存，发布概要
//
// 会话与载荷在同一事务中写入，失败返回 errDelivery；缓存与发布失败只记录日志。
func (s *SessionSink) Deliver(ctx context.Context, session *models.SleepSession, raw []models.RawPayload) error {
	if err := s.repo.SaveSessionWithPayloads(ctx, session, raw); err != nil {
		return fmt.Errorf("%w: %w", errDelivery, err)
	}

	summary := metrics.Summarize(session)
	if err := s.cache.PutLatest(ctx, summary); err != nil {
		s.logger.Warn("Failed to update session cache",
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}

	streamID, err := rediscommon.PublishJSONToStream(ctx, s.redisClient, s.stream, summary)
	if err != nil {
		s.logger.Warn("Failed to publish to session stream", zap.Error(err))
	}

	s.logger.Info("Sleep session stored",
		zap.String("session_id", session.ID),
		zap.String("device_id", session.DeviceID),
		zap.String("source", string(session.Source)),
		zap.String("date", session.Date),
		zap.Int("quality", session.Quality),
		zap.String("stream_id", streamID),
	)
	return nil
}
