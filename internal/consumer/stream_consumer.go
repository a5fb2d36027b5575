package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"wisefido-sleep/internal/analyzer"
	"wisefido-sleep/internal/config"
	"wisefido-sleep/internal/models"
	rediscommon "wisefido-sleep/owl-common/redis"
)

// StreamConsumer Redis Streams 消费者（健康平台 / 手动导入的载荷）
type StreamConsumer struct {
	config      *config.Config
	redisClient *redis.Client
	analyzer    *analyzer.Analyzer
	sink        *SessionSink
	logger      *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(
	cfg *config.Config,
	redisClient *redis.Client,
	a *analyzer.Analyzer,
	sink *SessionSink,
	logger *zap.Logger,
) *StreamConsumer {
	return &StreamConsumer{
		config:      cfg,
		redisClient: redisClient,
		analyzer:    a,
		sink:        sink,
		logger:      logger,
	}
}

// Start 启动消费者，阻塞直到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	stream := c.config.Sleep.Streams.Payload
	if err := rediscommon.EnsureConsumerGroup(ctx, c.redisClient, stream, c.config.Sleep.ConsumerGroup); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", stream, err)
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", stream),
		zap.String("consumer_group", c.config.Sleep.ConsumerGroup),
		zap.String("consumer_name", c.config.Sleep.ConsumerName),
	)

	backoffDuration := time.Second // 初始退避时间
	maxBackoff := 30 * time.Second // 最大退避时间

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if _, err := c.consumeOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume stream",
				zap.String("stream", stream),
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)

			// 指数退避：等待后重试
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoffDuration):
				backoffDuration *= 2
				if backoffDuration > maxBackoff {
					backoffDuration = maxBackoff
				}
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// consumeOnce 先重试本消费者未确认的消息，没有时再读取新消息，返回已确认的消息数
//
// 有消息因落库失败留在 pending 中时返回 error，由 Start 退避后重试。
func (c *StreamConsumer) consumeOnce(ctx context.Context) (int, error) {
	stream := c.config.Sleep.Streams.Payload
	group := c.config.Sleep.ConsumerGroup

	messages, err := rediscommon.ReadPendingFromStream(ctx, c.redisClient, stream, group,
		c.config.Sleep.ConsumerName, c.config.Sleep.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to read pending messages from %s: %w", stream, err)
	}
	if len(messages) > 0 {
		c.logger.Info("Retrying pending messages",
			zap.String("stream", stream),
			zap.Int("count", len(messages)),
		)
	} else {
		messages, err = rediscommon.ReadFromStream(ctx, c.redisClient, stream, group,
			c.config.Sleep.ConsumerName, c.config.Sleep.BatchSize, c.config.Sleep.BlockTime)
		if err != nil {
			return 0, fmt.Errorf("failed to read from stream %s: %w", stream, err)
		}
	}

	var (
		acked       []string
		deliveryErr error
		pending     int
	)
	for _, msg := range messages {
		err := c.processMessage(ctx, msg)
		if err != nil {
			c.logger.Error("Failed to process message",
				zap.String("stream", stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		// 解码、组装错误重试结果相同，直接确认；落库失败留在 pending 中
		if errors.Is(err, errDelivery) {
			pending++
			deliveryErr = err
			continue
		}
		acked = append(acked, msg.ID)
	}

	if err := rediscommon.Ack(ctx, c.redisClient, stream, group, acked...); err != nil {
		return 0, fmt.Errorf("failed to ack messages: %w", err)
	}
	if deliveryErr != nil {
		return len(acked), fmt.Errorf("%d message(s) left pending: %w", pending, deliveryErr)
	}
	return len(acked), nil
}

// processMessage 分析单条载荷消息
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	payloadMsg, err := models.ParsePayloadMessage(msg.Values)
	if err != nil {
		return fmt.Errorf("failed to parse payload message: %w", err)
	}

	source, err := models.ParseSourceKind(payloadMsg.Source)
	if err != nil {
		return err
	}

	payload := payloadMsg.RawPayload()
	session, skipped, err := c.analyzer.Analyze(source, []models.RawPayload{payload}, payloadMsg.Metadata())
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		return fmt.Errorf("batch %s: %w", payloadMsg.BatchID, skipped[0])
	}
	if session == nil {
		c.logger.Info("Payload produced no sleep phases",
			zap.String("device_id", payloadMsg.DeviceID),
			zap.String("batch_id", payloadMsg.BatchID),
			zap.String("source", string(source)),
		)
		return nil
	}

	return c.sink.Deliver(ctx, session, []models.RawPayload{payload})
}
