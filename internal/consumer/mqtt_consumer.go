package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"wisefido-sleep/internal/analyzer"
	"wisefido-sleep/internal/assembler"
	"wisefido-sleep/internal/config"
	"wisefido-sleep/internal/models"
	mqttcommon "wisefido-sleep/owl-common/mqtt"
)

// channelEnd 设备上报一晚结束，触发组装
const channelEnd = "end"

const (
	bufferIdleTimeout = 12 * time.Hour
	deliverTimeout    = 10 * time.Second
)

// Subscriber MQTT 订阅接口（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// endMessage end 通道可选的 JSON 元数据
type endMessage struct {
	TenantID   string `json:"tenant_id"`
	TimeInBed  *int   `json:"time_in_bed"`
	Awakenings *int   `json:"awakenings"`
}

type deviceSession struct {
	buf      *assembler.SessionBuffer
	raw      []models.RawPayload
	lastSeen time.Time
}

// MQTTConsumer BLE 网关 MQTT 消费者
//
// 主题格式 sleep/ble/{device_id}/{channel}。同一设备的通知按到达顺序
// 累积，收到 end 后组装为一晚的会话并交给 SessionSink。
type MQTTConsumer struct {
	config     *config.Config
	subscriber Subscriber
	analyzer   *analyzer.Analyzer
	sink       *SessionSink
	logger     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*deviceSession
	now      func() time.Time
}

// NewMQTTConsumer 创建 MQTT 消费者
func NewMQTTConsumer(
	cfg *config.Config,
	subscriber Subscriber,
	a *analyzer.Analyzer,
	sink *SessionSink,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		config:     cfg,
		subscriber: subscriber,
		analyzer:   a,
		sink:       sink,
		logger:     logger,
		sessions:   make(map[string]*deviceSession),
		now:        time.Now,
	}
}

// Start 订阅 BLE 主题，阻塞直到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	topic := c.config.Sleep.BLETopic
	if topic == "" {
		return fmt.Errorf("BLE MQTT topic not configured")
	}

	if err := c.subscriber.Subscribe(topic, 1, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to BLE topic: %w", err)
	}

	c.logger.Info("MQTT consumer started",
		zap.String("topic", topic),
		zap.String("source", string(c.config.Sleep.BLESource)),
	)

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.evictIdle()
		}
	}
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop(ctx context.Context) error {
	topic := c.config.Sleep.BLETopic
	if topic != "" {
		if err := c.subscriber.Unsubscribe(topic); err != nil {
			c.logger.Error("Failed to unsubscribe", zap.Error(err))
		}
	}

	c.mu.Lock()
	pending := len(c.sessions)
	c.mu.Unlock()

	c.logger.Info("MQTT consumer stopped", zap.Int("pending_devices", pending))
	return nil
}

// parseTopic 解析 sleep/ble/{device_id}/{channel}
func parseTopic(topic string) (deviceID, channel string, err error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return "", "", fmt.Errorf("invalid topic: %s", topic)
	}
	deviceID = parts[len(parts)-2]
	channel = parts[len(parts)-1]
	if deviceID == "" || channel == "" {
		return "", "", fmt.Errorf("invalid topic: %s", topic)
	}
	return deviceID, channel, nil
}

// handleMessage 处理 MQTT 消息
func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	deviceID, channel, err := parseTopic(topic)
	if err != nil {
		return err
	}

	if channel == channelEnd {
		return c.finishDevice(deviceID, payload)
	}

	raw := models.RawPayload{
		Channel:    models.Channel(channel),
		Data:       append([]byte(nil), payload...),
		ReceivedAt: c.now().UTC(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ds, ok := c.sessions[deviceID]
	if !ok {
		ds = &deviceSession{buf: assembler.NewSessionBuffer(c.config.Sleep.BLESource, deviceID, "")}
		c.sessions[deviceID] = ds
	}
	ds.lastSeen = raw.ReceivedAt

	if err := c.analyzer.Fold(ds.buf, raw); err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}
	ds.raw = append(ds.raw, raw)
	return nil
}

// finishDevice 组装并投递设备当前缓冲的会话
func (c *MQTTConsumer) finishDevice(deviceID string, payload []byte) error {
	meta := models.SessionMetadata{DeviceID: deviceID}
	if len(payload) > 0 {
		var end endMessage
		if err := json.Unmarshal(payload, &end); err != nil {
			return fmt.Errorf("device %s: invalid end message: %w", deviceID, err)
		}
		meta.TenantID = end.TenantID
		meta.TimeInBedMinutes = end.TimeInBed
		meta.Awakenings = end.Awakenings
	}

	c.mu.Lock()
	ds, ok := c.sessions[deviceID]
	delete(c.sessions, deviceID)
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("End received without buffered data", zap.String("device_id", deviceID))
		return nil
	}

	ds.buf.SetMetadata(meta)
	session, err := c.analyzer.Finish(ds.buf)
	if err != nil {
		return fmt.Errorf("device %s: %w", deviceID, err)
	}
	if session == nil {
		c.logger.Info("Night produced no sleep phases", zap.String("device_id", deviceID))
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	if err := c.sink.Deliver(ctx, session, ds.raw); err != nil {
		c.restoreDevice(deviceID, ds)
		return err
	}
	return nil
}

// restoreDevice 投递失败后放回设备缓冲，下一次 end 重新组装
// 期间新到的载荷合并到放回的缓冲之后
func (c *MQTTConsumer) restoreDevice(deviceID string, ds *deviceSession) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if newer, ok := c.sessions[deviceID]; ok {
		for _, raw := range newer.raw {
			if err := c.analyzer.Fold(ds.buf, raw); err != nil {
				c.logger.Warn("Failed to merge BLE payload",
					zap.String("device_id", deviceID),
					zap.String("channel", string(raw.Channel)),
					zap.Error(err),
				)
				continue
			}
			ds.raw = append(ds.raw, raw)
		}
	}
	ds.lastSeen = c.now().UTC()
	c.sessions[deviceID] = ds

	c.logger.Warn("BLE night kept for retry",
		zap.String("device_id", deviceID),
		zap.Int("payloads", len(ds.raw)),
	)
}

// evictIdle 丢弃长时间没有 end 的设备缓冲
func (c *MQTTConsumer) evictIdle() {
	cutoff := c.now().Add(-bufferIdleTimeout)

	c.mu.Lock()
	defer c.mu.Unlock()
	for deviceID, ds := range c.sessions {
		if ds.lastSeen.Before(cutoff) {
			c.logger.Warn("Dropping idle BLE buffer",
				zap.String("device_id", deviceID),
				zap.Int("payloads", len(ds.raw)),
				zap.Time("last_seen", ds.lastSeen),
			)
			delete(c.sessions, deviceID)
		}
	}
}
