// Package store 会话概要缓存
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"wisefido-sleep/internal/models"
)

// encMode 确定性 CBOR 编码：相同概要总是得到相同字节
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
}

// DefaultSessionTTL 未配置时的缓存时长
const DefaultSessionTTL = 36 * time.Hour

// SessionCache 每个设备最近一次会话的概要
type SessionCache struct {
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionCache 创建会话缓存
func NewSessionCache(kv KV, ttl time.Duration, logger *zap.Logger) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionCache{kv: kv, ttl: ttl, logger: logger}
}

// LatestKey 设备最近会话的缓存键
func LatestKey(deviceID string) string {
	return fmt.Sprintf("sleep:session:%s:latest", deviceID)
}

// PutLatest 写入设备最近会话概要
func (c *SessionCache) PutLatest(ctx context.Context, summary models.SessionSummary) error {
	if summary.DeviceID == "" {
		return fmt.Errorf("session %s has no device id", summary.SessionID)
	}

	data, err := encMode.Marshal(summary)
	if err != nil {
		return fmt.Errorf("failed to encode session summary: %w", err)
	}

	key := LatestKey(summary.DeviceID)
	if err := c.kv.Set(ctx, key, string(data), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated latest session cache",
		zap.String("device_id", summary.DeviceID),
		zap.String("session_id", summary.SessionID),
		zap.String("key", key),
	)
	return nil
}

// GetLatest 读取设备最近会话概要；不存在时返回 ErrMiss
func (c *SessionCache) GetLatest(ctx context.Context, deviceID string) (*models.SessionSummary, error) {
	raw, err := c.kv.Get(ctx, LatestKey(deviceID))
	if err != nil {
		return nil, err
	}

	var summary models.SessionSummary
	if err := cbor.Unmarshal([]byte(raw), &summary); err != nil {
		return nil, fmt.Errorf("failed to decode session summary: %w", err)
	}
	return &summary, nil
}
