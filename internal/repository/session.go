package repository

import (
	"context"
	"time"

	"wisefido-sleep/internal/models"
)

// SessionRepository 睡眠会话存储接口（由 consumer 注入，不使用全局单例）
type SessionRepository interface {
	// SaveSession 保存已评分的会话；会话不可变，重复 ID 视为错误
	SaveSession(ctx context.Context, session *models.SleepSession) error
	// SaveSessionWithPayloads 在同一事务中保存会话并归档其原始载荷，失败时两者都不写入
	SaveSessionWithPayloads(ctx context.Context, session *models.SleepSession, payloads []models.RawPayload) error
	// GetSession 按 ID 读取；不存在时返回 ErrSessionNotFound
	GetSession(ctx context.Context, sessionID string) (*models.SleepSession, error)
	// ListSessions 按入睡日期区间 [from, to] 列出设备的会话
	ListSessions(ctx context.Context, deviceID string, from, to time.Time) ([]*models.SleepSession, error)
	// ListRawPayloads 按写入顺序读取会话归档的原始载荷
	ListRawPayloads(ctx context.Context, sessionID string) ([]models.RawPayload, error)
}
