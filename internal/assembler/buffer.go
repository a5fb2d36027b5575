package assembler

import (
	"wisefido-sleep/internal/models"
)

// SessionBuffer 调用方持有的同步累积器
//
// 逐个 Append 规范化批次，收齐后 Assemble。无内部 goroutine 和锁，
// 并发访问由持有者串行化（例如 MQTT 消费者按设备加锁）。
type SessionBuffer struct {
	source    models.SourceKind
	meta      models.SessionMetadata
	phases    []models.SleepPhase
	heartRate []models.HeartRateSample
	motion    []models.MotionSample
}

// NewSessionBuffer 创建会话缓冲
func NewSessionBuffer(source models.SourceKind, deviceID, tenantID string) *SessionBuffer {
	return &SessionBuffer{
		source: source,
		meta:   models.SessionMetadata{DeviceID: deviceID, TenantID: tenantID},
	}
}

// Append 累积一个批次；后到的元数据覆盖先到的
func (b *SessionBuffer) Append(batch *models.NormalizedBatch) {
	if batch == nil {
		return
	}
	b.phases = append(b.phases, batch.Phases...)
	b.heartRate = append(b.heartRate, batch.HeartRate...)
	b.motion = append(b.motion, batch.Motion...)
	if batch.Meta.TimeInBedMinutes != nil {
		v := *batch.Meta.TimeInBedMinutes
		b.meta.TimeInBedMinutes = &v
	}
	if batch.Meta.Awakenings != nil {
		v := *batch.Meta.Awakenings
		b.meta.Awakenings = &v
	}
}

// SetMetadata 设置调用方已知的元数据（例如流消息携带的 time_in_bed）
func (b *SessionBuffer) SetMetadata(meta models.SessionMetadata) {
	if meta.DeviceID != "" {
		b.meta.DeviceID = meta.DeviceID
	}
	if meta.TenantID != "" {
		b.meta.TenantID = meta.TenantID
	}
	if meta.TimeInBedMinutes != nil {
		b.meta.TimeInBedMinutes = meta.TimeInBedMinutes
	}
	if meta.Awakenings != nil {
		b.meta.Awakenings = meta.Awakenings
	}
}

// Assemble 组装当前缓冲内容，缓冲本身保持不变
func (b *SessionBuffer) Assemble() (*models.SleepSession, error) {
	return Assemble(b.source, b.phases, b.heartRate, b.motion, b.meta)
}

// Reset 清空阶段、采样和来源元数据，保留设备与租户
func (b *SessionBuffer) Reset() {
	b.phases = nil
	b.heartRate = nil
	b.motion = nil
	b.meta = models.SessionMetadata{DeviceID: b.meta.DeviceID, TenantID: b.meta.TenantID}
}

// Len 已累积的阶段数
func (b *SessionBuffer) Len() int {
	return len(b.phases)
}

// Source 缓冲对应的来源
func (b *SessionBuffer) Source() models.SourceKind {
	return b.source
}
