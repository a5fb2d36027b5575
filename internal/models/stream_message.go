package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidDataFormat 流消息缺少 data 字段或格式错误
var ErrInvalidDataFormat = errors.New("invalid data format")

// PayloadMessage sleep:payload:stream 中的一条载荷消息（data 字段的 JSON）
//
// 健康平台来源的载荷是完整文档，每条消息单独分析；
// 同一 batch_id 的 BLE 通知由上游按设备聚合后以多条消息送达。
type PayloadMessage struct {
	BatchID    string     `json:"batch_id"`
	DeviceID   string     `json:"device_id"`
	TenantID   string     `json:"tenant_id"`
	Source     string     `json:"source"`
	Channel    Channel    `json:"channel"`
	Payload    []byte     `json:"payload"` // base64
	ReceivedAt *time.Time `json:"received_at,omitempty"`
	TimeInBed  *int       `json:"time_in_bed,omitempty"`
	Awakenings *int       `json:"awakenings,omitempty"`
}

// ParsePayloadMessage 从 Redis Streams 消息的 Values 解析载荷消息
func ParsePayloadMessage(values map[string]interface{}) (*PayloadMessage, error) {
	dataStr, ok := values["data"].(string)
	if !ok {
		return nil, ErrInvalidDataFormat
	}

	var msg PayloadMessage
	if err := json.Unmarshal([]byte(dataStr), &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataFormat, err)
	}
	if msg.DeviceID == "" {
		return nil, fmt.Errorf("%w: device_id is required", ErrInvalidDataFormat)
	}
	if msg.Channel == "" {
		msg.Channel = ChannelDocument
	}
	return &msg, nil
}

// RawPayload 转为解码器输入
func (m *PayloadMessage) RawPayload() RawPayload {
	p := RawPayload{Channel: m.Channel, Data: m.Payload}
	if m.ReceivedAt != nil {
		p.ReceivedAt = *m.ReceivedAt
	}
	return p
}

// Metadata 消息携带的会话元数据
func (m *PayloadMessage) Metadata() SessionMetadata {
	return SessionMetadata{
		DeviceID:         m.DeviceID,
		TenantID:         m.TenantID,
		TimeInBedMinutes: m.TimeInBed,
		Awakenings:       m.Awakenings,
	}
}
