package models

import (
	"strings"
	"time"
)

// SourceKind 数据来源标签
type SourceKind string

const (
	SourceBLEBand       SourceKind = "ble_band"
	SourceBLERing       SourceKind = "ble_ring"
	SourceSamsungHealth SourceKind = "samsung_health"
	SourceAppleHealth   SourceKind = "apple_health"
	SourceManualImport  SourceKind = "manual_import"
)

// AllSourceKinds 全部已知来源
var AllSourceKinds = []SourceKind{
	SourceBLEBand,
	SourceBLERing,
	SourceSamsungHealth,
	SourceAppleHealth,
	SourceManualImport,
}

// ParseSourceKind 解析来源标签（大小写不敏感）
func ParseSourceKind(s string) (SourceKind, error) {
	kind := SourceKind(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range AllSourceKinds {
		if k == kind {
			return k, nil
		}
	}
	return "", &DecodeError{Kind: ErrUnrecognizedSource, Source: SourceKind(s)}
}

// IsBLE 是否为 BLE 二进制来源
func (k SourceKind) IsBLE() bool {
	return k == SourceBLEBand || k == SourceBLERing
}

// Channel 原始载荷承载的数据类型
type Channel string

const (
	ChannelPhases    Channel = "phases"     // BLE 睡眠阶段记录
	ChannelHeartRate Channel = "heart_rate" // BLE 心率通知
	ChannelMotion    Channel = "motion"     // BLE 加速度通知
	ChannelDocument  Channel = "document"   // 健康平台 / 手动导入 JSON 文档
)

// RawPayload 来源适配层交给解码器的原始数据
type RawPayload struct {
	Channel    Channel
	Data       []byte
	ReceivedAt time.Time // BLE 通知到达时间，作为单次采样的时间戳
}
