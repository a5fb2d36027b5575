// Package decoder 将来源相关的原始载荷解码为 RawPhaseEvent 序列和原始采样
//
// 支持两类载荷：
//   - BLE 可穿戴设备：定长二进制记录（阶段记录批量，心率/加速度每次通知一个采样）
//   - 健康平台 / 手动导入：JSON 文档，按字段存在性映射
//
// 解码是纯函数，不持有可变共享状态，可在多个 goroutine 中并发调用。
package decoder

import (
	"wisefido-sleep/internal/models"
)

// Decode 按来源标签解码单个载荷
//
// 返回的错误均为 *models.DecodeError，只对当前载荷致命；
// 调用方应记录并跳过该载荷，继续处理同一批次中的其他载荷。
func Decode(source models.SourceKind, payload models.RawPayload) (*models.DecodedBatch, error) {
	if source.IsBLE() {
		profile, ok := BLEProfiles[source]
		if !ok {
			return nil, &models.DecodeError{Kind: models.ErrUnrecognizedSource, Source: source}
		}
		return decodeBLE(profile, payload)
	}

	schema, ok := documentSchemas[source]
	if !ok {
		return nil, &models.DecodeError{Kind: models.ErrUnrecognizedSource, Source: source}
	}
	if payload.Channel != models.ChannelDocument {
		return nil, &models.DecodeError{
			Kind:   models.ErrUnrecognizedLayout,
			Source: source,
			Field:  string(payload.Channel),
		}
	}
	return decodeDocument(source, schema, payload.Data)
}

func decodeBLE(profile BLEProfile, payload models.RawPayload) (*models.DecodedBatch, error) {
	batch := &models.DecodedBatch{Source: profile.Source}

	switch payload.Channel {
	case models.ChannelPhases:
		events, err := decodePhaseRecords(profile, payload.Data)
		if err != nil {
			return nil, err
		}
		batch.Events = events
	case models.ChannelHeartRate:
		sample, err := decodeHeartRate(profile, payload)
		if err != nil {
			return nil, err
		}
		batch.HeartRate = []models.RawHeartRateSample{sample}
	case models.ChannelMotion:
		sample, err := decodeMotion(profile, payload)
		if err != nil {
			return nil, err
		}
		batch.Motion = []models.RawMotionSample{sample}
	default:
		return nil, &models.DecodeError{
			Kind:   models.ErrUnrecognizedLayout,
			Source: profile.Source,
			Field:  string(payload.Channel),
		}
	}

	return batch, nil
}
