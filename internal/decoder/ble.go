package decoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"time"

	"wisefido-sleep/internal/models"
)

/*
BLE 睡眠阶段批量载荷（ChannelPhases）

	+---------+-------------+-----------------------------------------+
	| layout  | record count| records                                 |
	| 1 byte  | 2 bytes     | count × 9 bytes                         |
	+---------+-------------+-----------------------------------------+

	record: phase code (1 byte) | start offset (4 bytes) | duration (4 bytes)

多字节字段的字节序、时钟起点和单位由设备 profile 决定。
心率通知遵循 GATT Heart Rate Measurement（0x2A37），固定小端。
加速度通知为 3 × int16（x, y, z），字节序同 profile。
*/

const (
	PhaseLayoutV1    byte = 0x01
	PhaseHeaderSize       = 3
	PhaseRecordSize       = 9
	MotionPayloadLen      = 6

	hrFlagUint16         = 0x01
	hrFlagContactStatus  = 0x02
	hrFlagContactSupport = 0x04

	// DefaultConfidence 来源未报告可信度时使用的默认值
	DefaultConfidence = 0.95
)

// BLEProfile 可穿戴设备的二进制布局与时钟定义
type BLEProfile struct {
	Source       models.SourceKind
	ByteOrder    binary.ByteOrder
	Epoch        time.Time     // 设备时钟零点
	OffsetUnit   time.Duration // 起始偏移的单位
	DurationUnit time.Duration // 阶段时长的单位
	MotionScale  float64       // 加速度每 LSB 对应的 g
}

// BLEProfiles 已知 BLE 设备 profile（只读）
var BLEProfiles = map[models.SourceKind]BLEProfile{
	models.SourceBLEBand: {
		Source:       models.SourceBLEBand,
		ByteOrder:    binary.LittleEndian,
		Epoch:        time.Unix(0, 0).UTC(),
		OffsetUnit:   time.Second,
		DurationUnit: time.Minute,
		MotionScale:  0.001,
	},
	models.SourceBLERing: {
		Source:       models.SourceBLERing,
		ByteOrder:    binary.BigEndian,
		Epoch:        time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		OffsetUnit:   time.Second,
		DurationUnit: 30 * time.Second,
		MotionScale:  1.0 / 256,
	},
}

// ClockOffset 将绝对时间换算为设备时钟单位
func (p BLEProfile) ClockOffset(t time.Time) int64 {
	return int64(t.Sub(p.Epoch) / p.OffsetUnit)
}

func decodePhaseRecords(profile BLEProfile, data []byte) ([]models.RawPhaseEvent, error) {
	if len(data) < PhaseHeaderSize {
		return nil, &models.DecodeError{
			Kind:   models.ErrTruncatedRecord,
			Source: profile.Source,
			Offset: len(data),
			Err:    fmt.Errorf("header needs %d bytes, got %d", PhaseHeaderSize, len(data)),
		}
	}
	if data[0] != PhaseLayoutV1 {
		return nil, &models.DecodeError{
			Kind:   models.ErrUnrecognizedLayout,
			Source: profile.Source,
			Err:    fmt.Errorf("layout version 0x%02x", data[0]),
		}
	}

	body := data[PhaseHeaderSize:]
	if rem := len(body) % PhaseRecordSize; rem != 0 {
		return nil, &models.DecodeError{
			Kind:   models.ErrTruncatedRecord,
			Source: profile.Source,
			Offset: len(data) - rem,
			Err:    fmt.Errorf("%d trailing bytes", rem),
		}
	}

	declared := int(profile.ByteOrder.Uint16(data[1:PhaseHeaderSize]))
	present := len(body) / PhaseRecordSize
	if declared != present {
		return nil, &models.DecodeError{
			Kind:   models.ErrLengthMismatch,
			Source: profile.Source,
			Offset: 1,
			Err:    fmt.Errorf("declared %d records, payload holds %d", declared, present),
		}
	}

	events := make([]models.RawPhaseEvent, 0, present)
	for off := 0; off < len(body); off += PhaseRecordSize {
		rec := body[off : off+PhaseRecordSize]
		events = append(events, models.RawPhaseEvent{
			PhaseCode:     strconv.Itoa(int(rec[0])),
			StartOffset:   int64(profile.ByteOrder.Uint32(rec[1:5])),
			DurationUnits: int64(profile.ByteOrder.Uint32(rec[5:9])),
		})
	}
	return events, nil
}

func decodeHeartRate(profile BLEProfile, payload models.RawPayload) (models.RawHeartRateSample, error) {
	data := payload.Data
	if len(data) < 2 {
		return models.RawHeartRateSample{}, &models.DecodeError{
			Kind:   models.ErrTruncatedRecord,
			Source: profile.Source,
			Offset: len(data),
		}
	}
	if payload.ReceivedAt.IsZero() {
		return models.RawHeartRateSample{}, &models.DecodeError{
			Kind:   models.ErrMissingField,
			Source: profile.Source,
			Field:  "received_at",
		}
	}

	flags := data[0]
	var bpm int
	if flags&hrFlagUint16 != 0 {
		if len(data) < 3 {
			return models.RawHeartRateSample{}, &models.DecodeError{
				Kind:   models.ErrTruncatedRecord,
				Source: profile.Source,
				Offset: len(data),
			}
		}
		bpm = int(binary.LittleEndian.Uint16(data[1:3]))
	} else {
		bpm = int(data[1])
	}

	confidence := DefaultConfidence
	if flags&hrFlagContactSupport != 0 {
		if flags&hrFlagContactStatus != 0 {
			confidence = 1.0
		} else {
			confidence = 0.0
		}
	}

	return models.RawHeartRateSample{
		Offset:     profile.ClockOffset(payload.ReceivedAt),
		BPM:        bpm,
		Confidence: confidence,
	}, nil
}

func decodeMotion(profile BLEProfile, payload models.RawPayload) (models.RawMotionSample, error) {
	data := payload.Data
	if len(data) < MotionPayloadLen {
		return models.RawMotionSample{}, &models.DecodeError{
			Kind:   models.ErrTruncatedRecord,
			Source: profile.Source,
			Offset: len(data),
		}
	}
	if payload.ReceivedAt.IsZero() {
		return models.RawMotionSample{}, &models.DecodeError{
			Kind:   models.ErrMissingField,
			Source: profile.Source,
			Field:  "received_at",
		}
	}

	order := profile.ByteOrder
	return models.RawMotionSample{
		Offset: profile.ClockOffset(payload.ReceivedAt),
		X:      float64(int16(order.Uint16(data[0:2]))),
		Y:      float64(int16(order.Uint16(data[2:4]))),
		Z:      float64(int16(order.Uint16(data[4:6]))),
	}, nil
}

// EncodePhaseRecords 按 profile 布局编码阶段记录（设备模拟与回环测试使用）
func EncodePhaseRecords(source models.SourceKind, events []models.RawPhaseEvent) ([]byte, error) {
	profile, ok := BLEProfiles[source]
	if !ok {
		return nil, &models.DecodeError{Kind: models.ErrUnrecognizedSource, Source: source}
	}
	if len(events) > math.MaxUint16 {
		return nil, fmt.Errorf("too many records: %d", len(events))
	}

	buf := make([]byte, PhaseHeaderSize, PhaseHeaderSize+len(events)*PhaseRecordSize)
	buf[0] = PhaseLayoutV1
	profile.ByteOrder.PutUint16(buf[1:PhaseHeaderSize], uint16(len(events)))

	var rec [PhaseRecordSize]byte
	for i, ev := range events {
		code, err := strconv.ParseUint(ev.PhaseCode, 10, 8)
		if err != nil {
			return nil, fmt.Errorf("record %d: phase code %q: %w", i, ev.PhaseCode, err)
		}
		if ev.StartOffset < 0 || ev.StartOffset > math.MaxUint32 {
			return nil, fmt.Errorf("record %d: start offset %d out of range", i, ev.StartOffset)
		}
		if ev.DurationUnits < 0 || ev.DurationUnits > math.MaxUint32 {
			return nil, fmt.Errorf("record %d: duration %d out of range", i, ev.DurationUnits)
		}
		rec[0] = byte(code)
		profile.ByteOrder.PutUint32(rec[1:5], uint32(ev.StartOffset))
		profile.ByteOrder.PutUint32(rec[5:9], uint32(ev.DurationUnits))
		buf = append(buf, rec[:]...)
	}
	return buf, nil
}

// EncodeHeartRate 编码一条心率通知（uint8 格式，声明支持并检测到皮肤接触）
func EncodeHeartRate(bpm uint8) []byte {
	return []byte{hrFlagContactSupport | hrFlagContactStatus, bpm}
}

// EncodeMotion 编码一条加速度通知
func EncodeMotion(source models.SourceKind, x, y, z int16) ([]byte, error) {
	profile, ok := BLEProfiles[source]
	if !ok {
		return nil, &models.DecodeError{Kind: models.ErrUnrecognizedSource, Source: source}
	}
	buf := make([]byte, MotionPayloadLen)
	profile.ByteOrder.PutUint16(buf[0:2], uint16(x))
	profile.ByteOrder.PutUint16(buf[2:4], uint16(y))
	profile.ByteOrder.PutUint16(buf[4:6], uint16(z))
	return buf, nil
}
