package models

// RawPhaseEvent 解码器输出的原始阶段事件（来源原生编码与时钟单位，不持久化）
type RawPhaseEvent struct {
	PhaseCode     string
	StartOffset   int64
	DurationUnits int64
}

// RawHeartRateSample 原始心率采样，Offset 为来源时钟单位
type RawHeartRateSample struct {
	Offset     int64
	BPM        int
	Confidence float64
}

// RawMotionSample 原始加速度采样，轴值为来源单位
type RawMotionSample struct {
	Offset int64
	X      float64
	Y      float64
	Z      float64
}

// RawMetadata 来源报告的会话元数据
type RawMetadata struct {
	StartOffset      *int64
	EndOffset        *int64
	TimeInBedMinutes *int
	Awakenings       *int
}

// DecodedBatch 单个载荷的解码结果
type DecodedBatch struct {
	Source    SourceKind
	Events    []RawPhaseEvent
	HeartRate []RawHeartRateSample
	Motion    []RawMotionSample
	Meta      RawMetadata
}

// NormalizedBatch 规范化后的批次，可直接交给会话组装
type NormalizedBatch struct {
	Source    SourceKind
	Phases    []SleepPhase
	HeartRate []HeartRateSample
	Motion    []MotionSample
	Meta      SessionMetadata
}
