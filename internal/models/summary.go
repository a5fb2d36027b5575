package models

// VitalsSummary 会话的生命体征统计
type VitalsSummary struct {
	HeartRateSamples int     `json:"heart_rate_samples"`
	HeartRateMean    float64 `json:"heart_rate_mean"`
	HeartRateStdDev  float64 `json:"heart_rate_std_dev"`
	HeartRateMin     int     `json:"heart_rate_min"`
	HeartRateMax     int     `json:"heart_rate_max"`
	MotionSamples    int     `json:"motion_samples"`
	MotionMean       float64 `json:"motion_mean"`
}

// SessionSummary 下游消费者（缓存、输出流）使用的会话概要
type SessionSummary struct {
	SessionID        string                 `json:"session_id" cbor:"1,keyasint"`
	DeviceID         string                 `json:"device_id" cbor:"2,keyasint"`
	TenantID         string                 `json:"tenant_id" cbor:"3,keyasint"`
	Source           SourceKind             `json:"source" cbor:"4,keyasint"`
	Date             string                 `json:"date" cbor:"5,keyasint"`
	StartUnix        int64                  `json:"start_time" cbor:"6,keyasint"`
	EndUnix          int64                  `json:"end_time" cbor:"7,keyasint"`
	DurationMinutes  int                    `json:"duration_minutes" cbor:"8,keyasint"`
	TimeInBedMinutes int                    `json:"time_in_bed_minutes" cbor:"9,keyasint"`
	Quality          int                    `json:"quality" cbor:"10,keyasint"`
	Awakenings       int                    `json:"awakenings" cbor:"11,keyasint"`
	PhaseMinutes     map[SleepPhaseType]int `json:"phase_minutes" cbor:"12,keyasint"`
	Vitals           VitalsSummary          `json:"vitals" cbor:"13,keyasint"`
}
