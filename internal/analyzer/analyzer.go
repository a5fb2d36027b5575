// Package analyzer 睡眠分析核心的对外入口
//
// 串联 decoder → normalizer → assembler → metrics。核心本身无状态、无锁，
// 存储、缓存、网络由调用方（consumer / sleepctl）负责。
package analyzer

import (
	"fmt"

	"go.uber.org/zap"

	"wisefido-sleep/internal/assembler"
	"wisefido-sleep/internal/decoder"
	"wisefido-sleep/internal/metrics"
	"wisefido-sleep/internal/models"
	"wisefido-sleep/internal/normalizer"
)

// Analyzer 睡眠分析器
type Analyzer struct {
	normalizer *normalizer.Normalizer
	logger     *zap.Logger
}

// New 创建分析器；n 为 nil 时使用默认规范化表
func New(n *normalizer.Normalizer, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if n == nil {
		n = normalizer.New(logger)
	}
	return &Analyzer{normalizer: n, logger: logger}
}

// PayloadError 批次中被跳过的单个载荷
type PayloadError struct {
	Index   int
	Channel models.Channel
	Err     error
}

func (e PayloadError) Error() string {
	return fmt.Sprintf("payload %d (%s): %v", e.Index, e.Channel, e.Err)
}

func (e PayloadError) Unwrap() error {
	return e.Err
}

// Decode 解码单个载荷
func (a *Analyzer) Decode(source models.SourceKind, payload models.RawPayload) (*models.DecodedBatch, error) {
	return decoder.Decode(source, payload)
}

// Fold 解码、规范化一个载荷并累积到缓冲
func (a *Analyzer) Fold(buf *assembler.SessionBuffer, payload models.RawPayload) error {
	batch, err := decoder.Decode(buf.Source(), payload)
	if err != nil {
		return err
	}
	normalized, err := a.normalizer.Normalize(batch)
	if err != nil {
		return err
	}
	buf.Append(normalized)
	return nil
}

// Finish 组装缓冲内容并计算质量分；没有阶段时返回 nil, nil
func (a *Analyzer) Finish(buf *assembler.SessionBuffer) (*models.SleepSession, error) {
	session, err := buf.Assemble()
	if err != nil || session == nil {
		return nil, err
	}
	return metrics.Score(session), nil
}

// AssembleAndScore 组装已规范化的数据并计算质量分；没有阶段时返回 nil, nil
func (a *Analyzer) AssembleAndScore(
	source models.SourceKind,
	phases []models.SleepPhase,
	heartRate []models.HeartRateSample,
	motion []models.MotionSample,
	meta models.SessionMetadata,
) (*models.SleepSession, error) {
	session, err := assembler.Assemble(source, phases, heartRate, motion, meta)
	if err != nil || session == nil {
		return nil, err
	}
	return metrics.Score(session), nil
}

// Analyze 分析一批载荷
//
// 单个载荷解码失败时记录并跳过（以 PayloadError 返回），其余载荷继续处理。
// 调用方传入的 meta 优先于来源报告的元数据。
// 只有来源标签无法识别或会话组装失败时返回 error。
func (a *Analyzer) Analyze(
	source models.SourceKind,
	payloads []models.RawPayload,
	meta models.SessionMetadata,
) (*models.SleepSession, []PayloadError, error) {
	if _, err := models.ParseSourceKind(string(source)); err != nil {
		return nil, nil, err
	}

	buf := assembler.NewSessionBuffer(source, meta.DeviceID, meta.TenantID)
	var skipped []PayloadError
	for i, payload := range payloads {
		if err := a.Fold(buf, payload); err != nil {
			a.logger.Warn("Skipping undecodable payload",
				zap.String("source", string(source)),
				zap.String("device_id", meta.DeviceID),
				zap.Int("index", i),
				zap.String("channel", string(payload.Channel)),
				zap.Error(err),
			)
			skipped = append(skipped, PayloadError{Index: i, Channel: payload.Channel, Err: err})
		}
	}
	buf.SetMetadata(meta)

	session, err := a.Finish(buf)
	if err != nil {
		return nil, skipped, fmt.Errorf("failed to assemble %s session: %w", source, err)
	}
	if session != nil {
		a.logger.Debug("Session analyzed",
			zap.String("session_id", session.ID),
			zap.String("source", string(source)),
			zap.String("device_id", session.DeviceID),
			zap.Int("phases", len(session.Phases)),
			zap.Int("quality", session.Quality),
		)
	}
	return session, skipped, nil
}

// Aggregates 多晚统计
type Aggregates struct {
	Nights         int                   `json:"nights"`
	Efficiency     int                   `json:"efficiency"`
	AverageQuality int                   `json:"average_quality"`
	Split          metrics.SplitAverages `json:"split"`
}

// Aggregate 计算睡眠效率、平均质量分与工作日/周末平均时长
//
// 质量分按会话阶段重新计算，不信任输入中的 Quality。
func Aggregate(sessions []*models.SleepSession) Aggregates {
	out := Aggregates{
		Efficiency: metrics.Efficiency(sessions),
		Split:      metrics.WeekdayWeekendAverages(sessions),
	}
	var qualitySum int
	for _, s := range sessions {
		if s == nil {
			continue
		}
		out.Nights++
		qualitySum += metrics.Quality(s)
	}
	if out.Nights > 0 {
		out.AverageQuality = (2*qualitySum + out.Nights) / (2 * out.Nights)
	}
	return out
}
