package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"wisefido-sleep/internal/models"
)

// ErrSessionNotFound 会话不存在
var ErrSessionNotFound = errors.New("sleep session not found")

/*
表结构

	CREATE TABLE sleep_sessions (
		session_id          uuid PRIMARY KEY,
		tenant_id           text,
		device_id           text NOT NULL,
		source              text NOT NULL,
		sleep_date          date NOT NULL,
		start_time          timestamptz NOT NULL,
		end_time            timestamptz NOT NULL,
		duration_minutes    integer NOT NULL,
		time_in_bed_minutes integer NOT NULL,
		awakenings          integer NOT NULL DEFAULT 0,
		quality             integer NOT NULL,
		phases              jsonb NOT NULL,
		heart_rate_samples  jsonb NOT NULL DEFAULT '[]',
		motion_samples      jsonb NOT NULL DEFAULT '[]',
		created_at          timestamptz NOT NULL DEFAULT now()
	);

	CREATE TABLE sleep_raw_payloads (
		id          bigserial PRIMARY KEY,
		session_id  uuid NOT NULL REFERENCES sleep_sessions(session_id),
		channel     text NOT NULL,
		received_at timestamptz,
		payload     bytea NOT NULL, -- zstd
		raw_size    integer NOT NULL
	);
*/

// PostgresSessionRepository 睡眠会话 Repository 实现
type PostgresSessionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresSessionRepository 创建睡眠会话 Repository
func NewPostgresSessionRepository(db *sql.DB, logger *zap.Logger) *PostgresSessionRepository {
	return &PostgresSessionRepository{
		db:     db,
		logger: logger,
	}
}

// 确保实现了接口
var _ SessionRepository = (*PostgresSessionRepository)(nil)

// execer *sql.DB 与 *sql.Tx 共用的写入方法
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SaveSession 插入会话；阶段与采样以 JSONB 保存
func (r *PostgresSessionRepository) SaveSession(ctx context.Context, s *models.SleepSession) error {
	if err := insertSession(ctx, r.db, s); err != nil {
		return err
	}

	r.logger.Debug("Saved sleep session",
		zap.String("session_id", s.ID),
		zap.String("device_id", s.DeviceID),
		zap.String("date", s.Date),
	)
	return nil
}

// SaveSessionWithPayloads 在同一事务中插入会话并批量归档原始载荷
func (r *PostgresSessionRepository) SaveSessionWithPayloads(ctx context.Context, s *models.SleepSession, payloads []models.RawPayload) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session_id is required")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertSession(ctx, tx, s); err != nil {
		return err
	}
	for start := 0; start < len(payloads); start += rawPayloadBatchSize {
		end := min(start+rawPayloadBatchSize, len(payloads))
		if err := insertRawPayloads(ctx, tx, s.ID, payloads[start:end]); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit sleep session: %w", err)
	}

	r.logger.Debug("Saved sleep session with payloads",
		zap.String("session_id", s.ID),
		zap.String("device_id", s.DeviceID),
		zap.String("date", s.Date),
		zap.Int("payloads", len(payloads)),
	)
	return nil
}

func insertSession(ctx context.Context, db execer, s *models.SleepSession) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session_id is required")
	}

	phases, err := json.Marshal(nonNil(s.Phases))
	if err != nil {
		return fmt.Errorf("failed to marshal phases: %w", err)
	}
	heartRate, err := json.Marshal(nonNil(s.HeartRateSamples))
	if err != nil {
		return fmt.Errorf("failed to marshal heart rate samples: %w", err)
	}
	motion, err := json.Marshal(nonNil(s.MotionSamples))
	if err != nil {
		return fmt.Errorf("failed to marshal motion samples: %w", err)
	}

	query := `
		INSERT INTO sleep_sessions (
			session_id,
			tenant_id,
			device_id,
			source,
			sleep_date,
			start_time,
			end_time,
			duration_minutes,
			time_in_bed_minutes,
			awakenings,
			quality,
			phases,
			heart_rate_samples,
			motion_samples
		) VALUES (
			$1::uuid, $2, $3, $4, $5::date, $6, $7, $8, $9, $10, $11, $12::jsonb, $13::jsonb, $14::jsonb
		)
	`

	_, err = db.ExecContext(ctx, query,
		s.ID,
		nullString(s.TenantID),
		s.DeviceID,
		string(s.Source),
		s.Date,
		s.StartTime,
		s.EndTime,
		s.DurationMinutes,
		s.TimeInBedMinutes,
		s.Awakenings,
		s.Quality,
		string(phases),
		string(heartRate),
		string(motion),
	)
	if err != nil {
		return fmt.Errorf("failed to insert sleep session: %w", err)
	}
	return nil
}

// rawPayloadBatchSize 单条 INSERT 的载荷行数（每行 4 个参数，远低于 65535 的上限）
const rawPayloadBatchSize = 500

// insertRawPayloads 压缩并以一条多行 INSERT 归档载荷，$1 为共用的 session_id
func insertRawPayloads(ctx context.Context, db execer, sessionID string, payloads []models.RawPayload) error {
	if len(payloads) == 0 {
		return nil
	}

	values := make([]string, 0, len(payloads))
	args := make([]any, 0, 1+4*len(payloads))
	args = append(args, sessionID)
	for _, p := range payloads {
		n := len(args)
		values = append(values, fmt.Sprintf("($1::uuid, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4))

		var receivedAt sql.NullTime
		if !p.ReceivedAt.IsZero() {
			receivedAt = sql.NullTime{Time: p.ReceivedAt, Valid: true}
		}
		args = append(args, string(p.Channel), receivedAt, compressPayload(p.Data), len(p.Data))
	}

	query := "INSERT INTO sleep_raw_payloads (session_id, channel, received_at, payload, raw_size) VALUES " +
		strings.Join(values, ", ")
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert raw payloads: %w", err)
	}
	return nil
}

const selectSessionColumns = `
	SELECT
		session_id::text,
		COALESCE(tenant_id, '') as tenant_id,
		device_id,
		source,
		sleep_date,
		start_time,
		end_time,
		duration_minutes,
		time_in_bed_minutes,
		awakenings,
		quality,
		phases,
		heart_rate_samples,
		motion_samples
	FROM sleep_sessions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.SleepSession, error) {
	var (
		s         models.SleepSession
		source    string
		sleepDate time.Time
		phases    []byte
		heartRate []byte
		motion    []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.DeviceID,
		&source,
		&sleepDate,
		&s.StartTime,
		&s.EndTime,
		&s.DurationMinutes,
		&s.TimeInBedMinutes,
		&s.Awakenings,
		&s.Quality,
		&phases,
		&heartRate,
		&motion,
	); err != nil {
		return nil, err
	}

	s.Source = models.SourceKind(source)
	s.Date = sleepDate.Format(models.DateLayout)
	if err := json.Unmarshal(phases, &s.Phases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal phases: %w", err)
	}
	if err := json.Unmarshal(heartRate, &s.HeartRateSamples); err != nil {
		return nil, fmt.Errorf("failed to unmarshal heart rate samples: %w", err)
	}
	if err := json.Unmarshal(motion, &s.MotionSamples); err != nil {
		return nil, fmt.Errorf("failed to unmarshal motion samples: %w", err)
	}
	return &s, nil
}

// GetSession 根据 session_id 获取会话
func (r *PostgresSessionRepository) GetSession(ctx context.Context, sessionID string) (*models.SleepSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session_id is required")
	}

	query := selectSessionColumns + `WHERE session_id = $1::uuid`
	s, err := scanSession(r.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("failed to query sleep session: %w", err)
	}
	return s, nil
}

// ListSessions 按入睡日期区间列出设备会话（按开始时间升序）
func (r *PostgresSessionRepository) ListSessions(ctx context.Context, deviceID string, from, to time.Time) ([]*models.SleepSession, error) {
	if deviceID == "" {
		return nil, fmt.Errorf("device_id is required")
	}

	query := selectSessionColumns + `
		WHERE device_id = $1
		  AND sleep_date BETWEEN $2::date AND $3::date
		ORDER BY start_time ASC
	`
	rows, err := r.db.QueryContext(ctx, query, deviceID, from.Format(models.DateLayout), to.Format(models.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to query sleep sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.SleepSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sleep session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sleep sessions: %w", err)
	}
	return sessions, nil
}

// ListRawPayloads 读取会话归档的原始载荷（按写入顺序），用于重新分析
func (r *PostgresSessionRepository) ListRawPayloads(ctx context.Context, sessionID string) ([]models.RawPayload, error) {
	query := `
		SELECT channel, received_at, payload
		FROM sleep_raw_payloads
		WHERE session_id = $1::uuid
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw payloads: %w", err)
	}
	defer rows.Close()

	var payloads []models.RawPayload
	for rows.Next() {
		var (
			channel    string
			receivedAt sql.NullTime
			compressed []byte
		)
		if err := rows.Scan(&channel, &receivedAt, &compressed); err != nil {
			return nil, fmt.Errorf("failed to scan raw payload: %w", err)
		}
		data, err := decompressPayload(compressed)
		if err != nil {
			return nil, err
		}
		p := models.RawPayload{Channel: models.Channel(channel), Data: data}
		if receivedAt.Valid {
			p.ReceivedAt = receivedAt.Time
		}
		payloads = append(payloads, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate raw payloads: %w", err)
	}
	return payloads, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// nonNil 空切片序列化为 [] 而不是 null
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
