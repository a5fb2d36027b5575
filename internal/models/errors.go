package models

import (
	"errors"
	"fmt"
	"time"
)

// 解码错误类型（仅对单个载荷致命，调用方跳过该载荷后继续处理其他载荷）
var (
	ErrTruncatedRecord    = errors.New("truncated record")
	ErrMissingField       = errors.New("missing field")
	ErrUnrecognizedSource = errors.New("unrecognized source")
	ErrUnrecognizedLayout = errors.New("unrecognized record layout")
	ErrLengthMismatch     = errors.New("declared length does not match payload")
	ErrInvalidField       = errors.New("invalid field")
)

// 组装错误类型（对单个会话致命，相同输入重试结果相同）
var (
	ErrOverlappingPhases = errors.New("overlapping phases")
	ErrInvalidPhase      = errors.New("invalid phase")
)

// DecodeError 解码失败详情，errors.Is(err, ErrTruncatedRecord) 等可用于分类
type DecodeError struct {
	Kind   error
	Source SourceKind
	Field  string // MissingField / InvalidField 时的字段名
	Offset int    // 二进制载荷中出错的字节偏移，0 表示不适用或载荷起始
	Err    error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode %s payload: %v", e.Source, e.Kind)
	if e.Field != "" {
		msg += fmt.Sprintf(" %q", e.Field)
	}
	if e.Offset > 0 {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// MissingField 构造缺少必填字段的错误
func MissingField(source SourceKind, name string) *DecodeError {
	return &DecodeError{Kind: ErrMissingField, Source: source, Field: name}
}

// AssemblyError 会话组装失败详情
type AssemblyError struct {
	Kind   error
	First  SleepPhase
	Second SleepPhase
}

func (e *AssemblyError) Error() string {
	if e.Kind == ErrOverlappingPhases {
		return fmt.Sprintf("assemble session: %v: %s %s+%dm overlaps %s %s+%dm",
			e.Kind,
			e.First.Type, e.First.StartTime.Format(time.RFC3339), e.First.DurationMinutes,
			e.Second.Type, e.Second.StartTime.Format(time.RFC3339), e.Second.DurationMinutes)
	}
	return fmt.Sprintf("assemble session: %v: %s %s %dm",
		e.Kind, e.First.Type, e.First.StartTime.Format(time.RFC3339), e.First.DurationMinutes)
}

func (e *AssemblyError) Unwrap() error {
	return e.Kind
}
