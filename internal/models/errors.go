package models

import (
	"errors"
	"fmt"
)

// 错误分类
//
// - ErrValidation：输入结构不合法，在任何状态变更前拒绝，同步返回调用方。
// - ErrNotFound：查询无记录。
// - ErrDownstreamUnavailable：提醒投递服务不可达；只记录并进入重试队列，
//   绝不作为触发调用的失败向上传播。
// - ScheduleParseError：schedule_text 无法识别；记录仍然落库（occurrence 为空），
//   以 warning 级别结果通知调用方。
var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrDownstreamUnavailable = errors.New("reminder service unavailable")
)

// ValidationError 构造带字段说明的校验错误
func ValidationError(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, reason)
}

// ScheduleParseError schedule_text 解析失败
type ScheduleParseError struct {
	Text   string
	Reason string
}

func (e *ScheduleParseError) Error() string {
	return fmt.Sprintf("unrecognized schedule text %q: %s", e.Text, e.Reason)
}

// IsScheduleParseError 判断是否为解析错误
func IsScheduleParseError(err error) bool {
	var spe *ScheduleParseError
	return errors.As(err, &spe)
}
