package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// retryBatchSize 每轮重试最多处理的降级条目数
const retryBatchSize = 50

// RunRetryLoop 降级提醒的后台重试循环
//
// 独立于请求路径运行；每个到期条目先复查 key 是否仍被需要
// （会话解除 / schedule 重解析后直接丢弃），再重试远端排期。
// 阻塞到 ctx 取消。
func (s *Scheduler) RunRetryLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Reminder.RetryTick)
	defer ticker.Stop()

	s.logger.Info("Reminder retry loop started",
		zap.Duration("tick", s.cfg.Reminder.RetryTick),
		zap.Duration("backoff_base", s.cfg.Reminder.RetryBase),
		zap.Duration("backoff_cap", s.cfg.Reminder.RetryCap),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reminder retry loop stopped")
			return
		case <-ticker.C:
			if err := s.retryDue(ctx, time.Now()); err != nil {
				s.logger.Error("Retry pass failed", zap.Error(err))
				// 继续执行，不中断
			}
		}
	}
}

// retryDue 处理一轮到期的降级条目
func (s *Scheduler) retryDue(ctx context.Context, now time.Time) error {
	due, err := s.queue.Due(ctx, now, retryBatchSize)
	if err != nil {
		return err
	}

	for _, pending := range due {
		// 1. 复查该 key 是否仍被需要（取消具有权威性）
		if !s.stillWanted(pending.Key, pending.LocalID) {
			if err := s.queue.Delete(ctx, pending.LocalID); err != nil {
				s.logger.Warn("Failed to drop unwanted pending reminder",
					zap.String("local_id", pending.LocalID),
					zap.Error(err),
				)
			}
			continue
		}

		// 2. 重试远端排期
		remoteID, err := s.client.Schedule(ctx, pending.Key, pending.At, pending.Payload)
		if err != nil {
			attempts := pending.Attempts + 1
			nextRetryAt := now.Add(s.backoff(attempts))
			if uErr := s.queue.UpdateRetry(ctx, pending.LocalID, attempts, nextRetryAt); uErr != nil {
				s.logger.Error("Failed to update retry state",
					zap.String("local_id", pending.LocalID),
					zap.Error(uErr),
				)
			}
			s.logger.Warn("Reminder retry failed",
				zap.String("key", pending.Key),
				zap.Int("attempts", attempts),
				zap.Time("next_retry_at", nextRetryAt),
				zap.Error(err),
			)
			continue
		}

		// 3. 成功：换入远端 ID，删除队列行
		if s.promote(pending.Key, pending.LocalID, remoteID) {
			s.logger.Info("Degraded reminder promoted to remote",
				zap.String("key", pending.Key),
				zap.String("reminder_id", remoteID),
			)
		} else {
			// 重试期间 key 被取消或替换，刚建的远端提醒不再需要
			if _, cErr := s.cancelRemote(ctx, remoteID); cErr != nil {
				s.logger.Warn("Failed to cancel orphan remote reminder",
					zap.String("reminder_id", remoteID),
					zap.Error(cErr),
				)
			}
		}
		if err := s.queue.Delete(ctx, pending.LocalID); err != nil {
			s.logger.Warn("Failed to delete pending reminder",
				zap.String("local_id", pending.LocalID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// backoff 指数退避：base * 2^(attempts-1)，上限 cap
func (s *Scheduler) backoff(attempts int) time.Duration {
	d := s.cfg.Reminder.RetryBase
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= s.cfg.Reminder.RetryCap {
			return s.cfg.Reminder.RetryCap
		}
	}
	if d > s.cfg.Reminder.RetryCap {
		return s.cfg.Reminder.RetryCap
	}
	return d
}
