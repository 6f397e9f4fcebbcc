// Package scheduler 在 K 线收盘边界（加偏移）上驱动周期任务。
package scheduler

import (
	"context"
	"fmt"
	"time"

	"confluence/internal/logger"
)

// Task 收到刚收盘的 K 线边界时间。
type Task func(ctx context.Context, closedAt time.Time)

// Aligned 在每个 Interval 边界之后 Offset 处执行一次任务。
type Aligned struct {
	Name           string
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn   func() time.Time
	afterFn func(time.Duration) <-chan time.Time
}

// NewAligned 创建对齐调度器。
func NewAligned(name string, interval, offset time.Duration) *Aligned {
	return &Aligned{
		Name:     name,
		Interval: interval,
		Offset:   offset,
		nowFn:    time.Now,
		afterFn:  time.After,
	}
}

// Run 阻塞直到 ctx 结束；任务在同一 goroutine 中顺序执行。
func (s *Aligned) Run(ctx context.Context, task Task) error {
	if task == nil {
		return fmt.Errorf("scheduler %s: task is nil", s.Name)
	}
	if s.Interval <= 0 {
		return fmt.Errorf("scheduler %s: invalid interval=%s", s.Name, s.Interval)
	}
	if s.Offset < 0 {
		logger.Warnf("[scheduler] %s: negative offset=%s, clamp to 0", s.Name, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}
	if s.afterFn == nil {
		s.afterFn = time.After
	}

	startAt := s.nowFn().UTC()
	logger.Infof("[scheduler] %s: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Name, s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(ctx, startAt.Truncate(s.Interval))
	}
	for {
		now := s.nowFn().UTC()
		closeAt, wakeAt, wait := s.NextTimes(now)
		logger.Debugf("[scheduler] %s: next close=%s wake=%s (in %s) uptime=%s",
			s.Name, closeAt.Format(time.RFC3339), wakeAt.Format(time.RFC3339),
			wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		if wait > 0 {
			select {
			case <-ctx.Done():
				logger.Infof("[scheduler] %s: ctx done, exit", s.Name)
				return ctx.Err()
			case <-s.afterFn(wait):
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}
		task(ctx, closeAt)
	}
}

// NextTimes 返回 now 之后的下一个收盘时刻、唤醒时刻与等待时长。
func (s *Aligned) NextTimes(now time.Time) (closeAt, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	closeAt = now.Truncate(s.Interval)
	if closeAt.Add(s.Offset).Before(now) || closeAt.Add(s.Offset).Equal(now) {
		closeAt = closeAt.Add(s.Interval)
	}
	wakeAt = closeAt.Add(s.Offset)
	return closeAt, wakeAt, wakeAt.Sub(now)
}
