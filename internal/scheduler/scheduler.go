package scheduler

import (
	"context"
	"time"

	"aurum/internal/logger"
)

// AlignedScheduler 将任务对齐到 K 线收盘时刻执行：
// 每个 Interval 边界（UTC）后再等 Offset，用于等待上游把
// 刚收盘的 K 线落地后再触发轮询。
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start 阻塞运行，直到 ctx 取消。
func (s *AlignedScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("AlignedScheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("AlignedScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("AlignedScheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("AlignedScheduler: started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task()
	}

	for {
		now := s.nowFn().UTC()
		nextClose, wakeAt, wait := s.nextTimes(now)

		logger.Debugf("AlignedScheduler: 距离K线收盘=%s (收盘=%s) 将在=%s 执行下一轮 | uptime=%s",
			nextClose.Sub(now).Truncate(time.Second),
			nextClose.Format(time.RFC3339),
			wakeAt.Format(time.RFC3339),
			now.Sub(startAt).Truncate(time.Second),
		)

		if wait <= 0 {
			task()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("AlignedScheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		task()
	}
}

func (s *AlignedScheduler) nextTimes(now time.Time) (nextClose, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = nextClose.Add(s.Offset)
	wait = wakeAt.Sub(now)
	return nextClose, wakeAt, wait
}
