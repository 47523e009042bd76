package ingest

import (
	"context"
	"time"

	"product-finder/internal/logger"
)

// nextMondayAt：计算下一次周一指定小时的时间点（不含当前已过时的当周）
// 约束：基于传入时区 loc 与整点 hour；仅前推至未来时间
func nextMondayAt(now time.Time, loc *time.Location, hour int) time.Time {
	now = now.In(loc)
	for i := 0; i <= 7; i++ {
		d := now.AddDate(0, 0, i)
		if d.Weekday() == time.Monday {
			t := time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
			if t.After(now) {
				return t
			}
		}
	}
	d := now.AddDate(0, 0, 7)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, 0, 0, 0, loc)
}

// StartWeekly：每周一 hour 点执行一次 job（服务进程内的后台协程）
// 背景：门店表由运营每周维护，定期重新导入以补全新增门店坐标；错误由日志记录，任务继续调度
// 约束：ctx 取消后停止调度；loc 为空时使用本地时区
func StartWeekly(ctx context.Context, loc *time.Location, hour int, job func(context.Context) error) {
	if loc == nil {
		loc = time.Local
	}
	next := nextMondayAt(time.Now(), loc, hour)
	go func() {
		for {
			t := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			logger.L().Info("ingest_scheduled_start", "at", next)
			if err := job(ctx); err != nil {
				logger.L().Error("ingest_scheduled_error", "err", err)
			} else {
				logger.L().Info("ingest_scheduled_done")
			}
			next = nextMondayAt(time.Now(), loc, hour)
		}
	}()
}
