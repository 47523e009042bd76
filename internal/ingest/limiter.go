package ingest

import (
	"context"
	"sync"
	"time"
)

// 文档注释：简单令牌桶限流（每分钟）
// 背景：地点检索受外部配额限制，控制每分钟最大请求数；超出时阻塞等待下一分钟刷新。
type minuteLimiter struct {
	capacity int
	used     int
	lastMin  int64
	mu       sync.Mutex
	now      func() time.Time
}

func newMinuteLimiter(perMin int) *minuteLimiter {
	return &minuteLimiter{capacity: perMin, now: time.Now}
}

func (ml *minuteLimiter) allow() bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	nowMin := ml.now().Unix() / 60
	if ml.lastMin != nowMin {
		ml.lastMin = nowMin
		ml.used = 0
	}
	if ml.used < ml.capacity {
		ml.used++
		return true
	}
	return false
}

// wait：阻塞直到获得配额或 ctx 取消
func (ml *minuteLimiter) wait(ctx context.Context) error {
	for !ml.allow() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil
}
