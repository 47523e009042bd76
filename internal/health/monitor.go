// 包 health：外部依赖（分类服务、数据库、Redis）的心跳监控
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"product-finder/internal/logger"
	"product-finder/internal/metrics"
)

// DefaultInterval：默认心跳周期
const DefaultInterval = 10 * time.Second

// Checker：被监控的依赖
type Checker interface {
	Name() string
	Heartbeat(ctx context.Context) error
}

type funcChecker struct {
	name string
	fn   func(ctx context.Context) error
}

func (f funcChecker) Name() string                        { return f.name }
func (f funcChecker) Heartbeat(ctx context.Context) error { return f.fn(ctx) }

// Check：用函数构造 Checker
func Check(name string, fn func(ctx context.Context) error) Checker {
	return funcChecker{name: name, fn: fn}
}

// Status：依赖的最近一次心跳结果
type Status struct {
	Healthy bool      `json:"healthy"`
	Last    time.Time `json:"last"`
	Error   string    `json:"error,omitempty"`
}

// 文档注释：依赖监控器
// 背景：周期性调用各依赖的 Heartbeat 更新健康状态，供 /health 展示与告警。
// 约束：仅用于观测；识别前的就绪探测仍逐次实时执行，不读取此处缓存。心跳在锁外执行，单个依赖超时不阻塞读取。
type Monitor struct {
	mu       sync.RWMutex
	cs       []Checker
	st       map[string]Status
	interval time.Duration
	timeout  time.Duration
}

func NewMonitor(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{st: make(map[string]Status), interval: interval, timeout: interval / 2}
}

// Register：注册依赖；首次心跳前视为不健康
func (m *Monitor) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cs = append(m.cs, c)
	m.st[c.Name()] = Status{}
	logger.L().Info("health_registered", "name", c.Name())
}

// Start：立即执行一次心跳，随后按周期执行；ctx 取消时停止
func (m *Monitor) Start(ctx context.Context) {
	m.Beat(ctx)
	t := time.NewTicker(m.interval)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.Beat(ctx)
			}
		}
	}()
}

// Beat：对全部依赖执行一次心跳
func (m *Monitor) Beat(ctx context.Context) {
	m.mu.RLock()
	cs := append([]Checker(nil), m.cs...)
	m.mu.RUnlock()
	for _, c := range cs {
		hctx, cancel := context.WithTimeout(ctx, m.timeout)
		err := c.Heartbeat(hctx)
		cancel()
		s := Status{Healthy: err == nil, Last: time.Now()}
		if err != nil {
			s.Error = err.Error()
			logger.L().Debug("health_heartbeat_fail", "name", c.Name(), "err", err)
			metrics.DependencyHeartbeatTotal.WithLabelValues(c.Name(), "fail").Inc()
		} else {
			metrics.DependencyHeartbeatTotal.WithLabelValues(c.Name(), "ok").Inc()
		}
		m.mu.Lock()
		prev := m.st[c.Name()]
		m.st[c.Name()] = s
		m.mu.Unlock()
		if !prev.Last.IsZero() && prev.Healthy != s.Healthy {
			logger.L().Warn("health_changed", "name", c.Name(), "healthy", s.Healthy)
		}
	}
}

// Statuses：各依赖状态快照
func (m *Monitor) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.st))
	for k, v := range m.st {
		out[k] = v
	}
	return out
}

// Healthy：全部依赖健康
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.st {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// Names：已注册依赖名（排序）
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.cs))
	for _, c := range m.cs {
		out = append(out, c.Name())
	}
	sort.Strings(out)
	return out
}
