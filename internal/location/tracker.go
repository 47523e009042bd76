package location

import (
	"context"
	"sync"
	"time"

	"product-finder/internal/geo"
	"product-finder/internal/logger"
	"product-finder/internal/metrics"
)

// State：定位状态机
type State int

const (
	StateUnrequested State = iota
	StatePermissionGranted
	StatePermissionDenied
	StateAcquiring
	StateFixed
	StateTracking
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnrequested:
		return "unrequested"
	case StatePermissionGranted:
		return "permission_granted"
	case StatePermissionDenied:
		return "permission_denied"
	case StateAcquiring:
		return "acquiring"
	case StateFixed:
		return "fixed"
	case StateTracking:
		return "tracking"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// 默认参数
const (
	DefaultFixTimeout   = 10 * time.Second
	DefaultMinDistanceM = 10.0
	DefaultMinInterval  = 5 * time.Second
)

// 文档注释：定位追踪器
// 背景：Unrequested → PermissionGranted | PermissionDenied（终态）→ Acquiring → Fixed → Tracking；Acquiring 超时进入 Failed。
// 约束：
// - 单次定位与超时竞争，只有一方生效；超时后迟到的定位结果被丢弃，不得修改状态；
// - 连续订阅同一时刻至多一个，启动新订阅前先拆除旧订阅；
// - 只保留最新一个样本，读者在一次计算开始时调用 Snapshot 取一次快照。
type Tracker struct {
	provider Provider

	mu      sync.Mutex
	state   State
	sample  *Sample
	failure error
	gen     uint64
	fixing  bool
	sub     Subscription
	subGen  uint64

	fixTimeout time.Duration
	watch      WatchOptions
	onUpdate   func(Sample)
}

// TrackerOption 配置 Tracker
type TrackerOption func(*Tracker)

func WithFixTimeout(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.fixTimeout = d
		}
	}
}

// WithThrottle 设置连续订阅的最小距离（米）与最小间隔
func WithThrottle(minDistanceM float64, minInterval time.Duration) TrackerOption {
	return func(t *Tracker) {
		if minDistanceM >= 0 {
			t.watch.MinDistanceM = minDistanceM
		}
		if minInterval > 0 {
			t.watch.MinInterval = minInterval
		}
	}
}

// WithUpdateListener 在样本被接受后回调（持锁外调用）
func WithUpdateListener(fn func(Sample)) TrackerOption {
	return func(t *Tracker) { t.onUpdate = fn }
}

func NewTracker(p Provider, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		provider:   p,
		state:      StateUnrequested,
		fixTimeout: DefaultFixTimeout,
		watch:      WatchOptions{MinDistanceM: DefaultMinDistanceM, MinInterval: DefaultMinInterval},
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err：最近一次失败原因（超时/拒绝/定位源错误）
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.failure
}

// Snapshot：读取当前样本；未定位时 ok=false
func (t *Tracker) Snapshot() (Sample, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sample == nil {
		return Sample{}, false
	}
	return *t.sample, true
}

// RequestPermission：离开 Unrequested；拒绝为终态
func (t *Tracker) RequestPermission(ctx context.Context) error {
	t.mu.Lock()
	st := t.state
	t.mu.Unlock()
	switch st {
	case StatePermissionDenied:
		return ErrPermissionDenied
	case StateUnrequested:
	default:
		return nil
	}
	ok, err := t.provider.RequestPermission(ctx)
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateUnrequested {
		return nil
	}
	if err != nil {
		logger.L().Debug("location_permission_error", "err", err)
		return err
	}
	if !ok {
		t.state = StatePermissionDenied
		t.failure = ErrPermissionDenied
		logger.L().Info("location_permission_denied")
		return ErrPermissionDenied
	}
	t.state = StatePermissionGranted
	logger.L().Debug("location_permission_granted")
	return nil
}

type fixResult struct {
	s   Sample
	err error
}

// 文档注释：获取首次定位
// 背景：定位请求与显式超时竞争；成功则停止计时器，超时则进入 Failed 并丢弃迟到结果。
// 返回：定位样本；超时返回 ErrLocationTimeout，未授权返回 ErrPermissionDenied/ErrPermissionNotRequested。
// 约束：以代际号判定胜者，任何时刻只有一个结果能修改状态。
func (t *Tracker) AcquireInitialFix(ctx context.Context) (Sample, error) {
	t.mu.Lock()
	switch t.state {
	case StateUnrequested:
		t.mu.Unlock()
		return Sample{}, ErrPermissionNotRequested
	case StatePermissionDenied:
		t.mu.Unlock()
		return Sample{}, ErrPermissionDenied
	case StateAcquiring:
		t.mu.Unlock()
		return Sample{}, ErrFixInProgress
	case StateFixed, StateTracking:
		if t.sample != nil {
			s := *t.sample
			t.mu.Unlock()
			return s, nil
		}
		if t.fixing {
			t.mu.Unlock()
			return Sample{}, ErrFixInProgress
		}
	}
	// 已在连续订阅中（尚无样本）时保持 Tracking
	if t.state != StateTracking {
		t.state = StateAcquiring
	}
	t.gen++
	t.fixing = true
	gen := t.gen
	timeout := t.fixTimeout
	t.mu.Unlock()

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch := make(chan fixResult, 1)
	go func() {
		s, err := t.provider.CurrentPosition(fctx, AccuracyHigh)
		ch <- fixResult{s: s, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		timer.Stop()
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.gen != gen {
			return Sample{}, ErrLocationTimeout
		}
		t.gen++
		t.fixing = false
		if r.err != nil {
			t.settle(StateFailed)
			t.failure = r.err
			metrics.LocationFixTotal.WithLabelValues("error").Inc()
			logger.L().Info("location_fix_error", "err", r.err)
			return Sample{}, r.err
		}
		s := r.s
		t.sample = &s
		t.settle(StateFixed)
		t.failure = nil
		metrics.LocationFixTotal.WithLabelValues("ok").Inc()
		logger.L().Debug("location_fix_ok", "lat", s.Coord.Lat, "lon", s.Coord.Lon, "accuracy_m", s.Accuracy)
		return s, nil
	case <-timer.C:
		t.fail(gen, ErrLocationTimeout)
		metrics.LocationFixTotal.WithLabelValues("timeout").Inc()
		logger.L().Info("location_fix_timeout", "timeout_ms", timeout.Milliseconds())
		return Sample{}, ErrLocationTimeout
	case <-ctx.Done():
		t.fail(gen, ctx.Err())
		return Sample{}, ctx.Err()
	}
}

func (t *Tracker) fail(gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen != gen {
		return
	}
	t.gen++
	t.fixing = false
	t.settle(StateFailed)
	t.failure = err
}

// settle：单次定位结束后的状态；订阅仍在运行时保持 Tracking（调用方持锁）
func (t *Tracker) settle(st State) {
	if t.sub != nil {
		t.state = StateTracking
		return
	}
	t.state = st
}

// 文档注释：开始连续定位
// 背景：按最小距离与最小间隔节流，每次接受的更新覆盖唯一样本槽位。
// 约束：先拆除已有订阅再建立新订阅；旧订阅迟到的回调按订阅代际号忽略。
func (t *Tracker) StartTracking(ctx context.Context) error {
	t.mu.Lock()
	switch t.state {
	case StateUnrequested:
		t.mu.Unlock()
		return ErrPermissionNotRequested
	case StatePermissionDenied:
		t.mu.Unlock()
		return ErrPermissionDenied
	}
	prev := t.sub
	t.sub = nil
	t.subGen++
	gen := t.subGen
	opts := t.watch
	t.mu.Unlock()

	if prev != nil {
		prev.Remove()
		logger.L().Debug("location_watch_replaced")
	}

	sub, err := t.provider.Watch(ctx, opts, func(s Sample) { t.accept(gen, s) })
	if err != nil {
		logger.L().Error("location_watch_error", "err", err)
		return err
	}
	t.mu.Lock()
	if t.subGen != gen {
		// 并发的 StartTracking/Stop 已接管
		t.mu.Unlock()
		sub.Remove()
		return nil
	}
	t.sub = sub
	t.state = StateTracking
	t.mu.Unlock()
	logger.L().Debug("location_watch_started", "min_distance_m", opts.MinDistanceM, "min_interval_ms", opts.MinInterval.Milliseconds())
	return nil
}

func (t *Tracker) accept(gen uint64, s Sample) {
	t.mu.Lock()
	if t.subGen != gen {
		t.mu.Unlock()
		return
	}
	if last := t.sample; last != nil {
		if s.Timestamp.Sub(last.Timestamp) < t.watch.MinInterval {
			t.mu.Unlock()
			return
		}
		if geo.Haversine(last.Coord, s.Coord)*1000 < t.watch.MinDistanceM {
			t.mu.Unlock()
			return
		}
	}
	cp := s
	t.sample = &cp
	fn := t.onUpdate
	t.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// Stop：拆除连续订阅；无订阅时调用也安全
func (t *Tracker) Stop() {
	t.mu.Lock()
	sub := t.sub
	t.sub = nil
	t.subGen++
	if t.state == StateTracking {
		if t.sample != nil {
			t.state = StateFixed
		} else {
			t.state = StatePermissionGranted
		}
	}
	t.mu.Unlock()
	if sub != nil {
		sub.Remove()
		logger.L().Debug("location_watch_stopped")
	}
}
