// 包 location：设备定位的状态机、订阅与定位源适配
package location

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"product-finder/internal/geo"
)

var (
	ErrPermissionDenied       = errors.New("location permission denied")
	ErrPermissionNotRequested = errors.New("location permission not requested")
	ErrLocationTimeout        = errors.New("location fix timed out")
	ErrNoFix                  = errors.New("location fix unavailable")
	ErrFixInProgress          = errors.New("location fix already in progress")
)

// Sample：单槽位的最新定位样本，每次更新直接覆盖，不保留历史
type Sample struct {
	Coord     geo.Coordinate `json:"coord"`
	Accuracy  float64        `json:"accuracy"` // 米
	Timestamp time.Time      `json:"timestamp"`
}

// Accuracy：单次定位的精度期望
type Accuracy int

const (
	AccuracyBalanced Accuracy = iota
	AccuracyHigh
)

// WatchOptions：连续定位订阅的节流参数
type WatchOptions struct {
	MinDistanceM float64
	MinInterval  time.Duration
}

// Subscription：连续定位订阅句柄
type Subscription interface {
	Remove()
}

// 文档注释：设备定位源契约
// 背景：抽象权限申请、单次定位与连续订阅三类能力；设备端、请求携带坐标与 IP 库估算均适配为同一接口。
// 约束：CurrentPosition 需响应 ctx 取消；Watch 的回调可能在任意协程触发。
type Provider interface {
	RequestPermission(ctx context.Context) (bool, error)
	CurrentPosition(ctx context.Context, acc Accuracy) (Sample, error)
	Watch(ctx context.Context, opts WatchOptions, fn func(Sample)) (Subscription, error)
}

type pollSub struct {
	once   sync.Once
	cancel context.CancelFunc
	done   chan struct{}
	firing atomic.Bool
}

// Remove：取消轮询并等待协程退出；在回调内调用时（同一协程）不等待，回调返回后协程自行退出
func (p *pollSub) Remove() {
	p.once.Do(func() {
		p.cancel()
		if !p.firing.Load() {
			<-p.done
		}
	})
}

// 文档注释：轮询式订阅
// 背景：多数定位源只提供单次定位，按 MinInterval 周期轮询转换为连续更新流；距离节流由 Tracker 统一处理。
// 约束：Remove 返回后不再发起新的回调；回调内可以调用 Remove；单次定位失败静默跳过，等待下一周期。
func PollSubscribe(ctx context.Context, interval time.Duration, fix func(context.Context) (Sample, error), fn func(Sample)) Subscription {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ctx2, cancel := context.WithCancel(ctx)
	s := &pollSub{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(s.done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx2.Done():
				return
			case <-t.C:
				smp, err := fix(ctx2)
				if err != nil || ctx2.Err() != nil {
					continue
				}
				s.firing.Store(true)
				fn(smp)
				s.firing.Store(false)
			}
		}
	}()
	return s
}

// StaticProvider：固定坐标的定位源（请求显式携带坐标时使用）
type StaticProvider struct {
	Coord    geo.Coordinate
	Accuracy float64
	Now      func() time.Time
}

func NewStaticProvider(c geo.Coordinate) *StaticProvider {
	return &StaticProvider{Coord: c, Now: time.Now}
}

func (p *StaticProvider) RequestPermission(ctx context.Context) (bool, error) { return true, nil }

func (p *StaticProvider) CurrentPosition(ctx context.Context, acc Accuracy) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return Sample{Coord: p.Coord, Accuracy: p.Accuracy, Timestamp: now()}, nil
}

func (p *StaticProvider) Watch(ctx context.Context, opts WatchOptions, fn func(Sample)) (Subscription, error) {
	return PollSubscribe(ctx, opts.MinInterval, func(c context.Context) (Sample, error) {
		return p.CurrentPosition(c, AccuracyBalanced)
	}, fn), nil
}
