package geo

import (
	"fmt"
	"math"
	"sync"
)

// 缓存键精度：小数点后 4 位，约 11 米
const (
	keyPrecision = 4
	keyScale     = 1e4
)

// 文档注释：距离解析器（会话级记忆化缓存）
// 背景：同一次搜索中多个商品通常来自同一门店，重复计算三角函数没有意义；按固定精度取整后的坐标对做键。
// 约束：缓存只追加，条目一经写入不再改变；用户坐标按键精度发生变化时整体清空。
// 每个会话/请求各自构造实例，不使用进程级全局缓存。
type Resolver struct {
	mu      sync.RWMutex
	entries map[string]float64
	userKey string
	compute func(a, b Coordinate) float64
	hits    int64
	misses  int64
}

// ResolverOption 配置 Resolver
type ResolverOption func(*Resolver)

// WithDistanceFunc 替换底层距离计算（默认 Haversine）
func WithDistanceFunc(f func(a, b Coordinate) float64) ResolverOption {
	return func(r *Resolver) {
		if f != nil {
			r.compute = f
		}
	}
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{entries: make(map[string]float64), compute: Haversine}
	for _, o := range opts {
		o(r)
	}
	return r
}

func round(c Coordinate) Coordinate {
	return Coordinate{Lat: roundTo(c.Lat), Lon: roundTo(c.Lon)}
}

func roundTo(v float64) float64 { return math.Round(v*keyScale) / keyScale }

func coordKey(c Coordinate) string { return fmt.Sprintf("%.*f,%.*f", keyPrecision, c.Lat, keyPrecision, c.Lon) }

// DistanceKm：返回 a、b 间距离（千米），命中缓存时不重新计算
// 约束：计算基于取整后的坐标，保证条目是键的纯函数
func (r *Resolver) DistanceKm(a, b Coordinate) float64 {
	ra, rb := round(a), round(b)
	key := coordKey(ra) + "|" + coordKey(rb)
	r.mu.RLock()
	v, ok := r.entries[key]
	r.mu.RUnlock()
	if ok {
		r.mu.Lock()
		r.hits++
		r.mu.Unlock()
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.entries[key]; ok {
		r.hits++
		return v
	}
	v = r.compute(ra, rb)
	r.entries[key] = v
	r.misses++
	return v
}

// Observe：登记当前用户坐标；按键精度变化时清空缓存
func (r *Resolver) Observe(user Coordinate) {
	k := coordKey(round(user))
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.userKey == k {
		return
	}
	if r.userKey != "" {
		r.entries = make(map[string]float64)
	}
	r.userKey = k
}

// Between：用户到门店的距离；任一坐标缺失返回 nil（展示为 Unknown，而非 0）
func (r *Resolver) Between(user, store *Coordinate) *float64 {
	if user == nil || store == nil {
		return nil
	}
	d := r.DistanceKm(*user, *store)
	return &d
}

// Stats：命中/未命中次数
func (r *Resolver) Stats() (hits, misses int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hits, r.misses
}

// Len：缓存条目数
func (r *Resolver) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
