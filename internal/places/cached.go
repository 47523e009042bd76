package places

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"product-finder/internal/logger"
	"product-finder/internal/metrics"
)

// 默认缓存参数
const (
	DefaultCacheTTL = 24 * time.Hour
	DefaultLRUSize  = 1024
)

// 文档注释：带两级缓存的地点检索
// 背景：先查进程内 LRU，再查 Redis（cache-aside），均未命中才调用下游；成功结果（含空结果）回填两级缓存。
// 约束：rc 为空时仅使用本地缓存；Redis 读写失败不影响主流程；失败结果不缓存。
type CachedSearcher struct {
	next Searcher
	rc   *redis.Client
	lru  *LRU
	ttl  time.Duration
}

func NewCachedSearcher(next Searcher, rc *redis.Client, ttl time.Duration) *CachedSearcher {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedSearcher{next: next, rc: rc, lru: NewLRU(DefaultLRUSize, ttl), ttl: ttl}
}

// cacheKey：文本小写去空白；偏置坐标量化到 0.001°
func cacheKey(q Query) string {
	k := "places:" + strings.ToLower(strings.Join(strings.Fields(q.Text), " "))
	if q.Bias != nil {
		radius := q.RadiusM
		if radius <= 0 {
			radius = DefaultRadiusM
		}
		k += fmt.Sprintf(":%.3f:%.3f:%d", q.Bias.Lat, q.Bias.Lon, radius)
	}
	return k
}

func (c *CachedSearcher) Search(ctx context.Context, q Query) ([]Place, error) {
	key := cacheKey(q)
	if v, ok := c.lru.Get(key); ok {
		metrics.PlaceCacheHitsTotal.WithLabelValues("local").Inc()
		return v, nil
	}
	if c.rc != nil {
		if s, _ := c.rc.Get(ctx, key).Result(); s != "" {
			var out []Place
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				metrics.PlaceCacheHitsTotal.WithLabelValues("redis").Inc()
				c.lru.Set(key, out)
				return out, nil
			}
			logger.L().Warn("place_cache_decode_error", "key", key)
		}
	}
	metrics.PlaceCacheMissesTotal.Inc()
	out, err := c.next.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	c.lru.Set(key, out)
	if c.rc != nil {
		b, _ := json.Marshal(out)
		if err := c.rc.Set(ctx, key, string(b), c.ttl).Err(); err != nil {
			logger.L().Debug("place_cache_set_error", "err", err)
		}
	}
	return out, nil
}
