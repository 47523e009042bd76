package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"product-finder/internal/geo"
	"product-finder/internal/location"
	"product-finder/internal/logger"
)

type ctxKey struct{}

// 设备位置请求头
const (
	HeaderLat      = "X-Device-Lat"
	HeaderLon      = "X-Device-Lon"
	HeaderAccuracy = "X-Device-Accuracy"
	HeaderFixTime  = "X-Device-Fix-Time"
)

// 文档注释：设备位置头注入
// 背景：客户端的持续定位订阅在设备侧运行，最新一次样本随请求头上送；解析后注入上下文，供接口层作为会话定位源。
// 约束：经纬度缺失或越界时不注入；精度与时间戳做空值与类型容错，解析失败不阻断主流程。
func DevicePosition(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s, ok := parseDevicePosition(r); ok {
			logger.L().Debug("device_position_inject", "lat", s.Coord.Lat, "lon", s.Coord.Lon, "accuracy_m", s.Accuracy)
			r = r.WithContext(context.WithValue(r.Context(), ctxKey{}, s))
		}
		next.ServeHTTP(w, r)
	})
}

// PositionFrom：读取中间件注入的设备位置
func PositionFrom(ctx context.Context) (location.Sample, bool) {
	s, ok := ctx.Value(ctxKey{}).(location.Sample)
	return s, ok
}

func parseDevicePosition(r *http.Request) (location.Sample, bool) {
	h := r.Header
	lat, e1 := strconv.ParseFloat(h.Get(HeaderLat), 64)
	lon, e2 := strconv.ParseFloat(h.Get(HeaderLon), 64)
	if e1 != nil || e2 != nil {
		return location.Sample{}, false
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return location.Sample{}, false
	}
	s := location.Sample{Coord: c, Timestamp: time.Now()}
	if v, e := strconv.ParseFloat(h.Get(HeaderAccuracy), 64); e == nil && v >= 0 {
		s.Accuracy = v
	}
	if v, e := strconv.ParseInt(h.Get(HeaderFixTime), 10, 64); e == nil && v > 0 {
		s.Timestamp = time.UnixMilli(v)
	}
	return s, true
}
