package api

import (
	"net/http"
	"strconv"
	"time"

	"product-finder/internal/geo"
	"product-finder/internal/location"
	"product-finder/internal/logger"
	"product-finder/internal/middleware"
	"product-finder/internal/pipeline"
)

// coordFromQuery：解析 lat/lon 参数；缺失返回 nil，格式非法返回 ok=false
func coordFromQuery(r *http.Request) (*geo.Coordinate, bool) {
	q := r.URL.Query()
	latS, lonS := q.Get("lat"), q.Get("lon")
	if latS == "" && lonS == "" {
		return nil, true
	}
	return parseCoord(latS, lonS)
}

func parseCoord(latS, lonS string) (*geo.Coordinate, bool) {
	lat, e1 := strconv.ParseFloat(latS, 64)
	lon, e2 := strconv.ParseFloat(lonS, 64)
	if e1 != nil || e2 != nil {
		return nil, false
	}
	c := geo.Coordinate{Lat: lat, Lon: lon}
	if !c.Valid() {
		return nil, false
	}
	return &c, true
}

// 文档注释：为一次请求选择定位源并获取首次定位
// 背景：优先显式坐标，其次设备位置头，再次按访问者 IP 查询 GeoIP 库；均不可用时无定位，距离展示为 Unknown。
// 约束：首次定位受 fixTimeout 约束；权限拒绝或超时不报错，只降级距离标注。
func (h *handler) session(r *http.Request, explicit *geo.Coordinate) pipeline.Session {
	ctx := r.Context()
	sess := pipeline.Session{
		Distances: geo.NewResolver(),
		Alive:     func() bool { return ctx.Err() == nil },
	}
	var p location.Provider
	switch {
	case explicit != nil:
		p = location.NewStaticProvider(*explicit)
	default:
		if s, ok := middleware.PositionFrom(ctx); ok {
			sp := location.NewStaticProvider(s.Coord)
			sp.Accuracy = s.Accuracy
			// 保留设备上报的定位时间
			if fixAt := s.Timestamp; !fixAt.IsZero() {
				sp.Now = func() time.Time { return fixAt }
			}
			p = sp
		} else if h.deps.GeoIP != nil {
			p = h.deps.GeoIP.For(clientIP(r))
		}
	}
	if p == nil {
		return sess
	}
	tr := location.NewTracker(p, location.WithFixTimeout(h.fixTimeout()))
	sess.Position = tr
	if err := tr.RequestPermission(ctx); err != nil {
		logger.L().Debug("session_location_permission", "err", err)
		return sess
	}
	if _, err := tr.AcquireInitialFix(ctx); err != nil {
		logger.L().Debug("session_location_fix", "err", err, "state", tr.State().String())
	}
	return sess
}

func (h *handler) fixTimeout() time.Duration {
	if h.deps.FixTimeout > 0 {
		return h.deps.FixTimeout
	}
	return location.DefaultFixTimeout
}
