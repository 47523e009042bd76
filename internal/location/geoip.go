package location

import (
	"context"
	"net"
	"time"

	"github.com/oschwald/geoip2-golang"

	"product-finder/internal/geo"
	"product-finder/internal/logger"
)

// 文档注释：基于 GeoLite2 City 库的近似定位
// 背景：请求未携带坐标时，按访问者 IP 估算城市级位置，用于距离标注的兜底；精度取库内 accuracy_radius。
// 约束：内网/保留地址或库中无经纬度时视为无法定位（ErrNoFix），上层降级为 Unknown。
type GeoIPLocator struct {
	db *geoip2.Reader
}

func OpenGeoIP(path string) (*GeoIPLocator, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIPLocator{db: db}, nil
}

func (l *GeoIPLocator) Close() error { return l.db.Close() }

// For：为指定访问者 IP 构造定位源
func (l *GeoIPLocator) For(ip string) *GeoIPProvider {
	return &GeoIPProvider{locator: l, ip: net.ParseIP(ip)}
}

type GeoIPProvider struct {
	locator *GeoIPLocator
	ip      net.IP
}

// RequestPermission：IP 无法解析视为拒绝
func (p *GeoIPProvider) RequestPermission(ctx context.Context) (bool, error) {
	return p.ip != nil && p.locator != nil, nil
}

func (p *GeoIPProvider) CurrentPosition(ctx context.Context, acc Accuracy) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}
	if p.ip == nil || p.ip.IsLoopback() || p.ip.IsPrivate() {
		return Sample{}, ErrNoFix
	}
	rec, err := p.locator.db.City(p.ip)
	if err != nil {
		logger.L().Debug("geoip_lookup_error", "ip", p.ip.String(), "err", err)
		return Sample{}, err
	}
	if rec.Location.Latitude == 0 && rec.Location.Longitude == 0 {
		return Sample{}, ErrNoFix
	}
	s := Sample{
		Coord:     geo.Coordinate{Lat: rec.Location.Latitude, Lon: rec.Location.Longitude},
		Accuracy:  float64(rec.Location.AccuracyRadius) * 1000,
		Timestamp: time.Now(),
	}
	logger.L().Debug("geoip_fix", "ip", p.ip.String(), "lat", s.Coord.Lat, "lon", s.Coord.Lon, "accuracy_m", s.Accuracy)
	return s, nil
}

func (p *GeoIPProvider) Watch(ctx context.Context, opts WatchOptions, fn func(Sample)) (Subscription, error) {
	return PollSubscribe(ctx, opts.MinInterval, func(c context.Context) (Sample, error) {
		return p.CurrentPosition(c, AccuracyBalanced)
	}, fn), nil
}
